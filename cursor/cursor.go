// Copyright © 2024 Meroxa, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cursor tracks the position of incremental syncs.
package cursor

import (
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Cursor is a stream slicer that also tracks the state of a stream.
// Implementations are safe for concurrent use by slices read in parallel.
type Cursor interface {
	slicer.StreamSlicer

	// SetInitialState restores the cursor from a previously emitted state.
	SetInitialState(state types.StreamState) error
	// Observe registers a record read in slice.
	Observe(slice types.StreamSlice, record types.Record)
	// CloseSlice updates the state once all records of slice were read.
	CloseSlice(slice types.StreamSlice) error
	// State returns the current state.
	State() types.StreamState
	// ShouldBeSynced returns false for records outside of the sync window.
	ShouldBeSynced(record types.Record) bool
	IsGreaterThanOrEqual(first, second types.Record) bool
}

// StopCondition is met once a record falls behind the cursor, it bounds the
// pagination of data feeds that return the newest records first.
type StopCondition struct {
	Cursor Cursor
}

func (c StopCondition) IsMetCondition(record types.Record) bool {
	return !c.Cursor.ShouldBeSynced(record)
}
