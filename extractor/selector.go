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

package extractor

import (
	"fmt"
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/transformation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// RecordFilter keeps records for which the condition evaluates to true.
type RecordFilter struct {
	condition *interpolation.Boolean
	ctx       interpolation.Context
}

func NewRecordFilter(condition string, config types.Config, params types.Mapping) (*RecordFilter, error) {
	c, err := interpolation.NewBoolean(condition)
	if err != nil {
		return nil, err
	}
	return &RecordFilter{condition: c, ctx: interpolation.NewContext(config, params)}, nil
}

// Keep evaluates the condition for a single record.
func (f *RecordFilter) Keep(record types.Mapping, state types.StreamState, slice types.StreamSlice, token types.PageToken) (bool, error) {
	if f == nil {
		return true, nil
	}
	ctx := f.ctx.WithSlice(slice).WithState(state, token).With(interpolation.KeyRecord, record)
	ok, err := f.condition.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate record filter: %w", err)
	}
	return ok, nil
}

// SyncFilter decides if a record is new enough to be synced. It is
// implemented by cursors that filter records on the client side.
type SyncFilter interface {
	ShouldBeSynced(record types.Record) bool
}

// RecordSelector extracts records from a response, filters and transforms
// them.
type RecordSelector struct {
	Name            string
	Extractor       Extractor
	Filter          *RecordFilter
	Transformations []transformation.Transformation
	// SyncFilter is set for streams that filter records by cursor on the
	// client side.
	SyncFilter SyncFilter
}

// SelectRecords returns the selected records of a single response.
func (s *RecordSelector) SelectRecords(
	resp *http.Response,
	state types.StreamState,
	slice types.StreamSlice,
	token types.PageToken,
) iter.Seq2[types.Record, error] {
	return s.Select(s.Extractor.ExtractRecords(resp), state, slice, token)
}

// Select filters and transforms already extracted records.
func (s *RecordSelector) Select(
	records iter.Seq2[types.Mapping, error],
	state types.StreamState,
	slice types.StreamSlice,
	token types.PageToken,
) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		for data, err := range records {
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			keep, err := s.Filter.Keep(data, state, slice, token)
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			if !keep {
				continue
			}
			for _, t := range s.Transformations {
				if err := t.Transform(data, state, slice); err != nil {
					yield(types.Record{}, fmt.Errorf("failed to transform record: %w", err))
					return
				}
			}
			rec := types.Record{Data: data, Stream: s.Name, AssociatedSlice: slice}
			if s.SyncFilter != nil && !s.SyncFilter.ShouldBeSynced(rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
