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

package cursor

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/types"
)

const (
	stateKeyStates    = "states"
	stateKeyPartition = "partition"
	stateKeyCursor    = "cursor"
)

// Factory creates an independent cursor for a single partition.
type Factory func() (Cursor, error)

// PerPartitionCursor combines a partition router with one cursor per
// partition. Its state has the shape
//
//	{"states": [{"partition": {...}, "cursor": {...}}, ...]}
type PerPartitionCursor struct {
	router    slicer.StreamSlicer
	newCursor Factory

	mu      sync.Mutex
	entries map[string]*partitionEntry
}

type partitionEntry struct {
	partition types.Mapping
	cursor    Cursor
}

var _ Cursor = (*PerPartitionCursor)(nil)

func NewPerPartitionCursor(router slicer.StreamSlicer, factory Factory) (*PerPartitionCursor, error) {
	if router == nil || factory == nil {
		return nil, failure.Config("", "per partition cursor needs a partition router and a cursor factory")
	}
	return &PerPartitionCursor{
		router:    router,
		newCursor: factory,
		entries:   make(map[string]*partitionEntry),
	}, nil
}

// entry returns the cursor of partition, creating it if needed.
func (c *PerPartitionCursor) entry(partition types.Mapping) (*partitionEntry, error) {
	key := slicer.PartitionKey(partition)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e, nil
	}
	cur, err := c.newCursor()
	if err != nil {
		return nil, fmt.Errorf("failed to create cursor for partition %s: %w", key, err)
	}
	e := &partitionEntry{partition: partition, cursor: cur}
	c.entries[key] = e
	return e, nil
}

func (c *PerPartitionCursor) lookup(partition types.Mapping) (*partitionEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[slicer.PartitionKey(partition)]
	return e, ok
}

func (c *PerPartitionCursor) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		for partition, err := range c.router.StreamSlices(ctx) {
			if err != nil {
				yield(types.StreamSlice{}, err)
				return
			}
			e, err := c.entry(partition.Partition)
			if err != nil {
				yield(types.StreamSlice{}, err)
				return
			}
			for cs, err := range e.cursor.StreamSlices(ctx) {
				if err != nil {
					yield(types.StreamSlice{}, err)
					return
				}
				slice := types.NewStreamSlice(partition.Partition, cs.CursorSlice)
				slice.ExtraFields = partition.ExtraFields
				if !yield(slice, nil) {
					return
				}
			}
		}
	}
}

func (c *PerPartitionCursor) RequestOptions(ctx context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken) (requestoption.Options, error) {
	opts, err := c.router.RequestOptions(ctx, state, slice, token)
	if err != nil {
		return requestoption.Options{}, err
	}
	e, ok := c.lookup(slice.Partition)
	if !ok {
		return opts, nil
	}
	cursorOpts, err := e.cursor.RequestOptions(ctx, state, types.NewStreamSlice(nil, slice.CursorSlice), token)
	if err != nil {
		return requestoption.Options{}, err
	}
	if err := opts.Merge(cursorOpts); err != nil {
		return requestoption.Options{}, err
	}
	return opts, nil
}

func (c *PerPartitionCursor) SetInitialState(state types.StreamState) error {
	raw, ok := state[stateKeyStates]
	if !ok {
		return nil
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case []map[string]any:
		for _, m := range v {
			list = append(list, m)
		}
	default:
		return failure.Config("", "invalid per partition state, %q must be a list, got %T", stateKeyStates, raw)
	}
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return failure.Config("", "invalid per partition state at index %d", i)
		}
		partition, _ := m[stateKeyPartition].(map[string]any)
		cursorState, _ := m[stateKeyCursor].(map[string]any)
		e, err := c.entry(partition)
		if err != nil {
			return err
		}
		if err := e.cursor.SetInitialState(cursorState); err != nil {
			return fmt.Errorf("partition %s: %w", slicer.PartitionKey(partition), err)
		}
	}
	return nil
}

func (c *PerPartitionCursor) Observe(slice types.StreamSlice, record types.Record) {
	if e, ok := c.lookup(slice.Partition); ok {
		e.cursor.Observe(types.NewStreamSlice(nil, slice.CursorSlice), record)
	}
}

func (c *PerPartitionCursor) CloseSlice(slice types.StreamSlice) error {
	e, ok := c.lookup(slice.Partition)
	if !ok {
		return failure.System("unknown partition %s", slicer.PartitionKey(slice.Partition))
	}
	return e.cursor.CloseSlice(types.NewStreamSlice(nil, slice.CursorSlice))
}

// State returns the states of all partitions ordered by partition key.
func (c *PerPartitionCursor) State() types.StreamState {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	entries := make([]*partitionEntry, len(keys))
	for i, k := range keys {
		entries[i] = c.entries[k]
	}
	c.mu.Unlock()

	states := make([]any, 0, len(entries))
	for _, e := range entries {
		partition := e.partition
		if partition == nil {
			partition = types.Mapping{}
		}
		states = append(states, map[string]any{
			stateKeyPartition: partition,
			stateKeyCursor:    e.cursor.State(),
		})
	}
	return types.StreamState{stateKeyStates: states}
}

func (c *PerPartitionCursor) ShouldBeSynced(record types.Record) bool {
	e, ok := c.lookup(record.AssociatedSlice.Partition)
	if !ok {
		return true
	}
	return e.cursor.ShouldBeSynced(record)
}

func (c *PerPartitionCursor) IsGreaterThanOrEqual(first, second types.Record) bool {
	e, ok := c.lookup(first.AssociatedSlice.Partition)
	if !ok {
		return true
	}
	return e.cursor.IsGreaterThanOrEqual(first, second)
}
