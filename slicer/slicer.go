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

// Package slicer contains the stream slicers and partition routers that
// split a stream into slices.
package slicer

import (
	"context"
	"fmt"
	"iter"
	"maps"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
)

// StreamSlicer enumerates the slices of a stream and contributes the slice
// values to requests.
type StreamSlicer interface {
	requestoption.Provider
	// StreamSlices returns a lazy, single pass sequence of slices.
	StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error]
}

// PartitionKey returns a canonical representation of a partition usable as
// map key. Equal partitions return equal keys regardless of insertion order.
func PartitionKey(partition types.Mapping) string {
	if len(partition) == 0 {
		return "{}"
	}
	// map keys are marshaled in sorted order
	b, err := json.Marshal(partition)
	if err != nil {
		return fmt.Sprintf("%v", partition)
	}
	return string(b)
}

// SinglePartitionRouter returns a single empty slice.
type SinglePartitionRouter struct{}

func (SinglePartitionRouter) StreamSlices(context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		yield(types.StreamSlice{}, nil)
	}
}

func (SinglePartitionRouter) RequestOptions(context.Context, types.StreamState, types.StreamSlice, types.PageToken) (requestoption.Options, error) {
	return requestoption.Options{}, nil
}

// ListPartitionRouter returns one slice per value of a list.
type ListPartitionRouter struct {
	values      []any
	cursorField string
	option      *requestoption.RequestOption
}

// NewListPartitionRouter returns a router over values, which is either a
// list or a template over the config that renders to one.
func NewListPartitionRouter(values any, cursorField string, option *requestoption.RequestOption, config types.Config, params types.Mapping) (*ListPartitionRouter, error) {
	ctx := interpolation.NewContext(config, params)
	field, err := interpolation.Eval(cursorField, ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cursor_field: %w", err)
	}
	if s, _ := field.(string); s == "" {
		return nil, failure.Config("", "cursor_field is required")
	}

	var list []any
	switch v := values.(type) {
	case []any:
		list = v
	case []string:
		for _, s := range v {
			list = append(list, s)
		}
	case string:
		ev, err := interpolation.Eval(v, ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}
		l, ok := ev.([]any)
		if !ok {
			return nil, failure.Config("", "values must render to a list, got %T", ev)
		}
		list = l
	default:
		return nil, failure.Config("", "values must be a list or a template, got %T", values)
	}
	return &ListPartitionRouter{values: list, cursorField: fmt.Sprint(field), option: option}, nil
}

func (r *ListPartitionRouter) StreamSlices(context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		for _, v := range r.values {
			if !yield(types.NewStreamSlice(types.Mapping{r.cursorField: v}, nil), nil) {
				return
			}
		}
	}
}

func (r *ListPartitionRouter) RequestOptions(_ context.Context, _ types.StreamState, slice types.StreamSlice, _ types.PageToken) (requestoption.Options, error) {
	var opts requestoption.Options
	if r.option == nil {
		return opts, nil
	}
	err := r.option.Inject(&opts, slice.Partition[r.cursorField])
	return opts, err
}

// CartesianProductSlicer combines the slices of several slicers, every
// combination is one slice.
type CartesianProductSlicer struct {
	slicers []StreamSlicer
}

func NewCartesianProductSlicer(slicers ...StreamSlicer) (*CartesianProductSlicer, error) {
	if len(slicers) == 0 {
		return nil, failure.Config("", "stream_slicers must not be empty")
	}
	return &CartesianProductSlicer{slicers: slicers}, nil
}

func (s *CartesianProductSlicer) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		all := make([][]types.StreamSlice, len(s.slicers))
		for i, sl := range s.slicers {
			for slice, err := range sl.StreamSlices(ctx) {
				if err != nil {
					yield(types.StreamSlice{}, err)
					return
				}
				all[i] = append(all[i], slice)
			}
			if len(all[i]) == 0 {
				return
			}
		}
		product(all, 0, types.StreamSlice{}, yield)
	}
}

func product(all [][]types.StreamSlice, i int, acc types.StreamSlice, yield func(types.StreamSlice, error) bool) bool {
	if i == len(all) {
		return yield(acc, nil)
	}
	for _, s := range all[i] {
		if !product(all, i+1, merge(acc, s), yield) {
			return false
		}
	}
	return true
}

func merge(a, b types.StreamSlice) types.StreamSlice {
	out := types.StreamSlice{
		Partition:   maps.Clone(a.Partition),
		CursorSlice: maps.Clone(a.CursorSlice),
		ExtraFields: maps.Clone(a.ExtraFields),
	}
	out.Partition = mergeInto(out.Partition, b.Partition)
	out.CursorSlice = mergeInto(out.CursorSlice, b.CursorSlice)
	out.ExtraFields = mergeInto(out.ExtraFields, b.ExtraFields)
	return out
}

func mergeInto(dst, src types.Mapping) types.Mapping {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = types.Mapping{}
	}
	maps.Copy(dst, src)
	return dst
}

func (s *CartesianProductSlicer) RequestOptions(ctx context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken) (requestoption.Options, error) {
	var opts requestoption.Options
	for _, sl := range s.slicers {
		o, err := sl.RequestOptions(ctx, state, slice, token)
		if err != nil {
			return requestoption.Options{}, err
		}
		if err := opts.Merge(o); err != nil {
			return requestoption.Options{}, err
		}
	}
	return opts, nil
}
