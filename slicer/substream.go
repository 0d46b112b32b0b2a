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

package slicer

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
)

// ParentSliceKey is the partition key under which a child partition keeps
// the partition of the parent record it was derived from.
const ParentSliceKey = "parent_slice"

// ParentStream is a stream whose records define the partitions of a child
// stream.
type ParentStream interface {
	Name() string
	// ReadFullRefresh reads all records of the stream, ignoring any state.
	ReadFullRefresh(ctx context.Context) iter.Seq2[types.Record, error]
}

// ParentStreamConfig describes how partitions are derived from a parent.
type ParentStreamConfig struct {
	Stream ParentStream
	// ParentKey is the path of the value in the parent record.
	ParentKey []string
	// PartitionField is the name of the value in the child partition.
	PartitionField string
	RequestOption  *requestoption.RequestOption
	// ExtraFields are copied from the parent record into the slice's extra
	// fields, keyed by their dot joined path.
	ExtraFields [][]string
}

// NewParentStreamConfig evaluates parentKey and partitionField against the
// config. parentKey may be a dot or slash separated path.
func NewParentStreamConfig(stream ParentStream, parentKey, partitionField string, option *requestoption.RequestOption, extraFields [][]string, config types.Config, params types.Mapping) (ParentStreamConfig, error) {
	if stream == nil {
		return ParentStreamConfig{}, failure.Config("", "parent stream is required")
	}
	ctx := interpolation.NewContext(config, params)
	key, err := evalString(parentKey, ctx)
	if err != nil {
		return ParentStreamConfig{}, fmt.Errorf("parent_key: %w", err)
	}
	field, err := evalString(partitionField, ctx)
	if err != nil {
		return ParentStreamConfig{}, fmt.Errorf("partition_field: %w", err)
	}
	if key == "" || field == "" {
		return ParentStreamConfig{}, failure.Config("", "parent_key and partition_field are required")
	}
	return ParentStreamConfig{
		Stream:         stream,
		ParentKey:      strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '.' }),
		PartitionField: field,
		RequestOption:  option,
		ExtraFields:    extraFields,
	}, nil
}

func evalString(raw string, ctx interpolation.Context) (string, error) {
	s, err := interpolation.NewString(raw)
	if err != nil {
		return "", err
	}
	return s.Eval(ctx)
}

// SubstreamPartitionRouter derives one partition per parent record. Parents
// are read in full refresh mode, a parent that is itself a substream yields
// nested parent slices.
type SubstreamPartitionRouter struct {
	parents []ParentStreamConfig
}

func NewSubstreamPartitionRouter(parents ...ParentStreamConfig) (*SubstreamPartitionRouter, error) {
	if len(parents) == 0 {
		return nil, failure.Config("", "parent_stream_configs must not be empty")
	}
	return &SubstreamPartitionRouter{parents: parents}, nil
}

func (r *SubstreamPartitionRouter) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		logger := zerolog.Ctx(ctx)
		for _, p := range r.parents {
			for rec, err := range p.Stream.ReadFullRefresh(ctx) {
				if err != nil {
					yield(types.StreamSlice{}, fmt.Errorf("failed to read parent stream %q: %w", p.Stream.Name(), err))
					return
				}
				v, ok := dpath.Get(rec.Data, p.ParentKey)
				if !ok || v == nil {
					logger.Warn().
						Str("parent_stream", p.Stream.Name()).
						Str("parent_key", strings.Join(p.ParentKey, ".")).
						Msg("parent record has no value for the parent key, skipping")
					continue
				}
				parentSlice := rec.AssociatedSlice.Partition
				if parentSlice == nil {
					parentSlice = types.Mapping{}
				}
				slice := types.NewStreamSlice(types.Mapping{
					p.PartitionField: v,
					ParentSliceKey:   parentSlice,
				}, nil)
				for _, path := range p.ExtraFields {
					if ev, ok := dpath.Get(rec.Data, path); ok {
						if slice.ExtraFields == nil {
							slice.ExtraFields = types.Mapping{}
						}
						slice.ExtraFields[strings.Join(path, ".")] = ev
					}
				}
				if !yield(slice, nil) {
					return
				}
			}
		}
	}
}

func (r *SubstreamPartitionRouter) RequestOptions(_ context.Context, _ types.StreamState, slice types.StreamSlice, _ types.PageToken) (requestoption.Options, error) {
	var opts requestoption.Options
	for _, p := range r.parents {
		if p.RequestOption == nil {
			continue
		}
		v, ok := slice.Partition[p.PartitionField]
		if !ok {
			continue
		}
		if err := p.RequestOption.Inject(&opts, v); err != nil {
			return requestoption.Options{}, err
		}
	}
	return opts, nil
}
