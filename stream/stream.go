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

// Package stream ties a retriever and a schema loader into a named stream.
package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/retriever"
	"github.com/conduitio/conduit-connector-declarative/schema"
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
)

// SyncMode controls whether a stream is read from its state.
type SyncMode string

const (
	FullRefresh SyncMode = "full_refresh"
	Incremental SyncMode = "incremental"
)

type Config struct {
	Name         string
	PrimaryKey   []string
	Retriever    retriever.Retriever
	SchemaLoader schema.Loader
	// CursorField is the record field tracked by the cursor, empty for
	// streams without incremental sync.
	CursorField string
}

// DeclarativeStream is a stream built from a manifest.
type DeclarativeStream struct {
	cfg Config
}

var _ slicer.ParentStream = (*DeclarativeStream)(nil)

func New(cfg Config) (*DeclarativeStream, error) {
	if cfg.Name == "" {
		return nil, failure.Config("name", "stream name is required")
	}
	if cfg.Retriever == nil {
		return nil, failure.Config("retriever", "stream %q has no retriever", cfg.Name)
	}
	if cfg.SchemaLoader == nil {
		cfg.SchemaLoader = schema.DefaultLoader{}
	}
	return &DeclarativeStream{cfg: cfg}, nil
}

func (s *DeclarativeStream) Name() string         { return s.cfg.Name }
func (s *DeclarativeStream) PrimaryKey() []string { return s.cfg.PrimaryKey }
func (s *DeclarativeStream) CursorField() string  { return s.cfg.CursorField }

func (s *DeclarativeStream) SupportsIncremental() bool { return s.cfg.CursorField != "" }

// SyncModes returns the sync modes the stream can be read in.
func (s *DeclarativeStream) SyncModes() []SyncMode {
	if s.SupportsIncremental() {
		return []SyncMode{FullRefresh, Incremental}
	}
	return []SyncMode{FullRefresh}
}

func (s *DeclarativeStream) JSONSchema(ctx context.Context) (types.Mapping, error) {
	return s.cfg.SchemaLoader.JSONSchema(ctx)
}

func (s *DeclarativeStream) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return s.cfg.Retriever.StreamSlices(ctx)
}

func (s *DeclarativeStream) ReadSlice(ctx context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error] {
	return s.cfg.Retriever.ReadSlice(ctx, slice)
}

func (s *DeclarativeStream) State() types.StreamState {
	return s.cfg.Retriever.State()
}

func (s *DeclarativeStream) SetInitialState(state types.StreamState) error {
	if err := s.cfg.Retriever.SetInitialState(state); err != nil {
		return fmt.Errorf("stream %q: %w", s.cfg.Name, err)
	}
	return nil
}

// ReadRecords reads all slices of the stream sequentially. A stream that
// does not support incremental syncs is read in full refresh mode.
func (s *DeclarativeStream) ReadRecords(ctx context.Context, mode SyncMode) iter.Seq2[types.Record, error] {
	if mode == Incremental && !s.SupportsIncremental() {
		zerolog.Ctx(ctx).Warn().
			Str("stream", s.cfg.Name).
			Msg("stream does not support incremental sync, falling back to full refresh")
	}
	return retriever.Read(ctx, s.cfg.Retriever)
}

func (s *DeclarativeStream) ReadFullRefresh(ctx context.Context) iter.Seq2[types.Record, error] {
	return s.ReadRecords(ctx, FullRefresh)
}
