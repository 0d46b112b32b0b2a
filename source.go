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

package cdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/concurrent"
	"github.com/conduitio/conduit-connector-declarative/factory"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/manifest"
	"github.com/conduitio/conduit-connector-declarative/metrics"
	"github.com/conduitio/conduit-connector-declarative/stream"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const tracerName = "github.com/conduitio/conduit-connector-declarative"

// Source is a connector driven by the protocol commands.
type Source interface {
	// Spec returns the specification of the config the source accepts.
	Spec(ctx context.Context) (*SpecMessage, error)
	// Check verifies that the source can connect with config.
	Check(ctx context.Context, config types.Config) error
	// Discover returns the streams the source provides.
	Discover(ctx context.Context, config types.Config) (*Catalog, error)
	// Read reads the streams selected by catalog and writes RECORD, STATE
	// and TRACE messages to w. state maps stream names to the state of the
	// previous sync.
	Read(ctx context.Context, config types.Config, catalog ConfiguredCatalog, state map[string]types.StreamState, w *MessageWriter) error
}

// ManifestSource is a Source defined by a declarative manifest.
type ManifestSource struct {
	manifest types.Mapping
	runtime  RuntimeConfig
	opts     []factory.Option
}

var _ Source = (*ManifestSource)(nil)

type SourceOption func(*ManifestSource)

func WithRuntimeConfig(c RuntimeConfig) SourceOption {
	return func(s *ManifestSource) { s.runtime = c }
}

// WithFactoryOptions passes options to the component factory.
func WithFactoryOptions(opts ...factory.Option) SourceOption {
	return func(s *ManifestSource) { s.opts = append(s.opts, opts...) }
}

// NewManifestSource parses a YAML or JSON manifest.
func NewManifestSource(raw []byte, opts ...SourceOption) (*ManifestSource, error) {
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	s := &ManifestSource{manifest: m}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ManifestSource) Spec(context.Context) (*SpecMessage, error) {
	spec, err := factory.ParseSpec(s.manifest, s.opts...)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return &SpecMessage{ConnectionSpecification: types.Mapping{
			"type":       "object",
			"properties": map[string]any{},
		}}, nil
	}
	return &SpecMessage{
		DocumentationURL:        spec.DocumentationURL,
		ConnectionSpecification: spec.ConnectionSpecification,
		AdvancedAuth:            spec.AdvancedAuth,
	}, nil
}

// Streams builds the streams of the manifest against config.
func (s *ManifestSource) Streams(ctx context.Context, config types.Config) ([]*stream.DeclarativeStream, error) {
	src, err := factory.BuildSource(ctx, s.manifest, config, s.opts...)
	if err != nil {
		return nil, err
	}
	return src.Streams, nil
}

func (s *ManifestSource) Check(ctx context.Context, config types.Config) error {
	src, err := factory.BuildSource(ctx, s.manifest, config, s.opts...)
	if err != nil {
		return err
	}
	return src.Check.Check(ctx, src.Streams)
}

func (s *ManifestSource) Discover(ctx context.Context, config types.Config) (*Catalog, error) {
	streams, err := s.Streams(ctx, config)
	if err != nil {
		return nil, err
	}
	catalog := &Catalog{Streams: make([]CatalogStream, 0, len(streams))}
	for _, st := range streams {
		js, err := st.JSONSchema(ctx)
		if err != nil {
			return nil, fmt.Errorf("stream %q: failed to load schema: %w", st.Name(), err)
		}
		cs := CatalogStream{
			Name:               st.Name(),
			JSONSchema:         js,
			SupportedSyncModes: st.SyncModes(),
		}
		if st.SupportsIncremental() {
			cs.SourceDefinedCursor = true
			cs.DefaultCursorField = []string{st.CursorField()}
		}
		for _, pk := range st.PrimaryKey() {
			cs.SourceDefinedPrimaryKey = append(cs.SourceDefinedPrimaryKey, []string{pk})
		}
		catalog.Streams = append(catalog.Streams, cs)
	}
	return catalog, nil
}

func (s *ManifestSource) Read(
	ctx context.Context,
	config types.Config,
	catalog ConfiguredCatalog,
	state map[string]types.StreamState,
	w *MessageWriter,
) error {
	logger := Logger(ctx).With().Str("sync_id", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)

	src, err := factory.BuildSource(ctx, s.manifest, config, s.opts...)
	if err != nil {
		return multierr.Append(err, w.Write(NewTraceMessage("", err)))
	}

	sink := &readSink{
		w:          w,
		checkpoint: s.runtime.CDK.State.CheckpointInterval,
		runs:       make(map[string]*streamRun),
	}
	tracer := otel.Tracer(tracerName)

	var streams []concurrent.Stream
	for _, cs := range catalog.Streams {
		st, ok := src.Stream(cs.Stream.Name)
		if !ok {
			err := failure.Config("", "stream %q is not defined in the manifest", cs.Stream.Name)
			sink.fail(cs.Stream.Name, err)
			continue
		}
		run := &streamRun{stream: st, mode: cs.SyncMode}
		if run.mode == stream.Incremental && !st.SupportsIncremental() {
			logger.Warn().Str("stream", st.Name()).Msg("stream does not support incremental sync, falling back to full refresh")
			run.mode = stream.FullRefresh
		}
		if run.mode == stream.Incremental {
			if err := st.SetInitialState(state[st.Name()]); err != nil {
				sink.fail(st.Name(), err)
				continue
			}
		}
		_, run.span = tracer.Start(ctx, "stream.read", trace.WithAttributes(
			attribute.String("stream", st.Name()),
			attribute.String("sync_mode", string(run.mode)),
		))
		sink.runs[st.Name()] = run
		streams = append(streams, st)
	}

	workers := s.runtime.CDK.Concurrency.Workers
	if workers <= 0 {
		workers = src.Concurrency
	}
	logger.Info().
		Int("streams", len(streams)).
		Int("workers", workers).
		Msg("starting read")

	start := time.Now()
	readErr := concurrent.NewReader(workers).Read(ctx, streams, sink)
	sink.endSpans(readErr)
	if err := w.Flush(); err != nil {
		readErr = multierr.Append(readErr, err)
	}
	logger.Info().Dur("duration", time.Since(start)).Msg("read finished")
	return multierr.Append(readErr, sink.errs())
}

type streamRun struct {
	stream *stream.DeclarativeStream
	mode   stream.SyncMode
	span   trace.Span

	mu      sync.Mutex
	records int
	ended   bool
}

// readSink turns the output of the concurrent reader into protocol
// messages.
type readSink struct {
	w          *MessageWriter
	checkpoint int
	runs       map[string]*streamRun

	mu  sync.Mutex
	err error
}

var _ concurrent.Sink = (*readSink)(nil)

func (s *readSink) Record(ctx context.Context, st concurrent.Stream, rec types.Record) error {
	run := s.runs[st.Name()]
	err := s.w.WriteRecord(Record{
		Stream:     st.Name(),
		Data:       rec.Data,
		EmittedAt:  time.Now(),
		PrimaryKey: run.stream.PrimaryKey(),
	})
	if err != nil {
		return err
	}
	metrics.RecordsEmitted.WithLabelValues(st.Name()).Inc()

	run.mu.Lock()
	run.records++
	checkpoint := s.checkpoint > 0 && run.records%s.checkpoint == 0
	run.mu.Unlock()
	if checkpoint {
		return s.writeState(run)
	}
	return nil
}

func (s *readSink) SliceDone(ctx context.Context, st concurrent.Stream, slice types.StreamSlice) error {
	Logger(ctx).Trace().Str("stream", st.Name()).Any("slice", slice.Mapping()).Msg("slice done")
	return s.writeState(s.runs[st.Name()])
}

func (s *readSink) StreamDone(ctx context.Context, st concurrent.Stream, err error) error {
	run := s.runs[st.Name()]
	run.mu.Lock()
	records := run.records
	run.ended = true
	run.mu.Unlock()

	if err != nil {
		run.span.RecordError(err)
		run.span.SetStatus(codes.Error, err.Error())
		run.span.End()
		Logger(ctx).Err(err).Str("stream", st.Name()).Msg("stream failed")
		s.fail(st.Name(), err)
		return nil
	}
	run.span.SetAttributes(attribute.Int("records", records))
	run.span.End()
	Logger(ctx).Info().Str("stream", st.Name()).Int("records", records).Msg("stream done")
	return s.writeState(run)
}

func (s *readSink) writeState(run *streamRun) error {
	if run.mode != stream.Incremental {
		return nil
	}
	return s.w.Write(NewStateMessage(run.stream.Name(), run.stream.State()))
}

// fail records a stream failure and reports it as a TRACE message.
func (s *readSink) fail(streamName string, err error) {
	metrics.StreamFailures.WithLabelValues(streamName, string(failure.TypeOf(err))).Inc()
	werr := s.w.Write(NewTraceMessage(streamName, err))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = multierr.Append(s.err, fmt.Errorf("stream %q: %w", streamName, err))
	s.err = multierr.Append(s.err, werr)
}

func (s *readSink) errs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// endSpans ends the spans of streams the reader never finished.
func (s *readSink) endSpans(err error) {
	for _, run := range s.runs {
		run.mu.Lock()
		ended := run.ended
		run.ended = true
		run.mu.Unlock()
		if ended {
			continue
		}
		if err != nil {
			run.span.SetStatus(codes.Error, err.Error())
		}
		run.span.End()
	}
}
