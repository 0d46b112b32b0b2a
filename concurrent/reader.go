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

// Package concurrent reads the partitions of several streams in parallel.
//
// A single generator walks the slices of every stream and puts them on a
// bounded queue. A fixed number of workers take partitions from the queue
// and read them. Records of a partition are delivered in order, there is no
// ordering between partitions.
package concurrent

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

const (
	DefaultWorkers   = 1
	DefaultQueueSize = 100
)

// Stream is a stream that can be read slice by slice.
type Stream interface {
	Name() string
	StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error]
	ReadSlice(ctx context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error]
}

// Sink receives the output of a Reader. Methods are called concurrently
// from multiple workers.
//
// An error returned by a Sink stops the whole read.
type Sink interface {
	// Record is called for every record in the order the partition
	// produced them.
	Record(ctx context.Context, stream Stream, record types.Record) error
	// SliceDone is called after all records of a slice were delivered.
	SliceDone(ctx context.Context, stream Stream, slice types.StreamSlice) error
	// StreamDone is called exactly once per stream, after all of its
	// partitions were read or the stream failed. err is the first error the
	// stream returned.
	StreamDone(ctx context.Context, stream Stream, err error) error
}

type partition struct {
	progress *progress
	slice    types.StreamSlice
}

type Option func(*Reader)

// WithQueueSize sets how many partitions can wait for a worker.
func WithQueueSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// Reader reads streams with a pool of workers.
type Reader struct {
	workers   int
	queueSize int
}

func NewReader(workers int, opts ...Option) *Reader {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	r := &Reader{
		workers:   workers,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Workers() int { return r.workers }

// Read reads all streams and blocks until every stream is done, the context
// is canceled or sink returns an error. Stream failures are reported to
// StreamDone and do not stop other streams.
func (r *Reader) Read(ctx context.Context, streams []Stream, sink Sink) error {
	t, ctx := tomb.WithContext(ctx)
	queue := make(chan partition, r.queueSize)

	t.Go(func() error {
		for i := 0; i < r.workers; i++ {
			t.Go(func() error {
				return r.work(ctx, t, queue, sink)
			})
		}
		defer close(queue)
		return r.generate(ctx, t, streams, queue, sink)
	})
	return t.Wait()
}

func (r *Reader) generate(ctx context.Context, t *tomb.Tomb, streams []Stream, queue chan<- partition, sink Sink) error {
	logger := zerolog.Ctx(ctx)
	for _, s := range streams {
		p := &progress{stream: s}
		logger.Debug().Str("stream", s.Name()).Msg("generating partitions")
		for slice, err := range s.StreamSlices(ctx) {
			if err != nil {
				p.fail(fmt.Errorf("failed to generate slices: %w", err))
				break
			}
			if p.failed() {
				break
			}
			p.add()
			select {
			case queue <- partition{progress: p, slice: slice}:
			case <-t.Dying():
				return nil
			}
		}
		if p.generated() {
			if err := sink.StreamDone(ctx, s, p.err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reader) work(ctx context.Context, t *tomb.Tomb, queue <-chan partition, sink Sink) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case p, ok := <-queue:
			if !ok {
				return nil
			}
			if err := r.read(ctx, p, sink); err != nil {
				return err
			}
		}
	}
}

// read reads a single partition. Only sink errors are returned, errors of
// the stream are recorded in its progress.
func (r *Reader) read(ctx context.Context, p partition, sink Sink) error {
	s := p.progress.stream
	if !p.progress.failed() {
		var readErr error
		for rec, err := range s.ReadSlice(ctx, p.slice) {
			if err != nil {
				readErr = err
				break
			}
			if err := sink.Record(ctx, s, rec); err != nil {
				return err
			}
		}
		if readErr != nil {
			zerolog.Ctx(ctx).Debug().Err(readErr).Str("stream", s.Name()).Msg("partition failed")
			p.progress.fail(readErr)
		} else if err := sink.SliceDone(ctx, s, p.slice); err != nil {
			return err
		}
	}
	if p.progress.done() {
		return sink.StreamDone(ctx, s, p.progress.err)
	}
	return nil
}

// progress tracks the partitions of a stream that are not read yet.
type progress struct {
	stream Stream

	mu        sync.Mutex
	pending   int
	finished  bool // all partitions were generated
	completed bool // StreamDone was scheduled
	err       error
}

func (p *progress) add() {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
}

func (p *progress) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *progress) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

// generated marks the generation as finished and returns true if the stream
// has no pending partitions left.
func (p *progress) generated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	return p.complete()
}

// done marks a partition as read and returns true if it was the last one.
func (p *progress) done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	return p.complete()
}

func (p *progress) complete() bool {
	if p.completed || !p.finished || p.pending > 0 {
		return false
	}
	p.completed = true
	return true
}
