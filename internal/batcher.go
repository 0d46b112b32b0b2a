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

package internal

import (
	"sync"
	"time"
)

// Batcher collects items and passes them to a BatchFn once the batch holds
// sizeThreshold items or delayThreshold passed since the first item was
// added. It is safe for concurrent use.
type Batcher[T any] struct {
	sizeThreshold  int
	delayThreshold time.Duration
	fn             BatchFn[T]

	m          sync.Mutex
	batch      []T
	flushTimer *time.Timer
	// err is the error of the last flush triggered by the timer, it is
	// returned by the next call to Enqueue or Flush.
	err error
}

// BatchFn processes a batch. The slice is reused after the function returns.
type BatchFn[T any] func([]T) error

type EnqueueStatus int

const (
	Scheduled EnqueueStatus = iota + 1
	Flushed
)

// NewBatcher creates a Batcher. A sizeThreshold of 1 or less disables
// batching, every item is flushed right away.
func NewBatcher[T any](sizeThreshold int, delayThreshold time.Duration, fn BatchFn[T]) *Batcher[T] {
	return &Batcher[T]{
		sizeThreshold:  max(sizeThreshold, 1),
		delayThreshold: delayThreshold,
		fn:             fn,
	}
}

// Enqueue adds item to the batch and flushes the batch if it is full.
func (b *Batcher[T]) Enqueue(item T) (EnqueueStatus, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if err := b.takeErr(); err != nil {
		return 0, err
	}

	b.batch = append(b.batch, item)
	if len(b.batch) >= b.sizeThreshold {
		return Flushed, b.flushNow()
	}
	if b.flushTimer == nil && b.delayThreshold > 0 {
		b.flushTimer = time.AfterFunc(b.delayThreshold, b.flushDelayed)
	}
	return Scheduled, nil
}

// Flush processes the current batch, if any.
func (b *Batcher[T]) Flush() error {
	b.m.Lock()
	defer b.m.Unlock()
	if err := b.takeErr(); err != nil {
		return err
	}
	return b.flushNow()
}

func (b *Batcher[T]) flushDelayed() {
	b.m.Lock()
	defer b.m.Unlock()
	if err := b.flushNow(); err != nil && b.err == nil {
		b.err = err
	}
}

func (b *Batcher[T]) takeErr() error {
	err := b.err
	b.err = nil
	return err
}

func (b *Batcher[T]) flushNow() error {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	if len(b.batch) == 0 {
		return nil
	}
	err := b.fn(b.batch)
	b.batch = b.batch[:0]
	return err
}
