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

package csync

import (
	"context"
	"sync"
)

// ValueWatcher holds a value that can be read, replaced and waited on by
// multiple goroutines.
type ValueWatcher[T any] struct {
	mu  sync.Mutex
	val T
	// changed is closed and replaced every time the value is set.
	changed chan struct{}
}

// WatchValues returns a function matching any of the wanted values.
func WatchValues[T comparable](want ...T) func(T) bool {
	if len(want) == 0 {
		panic("invalid use of WatchValues, need to supply at least one value")
	}
	return func(val T) bool {
		for _, w := range want {
			if val == w {
				return true
			}
		}
		return false
	}
}

// Set stores val and wakes up all goroutines blocked in Watch.
func (w *ValueWatcher[T]) Set(val T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set(val)
}

// Update replaces the value with the result of fn, atomically.
func (w *ValueWatcher[T]) Update(fn func(T) T) T {
	w.mu.Lock()
	defer w.mu.Unlock()
	val := fn(w.val)
	w.set(val)
	return val
}

func (w *ValueWatcher[T]) set(val T) {
	w.val = val
	if w.changed != nil {
		close(w.changed)
	}
	w.changed = make(chan struct{})
}

// Get returns the current value.
func (w *ValueWatcher[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val
}

// Watch blocks until f returns true for the current or a later value and
// returns that value. Values set in quick succession may be skipped, f
// always sees the latest one. If ctx is done first the last seen value is
// returned together with the context error.
func (w *ValueWatcher[T]) Watch(ctx context.Context, f func(T) bool) (T, error) {
	for {
		w.mu.Lock()
		val := w.val
		if w.changed == nil {
			w.changed = make(chan struct{})
		}
		changed := w.changed
		w.mu.Unlock()

		if f(val) {
			return val, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return val, ctx.Err()
		}
	}
}
