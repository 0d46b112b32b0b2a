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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func BenchmarkBatcher_Enqueue(b *testing.B) {
	batchSizes := []int{10, 100, 1000, 10000}

	for _, batchSize := range batchSizes {
		b.Run(fmt.Sprint(batchSize), func(b *testing.B) {
			batcher := NewBatcher(
				batchSize,
				time.Second,
				func([]int) error { return nil },
			)
			defer batcher.Flush() //nolint:errcheck // benchmark

			for i := 0; i < b.N; i++ {
				_, _ = batcher.Enqueue(i)
			}
		})
	}
}

type collector struct {
	m       sync.Mutex
	batches [][]int
	err     error
}

func (c *collector) fn(batch []int) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.batches = append(c.batches, append([]int(nil), batch...))
	return c.err
}

func (c *collector) get() [][]int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.batches
}

func TestBatcher_Enqueue_Scheduled(t *testing.T) {
	is := is.New(t)
	var c collector
	b := NewBatcher(2, time.Second, c.fn)

	status, err := b.Enqueue(1)
	is.NoErr(err)
	is.Equal(status, Scheduled)
	is.Equal(len(c.get()), 0)
}

func TestBatcher_Enqueue_Flushed(t *testing.T) {
	is := is.New(t)
	var c collector
	b := NewBatcher(2, time.Second, c.fn)

	_, err := b.Enqueue(1)
	is.NoErr(err)
	status, err := b.Enqueue(2)
	is.NoErr(err)
	is.Equal(status, Flushed)

	is.Equal(c.get(), [][]int{{1, 2}})
}

func TestBatcher_NoBatching(t *testing.T) {
	is := is.New(t)
	var c collector
	b := NewBatcher(0, 0, c.fn)

	for i := 0; i < 3; i++ {
		status, err := b.Enqueue(i)
		is.NoErr(err)
		is.Equal(status, Flushed)
	}
	is.Equal(c.get(), [][]int{{0}, {1}, {2}})
}

func TestBatcher_Enqueue_Delay(t *testing.T) {
	is := is.New(t)
	var c collector
	const delay = 10 * time.Millisecond
	b := NewBatcher(10, delay, c.fn)

	_, err := b.Enqueue(1)
	is.NoErr(err)

	deadline := time.Now().Add(time.Second)
	for len(c.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	is.Equal(c.get(), [][]int{{1}})
}

func TestBatcher_DelayedErrorIsReturned(t *testing.T) {
	is := is.New(t)
	wantErr := errors.New("test error")
	c := collector{err: wantErr}
	b := NewBatcher(10, time.Millisecond, c.fn)

	_, err := b.Enqueue(1)
	is.NoErr(err)

	deadline := time.Now().Add(time.Second)
	for len(c.get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_, err = b.Enqueue(2)
	is.Equal(err, wantErr)
}

func TestBatcher_Flush(t *testing.T) {
	is := is.New(t)
	var c collector
	b := NewBatcher(10, time.Second, c.fn)

	for i := 0; i < 9; i++ {
		_, err := b.Enqueue(i)
		is.NoErr(err)
	}
	is.Equal(len(c.get()), 0)

	is.NoErr(b.Flush())
	is.Equal(c.get(), [][]int{{0, 1, 2, 3, 4, 5, 6, 7, 8}})

	is.NoErr(b.Flush()) // nothing left
	is.Equal(len(c.get()), 1)
}
