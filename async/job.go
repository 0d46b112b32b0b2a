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

// Package async runs jobs on APIs that produce their data asynchronously:
// a job is created, polled until it completes and its results downloaded.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/internal/csync"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// DefaultJobTimeout is used when no job timeout is configured.
const DefaultJobTimeout = 60 * time.Minute

// Status is the status of a job.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the job will not change its status anymore.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Timer measures how long a job has been running.
type Timer struct {
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	started time.Time
	stopped time.Time
}

func NewTimer(timeout time.Duration) *Timer {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Timer{timeout: timeout, now: time.Now}
}

// Start starts the timer. Starting a started timer is a noop.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		t.started = t.now()
	}
}

// Stop freezes the elapsed time.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.IsZero() && t.stopped.IsZero() {
		t.stopped = t.now()
	}
}

func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.started.IsZero() && t.stopped.IsZero()
}

func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.started.IsZero():
		return 0
	case !t.stopped.IsZero():
		return t.stopped.Sub(t.started)
	default:
		return t.now().Sub(t.started)
	}
}

// Remaining returns the time left until the timeout.
func (t *Timer) Remaining() time.Duration {
	return t.timeout - t.Elapsed()
}

func (t *Timer) HasTimedOut() bool {
	return t.Elapsed() > t.timeout
}

// Job is a single asynchronous job created for a stream slice.
type Job struct {
	id     string
	slice  types.StreamSlice
	timer  *Timer
	status csync.ValueWatcher[Status]
}

func NewJob(id string, slice types.StreamSlice, timeout time.Duration) *Job {
	j := &Job{id: id, slice: slice, timer: NewTimer(timeout)}
	j.status.Set(StatusNotStarted)
	return j
}

func (j *Job) ID() string               { return j.id }
func (j *Job) Slice() types.StreamSlice { return j.slice }

// Elapsed returns how long the job has been running.
func (j *Job) Elapsed() time.Duration { return j.timer.Elapsed() }

// Status returns the status of the job. A job that is still running after
// its timeout reports StatusTimedOut until a terminal status is set.
func (j *Job) Status() Status {
	s := j.status.Get()
	if !s.IsTerminal() && j.timer.HasTimedOut() {
		return StatusTimedOut
	}
	return s
}

// Update sets the status of the job. The timer starts when the job starts
// running and stops once the job reaches a terminal status.
func (j *Job) Update(status Status) {
	switch {
	case status == StatusRunning:
		j.timer.Start()
	case status.IsTerminal():
		j.timer.Stop()
	}
	j.status.Set(status)
}

// Await blocks until the job reaches a terminal status or ctx is done.
func (j *Job) Await(ctx context.Context) (Status, error) {
	for {
		if s := j.Status(); s.IsTerminal() {
			return s, nil
		}
		wctx, cancel := ctx, context.CancelFunc(func() {})
		if j.timer.IsRunning() {
			wctx, cancel = context.WithTimeout(ctx, j.timer.Remaining()+time.Millisecond)
		}
		_, _ = j.status.Watch(wctx, Status.IsTerminal)
		cancel()
		if err := ctx.Err(); err != nil {
			return j.Status(), err
		}
	}
}
