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

package async

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requester"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestJob(timeout time.Duration) (*Job, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	j := NewJob("job-1", types.StreamSlice{}, timeout)
	j.timer.now = clock.Now
	return j, clock
}

func TestJob_TimesOut(t *testing.T) {
	is := is.New(t)

	j, clock := newTestJob(time.Minute)
	is.Equal(j.Status(), StatusNotStarted)

	clock.Advance(time.Hour) // the timer only runs once the job runs
	is.Equal(j.Status(), StatusNotStarted)

	j.Update(StatusRunning)
	clock.Advance(30 * time.Second)
	is.Equal(j.Status(), StatusRunning)

	clock.Advance(31 * time.Second)
	is.Equal(j.Status(), StatusTimedOut)

	// a terminal update replaces the timed out status
	j.Update(StatusFailed)
	is.Equal(j.Status(), StatusFailed)
}

func TestJob_CompletedFreezesTimer(t *testing.T) {
	is := is.New(t)

	j, clock := newTestJob(time.Minute)
	j.Update(StatusRunning)
	clock.Advance(10 * time.Second)
	j.Update(StatusCompleted)

	clock.Advance(time.Hour)
	is.Equal(j.Status(), StatusCompleted)
	is.Equal(j.timer.Elapsed(), 10*time.Second)
	is.True(!j.timer.IsRunning())
}

func TestJob_Await(t *testing.T) {
	defer goleak.VerifyNone(t)
	is := is.New(t)

	j := NewJob("job-1", types.StreamSlice{}, time.Minute)
	j.Update(StatusRunning)

	go func() {
		time.Sleep(10 * time.Millisecond)
		j.Update(StatusCompleted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := j.Await(ctx)
	is.NoErr(err)
	is.Equal(status, StatusCompleted)
}

func TestJob_AwaitTimeout(t *testing.T) {
	is := is.New(t)

	j := NewJob("job-1", types.StreamSlice{}, 20*time.Millisecond)
	j.Update(StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := j.Await(ctx)
	is.NoErr(err)
	is.Equal(status, StatusTimedOut)
}

func TestJob_AwaitCanceled(t *testing.T) {
	is := is.New(t)

	j := NewJob("job-1", types.StreamSlice{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err := j.Await(ctx)
	is.True(errors.Is(err, context.Canceled))
	is.Equal(status, StatusNotStarted)
}

type senderFunc func(ctx context.Context, in requester.Request) (*http.Response, error)

func (f senderFunc) SendRequest(ctx context.Context, in requester.Request) (*http.Response, error) {
	return f(ctx, in)
}

func respond(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(body))}
}

func TestHTTPJobRepository(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	var polls int
	var downloads []string
	var deleted bool
	ext, err := extractor.NewDpathExtractor([]string{"data"}, nil, "", nil, nil)
	is.NoErr(err)

	repo, err := NewHTTPJobRepository(HTTPJobRepositoryConfig{
		Creation: senderFunc(func(_ context.Context, in requester.Request) (*http.Response, error) {
			is.Equal(in.Slice.Partition, types.Mapping{"account": "a1"})
			return respond(`{"id":"remote-1"}`), nil
		}),
		Polling: senderFunc(func(_ context.Context, in requester.Request) (*http.Response, error) {
			is.Equal(in.Kwargs["creation_response"], types.Mapping{"id": "remote-1"})
			polls++
			if polls == 1 {
				return respond(`{"status":"pending"}`), nil
			}
			return respond(`{"status":"done","files":["f1","f2"]}`), nil
		}),
		Download: senderFunc(func(_ context.Context, in requester.Request) (*http.Response, error) {
			target := in.Kwargs["download_target"].(string)
			downloads = append(downloads, target)
			return respond(`{"data":[{"file":"` + target + `"}]}`), nil
		}),
		Delete: senderFunc(func(context.Context, requester.Request) (*http.Response, error) {
			deleted = true
			return nil, nil
		}),
		StatusPath: []string{"status"},
		StatusMapping: map[Status][]string{
			StatusRunning:   {"pending", "queued"},
			StatusCompleted: {"done"},
			StatusFailed:    {"error"},
		},
		DownloadTargetPath: []string{"files"},
		DownloadExtractor:  ext,
	})
	is.NoErr(err)

	job, err := repo.Start(ctx, types.NewStreamSlice(types.Mapping{"account": "a1"}, nil))
	is.NoErr(err)
	is.Equal(job.Status(), StatusRunning)
	is.True(job.ID() != "")

	is.NoErr(repo.UpdateJobsStatus(ctx, []*Job{job}))
	is.Equal(job.Status(), StatusRunning)
	is.NoErr(repo.UpdateJobsStatus(ctx, []*Job{job}))
	is.Equal(job.Status(), StatusCompleted)

	// completed jobs are not polled again
	is.NoErr(repo.UpdateJobsStatus(ctx, []*Job{job}))
	is.Equal(polls, 2)

	var got []types.Mapping
	for rec, err := range repo.FetchRecords(ctx, job) {
		is.NoErr(err)
		got = append(got, rec)
	}
	is.Equal(got, []types.Mapping{{"file": "f1"}, {"file": "f2"}})
	is.Equal(downloads, []string{"f1", "f2"})

	is.NoErr(repo.Delete(ctx, job))
	is.True(deleted)
}

func TestHTTPJobRepository_UnknownStatus(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	ext, err := extractor.NewDpathExtractor(nil, nil, "", nil, nil)
	is.NoErr(err)
	send := senderFunc(func(context.Context, requester.Request) (*http.Response, error) {
		return respond(`{"status":"weird"}`), nil
	})
	repo, err := NewHTTPJobRepository(HTTPJobRepositoryConfig{
		Creation:          send,
		Polling:           send,
		Download:          send,
		StatusPath:        []string{"status"},
		StatusMapping:     map[Status][]string{StatusCompleted: {"done"}},
		DownloadExtractor: ext,
	})
	is.NoErr(err)

	job, err := repo.Start(ctx, types.StreamSlice{})
	is.NoErr(err)
	err = repo.UpdateJobsStatus(ctx, []*Job{job})
	is.Equal(failure.TypeOf(err), failure.SystemError)

	for _, err := range repo.FetchRecords(ctx, job) {
		is.True(err != nil) // job is not completed
	}
}

func TestNewHTTPJobRepository_Invalid(t *testing.T) {
	is := is.New(t)

	_, err := NewHTTPJobRepository(HTTPJobRepositoryConfig{})
	is.True(failure.IsConfigError(err))

	send := senderFunc(func(context.Context, requester.Request) (*http.Response, error) { return nil, nil })
	ext, err := extractor.NewDpathExtractor(nil, nil, "", nil, nil)
	is.NoErr(err)
	_, err = NewHTTPJobRepository(HTTPJobRepositoryConfig{
		Creation: send, Polling: send, Download: send,
		StatusPath:        []string{"status"},
		DownloadExtractor: ext,
		StatusMapping: map[Status][]string{
			StatusCompleted: {"ok"},
			StatusFailed:    {"ok"},
		},
	})
	is.True(failure.IsConfigError(err))
}
