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
	"fmt"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requester"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository manages the lifecycle of asynchronous jobs.
type Repository interface {
	// Start creates a job for slice.
	Start(ctx context.Context, slice types.StreamSlice) (*Job, error)
	// UpdateJobsStatus polls the remote status of the given jobs.
	UpdateJobsStatus(ctx context.Context, jobs []*Job) error
	// FetchRecords downloads the results of a completed job.
	FetchRecords(ctx context.Context, job *Job) iter.Seq2[types.Mapping, error]
	Abort(ctx context.Context, job *Job) error
	Delete(ctx context.Context, job *Job) error
}

// Sender sends a single request, it is implemented by
// requester.HTTPRequester.
type Sender interface {
	SendRequest(ctx context.Context, in requester.Request) (*http.Response, error)
}

// HTTPJobRepositoryConfig configures an HTTPJobRepository.
type HTTPJobRepositoryConfig struct {
	Creation Sender
	Polling  Sender
	Download Sender
	// Abort and Delete are optional.
	Abort  Sender
	Delete Sender

	// StatusPath locates the remote status in the polling response.
	StatusPath []string
	// StatusMapping maps job statuses to the remote status values.
	StatusMapping map[Status][]string
	// DownloadTargetPath locates the download targets in the polling
	// response, it may contain wildcards.
	DownloadTargetPath []string
	// DownloadExtractor extracts the records from a download response.
	DownloadExtractor extractor.Extractor
	// Decoder decodes creation and polling responses, JSON by default.
	Decoder    decoder.Decoder
	JobTimeout time.Duration
}

// HTTPJobRepository runs jobs with HTTP requests. The creation and polling
// responses of a job are exposed to the following requests as
// creation_response and polling_response.
type HTTPJobRepository struct {
	cfg    HTTPJobRepositoryConfig
	status map[string]Status

	mu       sync.Mutex
	creation map[string]types.Mapping
	polling  map[string]types.Mapping
}

var _ Repository = (*HTTPJobRepository)(nil)

func NewHTTPJobRepository(cfg HTTPJobRepositoryConfig) (*HTTPJobRepository, error) {
	if cfg.Creation == nil || cfg.Polling == nil || cfg.Download == nil {
		return nil, failure.Config("", "creation, polling and download requesters are required")
	}
	if len(cfg.StatusPath) == 0 {
		return nil, failure.Config("", "status_extractor is required")
	}
	if cfg.DownloadExtractor == nil {
		return nil, failure.Config("", "download_extractor is required")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.JSONDecoder{}
	}
	status := make(map[string]Status)
	for s, values := range cfg.StatusMapping {
		switch s {
		case StatusRunning, StatusCompleted, StatusFailed, StatusTimedOut:
		default:
			return nil, failure.Config("", "invalid status %q in status_mapping", s)
		}
		for _, v := range values {
			if prev, ok := status[v]; ok && prev != s {
				return nil, failure.Config("", "status value %q is mapped to %s and %s", v, prev, s)
			}
			status[v] = s
		}
	}
	return &HTTPJobRepository{
		cfg:      cfg,
		status:   status,
		creation: make(map[string]types.Mapping),
		polling:  make(map[string]types.Mapping),
	}, nil
}

func (r *HTTPJobRepository) decode(resp *http.Response) (types.Mapping, error) {
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()
	return decoder.First(r.cfg.Decoder, resp)
}

func (r *HTTPJobRepository) Start(ctx context.Context, slice types.StreamSlice) (*Job, error) {
	resp, err := r.cfg.Creation.SendRequest(ctx, requester.Request{Slice: slice})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if resp == nil {
		return nil, failure.System("job creation response was ignored")
	}
	body, err := r.decode(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode job creation response: %w", err)
	}

	job := NewJob(uuid.NewString(), slice, r.cfg.JobTimeout)
	r.mu.Lock()
	r.creation[job.ID()] = body
	r.mu.Unlock()
	job.Update(StatusRunning)

	zerolog.Ctx(ctx).Debug().Str("job_id", job.ID()).Msg("async job created")
	return job, nil
}

func (r *HTTPJobRepository) kwargs(job *Job) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	kw := map[string]any{interpolation.KeyCreationResponse: r.creation[job.ID()]}
	if p, ok := r.polling[job.ID()]; ok {
		kw[interpolation.KeyPollingResponse] = p
	}
	return kw
}

func (r *HTTPJobRepository) UpdateJobsStatus(ctx context.Context, jobs []*Job) error {
	for _, job := range jobs {
		if job.Status().IsTerminal() {
			continue
		}
		resp, err := r.cfg.Polling.SendRequest(ctx, requester.Request{Slice: job.Slice(), Kwargs: r.kwargs(job)})
		if err != nil {
			return fmt.Errorf("failed to poll job %s: %w", job.ID(), err)
		}
		if resp == nil {
			continue
		}
		body, err := r.decode(resp)
		if err != nil {
			return fmt.Errorf("failed to decode polling response of job %s: %w", job.ID(), err)
		}
		raw, _ := dpath.Get(body, r.cfg.StatusPath)
		status, ok := r.status[fmt.Sprint(raw)]
		if !ok {
			return failure.System("job %s has unknown status %v", job.ID(), raw)
		}
		if status == StatusCompleted {
			r.mu.Lock()
			r.polling[job.ID()] = body
			r.mu.Unlock()
		}
		if status != job.Status() {
			zerolog.Ctx(ctx).Debug().
				Str("job_id", job.ID()).
				Str("status", string(status)).
				Msg("async job status changed")
		}
		job.Update(status)
	}
	return nil
}

func (r *HTTPJobRepository) targets(job *Job) []string {
	r.mu.Lock()
	body := r.polling[job.ID()]
	r.mu.Unlock()

	var values []any
	if dpath.HasWildcard(r.cfg.DownloadTargetPath) {
		values = dpath.Values(body, r.cfg.DownloadTargetPath)
	} else if v, ok := dpath.Get(body, r.cfg.DownloadTargetPath); ok {
		values = []any{v}
	}

	var out []string
	for _, v := range values {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func (r *HTTPJobRepository) FetchRecords(ctx context.Context, job *Job) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		if s := job.Status(); s != StatusCompleted {
			yield(nil, failure.System("job %s is not completed, status is %s", job.ID(), s))
			return
		}
		kw := r.kwargs(job)
		for _, target := range r.targets(job) {
			kw[interpolation.KeyDownloadTarget] = target
			resp, err := r.cfg.Download.SendRequest(ctx, requester.Request{Slice: job.Slice(), Kwargs: kw})
			if err != nil {
				yield(nil, fmt.Errorf("failed to download %s: %w", target, err))
				return
			}
			if resp == nil {
				continue
			}
			cont := func() bool {
				defer resp.Body.Close()
				for rec, err := range r.cfg.DownloadExtractor.ExtractRecords(resp) {
					if !yield(rec, err) || err != nil {
						return false
					}
				}
				return true
			}()
			if !cont {
				return
			}
		}
	}
}

func (r *HTTPJobRepository) Abort(ctx context.Context, job *Job) error {
	if r.cfg.Abort == nil {
		return nil
	}
	resp, err := r.cfg.Abort.SendRequest(ctx, requester.Request{Slice: job.Slice(), Kwargs: r.kwargs(job)})
	if err != nil {
		return fmt.Errorf("failed to abort job %s: %w", job.ID(), err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return nil
}

// Delete deletes the remote job, if configured, and forgets its responses.
func (r *HTTPJobRepository) Delete(ctx context.Context, job *Job) error {
	defer func() {
		r.mu.Lock()
		delete(r.creation, job.ID())
		delete(r.polling, job.ID())
		r.mu.Unlock()
	}()
	if r.cfg.Delete == nil {
		return nil
	}
	resp, err := r.cfg.Delete.SendRequest(ctx, requester.Request{Slice: job.Slice(), Kwargs: r.kwargs(job)})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", job.ID(), err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return nil
}
