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

package retriever

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/conduitio/conduit-connector-declarative/async"
	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal"
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
)

// DefaultPollingInterval is the time between two status requests of a job.
const DefaultPollingInterval = 5 * time.Second

// AsyncConfig configures an AsyncRetriever.
type AsyncConfig struct {
	Name            string
	Repository      async.Repository
	Selector        *extractor.RecordSelector
	StreamSlicer    slicer.StreamSlicer
	PollingInterval time.Duration
}

// AsyncRetriever creates a job per slice, waits for it to complete and
// reads the records it produced.
type AsyncRetriever struct {
	cfg AsyncConfig
}

var _ Retriever = (*AsyncRetriever)(nil)

func NewAsyncRetriever(cfg AsyncConfig) (*AsyncRetriever, error) {
	if cfg.Repository == nil {
		return nil, failure.Config("", "job repository is required")
	}
	if cfg.Selector == nil {
		return nil, failure.Config("", "record_selector is required")
	}
	if cfg.StreamSlicer == nil {
		cfg.StreamSlicer = slicer.SinglePartitionRouter{}
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	return &AsyncRetriever{cfg: cfg}, nil
}

func (r *AsyncRetriever) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return r.cfg.StreamSlicer.StreamSlices(ctx)
}

func (r *AsyncRetriever) State() types.StreamState { return types.StreamState{} }

func (r *AsyncRetriever) SetInitialState(types.StreamState) error { return nil }

func (r *AsyncRetriever) ReadSlice(ctx context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		job, err := r.cfg.Repository.Start(ctx, slice)
		if err != nil {
			yield(types.Record{}, err)
			return
		}
		logger := zerolog.Ctx(ctx).With().Str("stream", r.cfg.Name).Str("job_id", job.ID()).Logger()
		defer func() {
			// the job is cleaned up even if the read was canceled
			cctx, cancel := internal.CleanupContext(ctx, 0)
			defer cancel()
			if err := r.cfg.Repository.Delete(cctx, job); err != nil {
				logger.Warn().Err(err).Msg("failed to delete async job")
			}
		}()

		status, err := r.await(ctx, job)
		if err != nil {
			yield(types.Record{}, err)
			return
		}
		switch status {
		case async.StatusCompleted:
		case async.StatusTimedOut:
			r.abort(ctx, job, logger)
			yield(types.Record{}, failure.Transient("async job %s timed out after %s", job.ID(), job.Elapsed()))
			return
		default:
			yield(types.Record{}, failure.System("async job %s finished with status %s", job.ID(), status))
			return
		}

		records := r.cfg.Repository.FetchRecords(ctx, job)
		for rec, err := range r.cfg.Selector.Select(records, nil, slice, nil) {
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (r *AsyncRetriever) abort(ctx context.Context, job *async.Job, logger zerolog.Logger) {
	cctx, cancel := internal.CleanupContext(ctx, 0)
	defer cancel()
	if err := r.cfg.Repository.Abort(cctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to abort async job")
	}
}

// await polls the job status until the job reaches a terminal status.
func (r *AsyncRetriever) await(ctx context.Context, job *async.Job) (async.Status, error) {
	for {
		if err := r.cfg.Repository.UpdateJobsStatus(ctx, []*async.Job{job}); err != nil {
			return "", err
		}
		wctx, cancel := context.WithTimeout(ctx, r.cfg.PollingInterval)
		status, err := job.Await(wctx)
		cancel()
		switch {
		case err == nil:
			return status, nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// polling interval elapsed
		default:
			return "", fmt.Errorf("failed waiting for async job %s: %w", job.ID(), err)
		}
	}
}
