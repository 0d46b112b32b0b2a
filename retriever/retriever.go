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

//go:generate mockgen -destination=mock_requester_test.go -package=retriever -write_package_comment=false github.com/conduitio/conduit-connector-declarative/requester Requester

// Package retriever reads the records of a stream slice by slice.
package retriever

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/cursor"
	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/paginator"
	"github.com/conduitio/conduit-connector-declarative/requester"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
)

// Retriever reads the records of a stream.
type Retriever interface {
	StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error]
	// ReadSlice reads all records of a single slice. The cursor, if any, is
	// updated once the slice is read completely.
	ReadSlice(ctx context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error]
	State() types.StreamState
	SetInitialState(state types.StreamState) error
}

// Read reads all slices of r one after another.
func Read(ctx context.Context, r Retriever) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		for slice, err := range r.StreamSlices(ctx) {
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			for rec, err := range r.ReadSlice(ctx, slice) {
				if !yield(rec, err) || err != nil {
					return
				}
			}
		}
	}
}

// SimpleConfig configures a SimpleRetriever.
type SimpleConfig struct {
	Name       string
	PrimaryKey []string
	Requester  requester.Requester
	Selector   *extractor.RecordSelector
	// Paginator defaults to NoPagination. It is shared by all slices, set
	// NewPaginator instead when slices are read concurrently.
	Paginator paginator.Paginator
	// NewPaginator, if set, creates a fresh paginator for every slice.
	NewPaginator func() (paginator.Paginator, error)
	// StreamSlicer is used when there is no cursor, it defaults to a single
	// slice.
	StreamSlicer slicer.StreamSlicer
	Cursor       cursor.Cursor
	// IgnoreStreamSlicerParametersOnPaginatedRequests drops the request
	// options of the slicer on all but the first page of a slice.
	IgnoreStreamSlicerParametersOnPaginatedRequests bool
}

// SimpleRetriever pages through the responses of a requester for every
// slice and extracts the records with a selector.
type SimpleRetriever struct {
	cfg    SimpleConfig
	slicer slicer.StreamSlicer
}

var _ Retriever = (*SimpleRetriever)(nil)

func NewSimpleRetriever(cfg SimpleConfig) (*SimpleRetriever, error) {
	if cfg.Requester == nil {
		return nil, failure.Config("", "requester is required")
	}
	if cfg.Selector == nil {
		return nil, failure.Config("", "record_selector is required")
	}
	if cfg.Paginator == nil {
		cfg.Paginator = paginator.NoPagination{}
	}
	r := &SimpleRetriever{cfg: cfg}
	switch {
	case cfg.Cursor != nil:
		r.slicer = cfg.Cursor
	case cfg.StreamSlicer != nil:
		r.slicer = cfg.StreamSlicer
	default:
		r.slicer = slicer.SinglePartitionRouter{}
	}
	return r, nil
}

func (r *SimpleRetriever) Name() string         { return r.cfg.Name }
func (r *SimpleRetriever) PrimaryKey() []string { return r.cfg.PrimaryKey }
func (r *SimpleRetriever) Cursor() cursor.Cursor {
	return r.cfg.Cursor
}

func (r *SimpleRetriever) StreamSlices(ctx context.Context) iter.Seq2[types.StreamSlice, error] {
	return r.slicer.StreamSlices(ctx)
}

func (r *SimpleRetriever) State() types.StreamState {
	if r.cfg.Cursor == nil {
		return types.StreamState{}
	}
	return r.cfg.Cursor.State()
}

func (r *SimpleRetriever) SetInitialState(state types.StreamState) error {
	if r.cfg.Cursor == nil || len(state) == 0 {
		return nil
	}
	return r.cfg.Cursor.SetInitialState(state)
}

// paginator returns the paginator for a new slice.
func (r *SimpleRetriever) paginator() (paginator.Paginator, error) {
	if r.cfg.NewPaginator != nil {
		p, err := r.cfg.NewPaginator()
		if err != nil {
			return nil, fmt.Errorf("failed to create paginator: %w", err)
		}
		return p, nil
	}
	r.cfg.Paginator.Reset(nil)
	return r.cfg.Paginator, nil
}

// requestOptions merges the options of the paginator and the slicer.
func (r *SimpleRetriever) requestOptions(ctx context.Context, pag paginator.Paginator, state types.StreamState, slice types.StreamSlice, token types.PageToken) (requestoption.Options, error) {
	opts, err := pag.RequestOptions(ctx, state, slice, token)
	if err != nil {
		return requestoption.Options{}, fmt.Errorf("paginator: %w", err)
	}
	if token != nil && r.cfg.IgnoreStreamSlicerParametersOnPaginatedRequests {
		return opts, nil
	}
	sliceOpts, err := r.slicer.RequestOptions(ctx, state, slice, token)
	if err != nil {
		return requestoption.Options{}, fmt.Errorf("stream slicer: %w", err)
	}
	if err := opts.Merge(sliceOpts); err != nil {
		return requestoption.Options{}, err
	}
	return opts, nil
}

func (r *SimpleRetriever) ReadSlice(ctx context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		logger := zerolog.Ctx(ctx).With().Str("stream", r.cfg.Name).Logger()
		logger.Debug().Any("slice", slice.Mapping()).Msg("reading slice")

		pag, err := r.paginator()
		if err != nil {
			yield(types.Record{}, err)
			return
		}
		state := r.State()
		token := pag.InitialToken()
		pages := 0
		for {
			opts, err := r.requestOptions(ctx, pag, state, slice, token)
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			resp, err := r.cfg.Requester.Send(ctx, state, slice, token, opts)
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			if resp == nil {
				logger.Debug().Int("page", pages).Msg("response ignored, stopping pagination of slice")
				break
			}
			pages++

			next, ok, err := r.readPage(pag, resp, state, slice, token, yield)
			if !ok {
				return
			}
			if err != nil {
				yield(types.Record{}, err)
				return
			}
			if next == nil {
				break
			}
			token = next
		}

		if r.cfg.Cursor != nil {
			if err := r.cfg.Cursor.CloseSlice(slice); err != nil {
				yield(types.Record{}, fmt.Errorf("failed to close slice: %w", err))
				return
			}
		}
		logger.Debug().Int("pages", pages).Msg("slice read")
	}
}

// readPage yields the records of a single response and returns the token of
// the next page. It returns false if the caller stopped the iteration.
func (r *SimpleRetriever) readPage(
	pag paginator.Paginator,
	resp *http.Response,
	state types.StreamState,
	slice types.StreamSlice,
	token types.PageToken,
	yield func(types.Record, error) bool,
) (types.PageToken, bool, error) {
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()

	var (
		count int
		last  *types.Record
	)
	for rec, err := range r.cfg.Selector.SelectRecords(resp, state, slice, token) {
		if err != nil {
			return nil, true, err
		}
		count++
		last = &rec
		if r.cfg.Cursor != nil {
			r.cfg.Cursor.Observe(slice, rec)
		}
		if !yield(rec, nil) {
			return nil, false, nil
		}
	}
	next, err := pag.NextPageToken(resp, count, last, token)
	if err != nil {
		return nil, true, fmt.Errorf("failed to compute next page token: %w", err)
	}
	return next, true, nil
}
