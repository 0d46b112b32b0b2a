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

package paginator

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/httpheader"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Strategy computes page token values.
type Strategy interface {
	// InitialToken returns the token value of the first request, nil if the
	// first request carries no token.
	InitialToken() any
	// NextPageToken returns the token value of the next request, nil if
	// there is no next page. lastRecord is nil if the page was empty.
	NextPageToken(resp *http.Response, lastPageSize int, lastRecord *types.Record, lastTokenValue any) (any, error)
	// PageSize returns the configured page size, 0 if there is none.
	PageSize() int
	// Reset makes InitialToken return value, or the configured initial
	// value if value is nil.
	Reset(value any)
}

// EvalPageSize evaluates a page size that may be a template over the config.
func EvalPageSize(raw string, config types.Config, params types.Mapping) (int, error) {
	if raw == "" {
		return 0, nil
	}
	s, err := interpolation.NewString(raw)
	if err != nil {
		return 0, err
	}
	v, err := s.Eval(interpolation.NewContext(config, params))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, failure.Config("", "page_size must be a positive integer, got %q", v)
	}
	return n, nil
}

// resettable holds the initial value of a strategy.
type resettable struct {
	m       sync.Mutex
	initial any
	current any
}

func (r *resettable) Reset(value any) {
	r.m.Lock()
	defer r.m.Unlock()
	if value == nil {
		r.current = r.initial
		return
	}
	r.current = value
}

func (r *resettable) InitialToken() any {
	r.m.Lock()
	defer r.m.Unlock()
	return r.current
}

// OffsetIncrement uses the number of records read so far as token.
type OffsetIncrement struct {
	resettable
	pageSize int
}

func NewOffsetIncrement(pageSize int, injectOnFirstRequest bool) *OffsetIncrement {
	s := &OffsetIncrement{pageSize: pageSize}
	if injectOnFirstRequest {
		s.initial, s.current = 0, 0
	}
	return s
}

func (s *OffsetIncrement) PageSize() int { return s.pageSize }

func (s *OffsetIncrement) NextPageToken(_ *http.Response, lastPageSize int, _ *types.Record, lastTokenValue any) (any, error) {
	if lastPageSize == 0 || (s.pageSize > 0 && lastPageSize < s.pageSize) {
		return nil, nil
	}
	offset, err := toInt(lastTokenValue, 0)
	if err != nil {
		return nil, err
	}
	return offset + lastPageSize, nil
}

// PageIncrement uses the page number as token.
type PageIncrement struct {
	resettable
	pageSize      int
	startFromPage int
}

func NewPageIncrement(pageSize, startFromPage int, injectOnFirstRequest bool) *PageIncrement {
	s := &PageIncrement{pageSize: pageSize, startFromPage: startFromPage}
	if injectOnFirstRequest {
		s.initial, s.current = startFromPage, startFromPage
	}
	return s
}

func (s *PageIncrement) PageSize() int { return s.pageSize }

func (s *PageIncrement) NextPageToken(_ *http.Response, lastPageSize int, _ *types.Record, lastTokenValue any) (any, error) {
	if lastPageSize == 0 || (s.pageSize > 0 && lastPageSize < s.pageSize) {
		return nil, nil
	}
	page, err := toInt(lastTokenValue, s.startFromPage)
	if err != nil {
		return nil, err
	}
	return page + 1, nil
}

// CursorPagination reads the next token from the response with a template.
// The template sees the decoded response, the headers, the last record and
// the last page size.
type CursorPagination struct {
	resettable
	cursorValue   *interpolation.String
	stopCondition *interpolation.Boolean
	pageSize      int
	decoder       decoder.Decoder
	ctx           interpolation.Context
}

func NewCursorPagination(cursorValue, stopCondition string, pageSize int, dec decoder.Decoder, config types.Config, params types.Mapping) (*CursorPagination, error) {
	cv, err := interpolation.NewString(cursorValue)
	if err != nil {
		return nil, fmt.Errorf("cursor_value: %w", err)
	}
	if cv.IsEmpty() {
		return nil, failure.Config("", "cursor_value is required")
	}
	s := &CursorPagination{
		cursorValue: cv,
		pageSize:    pageSize,
		decoder:     decoder.PaginationDecoder{Decoder: dec},
		ctx:         interpolation.NewContext(config, params),
	}
	if dec == nil {
		s.decoder = decoder.PaginationDecoder{Decoder: decoder.JSONDecoder{}}
	}
	if stopCondition != "" {
		if s.stopCondition, err = interpolation.NewBoolean(stopCondition); err != nil {
			return nil, fmt.Errorf("stop_condition: %w", err)
		}
	}
	return s, nil
}

func (s *CursorPagination) PageSize() int { return s.pageSize }

func (s *CursorPagination) NextPageToken(resp *http.Response, lastPageSize int, lastRecord *types.Record, lastTokenValue any) (any, error) {
	body, err := decoder.First(s.decoder, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response for pagination: %w", err)
	}
	var last types.Mapping
	if lastRecord != nil {
		last = lastRecord.Data
	}
	ctx := s.ctx.
		With(interpolation.KeyResponse, body).
		With(interpolation.KeyHeaders, httpheader.Mapping(resp.Header)).
		With(interpolation.KeyLastRecord, last).
		With(interpolation.KeyLastPageSize, lastPageSize).
		With(interpolation.KeyLastPageTokenValue, lastTokenValue)

	if s.stopCondition != nil {
		stop, err := s.stopCondition.Eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate stop_condition: %w", err)
		}
		if stop {
			return nil, nil
		}
	}
	v, err := s.cursorValue.EvalValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate cursor_value: %w", err)
	}
	if v == nil || v == "" || v == false {
		return nil, nil
	}
	return v, nil
}

// StopCondition reports whether pagination should stop after a record.
type StopCondition interface {
	IsMetCondition(record types.Record) bool
}

// StopConditionDecorator stops the wrapped strategy once the condition is
// met on the last record of a page.
type StopConditionDecorator struct {
	Strategy
	condition StopCondition
}

func NewStopConditionDecorator(s Strategy, c StopCondition) *StopConditionDecorator {
	return &StopConditionDecorator{Strategy: s, condition: c}
}

func (d *StopConditionDecorator) NextPageToken(resp *http.Response, lastPageSize int, lastRecord *types.Record, lastTokenValue any) (any, error) {
	if lastRecord != nil && d.condition.IsMetCondition(*lastRecord) {
		return nil, nil
	}
	return d.Strategy.NextPageToken(resp, lastPageSize, lastRecord, lastTokenValue)
}

func toInt(v any, def int) (int, error) {
	switch v := v.(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("page token %q is not an integer", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("page token of type %T is not an integer", v)
	}
}
