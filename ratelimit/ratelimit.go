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

// Package ratelimit implements the API budget consulted before every
// request. A budget is shared by all streams of a source.
package ratelimit

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"golang.org/x/time/rate"
)

// Policy limits the calls of the requests it matches.
type Policy interface {
	Matches(req *http.Request) bool
	// Acquire blocks until a call is allowed or the context is done.
	Acquire(ctx context.Context) error
}

// APIBudget routes each request to the first policy that matches it.
// Requests no policy matches are not limited.
type APIBudget struct {
	Policies []Policy
}

func NewAPIBudget(policies ...Policy) *APIBudget {
	return &APIBudget{Policies: policies}
}

// Acquire blocks until the request is allowed by its policy.
func (b *APIBudget) Acquire(ctx context.Context, req *http.Request) error {
	if b == nil {
		return nil
	}
	for _, p := range b.Policies {
		if p.Matches(req) {
			return p.Acquire(ctx)
		}
	}
	return nil
}

type matchers []*RequestMatcher

func (m matchers) Matches(req *http.Request) bool {
	if len(m) == 0 {
		return true
	}
	for _, rm := range m {
		if rm.Matches(req) {
			return true
		}
	}
	return false
}

// UnlimitedPolicy never blocks.
type UnlimitedPolicy struct {
	matchers
}

func NewUnlimitedPolicy(m ...*RequestMatcher) *UnlimitedPolicy {
	return &UnlimitedPolicy{matchers: m}
}

func (*UnlimitedPolicy) Acquire(context.Context) error { return nil }

// FixedWindowPolicy allows CallLimit calls per window of length Period. The
// window starts with the first call.
type FixedWindowPolicy struct {
	matchers
	period    time.Duration
	callLimit int

	m           sync.Mutex
	windowStart time.Time
	calls       int
	now         func() time.Time
}

func NewFixedWindowPolicy(period time.Duration, callLimit int, m ...*RequestMatcher) (*FixedWindowPolicy, error) {
	if period <= 0 {
		return nil, failure.Config("", "period must be positive")
	}
	if callLimit <= 0 {
		return nil, failure.Config("", "call_limit must be positive")
	}
	return &FixedWindowPolicy{
		matchers:  m,
		period:    period,
		callLimit: callLimit,
		now:       time.Now,
	}, nil
}

func (p *FixedWindowPolicy) Acquire(ctx context.Context) error {
	for {
		wait, ok := p.tryAcquire()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *FixedWindowPolicy) tryAcquire() (time.Duration, bool) {
	p.m.Lock()
	defer p.m.Unlock()

	now := p.now()
	if p.windowStart.IsZero() || !now.Before(p.windowStart.Add(p.period)) {
		p.windowStart = now
		p.calls = 0
	}
	if p.calls < p.callLimit {
		p.calls++
		return 0, true
	}
	return p.windowStart.Add(p.period).Sub(now), false
}

// Rate is a number of calls allowed per interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// MovingWindowPolicy allows calls as long as every one of its rates does.
type MovingWindowPolicy struct {
	matchers
	limiters []*rate.Limiter
}

func NewMovingWindowPolicy(rates []Rate, m ...*RequestMatcher) (*MovingWindowPolicy, error) {
	if len(rates) == 0 {
		return nil, failure.Config("", "moving window policy needs at least one rate")
	}
	p := &MovingWindowPolicy{matchers: m}
	for _, r := range rates {
		if r.Limit <= 0 || r.Interval <= 0 {
			return nil, failure.Config("", "rate limit and interval must be positive")
		}
		p.limiters = append(p.limiters, rate.NewLimiter(rate.Every(r.Interval/time.Duration(r.Limit)), r.Limit))
	}
	return p, nil
}

func (p *MovingWindowPolicy) Acquire(ctx context.Context) error {
	for _, l := range p.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RequestMatcher selects requests by method, URL and parameters. Unset
// fields match anything.
type RequestMatcher struct {
	Method         string
	URLBase        string
	URLPathPattern *regexp.Regexp
	Params         map[string]string
	Headers        map[string]string
}

func NewRequestMatcher(method, urlBase, pathPattern string, params, headers map[string]string) (*RequestMatcher, error) {
	m := &RequestMatcher{
		Method:  strings.ToUpper(method),
		URLBase: strings.TrimSuffix(urlBase, "/"),
		Params:  params,
		Headers: headers,
	}
	if pathPattern != "" {
		re, err := regexp.Compile(pathPattern)
		if err != nil {
			return nil, failure.Config("", "invalid url_path_pattern %q: %w", pathPattern, err)
		}
		m.URLPathPattern = re
	}
	return m, nil
}

func (m *RequestMatcher) Matches(req *http.Request) bool {
	if m.Method != "" && m.Method != req.Method {
		return false
	}
	if m.URLBase != "" {
		base := req.URL.Scheme + "://" + req.URL.Host
		if !strings.HasPrefix(req.URL.String(), m.URLBase) && base != m.URLBase {
			return false
		}
	}
	if m.URLPathPattern != nil && !m.URLPathPattern.MatchString(req.URL.Path) {
		return false
	}
	q := req.URL.Query()
	for k, v := range m.Params {
		if q.Get(k) != v {
			return false
		}
	}
	for k, v := range m.Headers {
		if req.Header.Get(k) != v {
			return false
		}
	}
	return true
}
