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

package requester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/conduitio/conduit-connector-declarative/auth"
	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/errorhandler"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/metrics"
	"github.com/conduitio/conduit-connector-declarative/ratelimit"
	"github.com/rs/zerolog"
	"github.com/twmb/go-cache/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/conduitio/conduit-connector-declarative/requester"

// DefaultCacheMaxAge is how long cached responses are reused.
const DefaultCacheMaxAge = 10 * time.Minute

// Client sends requests and applies the retry policy of its error handler.
type Client struct {
	name         string
	http         *http.Client
	errorHandler errorhandler.ErrorHandler
	budget       *ratelimit.APIBudget
	cache        *cache.Cache[string, cachedResponse]
	tracer       trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

func WithErrorHandler(h errorhandler.ErrorHandler) ClientOption {
	return func(cl *Client) { cl.errorHandler = h }
}

func WithAPIBudget(b *ratelimit.APIBudget) ClientOption {
	return func(cl *Client) { cl.budget = b }
}

// WithCache enables caching of GET responses for maxAge.
func WithCache(maxAge time.Duration) ClientOption {
	return func(cl *Client) {
		if maxAge <= 0 {
			maxAge = DefaultCacheMaxAge
		}
		cl.cache = cache.New[string, cachedResponse](cache.MaxAge(maxAge))
	}
}

// NewClient returns a client for the stream with the given name. Without
// an error handler option it uses errorhandler.NewDefaultErrorHandler.
func NewClient(name string, opts ...ClientOption) *Client {
	c := &Client{
		name:   name,
		http:   http.DefaultClient,
		tracer: otel.Tracer(tracerName),
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.errorHandler == nil {
		c.errorHandler = errorhandler.NewDefaultErrorHandler()
	}
	return c
}

// Send sends the request until it succeeds, is ignored, fails or runs out of
// retries. An ignored request returns a nil response and a nil error.
func (c *Client) Send(ctx context.Context, req *http.Request, authn auth.Authenticator) (*http.Response, error) {
	if c.cache != nil && req.Method == http.MethodGet {
		return c.sendCached(ctx, req, authn)
	}
	return c.send(ctx, req, authn)
}

type cachedResponse struct {
	ignored bool
	status  int
	header  http.Header
	body    []byte
}

func (c *Client) sendCached(ctx context.Context, req *http.Request, authn auth.Authenticator) (*http.Response, error) {
	key := req.Method + " " + req.URL.String()
	cr, err, state := c.cache.Get(key, func() (cachedResponse, error) {
		resp, err := c.send(ctx, req, authn)
		if err != nil {
			return cachedResponse{}, err
		}
		if resp == nil {
			return cachedResponse{ignored: true}, nil
		}
		body, err := decoder.ReadBody(resp)
		if err != nil {
			return cachedResponse{}, err
		}
		return cachedResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Trace().
		Str("url", req.URL.Redacted()).
		Bool("hit", state == cache.Hit).
		Msg("response cache lookup")
	if cr.ignored {
		return nil, nil
	}
	return &http.Response{
		Status:        strconv.Itoa(cr.status) + " " + http.StatusText(cr.status),
		StatusCode:    cr.status,
		Header:        cr.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(cr.body)),
		ContentLength: int64(len(cr.body)),
		Request:       req,
	}, nil
}

func (c *Client) send(ctx context.Context, req *http.Request, authn auth.Authenticator) (*http.Response, error) {
	logger := zerolog.Ctx(ctx).With().Str("stream", c.name).Str("url", req.URL.Redacted()).Logger()
	start := time.Now()

	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req, authn)
		if ctx.Err() != nil {
			discard(resp)
			return nil, ctx.Err()
		}
		var fatal *attemptError
		if errors.As(err, &fatal) {
			return nil, fatal.err
		}

		res := c.errorHandler.Interpret(resp, err)
		switch res.Action {
		case errorhandler.Success:
			return resp, nil
		case errorhandler.Ignore:
			logger.Warn().Str("reason", res.Message).Msg("ignoring response")
			discard(resp)
			return nil, nil
		case errorhandler.Fail:
			discard(resp)
			return nil, resolutionError(res, err)
		}

		metrics.HTTPRetries.WithLabelValues(c.name, string(res.Action)).Inc()
		if attempt > c.errorHandler.MaxRetries() {
			discard(resp)
			return nil, failure.Transient("giving up after %d retries: %s", attempt-1, res.Message)
		}
		wait, berr := c.errorHandler.Backoff(resp, attempt)
		discard(resp)
		if berr != nil {
			return nil, berr
		}
		if maxTime := c.errorHandler.MaxTime(); maxTime > 0 && time.Since(start)+wait > maxTime {
			return nil, failure.Transient("giving up after %v of retries: %s", time.Since(start).Round(time.Millisecond), res.Message)
		}

		logger.Warn().
			Str("action", string(res.Action)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Str("reason", res.Message).
			Msg("retrying request")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attemptError marks errors that end the attempt loop without being
// classified by the error handler.
type attemptError struct{ err error }

func (e *attemptError) Error() string { return e.err.Error() }

func (c *Client) attempt(ctx context.Context, req *http.Request, authn auth.Authenticator) (*http.Response, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, &attemptError{fmt.Errorf("failed to rewind request body: %w", err)}
		}
		r.Body = body
	}
	if authn != nil {
		if err := authn.Authenticate(ctx, r); err != nil {
			return nil, &attemptError{fmt.Errorf("failed to authenticate request: %w", err)}
		}
	}

	waitStart := time.Now()
	if err := c.budget.Acquire(ctx, r); err != nil {
		return nil, &attemptError{err}
	}
	if waited := time.Since(waitStart); waited > time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues(c.name).Add(waited.Seconds())
	}

	ctx, span := c.tracer.Start(ctx, "http.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stream", c.name),
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.Redacted()),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	zerolog.Ctx(ctx).Debug().
		Str("stream", c.name).
		Str("method", r.Method).
		Str("url", r.URL.Redacted()).
		Msg("sending request")

	t0 := time.Now()
	resp, err := c.http.Do(r)
	metrics.HTTPRequestDuration.WithLabelValues(c.name).Observe(time.Since(t0).Seconds())
	if err != nil {
		metrics.HTTPRequests.WithLabelValues(c.name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.HTTPRequests.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

func resolutionError(res errorhandler.Resolution, cause error) error {
	t := res.FailureType
	if t == "" {
		t = failure.SystemError
	}
	return &failure.Error{Type: t, Message: res.Message, Err: cause}
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
