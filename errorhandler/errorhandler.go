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

// Package errorhandler classifies the outcome of HTTP attempts and decides
// how long to wait before retrying them.
package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/failure"
)

// Action is what the requester does with the outcome of an attempt.
type Action string

const (
	Success     Action = "SUCCESS"
	Fail        Action = "FAIL"
	Retry       Action = "RETRY"
	Ignore      Action = "IGNORE"
	RateLimited Action = "RATE_LIMITED"
)

func (a Action) valid() bool {
	switch a {
	case Success, Fail, Retry, Ignore, RateLimited:
		return true
	}
	return false
}

// ParseAction returns the action with the given name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.valid() {
		return "", failure.Config("", "invalid action %q", s)
	}
	return a, nil
}

// Resolution is the classification of an attempt.
type Resolution struct {
	Action      Action
	FailureType failure.Type
	Message     string
}

const (
	DefaultMaxRetries    = 5
	DefaultBackoffFactor = 5 * time.Second
)

// ErrorHandler classifies attempts. Exactly one of resp and err passed to
// Interpret is non-nil.
type ErrorHandler interface {
	Interpret(resp *http.Response, err error) Resolution
	// Backoff returns the time to wait before the given retry attempt,
	// starting at 1.
	Backoff(resp *http.Response, attempt int) (time.Duration, error)
	MaxRetries() int
	// MaxTime caps the total time spent retrying a request, 0 means no cap.
	MaxTime() time.Duration
}

// DefaultErrorHandler checks its response filters in order and falls back to
// the default classification when none of them match.
type DefaultErrorHandler struct {
	Filters           []*HTTPResponseFilter
	BackoffStrategies []BackoffStrategy
	Retries           int
	Timeout           time.Duration
	NotFoundAction    Action
}

func NewDefaultErrorHandler() *DefaultErrorHandler {
	return &DefaultErrorHandler{
		Retries:        DefaultMaxRetries,
		NotFoundAction: Fail,
	}
}

func (h *DefaultErrorHandler) Interpret(resp *http.Response, err error) Resolution {
	if r, ok := h.match(resp, err); ok {
		return r
	}
	return DefaultResolution(resp, err, h.NotFoundAction)
}

func (h *DefaultErrorHandler) match(resp *http.Response, err error) (Resolution, bool) {
	for _, f := range h.Filters {
		if r, ok := f.Match(resp, err); ok {
			return r, true
		}
	}
	return Resolution{}, false
}

func (h *DefaultErrorHandler) Backoff(resp *http.Response, attempt int) (time.Duration, error) {
	for _, s := range h.BackoffStrategies {
		d, ok, err := s.Backoff(resp, attempt)
		if err != nil {
			return 0, err
		}
		if ok {
			return d, nil
		}
	}
	d, _, _ := ExponentialBackoff{Factor: DefaultBackoffFactor}.Backoff(resp, attempt)
	return d, nil
}

func (h *DefaultErrorHandler) MaxRetries() int        { return h.Retries }
func (h *DefaultErrorHandler) MaxTime() time.Duration { return h.Timeout }

// CompositeErrorHandler consults its handlers in order. A FAIL resolution
// lets the next handler have a say, any other resolution is final.
type CompositeErrorHandler struct {
	Handlers []ErrorHandler
}

func NewCompositeErrorHandler(handlers ...ErrorHandler) (*CompositeErrorHandler, error) {
	if len(handlers) == 0 {
		return nil, failure.Config("", "composite error handler needs at least one handler")
	}
	return &CompositeErrorHandler{Handlers: handlers}, nil
}

func (h *CompositeErrorHandler) Interpret(resp *http.Response, err error) Resolution {
	var last Resolution
	for _, eh := range h.Handlers {
		last = eh.Interpret(resp, err)
		if last.Action != Fail {
			return last
		}
	}
	return last
}

func (h *CompositeErrorHandler) Backoff(resp *http.Response, attempt int) (time.Duration, error) {
	return h.Handlers[0].Backoff(resp, attempt)
}

func (h *CompositeErrorHandler) MaxRetries() int        { return h.Handlers[0].MaxRetries() }
func (h *CompositeErrorHandler) MaxTime() time.Duration { return h.Handlers[0].MaxTime() }

// DefaultResolution classifies an attempt without any filters: 2xx and 3xx
// succeed, 429 is rate limited, 5xx and transient transport errors are
// retried, 404 resolves to notFound and every other status fails.
func DefaultResolution(resp *http.Response, err error, notFound Action) Resolution {
	if err != nil {
		return transportResolution(err)
	}
	code := resp.StatusCode
	switch {
	case code < 400:
		return Resolution{Action: Success}
	case code == http.StatusTooManyRequests:
		return Resolution{Action: RateLimited, FailureType: failure.TransientError, Message: statusMessage(resp, "rate limited")}
	case code >= 500:
		return Resolution{Action: Retry, FailureType: failure.TransientError, Message: statusMessage(resp, "server error")}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Resolution{Action: Fail, FailureType: failure.ConfigError, Message: statusMessage(resp, "check your credentials and permissions")}
	case code == http.StatusNotFound:
		if notFound == "" {
			notFound = Fail
		}
		t := failure.SystemError
		if notFound != Fail {
			t = ""
		}
		return Resolution{Action: notFound, FailureType: t, Message: statusMessage(resp, "resource not found")}
	default:
		return Resolution{Action: Fail, FailureType: failure.SystemError, Message: statusMessage(resp, "request failed")}
	}
}

func transportResolution(err error) Resolution {
	if errors.Is(err, context.Canceled) {
		return Resolution{Action: Fail, FailureType: failure.SystemError, Message: err.Error()}
	}
	if IsTransient(err) {
		return Resolution{Action: Retry, FailureType: failure.TransientError, Message: err.Error()}
	}
	return Resolution{Action: Fail, FailureType: failure.SystemError, Message: err.Error()}
}

// IsTransient returns true for transport errors worth retrying: timeouts,
// connection resets, refused connections, temporary DNS failures and
// connections closed mid-response.
func IsTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded)
}

const maxBodySnippet = 256

func statusMessage(resp *http.Response, hint string) string {
	msg := fmt.Sprintf("HTTP %d %s, %s", resp.StatusCode, http.StatusText(resp.StatusCode), hint)
	body, err := decoder.ReadBody(resp)
	if err != nil || len(body) == 0 {
		return msg
	}
	if len(body) > maxBodySnippet {
		body = append(body[:maxBodySnippet:maxBodySnippet], "..."...)
	}
	return msg + ": " + string(body)
}
