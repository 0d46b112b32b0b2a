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

package errorhandler

import (
	"net/http"
	"slices"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/httpheader"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
)

// FilterConfig holds the raw manifest values of an HTTP response filter.
type FilterConfig struct {
	Action               string
	FailureType          string
	HTTPCodes            []int
	ErrorMessageContains string
	Predicate            string
	ErrorMessage         string
}

// HTTPResponseFilter matches a response by status code, body content or a
// predicate. Any configured condition matching is enough.
type HTTPResponseFilter struct {
	action               Action
	failureType          failure.Type
	httpCodes            []int
	errorMessageContains string
	predicate            *interpolation.Boolean
	errorMessage         *interpolation.String
	ctx                  interpolation.Context
}

func NewHTTPResponseFilter(cfg FilterConfig, config types.Config, params types.Mapping) (*HTTPResponseFilter, error) {
	action, err := ParseAction(cfg.Action)
	if err != nil {
		return nil, err
	}
	if len(cfg.HTTPCodes) == 0 && cfg.ErrorMessageContains == "" && cfg.Predicate == "" {
		return nil, failure.Config("", "response filter needs http_codes, error_message_contains or predicate")
	}
	f := &HTTPResponseFilter{
		action:               action,
		failureType:          failure.Type(cfg.FailureType),
		httpCodes:            cfg.HTTPCodes,
		errorMessageContains: cfg.ErrorMessageContains,
		ctx:                  interpolation.NewContext(config, params),
	}
	if f.failureType == "" && action == Fail {
		f.failureType = failure.SystemError
	}
	if cfg.Predicate != "" {
		if f.predicate, err = interpolation.NewBoolean(cfg.Predicate); err != nil {
			return nil, err
		}
	}
	if f.errorMessage, err = interpolation.NewString(cfg.ErrorMessage); err != nil {
		return nil, err
	}
	return f, nil
}

// Match returns the filter's resolution if the response matches. Transport
// errors never match a filter.
func (f *HTTPResponseFilter) Match(resp *http.Response, err error) (Resolution, bool) {
	if err != nil || resp == nil {
		return Resolution{}, false
	}
	body, _ := decoder.ReadBody(resp)
	ctx := f.ctx.
		With(interpolation.KeyResponse, parseBody(body)).
		With(interpolation.KeyHeaders, httpheader.Mapping(resp.Header))

	if !f.matches(resp.StatusCode, body, ctx) {
		return Resolution{}, false
	}

	msg, _ := f.errorMessage.Eval(ctx)
	if msg == "" {
		msg = statusMessage(resp, "matched response filter")
	}
	return Resolution{Action: f.action, FailureType: f.failureType, Message: msg}, true
}

func (f *HTTPResponseFilter) matches(code int, body []byte, ctx interpolation.Context) bool {
	if slices.Contains(f.httpCodes, code) {
		return true
	}
	if f.errorMessageContains != "" && strings.Contains(string(body), f.errorMessageContains) {
		return true
	}
	if f.predicate != nil {
		ok, err := f.predicate.Eval(ctx)
		return err == nil && ok
	}
	return false
}

func parseBody(body []byte) any {
	if len(body) == 0 {
		return types.Mapping{}
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
