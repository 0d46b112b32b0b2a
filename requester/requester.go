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

// Package requester builds and sends the HTTP requests of a stream.
package requester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/auth"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
)

// Requester sends the request of a stream for a slice and page token.
type Requester interface {
	// Send returns the successful response, or nil and a nil error if the
	// error handler decided to ignore the response.
	Send(ctx context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken, extra requestoption.Options) (*http.Response, error)
}

// Request holds everything a single request is built from.
type Request struct {
	State types.StreamState
	Slice types.StreamSlice
	Token types.PageToken
	// Extra options contributed by the paginator, slicer and cursor.
	Extra requestoption.Options
	// Kwargs are additional values available to the URL templates.
	Kwargs map[string]any
}

// Config holds the raw manifest values of a requester.
type Config struct {
	Name    string
	URLBase string
	Path    string
	Method  string
	// Provider contributes the static request options, it may be nil.
	Provider      requestoption.Provider
	Authenticator auth.Authenticator
	Client        *Client
}

// HTTPRequester builds requests from its configuration and sends them with
// its client.
type HTTPRequester struct {
	name     string
	urlBase  *interpolation.String
	path     *interpolation.String
	method   string
	provider requestoption.Provider
	authn    auth.Authenticator
	client   *Client
	ctx      interpolation.Context
}

var _ Requester = (*HTTPRequester)(nil)

func New(cfg Config, config types.Config, params types.Mapping) (*HTTPRequester, error) {
	method := strings.ToUpper(cfg.Method)
	switch method {
	case "":
		method = http.MethodGet
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, failure.Config("", "unsupported http_method %q", cfg.Method)
	}
	urlBase, err := interpolation.NewString(cfg.URLBase)
	if err != nil {
		return nil, fmt.Errorf("url_base: %w", err)
	}
	if urlBase.IsEmpty() {
		return nil, failure.Config("", "url_base is required")
	}
	path, err := interpolation.NewString(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	r := &HTTPRequester{
		name:     cfg.Name,
		urlBase:  urlBase,
		path:     path,
		method:   method,
		provider: cfg.Provider,
		authn:    cfg.Authenticator,
		client:   cfg.Client,
		ctx:      interpolation.NewContext(config, params),
	}
	if r.authn == nil {
		r.authn = auth.NoAuth{}
	}
	if r.client == nil {
		r.client = NewClient(cfg.Name)
	}
	return r, nil
}

func (r *HTTPRequester) Name() string { return r.name }

func (r *HTTPRequester) Send(ctx context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken, extra requestoption.Options) (*http.Response, error) {
	return r.SendRequest(ctx, Request{State: state, Slice: slice, Token: token, Extra: extra})
}

// SendRequest builds the request described by in and sends it.
func (r *HTTPRequester) SendRequest(ctx context.Context, in Request) (*http.Response, error) {
	req, err := r.Build(ctx, in)
	if err != nil {
		return nil, err
	}
	return r.client.Send(ctx, req, r.authn)
}

// Build returns the request described by in without sending it.
func (r *HTTPRequester) Build(ctx context.Context, in Request) (*http.Request, error) {
	var opts requestoption.Options
	if r.provider != nil {
		var err error
		opts, err = r.provider.RequestOptions(ctx, in.State, in.Slice, in.Token)
		if err != nil {
			return nil, err
		}
	}
	if err := opts.Merge(in.Extra); err != nil {
		return nil, err
	}

	ictx := r.ctx.WithSlice(in.Slice).WithState(in.State, in.Token)
	for k, v := range in.Kwargs {
		ictx = ictx.With(k, v)
	}
	u, err := r.url(ictx, opts.Path)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for _, k := range sortedKeys(opts.Params) {
		addParam(q, k, opts.Params[k])
	}
	u.RawQuery = q.Encode()

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(opts.BodyJSON) > 0:
		b, err := json.Marshal(opts.BodyJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case len(opts.BodyData) > 0:
		form := url.Values{}
		for _, k := range sortedKeys(opts.BodyData) {
			addParam(form, k, opts.BodyData[k])
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// url joins the base and the path. A path that is an absolute URL, like a
// next page link, replaces the base.
func (r *HTTPRequester) url(ictx interpolation.Context, override string) (*url.URL, error) {
	base, err := r.urlBase.Eval(ictx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate url_base: %w", err)
	}
	path := override
	if path == "" {
		if path, err = r.path.Eval(ictx); err != nil {
			return nil, fmt.Errorf("failed to evaluate path: %w", err)
		}
	}

	raw := base
	switch {
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		raw = path
	case path != "":
		raw = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, failure.Config("", "invalid url %q: %w", raw, err)
	}
	return u, nil
}

func addParam(v url.Values, k string, value any) {
	switch value := value.(type) {
	case []any:
		for _, item := range value {
			v.Add(k, fmt.Sprint(item))
		}
	case []string:
		for _, item := range value {
			v.Add(k, item)
		}
	default:
		v.Set(k, fmt.Sprint(value))
	}
}

func sortedKeys(m types.Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
