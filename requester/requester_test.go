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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conduitio/conduit-connector-declarative/auth"
	"github.com/conduitio/conduit-connector-declarative/errorhandler"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(name string, opts ...ClientOption) *Client {
	c := NewClient(name, opts...)
	c.sleep = noSleep
	return c
}

func TestHTTPRequester_Build(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	provider, err := requestoption.NewInterpolatedProvider(requestoption.ProviderConfig{
		RequestParameters: map[string]any{"limit": "{{ .config.limit }}", "empty": ""},
		RequestHeaders:    map[string]any{"X-Account": "{{ .parameters.account }}"},
		RequestBodyJSON:   map[string]any{"since": "{{ .stream_slice.start }}"},
	}, types.Config{"limit": 50}, types.Mapping{"account": "acme"})
	is.NoErr(err)

	r, err := New(Config{
		Name:     "users",
		URLBase:  "https://api.example.com/v1/",
		Path:     "/{{ .parameters.account }}/users",
		Method:   "post",
		Provider: provider,
	}, types.Config{"limit": 50}, types.Mapping{"account": "acme"})
	is.NoErr(err)

	slice := types.NewStreamSlice(nil, types.Mapping{"start": "2024-01-01"})
	req, err := r.Build(ctx, Request{
		Slice: slice,
		Extra: requestoption.Options{Params: types.Mapping{"ids": []any{1, 2}}},
	})
	is.NoErr(err)

	is.Equal(req.Method, http.MethodPost)
	is.Equal(req.URL.Path, "/v1/acme/users")
	is.Equal(req.URL.Query().Get("limit"), "50")
	is.Equal(req.URL.Query()["ids"], []string{"1", "2"})
	is.True(!req.URL.Query().Has("empty"))
	is.Equal(req.Header.Get("X-Account"), "acme")
	is.Equal(req.Header.Get("Content-Type"), "application/json")
	body, err := io.ReadAll(req.Body)
	is.NoErr(err)
	is.Equal(string(body), `{"since":"2024-01-01"}`)
}

func TestHTTPRequester_BuildPathOverride(t *testing.T) {
	is := is.New(t)

	r, err := New(Config{URLBase: "https://api.example.com", Path: "/users"}, nil, nil)
	is.NoErr(err)

	req, err := r.Build(context.Background(), Request{Extra: requestoption.Options{Path: "https://api.example.com/users?cursor=abc"}})
	is.NoErr(err)
	is.Equal(req.URL.String(), "https://api.example.com/users?cursor=abc")

	req, err = r.Build(context.Background(), Request{Extra: requestoption.Options{Path: "/users/page/2"}})
	is.NoErr(err)
	is.Equal(req.URL.String(), "https://api.example.com/users/page/2")
}

func TestHTTPRequester_BuildKwargs(t *testing.T) {
	is := is.New(t)

	r, err := New(Config{URLBase: "https://api.example.com", Path: "/jobs/{{ .creation_response.id }}"}, nil, nil)
	is.NoErr(err)
	req, err := r.Build(context.Background(), Request{Kwargs: map[string]any{"creation_response": map[string]any{"id": "j1"}}})
	is.NoErr(err)
	is.Equal(req.URL.Path, "/jobs/j1")
}

func TestNew_Invalid(t *testing.T) {
	is := is.New(t)

	_, err := New(Config{Path: "/x"}, nil, nil)
	is.True(failure.IsConfigError(err))

	_, err = New(Config{URLBase: "https://x", Method: "TRACE"}, nil, nil)
	is.True(failure.IsConfigError(err))
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("Authorization"), "Bearer token")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	bearer, err := auth.NewBearerAuthenticator("token", nil, nil)
	is.NoErr(err)
	r, err := New(Config{
		Name:          "users",
		URLBase:       srv.URL,
		Authenticator: bearer,
		Client:        newTestClient("users", WithHTTPClient(srv.Client())),
	}, nil, nil)
	is.NoErr(err)

	resp, err := r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
	is.NoErr(err)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(calls.Load(), int32(3))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := errorhandler.NewDefaultErrorHandler()
	h.Retries = 2
	r, err := New(Config{
		URLBase: srv.URL,
		Client:  newTestClient("users", WithHTTPClient(srv.Client()), WithErrorHandler(h)),
	}, nil, nil)
	is.NoErr(err)

	_, err = r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
	is.Equal(failure.TypeOf(err), failure.TransientError)
	is.Equal(calls.Load(), int32(3)) // first attempt and two retries
}

func TestClient_FailAndIgnore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Run("unauthorized fails with config error", func(t *testing.T) {
		is := is.New(t)
		r, err := New(Config{URLBase: srv.URL, Path: "/unauthorized", Client: newTestClient("s", WithHTTPClient(srv.Client()))}, nil, nil)
		is.NoErr(err)
		_, err = r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
		is.True(failure.IsConfigError(err))
	})

	t.Run("not found fails by default", func(t *testing.T) {
		is := is.New(t)
		r, err := New(Config{URLBase: srv.URL, Path: "/missing", Client: newTestClient("s", WithHTTPClient(srv.Client()))}, nil, nil)
		is.NoErr(err)
		_, err = r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
		is.Equal(failure.TypeOf(err), failure.SystemError)
	})

	t.Run("not found is ignored when configured", func(t *testing.T) {
		is := is.New(t)
		h := errorhandler.NewDefaultErrorHandler()
		h.NotFoundAction = errorhandler.Ignore
		r, err := New(Config{URLBase: srv.URL, Path: "/missing", Client: newTestClient("s", WithHTTPClient(srv.Client()), WithErrorHandler(h))}, nil, nil)
		is.NoErr(err)
		resp, err := r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
		is.NoErr(err)
		is.True(resp == nil)
	})
}

func TestClient_Cache(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))
	defer srv.Close()

	r, err := New(Config{
		URLBase: srv.URL,
		Path:    "/parents",
		Client:  newTestClient("parents", WithHTTPClient(srv.Client()), WithCache(time.Minute)),
	}, nil, nil)
	is.NoErr(err)

	for range 3 {
		resp, err := r.Send(context.Background(), nil, types.StreamSlice{}, nil, requestoption.Options{})
		is.NoErr(err)
		body, err := io.ReadAll(resp.Body)
		is.NoErr(err)
		is.Equal(string(body), `[{"id":1}]`)
	}
	is.Equal(calls.Load(), int32(1))
}

func TestClient_ContextCanceled(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("s", WithHTTPClient(srv.Client()))
	r, err := New(Config{URLBase: srv.URL, Client: c}, nil, nil)
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// the default backoff waits 5 seconds, the context ends first
	_, err = r.Send(ctx, nil, types.StreamSlice{}, nil, requestoption.Options{})
	is.True(err != nil)
}
