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

package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

var testConfig = types.Config{
	"api_key":  "secret",
	"username": "alice",
	"password": "pw",
	"credentials": map[string]any{
		"auth_type": "token",
	},
}

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/users?page=1", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestAPIKeyAuthenticator(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	header, err := requestoption.New(requestoption.Header, "X-Api-Key", nil, nil)
	is.NoErr(err)
	a, err := NewAPIKeyAuthenticator(header, "{{ .config.api_key }}", testConfig, nil)
	is.NoErr(err)
	req := newRequest(t)
	is.NoErr(a.Authenticate(ctx, req))
	is.Equal(req.Header.Get("X-Api-Key"), "secret")

	param, err := requestoption.New(requestoption.RequestParameter, "key", nil, nil)
	is.NoErr(err)
	a, err = NewAPIKeyAuthenticator(param, "{{ .config.api_key }}", testConfig, nil)
	is.NoErr(err)
	req = newRequest(t)
	is.NoErr(a.Authenticate(ctx, req))
	is.Equal(req.URL.Query().Get("key"), "secret")
	is.Equal(req.URL.Query().Get("page"), "1")
}

func TestAPIKeyAuthenticator_InvalidInjection(t *testing.T) {
	is := is.New(t)

	body, err := requestoption.New(requestoption.BodyJSON, "key", nil, nil)
	is.NoErr(err)
	_, err = NewAPIKeyAuthenticator(body, "x", nil, nil)
	is.True(failure.IsConfigError(err))
}

func TestBearerAndBasic(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	bearer, err := NewBearerAuthenticator("{{ .config.api_key }}", testConfig, nil)
	is.NoErr(err)
	req := newRequest(t)
	is.NoErr(bearer.Authenticate(ctx, req))
	is.Equal(req.Header.Get("Authorization"), "Bearer secret")

	basic, err := NewBasicHTTPAuthenticator("{{ .config.username }}", "{{ .config.password }}", testConfig, nil)
	is.NoErr(err)
	req = newRequest(t)
	is.NoErr(basic.Authenticate(ctx, req))
	u, p, ok := req.BasicAuth()
	is.True(ok)
	is.Equal(u, "alice")
	is.Equal(p, "pw")
}

func TestSelect(t *testing.T) {
	is := is.New(t)

	token, err := NewBearerAuthenticator("x", nil, nil)
	is.NoErr(err)
	authenticators := map[string]Authenticator{"token": token, "none": NoAuth{}}

	got, err := Select(testConfig, []string{"credentials", "auth_type"}, authenticators)
	is.NoErr(err)
	is.Equal(got, Authenticator(token))

	_, err = Select(types.Config{"credentials": map[string]any{"auth_type": "oauth"}}, []string{"credentials", "auth_type"}, authenticators)
	is.True(failure.IsConfigError(err))

	_, err = Select(types.Config{}, []string{"credentials", "auth_type"}, authenticators)
	is.True(failure.IsConfigError(err))
}

func TestOAuthAuthenticator_RefreshToken(t *testing.T) {
	is := is.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		is.NoErr(r.ParseForm())
		is.Equal(r.Form.Get("grant_type"), "refresh_token")
		is.Equal(r.Form.Get("refresh_token"), "refresh-me")
		is.Equal(r.Form.Get("client_id"), "id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	a, err := NewOAuthAuthenticator(OAuthConfig{
		TokenRefreshEndpoint: srv.URL,
		ClientID:             "id",
		ClientSecret:         "{{ .config.api_key }}",
		RefreshToken:         "refresh-me",
	}, testConfig, nil, srv.Client())
	is.NoErr(err)

	for range 3 {
		req := newRequest(t)
		is.NoErr(a.Authenticate(context.Background(), req))
		is.Equal(req.Header.Get("Authorization"), "Bearer fresh")
	}
	is.Equal(calls.Load(), int32(1)) // token is reused
}

func TestOAuthAuthenticator_ClientCredentials(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.NoErr(r.ParseForm())
		is.Equal(r.Form.Get("grant_type"), "client_credentials")
		is.Equal(r.Form.Get("audience"), "api")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"cc","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	a, err := NewOAuthAuthenticator(OAuthConfig{
		TokenRefreshEndpoint: srv.URL,
		ClientID:             "id",
		ClientSecret:         "secret",
		GrantType:            GrantClientCredentials,
		RefreshRequestBody:   map[string]any{"audience": "api"},
	}, nil, nil, srv.Client())
	is.NoErr(err)

	req := newRequest(t)
	is.NoErr(a.Authenticate(context.Background(), req))
	is.Equal(req.Header.Get("Authorization"), "Bearer cc")
}

func TestNewOAuthAuthenticator_Invalid(t *testing.T) {
	is := is.New(t)

	_, err := NewOAuthAuthenticator(OAuthConfig{ClientID: "id"}, nil, nil, nil)
	is.True(failure.IsConfigError(err))

	_, err = NewOAuthAuthenticator(OAuthConfig{TokenRefreshEndpoint: "https://x", GrantType: "password"}, nil, nil, nil)
	is.True(failure.IsConfigError(err))
}

func TestSessionTokenAuthenticator(t *testing.T) {
	is := is.New(t)

	var logins int
	login := func(context.Context) (*http.Response, error) {
		logins++
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"session":{"token":"tok-1"}}`)),
		}, nil
	}
	header, err := requestoption.New(requestoption.Header, "X-Session", nil, nil)
	is.NoErr(err)
	a, err := NewSessionTokenAuthenticator(login, nil, []string{"session", "token"}, "PT1H", header)
	is.NoErr(err)

	for range 2 {
		req := newRequest(t)
		is.NoErr(a.Authenticate(context.Background(), req))
		is.Equal(req.Header.Get("X-Session"), "tok-1")
	}
	is.Equal(logins, 1)
}

func TestSessionTokenAuthenticator_MissingToken(t *testing.T) {
	is := is.New(t)

	login := func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	}
	a, err := NewSessionTokenAuthenticator(login, nil, []string{"token"}, "", nil)
	is.NoErr(err)
	err = a.Authenticate(context.Background(), newRequest(t))
	is.True(failure.IsConfigError(err))
}
