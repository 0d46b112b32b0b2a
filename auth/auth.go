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

// Package auth contains the authenticators that add credentials to
// outgoing requests.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Authenticator adds credentials to a request.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// NoAuth leaves requests untouched.
type NoAuth struct{}

func (NoAuth) Authenticate(context.Context, *http.Request) error { return nil }

// APIKeyAuthenticator injects a token into a header or a query parameter.
type APIKeyAuthenticator struct {
	option *requestoption.RequestOption
	token  *interpolation.String
	ctx    interpolation.Context
}

func NewAPIKeyAuthenticator(option *requestoption.RequestOption, token string, config types.Config, params types.Mapping) (*APIKeyAuthenticator, error) {
	if option == nil {
		return nil, failure.Config("", "inject_into is required")
	}
	switch option.InjectInto {
	case requestoption.Header, requestoption.RequestParameter:
	default:
		return nil, failure.Config("", "api key can not be injected into %s", option.InjectInto)
	}
	t, err := interpolation.NewString(token)
	if err != nil {
		return nil, err
	}
	return &APIKeyAuthenticator{option: option, token: t, ctx: interpolation.NewContext(config, params)}, nil
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, req *http.Request) error {
	token, err := a.token.Eval(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to evaluate api token: %w", err)
	}
	return injectToken(req, a.option, token)
}

func injectToken(req *http.Request, option *requestoption.RequestOption, token string) error {
	name, err := option.FieldName()
	if err != nil {
		return err
	}
	if option.InjectInto == requestoption.Header {
		req.Header.Set(name, token)
		return nil
	}
	q := req.URL.Query()
	q.Set(name, token)
	req.URL.RawQuery = q.Encode()
	return nil
}

// BearerAuthenticator sets the Authorization header to "Bearer <token>".
type BearerAuthenticator struct {
	token *interpolation.String
	ctx   interpolation.Context
}

func NewBearerAuthenticator(token string, config types.Config, params types.Mapping) (*BearerAuthenticator, error) {
	t, err := interpolation.NewString(token)
	if err != nil {
		return nil, err
	}
	return &BearerAuthenticator{token: t, ctx: interpolation.NewContext(config, params)}, nil
}

func (a *BearerAuthenticator) Authenticate(_ context.Context, req *http.Request) error {
	token, err := a.token.Eval(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to evaluate bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// BasicHTTPAuthenticator uses HTTP basic authentication.
type BasicHTTPAuthenticator struct {
	username *interpolation.String
	password *interpolation.String
	ctx      interpolation.Context
}

func NewBasicHTTPAuthenticator(username, password string, config types.Config, params types.Mapping) (*BasicHTTPAuthenticator, error) {
	u, err := interpolation.NewString(username)
	if err != nil {
		return nil, err
	}
	p, err := interpolation.NewString(password)
	if err != nil {
		return nil, err
	}
	return &BasicHTTPAuthenticator{username: u, password: p, ctx: interpolation.NewContext(config, params)}, nil
}

func (a *BasicHTTPAuthenticator) Authenticate(_ context.Context, req *http.Request) error {
	u, err := a.username.Eval(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to evaluate username: %w", err)
	}
	p, err := a.password.Eval(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to evaluate password: %w", err)
	}
	req.SetBasicAuth(u, p)
	return nil
}

// Select returns the authenticator registered under the value found in the
// config at path. It replaces a selective authenticator: the choice is made
// once, when the source is built.
func Select(config types.Config, path []string, authenticators map[string]Authenticator) (Authenticator, error) {
	if len(path) == 0 {
		return nil, failure.Config("", "authenticator_selection_path must not be empty")
	}
	v, ok := dpath.Get(config, path)
	if !ok || v == nil {
		return nil, failure.Config("", "config has no value at %s", strings.Join(path, "."))
	}
	key := fmt.Sprint(v)
	a, ok := authenticators[key]
	if !ok {
		return nil, failure.Config("", "no authenticator registered for %q (selected by %s)", key, strings.Join(path, "."))
	}
	return a, nil
}
