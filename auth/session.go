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
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
)

// LoginFunc sends the login request of a session token authenticator.
type LoginFunc func(ctx context.Context) (*http.Response, error)

// SessionTokenAuthenticator logs in once, extracts a session token from the
// login response and injects it into requests until it expires.
type SessionTokenAuthenticator struct {
	login      LoginFunc
	decoder    decoder.Decoder
	tokenPath  []string
	expiration datetime.Duration
	// option is used to inject the token, a nil option means the token is
	// sent as bearer token.
	option *requestoption.RequestOption

	m         sync.Mutex
	token     string
	expiresAt time.Time
}

func NewSessionTokenAuthenticator(
	login LoginFunc,
	dec decoder.Decoder,
	tokenPath []string,
	expiration string,
	option *requestoption.RequestOption,
) (*SessionTokenAuthenticator, error) {
	if login == nil {
		return nil, failure.Config("", "login_requester is required")
	}
	if len(tokenPath) == 0 {
		return nil, failure.Config("", "session_token_path must not be empty")
	}
	exp, err := datetime.ParseDuration(expiration)
	if err != nil {
		return nil, failure.Config("", "invalid expiration_duration: %w", err)
	}
	if option != nil && option.InjectInto != requestoption.Header && option.InjectInto != requestoption.RequestParameter {
		return nil, failure.Config("", "session token can not be injected into %s", option.InjectInto)
	}
	if dec == nil {
		dec = decoder.JSONDecoder{}
	}
	return &SessionTokenAuthenticator{
		login:      login,
		decoder:    dec,
		tokenPath:  tokenPath,
		expiration: exp,
		option:     option,
	}, nil
}

func (a *SessionTokenAuthenticator) Authenticate(ctx context.Context, req *http.Request) error {
	token, err := a.sessionToken(ctx)
	if err != nil {
		return err
	}
	if a.option == nil {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	return injectToken(req, a.option, token)
}

func (a *SessionTokenAuthenticator) sessionToken(ctx context.Context) (string, error) {
	a.m.Lock()
	defer a.m.Unlock()

	now := time.Now()
	if a.token != "" && (a.expiration.IsZero() || now.Before(a.expiresAt)) {
		return a.token, nil
	}

	resp, err := a.login(ctx)
	if err != nil {
		return "", fmt.Errorf("session login failed: %w", err)
	}
	if resp == nil {
		return "", failure.Config("", "session login response was ignored")
	}
	body, err := decoder.First(a.decoder, resp)
	if err != nil {
		return "", fmt.Errorf("failed to decode session login response: %w", err)
	}
	v, ok := dpath.Get(body, a.tokenPath)
	if !ok || v == nil || fmt.Sprint(v) == "" {
		return "", failure.Config("", "session token not found at %s", strings.Join(a.tokenPath, "."))
	}

	a.token = fmt.Sprint(v)
	a.expiresAt = a.expiration.AddTo(now)
	return a.token, nil
}
