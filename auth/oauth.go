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
	"net/url"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// OAuthConfig holds the raw manifest values of the OAuth authenticator. All
// string values can be templates.
type OAuthConfig struct {
	TokenRefreshEndpoint string
	ClientID             string
	ClientSecret         string
	RefreshToken         string
	AccessToken          string
	TokenExpiryDate      string
	Scopes               []string
	GrantType            string
	RefreshRequestBody   map[string]any
}

// OAuthAuthenticator obtains access tokens from a token endpoint and reuses
// them until they expire.
type OAuthAuthenticator struct {
	client *http.Client
	build  func(ctx context.Context) oauth2.TokenSource

	once sync.Once
	ts   oauth2.TokenSource
}

func NewOAuthAuthenticator(cfg OAuthConfig, config types.Config, params types.Mapping, client *http.Client) (*OAuthAuthenticator, error) {
	ictx := interpolation.NewContext(config, params)
	eval := func(name, raw string) (string, error) {
		s, err := interpolation.NewString(raw)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return s.Eval(ictx)
	}

	endpoint, err := eval("token_refresh_endpoint", cfg.TokenRefreshEndpoint)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		return nil, failure.Config("", "token_refresh_endpoint is required")
	}
	clientID, err := eval("client_id", cfg.ClientID)
	if err != nil {
		return nil, err
	}
	clientSecret, err := eval("client_secret", cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	extra := url.Values{}
	for k, v := range cfg.RefreshRequestBody {
		s, err := eval(k, fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		extra.Set(k, s)
	}

	if client == nil {
		client = http.DefaultClient
	}
	a := &OAuthAuthenticator{client: client}

	switch cfg.GrantType {
	case GrantClientCredentials:
		cc := &clientcredentials.Config{
			ClientID:       clientID,
			ClientSecret:   clientSecret,
			TokenURL:       endpoint,
			Scopes:         cfg.Scopes,
			EndpointParams: extra,
			AuthStyle:      oauth2.AuthStyleInParams,
		}
		a.build = func(ctx context.Context) oauth2.TokenSource { return cc.TokenSource(ctx) }
	case "", GrantRefreshToken:
		refreshToken, err := eval("refresh_token", cfg.RefreshToken)
		if err != nil {
			return nil, err
		}
		if refreshToken == "" {
			return nil, failure.Config("", "refresh_token is required for grant type %s", GrantRefreshToken)
		}
		accessToken, err := eval("access_token", cfg.AccessToken)
		if err != nil {
			return nil, err
		}
		var expiry time.Time
		if raw, err := eval("token_expiry_date", cfg.TokenExpiryDate); err != nil {
			return nil, err
		} else if raw != "" {
			if expiry, err = datetime.Parse(raw, ""); err != nil {
				return nil, failure.Config("", "invalid token_expiry_date: %w", err)
			}
		}
		conf := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  endpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		initial := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken, Expiry: expiry}
		if accessToken == "" {
			// force a refresh on first use
			initial.Expiry = time.Unix(1, 0)
		}
		a.build = func(ctx context.Context) oauth2.TokenSource { return conf.TokenSource(ctx, initial) }
	default:
		return nil, failure.Config("", "unsupported grant_type %q", cfg.GrantType)
	}
	return a, nil
}

func (a *OAuthAuthenticator) Authenticate(ctx context.Context, req *http.Request) error {
	a.once.Do(func() {
		// the token source outlives the request that first needs it
		tctx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, a.client)
		a.ts = oauth2.ReuseTokenSource(nil, a.build(tctx))
	})
	tok, err := a.ts.Token()
	if err != nil {
		return failure.Wrap(failure.ConfigError, err, "failed to obtain OAuth access token")
	}
	tok.SetAuthHeader(req)
	return nil
}
