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

package factory

import (
	"context"
	"maps"
	"net/http"
	"slices"

	"github.com/conduitio/conduit-connector-declarative/auth"
	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/errorhandler"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/ratelimit"
	"github.com/conduitio/conduit-connector-declarative/requester"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
)

func buildHTTPRequester(b *Builder, n *Node) (any, error) {
	var m struct {
		Name              string         `mapstructure:"name"`
		URLBase           string         `mapstructure:"url_base"`
		Path              string         `mapstructure:"path"`
		HTTPMethod        string         `mapstructure:"http_method"`
		RequestParameters map[string]any `mapstructure:"request_parameters"`
		RequestHeaders    map[string]any `mapstructure:"request_headers"`
		RequestBodyData   map[string]any `mapstructure:"request_body_data"`
		RequestBodyJSON   map[string]any `mapstructure:"request_body_json"`
		UseCache          bool           `mapstructure:"use_cache"`
	}
	if err := n.Require("url_base"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	provider, err := requestoption.NewInterpolatedProvider(requestoption.ProviderConfig{
		RequestParameters: m.RequestParameters,
		RequestHeaders:    m.RequestHeaders,
		RequestBodyData:   m.RequestBodyData,
		RequestBodyJSON:   m.RequestBodyJSON,
	}, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	authn, _, err := Field[auth.Authenticator](b, n, "authenticator", "")
	if err != nil {
		return nil, err
	}

	opts := []requester.ClientOption{
		requester.WithHTTPClient(b.httpClient),
		requester.WithAPIBudget(b.budget),
	}
	eh, ok, err := Field[errorhandler.ErrorHandler](b, n, "error_handler", KindDefaultErrorHandler)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, requester.WithErrorHandler(eh))
	}
	if m.UseCache {
		opts = append(opts, requester.WithCache(0))
	}

	r, err := requester.New(requester.Config{
		Name:          m.Name,
		URLBase:       m.URLBase,
		Path:          m.Path,
		Method:        m.HTTPMethod,
		Provider:      provider,
		Authenticator: authn,
		Client:        requester.NewClient(m.Name, opts...),
	}, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return r, nil
}

func buildRequestOption(b *Builder, n *Node) (any, error) {
	var m struct {
		InjectInto string `mapstructure:"inject_into"`
		FieldName  string `mapstructure:"field_name"`
	}
	if err := n.Require("inject_into"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	opt, err := requestoption.New(requestoption.Type(m.InjectInto), m.FieldName, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return opt, nil
}

func buildRequestPath(*Builder, *Node) (any, error) {
	return requestoption.NewPath(), nil
}

// -- Authenticators -----------------------------------------------------------

func buildNoAuth(*Builder, *Node) (any, error) {
	return auth.NoAuth{}, nil
}

func buildAPIKeyAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		APIToken string `mapstructure:"api_token"`
		Header   string `mapstructure:"header"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	opt, ok, err := Field[*requestoption.RequestOption](b, n, "inject_into", KindRequestOption)
	if err != nil {
		return nil, err
	}
	if !ok {
		if m.Header == "" {
			return nil, failure.Config(n.Path, "api key authenticator needs inject_into or header")
		}
		if opt, err = requestoption.New(requestoption.Header, m.Header, b.config, n.Params); err != nil {
			return nil, failure.WithPath(n.Path, err)
		}
	}
	a, err := auth.NewAPIKeyAuthenticator(opt, m.APIToken, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

func buildBearerAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		APIToken string `mapstructure:"api_token"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	a, err := auth.NewBearerAuthenticator(m.APIToken, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

func buildBasicHTTPAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	a, err := auth.NewBasicHTTPAuthenticator(m.Username, m.Password, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

func buildOAuthAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		TokenRefreshEndpoint string         `mapstructure:"token_refresh_endpoint"`
		ClientID             string         `mapstructure:"client_id"`
		ClientSecret         string         `mapstructure:"client_secret"`
		RefreshToken         string         `mapstructure:"refresh_token"`
		AccessToken          string         `mapstructure:"access_token_value"`
		TokenExpiryDate      string         `mapstructure:"token_expiry_date"`
		Scopes               []string       `mapstructure:"scopes"`
		GrantType            string         `mapstructure:"grant_type"`
		RefreshRequestBody   map[string]any `mapstructure:"refresh_request_body"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	a, err := auth.NewOAuthAuthenticator(auth.OAuthConfig{
		TokenRefreshEndpoint: m.TokenRefreshEndpoint,
		ClientID:             m.ClientID,
		ClientSecret:         m.ClientSecret,
		RefreshToken:         m.RefreshToken,
		AccessToken:          m.AccessToken,
		TokenExpiryDate:      m.TokenExpiryDate,
		Scopes:               m.Scopes,
		GrantType:            m.GrantType,
		RefreshRequestBody:   m.RefreshRequestBody,
	}, b.config, n.Params, b.httpClient)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

// sessionInjection describes how a session token is added to requests, a
// nil option sends it as bearer token.
type sessionInjection struct {
	option *requestoption.RequestOption
}

func buildSessionTokenAPIKeyInjection(b *Builder, n *Node) (any, error) {
	opt, err := RequiredField[*requestoption.RequestOption](b, n, "inject_into", KindRequestOption)
	if err != nil {
		return nil, err
	}
	return sessionInjection{option: opt}, nil
}

func buildSessionTokenBearerInjection(*Builder, *Node) (any, error) {
	return sessionInjection{}, nil
}

func buildSessionTokenAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		SessionTokenPath   []string `mapstructure:"session_token_path"`
		ExpirationDuration string   `mapstructure:"expiration_duration"`
	}
	if err := n.Require("login_requester", "session_token_path"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	login, err := RequiredField[*requester.HTTPRequester](b, n, "login_requester", KindHTTPRequester)
	if err != nil {
		return nil, err
	}
	inj, _, err := Field[sessionInjection](b, n, "request_authentication", KindSessionTokenRequestBearerAuthenticator)
	if err != nil {
		return nil, err
	}
	dec, _, err := Field[decoder.Decoder](b, n, "decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	a, err := auth.NewSessionTokenAuthenticator(
		func(ctx context.Context) (*http.Response, error) {
			return login.SendRequest(ctx, requester.Request{})
		},
		dec,
		m.SessionTokenPath,
		m.ExpirationDuration,
		inj.option,
	)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

func buildSelectiveAuthenticator(b *Builder, n *Node) (any, error) {
	var m struct {
		SelectionPath  []string       `mapstructure:"authenticator_selection_path"`
		Authenticators map[string]any `mapstructure:"authenticators"`
	}
	if err := n.Require("authenticator_selection_path", "authenticators"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	all := make(map[string]auth.Authenticator, len(m.Authenticators))
	for _, key := range slices.Sorted(maps.Keys(m.Authenticators)) {
		a, err := as[auth.Authenticator](b, n.join("authenticators."+key), m.Authenticators[key], "", n)
		if err != nil {
			return nil, err
		}
		all[key] = a
	}
	a, err := auth.Select(b.config, m.SelectionPath, all)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return a, nil
}

// -- Error handling -----------------------------------------------------------

func buildDefaultErrorHandler(b *Builder, n *Node) (any, error) {
	var m struct {
		MaxRetries     *int   `mapstructure:"max_retries"`
		MaxTime        string `mapstructure:"max_time"`
		NotFoundAction string `mapstructure:"not_found_action"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	h := errorhandler.NewDefaultErrorHandler()
	var err error
	if h.Filters, err = List[*errorhandler.HTTPResponseFilter](b, n, "response_filters", KindHTTPResponseFilter); err != nil {
		return nil, err
	}
	if h.BackoffStrategies, err = List[errorhandler.BackoffStrategy](b, n, "backoff_strategies", ""); err != nil {
		return nil, err
	}
	if m.MaxRetries != nil {
		if *m.MaxRetries < 0 {
			return nil, failure.Config(n.join("max_retries"), "max_retries must not be negative")
		}
		h.Retries = *m.MaxRetries
	}
	if h.Timeout, err = b.seconds(n, "max_time", m.MaxTime); err != nil {
		return nil, err
	}
	if m.NotFoundAction != "" {
		a, err := errorhandler.ParseAction(m.NotFoundAction)
		if err != nil {
			return nil, failure.WithPath(n.join("not_found_action"), err)
		}
		h.NotFoundAction = a
	}
	return h, nil
}

func buildCompositeErrorHandler(b *Builder, n *Node) (any, error) {
	handlers, err := List[errorhandler.ErrorHandler](b, n, "error_handlers", KindDefaultErrorHandler)
	if err != nil {
		return nil, err
	}
	h, err := errorhandler.NewCompositeErrorHandler(handlers...)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return h, nil
}

func buildHTTPResponseFilter(b *Builder, n *Node) (any, error) {
	var m struct {
		Action               string `mapstructure:"action"`
		FailureType          string `mapstructure:"failure_type"`
		HTTPCodes            []int  `mapstructure:"http_codes"`
		ErrorMessageContains string `mapstructure:"error_message_contains"`
		Predicate            string `mapstructure:"predicate"`
		ErrorMessage         string `mapstructure:"error_message"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	f, err := errorhandler.NewHTTPResponseFilter(errorhandler.FilterConfig{
		Action:               m.Action,
		FailureType:          m.FailureType,
		HTTPCodes:            m.HTTPCodes,
		ErrorMessageContains: m.ErrorMessageContains,
		Predicate:            m.Predicate,
		ErrorMessage:         m.ErrorMessage,
	}, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return f, nil
}

func buildConstantBackoff(b *Builder, n *Node) (any, error) {
	var m struct {
		Seconds string `mapstructure:"backoff_time_in_seconds"`
	}
	if err := n.Require("backoff_time_in_seconds"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	d, err := b.seconds(n, "backoff_time_in_seconds", m.Seconds)
	if err != nil {
		return nil, err
	}
	return errorhandler.ConstantBackoff{Duration: d}, nil
}

func buildExponentialBackoff(b *Builder, n *Node) (any, error) {
	var m struct {
		Factor string `mapstructure:"factor"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	d, err := b.seconds(n, "factor", m.Factor)
	if err != nil {
		return nil, err
	}
	return errorhandler.ExponentialBackoff{Factor: d}, nil
}

func buildWaitTimeFromHeader(b *Builder, n *Node) (any, error) {
	var m struct {
		Header     string `mapstructure:"header"`
		Regex      string `mapstructure:"regex"`
		MaxWaiting string `mapstructure:"max_waiting_time_in_seconds"`
	}
	if err := n.Require("header"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	maxWait, err := b.seconds(n, "max_waiting_time_in_seconds", m.MaxWaiting)
	if err != nil {
		return nil, err
	}
	header, err := b.eval(n, "header", m.Header)
	if err != nil {
		return nil, err
	}
	s, err := errorhandler.NewWaitTimeFromHeader(header, m.Regex, maxWait)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return s, nil
}

func buildWaitUntilTimeFromHeader(b *Builder, n *Node) (any, error) {
	var m struct {
		Header  string `mapstructure:"header"`
		Regex   string `mapstructure:"regex"`
		MinWait string `mapstructure:"min_wait"`
	}
	if err := n.Require("header"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	minWait, err := b.seconds(n, "min_wait", m.MinWait)
	if err != nil {
		return nil, err
	}
	header, err := b.eval(n, "header", m.Header)
	if err != nil {
		return nil, err
	}
	s, err := errorhandler.NewWaitUntilTimeFromHeader(header, m.Regex, minWait)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return s, nil
}

// -- Rate limiting ------------------------------------------------------------

func buildAPIBudget(b *Builder, n *Node) (any, error) {
	policies, err := List[ratelimit.Policy](b, n, "policies", "")
	if err != nil {
		return nil, err
	}
	return ratelimit.NewAPIBudget(policies...), nil
}

func buildFixedWindowPolicy(b *Builder, n *Node) (any, error) {
	var m struct {
		Period    string `mapstructure:"period"`
		CallLimit int    `mapstructure:"call_limit"`
	}
	if err := n.Require("period", "call_limit"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	period, err := b.duration(n, "period", m.Period)
	if err != nil {
		return nil, err
	}
	matchers, err := List[*ratelimit.RequestMatcher](b, n, "matchers", KindHTTPRequestMatcher)
	if err != nil {
		return nil, err
	}
	p, err := ratelimit.NewFixedWindowPolicy(period, m.CallLimit, matchers...)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return p, nil
}

func buildMovingWindowPolicy(b *Builder, n *Node) (any, error) {
	rates, err := List[ratelimit.Rate](b, n, "rates", KindRate)
	if err != nil {
		return nil, err
	}
	matchers, err := List[*ratelimit.RequestMatcher](b, n, "matchers", KindHTTPRequestMatcher)
	if err != nil {
		return nil, err
	}
	p, err := ratelimit.NewMovingWindowPolicy(rates, matchers...)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return p, nil
}

func buildUnlimitedPolicy(b *Builder, n *Node) (any, error) {
	matchers, err := List[*ratelimit.RequestMatcher](b, n, "matchers", KindHTTPRequestMatcher)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewUnlimitedPolicy(matchers...), nil
}

func buildRate(b *Builder, n *Node) (any, error) {
	var m struct {
		Limit    int    `mapstructure:"limit"`
		Interval string `mapstructure:"interval"`
	}
	if err := n.Require("limit", "interval"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	interval, err := b.duration(n, "interval", m.Interval)
	if err != nil {
		return nil, err
	}
	return ratelimit.Rate{Limit: m.Limit, Interval: interval}, nil
}

func buildRequestMatcher(_ *Builder, n *Node) (any, error) {
	var m struct {
		Method         string            `mapstructure:"method"`
		URLBase        string            `mapstructure:"url_base"`
		URLPathPattern string            `mapstructure:"url_path_pattern"`
		Params         map[string]string `mapstructure:"params"`
		Headers        map[string]string `mapstructure:"headers"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	rm, err := ratelimit.NewRequestMatcher(m.Method, m.URLBase, m.URLPathPattern, m.Params, m.Headers)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return rm, nil
}
