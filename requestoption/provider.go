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

package requestoption

import (
	"context"
	"fmt"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// InterpolatedProvider evaluates the static request parts declared on a
// requester (request_parameters, request_headers, request_body_data and
// request_body_json).
type InterpolatedProvider struct {
	ctx      interpolation.Context
	params   *interpolation.Mapping
	headers  *interpolation.Mapping
	bodyData *interpolation.Mapping
	bodyJSON *interpolation.NestedMapping
}

// ProviderConfig holds the raw manifest values of the provider.
type ProviderConfig struct {
	RequestParameters map[string]any
	RequestHeaders    map[string]any
	RequestBodyData   map[string]any
	RequestBodyJSON   map[string]any
}

func NewInterpolatedProvider(cfg ProviderConfig, config types.Config, params types.Mapping) (*InterpolatedProvider, error) {
	if len(cfg.RequestBodyData) > 0 && len(cfg.RequestBodyJSON) > 0 {
		return nil, failure.Config("", "request_body_data and request_body_json are mutually exclusive")
	}
	p := &InterpolatedProvider{ctx: interpolation.NewContext(config, params)}
	var err error
	if p.params, err = interpolation.NewMapping(cfg.RequestParameters); err != nil {
		return nil, fmt.Errorf("request_parameters: %w", err)
	}
	if p.headers, err = interpolation.NewMapping(cfg.RequestHeaders); err != nil {
		return nil, fmt.Errorf("request_headers: %w", err)
	}
	if p.bodyData, err = interpolation.NewMapping(cfg.RequestBodyData); err != nil {
		return nil, fmt.Errorf("request_body_data: %w", err)
	}
	if len(cfg.RequestBodyJSON) > 0 {
		if p.bodyJSON, err = interpolation.NewNestedMapping(cfg.RequestBodyJSON); err != nil {
			return nil, fmt.Errorf("request_body_json: %w", err)
		}
	}
	return p, nil
}

func (p *InterpolatedProvider) RequestOptions(_ context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken) (Options, error) {
	ctx := p.ctx.WithSlice(slice).WithState(state, token)

	var opts Options
	params, err := p.params.Eval(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("failed to evaluate request parameters: %w", err)
	}
	opts.Params = dropEmpty(params)

	headers, err := p.headers.Eval(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("failed to evaluate request headers: %w", err)
	}
	for k, v := range dropEmpty(headers) {
		opts.setHeader(k, fmt.Sprint(v))
	}

	bodyData, err := p.bodyData.Eval(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("failed to evaluate request body data: %w", err)
	}
	opts.BodyData = dropEmpty(bodyData)

	if p.bodyJSON != nil {
		body, err := p.bodyJSON.Eval(ctx)
		if err != nil {
			return Options{}, fmt.Errorf("failed to evaluate request body json: %w", err)
		}
		if m, ok := body.(map[string]any); ok {
			opts.BodyJSON = m
		}
	}
	return opts, nil
}

// dropEmpty removes entries that rendered to an empty string, so optional
// config values do not end up as empty query parameters.
func dropEmpty(m map[string]any) map[string]any {
	for k, v := range m {
		if s, ok := v.(string); ok && s == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
