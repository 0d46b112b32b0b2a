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

// Package paginator computes the page tokens of consecutive requests and
// injects them into the requests.
//
// A paginator does not keep track of the current page, the caller passes
// the last token back. This keeps a paginator safe to share between slices
// read concurrently.
package paginator

import (
	"context"
	"net/http"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Paginator computes page tokens and contributes them to requests.
type Paginator interface {
	requestoption.Provider
	InitialToken() types.PageToken
	NextPageToken(resp *http.Response, lastPageSize int, lastRecord *types.Record, lastToken types.PageToken) (types.PageToken, error)
	// Reset restarts pagination at value, or at the strategy's initial
	// token if value is nil.
	Reset(value any)
}

// DefaultPaginator injects the token of its strategy with a request option.
type DefaultPaginator struct {
	strategy        Strategy
	pageTokenOption *requestoption.RequestOption
	pageSizeOption  *requestoption.RequestOption
	urlBase         string
}

// NewDefaultPaginator returns a paginator. A path page token option makes the
// token replace the request path, urlBase is stripped from such tokens.
func NewDefaultPaginator(s Strategy, pageTokenOption, pageSizeOption *requestoption.RequestOption, urlBase string) (*DefaultPaginator, error) {
	if s == nil {
		return nil, failure.Config("", "pagination_strategy is required")
	}
	if pageSizeOption != nil && s.PageSize() == 0 {
		return nil, failure.Config("", "page_size_option requires the pagination strategy to define a page_size")
	}
	if pageSizeOption.IsPath() {
		return nil, failure.Config("", "page size can not be injected into the path")
	}
	return &DefaultPaginator{
		strategy:        s,
		pageTokenOption: pageTokenOption,
		pageSizeOption:  pageSizeOption,
		urlBase:         urlBase,
	}, nil
}

func (p *DefaultPaginator) InitialToken() types.PageToken {
	return types.NewPageToken(p.strategy.InitialToken())
}

func (p *DefaultPaginator) NextPageToken(resp *http.Response, lastPageSize int, lastRecord *types.Record, lastToken types.PageToken) (types.PageToken, error) {
	v, err := p.strategy.NextPageToken(resp, lastPageSize, lastRecord, lastToken.Value())
	if err != nil {
		return nil, err
	}
	return types.NewPageToken(v), nil
}

func (p *DefaultPaginator) Reset(value any) { p.strategy.Reset(value) }

func (p *DefaultPaginator) RequestOptions(_ context.Context, _ types.StreamState, _ types.StreamSlice, token types.PageToken) (requestoption.Options, error) {
	var opts requestoption.Options
	if v := token.Value(); v != nil && p.pageTokenOption != nil {
		if p.pageTokenOption.IsPath() {
			path, _ := v.(string)
			if path == "" {
				return opts, failure.Config("", "page token %v can not be used as path", v)
			}
			opts.Path = p.stripBase(path)
		} else if err := p.pageTokenOption.Inject(&opts, v); err != nil {
			return opts, err
		}
	}
	if p.pageSizeOption != nil {
		if err := p.pageSizeOption.Inject(&opts, p.strategy.PageSize()); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func (p *DefaultPaginator) stripBase(path string) string {
	base := strings.TrimRight(p.urlBase, "/")
	if base != "" && strings.HasPrefix(path, base) {
		return strings.TrimPrefix(path, base)
	}
	return path
}

// NoPagination reads a single page.
type NoPagination struct{}

func (NoPagination) InitialToken() types.PageToken { return nil }

func (NoPagination) NextPageToken(*http.Response, int, *types.Record, types.PageToken) (types.PageToken, error) {
	return nil, nil
}

func (NoPagination) Reset(any) {}

func (NoPagination) RequestOptions(context.Context, types.StreamState, types.StreamSlice, types.PageToken) (requestoption.Options, error) {
	return requestoption.Options{}, nil
}
