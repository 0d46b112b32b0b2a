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
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name      string
		injectTo  Type
		fieldName string
		wantErr   bool
	}{
		{name: "param", injectTo: RequestParameter, fieldName: "page"},
		{name: "header", injectTo: Header, fieldName: "X-Page"},
		{name: "path without field", injectTo: Path},
		{name: "path with field", injectTo: Path, fieldName: "page", wantErr: true},
		{name: "param without field", injectTo: RequestParameter, wantErr: true},
		{name: "unknown type", injectTo: "cookie", fieldName: "x", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			_, err := New(tc.injectTo, tc.fieldName, nil, nil)
			if tc.wantErr {
				is.True(failure.IsConfigError(err))
				return
			}
			is.NoErr(err)
		})
	}
}

func TestRequestOption_Inject(t *testing.T) {
	is := is.New(t)

	var opts Options
	param, err := New(RequestParameter, "{{ .parameters.prefix }}_offset", nil, types.Mapping{"prefix": "page"})
	is.NoErr(err)
	is.NoErr(param.Inject(&opts, 20))

	header, err := New(Header, "X-Cursor", nil, nil)
	is.NoErr(err)
	is.NoErr(header.Inject(&opts, "abc"))

	body, err := New(BodyJSON, "limit", nil, nil)
	is.NoErr(err)
	is.NoErr(body.Inject(&opts, 10))

	is.NoErr(NewPath().Inject(&opts, "/v1/users?cursor=abc"))
	is.NoErr(header.Inject(&opts, nil)) // nil values are skipped

	is.Equal(opts, Options{
		Params:   types.Mapping{"page_offset": 20},
		Headers:  map[string]string{"X-Cursor": "abc"},
		BodyJSON: types.Mapping{"limit": 10},
		Path:     "/v1/users?cursor=abc",
	})
}

func TestOptions_Merge(t *testing.T) {
	is := is.New(t)

	a := Options{Params: types.Mapping{"a": 1}, Headers: map[string]string{"h": "1"}}
	is.NoErr(a.Merge(Options{Params: types.Mapping{"a": 1, "b": 2}, Path: "/x"}))
	is.Equal(a.Params, types.Mapping{"a": 1, "b": 2})
	is.Equal(a.Path, "/x")

	err := a.Merge(Options{Params: types.Mapping{"a": 3}})
	is.True(failure.IsConfigError(err))

	err = a.Merge(Options{Headers: map[string]string{"h": "2"}})
	is.True(err != nil)
}

func TestInterpolatedProvider(t *testing.T) {
	is := is.New(t)

	p, err := NewInterpolatedProvider(ProviderConfig{
		RequestParameters: map[string]any{
			"since":    "{{ .stream_slice.start_time }}",
			"optional": "{{ .config.missing }}",
			"cursor":   "{{ .next_page_token.next_page_token }}",
		},
		RequestHeaders: map[string]any{"X-Api-Version": "{{ .parameters.version }}"},
	}, types.Config{}, types.Mapping{"version": 2})
	is.NoErr(err)

	slice := types.NewStreamSlice(nil, types.Mapping{"start_time": "2022-01-01"})
	opts, err := p.RequestOptions(context.Background(), nil, slice, types.NewPageToken("abc"))
	is.NoErr(err)
	is.Equal(opts.Params, types.Mapping{"since": "2022-01-01", "cursor": "abc"})
	is.Equal(opts.Headers, map[string]string{"X-Api-Version": "2"})
}

func TestInterpolatedProvider_BodyDataAndJSONExclusive(t *testing.T) {
	is := is.New(t)

	_, err := NewInterpolatedProvider(ProviderConfig{
		RequestBodyData: map[string]any{"a": "b"},
		RequestBodyJSON: map[string]any{"c": "d"},
	}, nil, nil)
	is.True(failure.IsConfigError(err))
}
