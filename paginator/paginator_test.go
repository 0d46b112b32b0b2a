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

package paginator

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

func jsonResponse(body string, header ...string) *http.Response {
	h := http.Header{}
	for i := 0; i+1 < len(header); i += 2 {
		h.Set(header[i], header[i+1])
	}
	return &http.Response{StatusCode: 200, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func TestOffsetIncrement_Tokens(t *testing.T) {
	is := is.New(t)

	const n = 10
	p, err := NewDefaultPaginator(NewOffsetIncrement(n, false), nil, nil, "")
	is.NoErr(err)

	token := p.InitialToken()
	is.Equal(token, types.PageToken(nil))

	var got []any
	for _, size := range []int{n, n, n, 3} {
		token, err = p.NextPageToken(jsonResponse(`{}`), size, nil, token)
		is.NoErr(err)
		got = append(got, token.Value())
	}
	is.Equal(got, []any{10, 20, 30, nil})
}

func TestOffsetIncrement_InjectOnFirstRequest(t *testing.T) {
	is := is.New(t)

	s := NewOffsetIncrement(5, true)
	is.Equal(s.InitialToken(), 0)

	s.Reset(15)
	is.Equal(s.InitialToken(), 15)
	s.Reset(nil)
	is.Equal(s.InitialToken(), 0)
}

func TestPageIncrement(t *testing.T) {
	is := is.New(t)

	s := NewPageIncrement(2, 1, false)
	is.Equal(s.InitialToken(), nil)

	v, err := s.NextPageToken(nil, 2, nil, nil)
	is.NoErr(err)
	is.Equal(v, 2)
	v, err = s.NextPageToken(nil, 2, nil, v)
	is.NoErr(err)
	is.Equal(v, 3)
	v, err = s.NextPageToken(nil, 1, nil, v)
	is.NoErr(err)
	is.Equal(v, nil)

	s = NewPageIncrement(0, 0, true)
	is.Equal(s.InitialToken(), 0)
	v, err = s.NextPageToken(nil, 0, nil, 0)
	is.NoErr(err)
	is.Equal(v, nil) // empty page
}

func TestCursorPagination(t *testing.T) {
	is := is.New(t)

	s, err := NewCursorPagination("{{ .response.meta.next }}", "", 0, nil, nil, nil)
	is.NoErr(err)

	v, err := s.NextPageToken(jsonResponse(`{"meta":{"next":"abc"}}`), 2, nil, nil)
	is.NoErr(err)
	is.Equal(v, "abc")

	v, err = s.NextPageToken(jsonResponse(`{"meta":{"next":""}}`), 2, nil, "abc")
	is.NoErr(err)
	is.Equal(v, nil)

	v, err = s.NextPageToken(jsonResponse(`{"meta":{}}`), 2, nil, "abc")
	is.NoErr(err)
	is.Equal(v, nil)
}

func TestCursorPagination_LinkHeaderAndStopCondition(t *testing.T) {
	is := is.New(t)

	s, err := NewCursorPagination(
		"{{ .headers.link.next.url }}",
		`{{ not .response.has_more }}`,
		0, nil, nil, nil,
	)
	is.NoErr(err)

	resp := jsonResponse(`{"has_more":true}`, "Link", `<https://api.example.com/items?page=2>; rel="next"`)
	v, err := s.NextPageToken(resp, 1, nil, nil)
	is.NoErr(err)
	is.Equal(v, "https://api.example.com/items?page=2")

	resp = jsonResponse(`{"has_more":false}`, "Link", `<https://api.example.com/items?page=3>; rel="next"`)
	v, err = s.NextPageToken(resp, 1, nil, nil)
	is.NoErr(err)
	is.Equal(v, nil)
}

func TestCursorPagination_LastRecord(t *testing.T) {
	is := is.New(t)

	s, err := NewCursorPagination("{{ .last_record.id }}", "{{ eq .last_page_size 0 }}", 0, nil, nil, nil)
	is.NoErr(err)

	rec := &types.Record{Data: types.Mapping{"id": "r-9"}}
	v, err := s.NextPageToken(jsonResponse(`[]`), 1, rec, nil)
	is.NoErr(err)
	is.Equal(v, "r-9")

	v, err = s.NextPageToken(jsonResponse(`[]`), 0, nil, "r-9")
	is.NoErr(err)
	is.Equal(v, nil)

	_, err = NewCursorPagination("", "", 0, nil, nil, nil)
	is.True(failure.IsConfigError(err))
}

type stopAt string

func (s stopAt) IsMetCondition(r types.Record) bool { return r.Data["updated"] == string(s) }

func TestStopConditionDecorator(t *testing.T) {
	is := is.New(t)

	s := NewStopConditionDecorator(NewOffsetIncrement(1, false), stopAt("old"))

	v, err := s.NextPageToken(nil, 1, &types.Record{Data: types.Mapping{"updated": "new"}}, nil)
	is.NoErr(err)
	is.Equal(v, 1)

	v, err = s.NextPageToken(nil, 1, &types.Record{Data: types.Mapping{"updated": "old"}}, 1)
	is.NoErr(err)
	is.Equal(v, nil)
}

func TestDefaultPaginator_RequestOptions(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	tokenOpt, err := requestoption.New(requestoption.RequestParameter, "offset", nil, nil)
	is.NoErr(err)
	sizeOpt, err := requestoption.New(requestoption.RequestParameter, "limit", nil, nil)
	is.NoErr(err)

	p, err := NewDefaultPaginator(NewOffsetIncrement(25, false), tokenOpt, sizeOpt, "")
	is.NoErr(err)

	opts, err := p.RequestOptions(ctx, nil, types.StreamSlice{}, p.InitialToken())
	is.NoErr(err)
	is.Equal(opts.Params, types.Mapping{"limit": 25})

	opts, err = p.RequestOptions(ctx, nil, types.StreamSlice{}, types.NewPageToken(50))
	is.NoErr(err)
	is.Equal(opts.Params, types.Mapping{"limit": 25, "offset": 50})
}

func TestDefaultPaginator_PathOption(t *testing.T) {
	is := is.New(t)

	s, err := NewCursorPagination("{{ .response.next }}", "", 0, nil, nil, nil)
	is.NoErr(err)
	p, err := NewDefaultPaginator(s, requestoption.NewPath(), nil, "https://api.example.com/v1")
	is.NoErr(err)

	opts, err := p.RequestOptions(context.Background(), nil, types.StreamSlice{}, types.NewPageToken("https://api.example.com/v1/items?cursor=x"))
	is.NoErr(err)
	is.Equal(opts.Path, "/items?cursor=x")
}

func TestNewDefaultPaginator_Invalid(t *testing.T) {
	is := is.New(t)

	sizeOpt, err := requestoption.New(requestoption.Header, "X-Limit", nil, nil)
	is.NoErr(err)
	_, err = NewDefaultPaginator(NewOffsetIncrement(0, false), nil, sizeOpt, "")
	is.True(failure.IsConfigError(err))

	_, err = NewDefaultPaginator(nil, nil, nil, "")
	is.True(failure.IsConfigError(err))
}

func TestEvalPageSize(t *testing.T) {
	is := is.New(t)

	n, err := EvalPageSize("{{ .config.page_size }}", types.Config{"page_size": 100}, nil)
	is.NoErr(err)
	is.Equal(n, 100)

	n, err = EvalPageSize("", nil, nil)
	is.NoErr(err)
	is.Equal(n, 0)

	_, err = EvalPageSize("many", nil, nil)
	is.True(failure.IsConfigError(err))
}
