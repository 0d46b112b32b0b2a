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

package interpolation

import (
	"testing"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

func testContext() Context {
	return Context{
		Config:     types.Config{"api_key": "secret", "page_size": 10, "nested": map[string]any{"region": "eu"}},
		Parameters: types.Mapping{"name": "users", "page_size": 25},
	}
}

func TestEval(t *testing.T) {
	ctx := testContext().
		With(KeyRecord, types.Mapping{"id": 7, "updated": "2022-01-01"}).
		WithSlice(types.NewStreamSlice(types.Mapping{"parent_id": "p1"}, types.Mapping{"start_time": "2022-01-01"}))

	testCases := []struct {
		name     string
		template any
		def      any
		want     any
	}{
		{name: "non string passthrough", template: 42, want: 42},
		{name: "plain string", template: "users", want: "users"},
		{name: "config value", template: "{{ .config.api_key }}", want: "secret"},
		{name: "nested config", template: "{{ .config.nested.region }}", want: "eu"},
		{name: "index function", template: `{{ index .config "api_key" }}`, want: "secret"},
		{name: "literal int", template: "{{ .config.page_size }}", want: int64(10)},
		{name: "parameters", template: "{{ .parameters.name }}", want: "users"},
		{name: "record", template: "{{ .record.id }}", want: int64(7)},
		{name: "slice", template: "{{ .stream_slice.parent_id }}/{{ .stream_interval.start_time }}", want: "p1/2022-01-01"},
		{name: "sprig function", template: `{{ .parameters.name | upper }}`, want: "USERS"},
		{name: "undefined uses default", template: "{{ .config.missing }}", def: "fallback", want: "fallback"},
		{name: "undefined without default", template: "{{ .config.missing }}", want: ""},
		{name: "default is interpolated", template: "{{ .config.missing }}", def: "{{ .config.api_key }}", want: "secret"},
		{name: "empty uses default", template: `{{ "" }}`, def: "x", want: "x"},
		{name: "mixed text", template: "Bearer {{ .config.api_key }}", want: "Bearer secret"},
		{name: "json object", template: `{{ .config.nested | toJson }}`, want: map[string]any{"region": "eu"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			got, err := Eval(tc.template, ctx, tc.def)
			is.NoErr(err)
			is.Equal(got, tc.want)
		})
	}
}

func TestEval_Precedence(t *testing.T) {
	is := is.New(t)

	ctx := Context{
		Config:     types.Config{"parameters": "from config"},
		Parameters: types.Mapping{"x": "from parameters"},
	}
	got, err := Eval("{{ .parameters.x }}", ctx, nil)
	is.NoErr(err)
	is.Equal(got, "from parameters")

	ctx = ctx.With(KeyParameters, types.Mapping{"x": "from kwargs"})
	got, err = Eval("{{ .parameters.x }}", ctx, nil)
	is.NoErr(err)
	is.Equal(got, "from kwargs")
}

func TestEval_DefaultFallbackEqualsDefault(t *testing.T) {
	is := is.New(t)
	ctx := testContext()

	for _, def := range []any{"{{ .config.api_key }}", "static", "{{ .parameters.page_size }}"} {
		got, err := Eval("{{ .stream_state.cursor }}", ctx, def)
		is.NoErr(err)
		want, err := Eval(def, ctx, nil)
		is.NoErr(err)
		is.Equal(got, want)
	}
}

func TestNewString_SyntaxErrorIsConfigError(t *testing.T) {
	is := is.New(t)

	_, err := NewString("{{ .config.api_key ")
	is.True(err != nil)
	is.True(failure.IsConfigError(err))
}

func TestBoolean(t *testing.T) {
	ctx := testContext().With(KeyRecord, types.Mapping{"active": true, "count": 0})
	testCases := []struct {
		cond string
		want bool
	}{
		{cond: "", want: true},
		{cond: "{{ .record.active }}", want: true},
		{cond: "{{ .record.count }}", want: false},
		{cond: "{{ not .record.active }}", want: false},
		{cond: "{{ .record.missing }}", want: false},
		{cond: `{{ eq .parameters.name "users" }}`, want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.cond, func(t *testing.T) {
			is := is.New(t)
			b, err := NewBoolean(tc.cond)
			is.NoErr(err)
			got, err := b.Eval(ctx)
			is.NoErr(err)
			is.Equal(got, tc.want)
		})
	}
}

func TestMapping(t *testing.T) {
	is := is.New(t)

	m, err := NewMapping(map[string]any{
		"limit":                     "{{ .config.page_size }}",
		"{{ .parameters.name }}_id": "static",
		"skip":                      "{{ .config.missing }}",
		"flag":                      true,
	})
	is.NoErr(err)
	got, err := m.Eval(testContext())
	is.NoErr(err)
	is.Equal(got, map[string]any{
		"limit":    int64(10),
		"users_id": "static",
		"skip":     "",
		"flag":     true,
	})
}

func TestNestedMapping(t *testing.T) {
	is := is.New(t)

	n, err := NewNestedMapping(map[string]any{
		"filter": map[string]any{
			"region": "{{ .config.nested.region }}",
			"ids":    []any{"{{ .config.page_size }}", 2},
		},
	})
	is.NoErr(err)
	got, err := n.Eval(testContext())
	is.NoErr(err)
	is.Equal(got, map[string]any{
		"filter": map[string]any{
			"region": "eu",
			"ids":    []any{int64(10), 2},
		},
	})
}

func TestMacros(t *testing.T) {
	is := is.New(t)

	frozen := time.Date(2022, 12, 8, 10, 30, 0, 0, time.UTC)
	Now = func() time.Time { return frozen }
	t.Cleanup(func() { Now = time.Now })

	ctx := testContext()
	got, err := Eval(`{{ format_datetime (now_utc) "%Y-%m-%d" }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, "2022-12-08")

	got, err = Eval(`{{ day_delta -1 "%Y-%m-%d" }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, "2022-12-07")

	got, err = Eval(`{{ timestamp "2021-01-01T00:00:00Z" }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, int64(1609459200))

	got, err = Eval(`{{ max 3 10 7 }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, int64(10))

	got, err = Eval(`{{ min "2022-01-02" "2022-01-01" }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, "2022-01-01")

	got, err = Eval(`filter={{ tojson .config.nested }}`, ctx, nil)
	is.NoErr(err)
	is.Equal(got, `filter={"region":"eu"}`)
}

func TestLiteral(t *testing.T) {
	is := is.New(t)

	is.Equal(Literal("12"), int64(12))
	is.Equal(Literal("1.5"), 1.5)
	is.Equal(Literal("007"), "007")
	is.Equal(Literal("True"), true)
	is.Equal(Literal("None"), nil)
	is.Equal(Literal("[1,2]"), []any{float64(1), float64(2)})
	is.Equal(Literal("abc"), "abc")
}
