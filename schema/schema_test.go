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

package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

func TestDefaultLoader(t *testing.T) {
	is := is.New(t)
	s, err := DefaultLoader{}.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(s["type"], "object")
}

func TestInlineLoader(t *testing.T) {
	is := is.New(t)

	in := types.Mapping{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "integer"},
		},
	}
	l, err := NewInlineLoader(in)
	is.NoErr(err)

	got, err := l.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(got, in)

	// callers get their own copy
	got["type"] = "array"
	again, err := l.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(again["type"], "object")

	_, err = NewInlineLoader(types.Mapping{"type": 42})
	is.True(failure.IsConfigError(err))
}

func TestJSONFileLoader(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	is.NoErr(os.MkdirAll(filepath.Join(dir, "schemas"), 0o755))
	is.NoErr(os.WriteFile(filepath.Join(dir, "schemas", "users.json"), []byte(`{"type":"object","properties":{"id":{"type":"string"}}}`), 0o600))

	l, err := NewJSONFileLoader("", dir, nil, types.Mapping{"name": "users"})
	is.NoErr(err)
	p, err := l.Path()
	is.NoErr(err)
	is.Equal(p, filepath.Join(dir, "schemas", "users.json"))

	s, err := l.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(s["type"], "object")

	// the second load is served from the cache
	is.NoErr(os.Remove(p))
	s, err = l.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(s["type"], "object")
}

func TestJSONFileLoader_Missing(t *testing.T) {
	is := is.New(t)
	l, err := NewJSONFileLoader("{{ .config.dir }}/nope.json", "", types.Config{"dir": t.TempDir()}, nil)
	is.NoErr(err)
	_, err = l.JSONSchema(context.Background())
	is.True(failure.IsConfigError(err))
}

func TestValidate(t *testing.T) {
	is := is.New(t)

	s, err := Compile("config.json", types.Mapping{
		"type":     "object",
		"required": []any{"api_key"},
		"properties": map[string]any{
			"api_key": map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer", "minimum": 1},
		},
	})
	is.NoErr(err)

	is.NoErr(Validate(s, types.Config{"api_key": "k", "limit": 10}))

	err = Validate(s, types.Config{"limit": 10})
	is.True(failure.IsConfigError(err))
	err = Validate(s, types.Config{"api_key": "k", "limit": 0})
	is.True(failure.IsConfigError(err))
}
