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

// Package interpolation evaluates the templates embedded in manifest values.
//
// Templates use Go text/template syntax inside {{ }} delimiters and are
// rendered against a data map containing "config", "parameters" and any
// per-call values (stream_state, stream_slice, next_page_token, response,
// record, ...). Per-call values take precedence over parameters, which take
// precedence over config. Templates can only read the data they are given,
// the function map does not contain functions with side effects.
package interpolation

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"text/template"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
)

const (
	KeyConfig              = "config"
	KeyParameters          = "parameters"
	KeyStreamState         = "stream_state"
	KeyStreamSlice         = "stream_slice"
	KeyStreamPartition     = "stream_partition"
	KeyStreamInterval      = "stream_interval"
	KeyNextPageToken       = "next_page_token"
	KeyResponse            = "response"
	KeyHeaders             = "headers"
	KeyLastRecord          = "last_record"
	KeyLastPageSize        = "last_page_size"
	KeyLastPageTokenValue  = "last_page_token_value"
	KeyRecord              = "record"
	KeyCreationResponse    = "creation_response"
	KeyPollingResponse     = "polling_response"
	KeyDownloadTarget      = "download_target"
	noValue                = "<no value>"
	templateOpeningBracket = "{{"
)

// Context holds the values a template is rendered against.
type Context struct {
	Config     types.Config
	Parameters types.Mapping
	Kwargs     types.Mapping
}

// NewContext returns a context with the given config and parameters.
func NewContext(config types.Config, parameters types.Mapping) Context {
	return Context{Config: config, Parameters: parameters}
}

// With returns a copy of the context with key set to value. The receiver is
// not modified.
func (c Context) With(key string, value any) Context {
	kw := make(types.Mapping, len(c.Kwargs)+1)
	maps.Copy(kw, c.Kwargs)
	kw[key] = value
	c.Kwargs = kw
	return c
}

// WithSlice exposes the slice as stream_slice, its partition as
// stream_partition and its cursor slice as stream_interval.
func (c Context) WithSlice(slice types.StreamSlice) Context {
	kw := make(types.Mapping, len(c.Kwargs)+3)
	maps.Copy(kw, c.Kwargs)
	kw[KeyStreamSlice] = slice.Mapping()
	kw[KeyStreamPartition] = orEmpty(slice.Partition)
	kw[KeyStreamInterval] = orEmpty(slice.CursorSlice)
	c.Kwargs = kw
	return c
}

// WithState exposes the stream state and the page token.
func (c Context) WithState(state types.StreamState, token types.PageToken) Context {
	kw := make(types.Mapping, len(c.Kwargs)+2)
	maps.Copy(kw, c.Kwargs)
	kw[KeyStreamState] = orEmpty(state)
	kw[KeyNextPageToken] = orEmpty(types.Mapping(token))
	c.Kwargs = kw
	return c
}

// data builds the map the template is executed against. Kwargs override
// parameters which override config.
func (c Context) data() map[string]any {
	out := make(map[string]any, len(c.Kwargs)+2)
	out[KeyConfig] = orEmpty(c.Config)
	out[KeyParameters] = orEmpty(c.Parameters)
	maps.Copy(out, c.Kwargs)
	return out
}

func orEmpty(m types.Mapping) types.Mapping {
	if m == nil {
		return types.Mapping{}
	}
	return m
}

// IsTemplate returns true if s contains template actions.
func IsTemplate(s string) bool {
	return strings.Contains(s, templateOpeningBracket)
}

var parsed sync.Map // template source -> *template.Template

// Parse parses a template. Syntax errors are reported as config errors.
func Parse(src string) (*template.Template, error) {
	if t, ok := parsed.Load(src); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("").
		Option("missingkey=error").
		Funcs(funcMap()).
		Parse(src)
	if err != nil {
		return nil, failure.Config("", "invalid template %q: %w", src, err)
	}
	parsed.Store(src, t)
	return t, nil
}

// ErrUndefined is returned by render when the template references a value
// that is not present in the context.
var ErrUndefined = errors.New("undefined value")

// render executes t against ctx and returns the trimmed result.
func render(t *template.Template, ctx Context) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, ctx.data()); err != nil {
		if isUndefined(err) {
			return "", fmt.Errorf("%w: %w", ErrUndefined, err)
		}
		return "", fmt.Errorf("failed to evaluate template: %w", err)
	}
	out := strings.ReplaceAll(sb.String(), noValue, "")
	return strings.TrimSpace(out), nil
}

func isUndefined(err error) bool {
	var execErr template.ExecError
	if !errors.As(err, &execErr) {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"map has no entry for key",
		"nil pointer evaluating",
		"can't evaluate field",
		"index of untyped nil",
		"index of nil pointer",
		"index out of range",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Eval evaluates template against ctx. Values that are not strings are
// returned unchanged, strings without template actions render to
// themselves. If the template renders to an empty result or references an
// undefined value, def is evaluated instead. Rendered text that represents
// a literal (number, boolean, JSON object or array) is converted.
func Eval(template any, ctx Context, def any) (any, error) {
	src, ok := template.(string)
	if !ok {
		return template, nil
	}
	s, err := NewString(src)
	if err != nil {
		return nil, err
	}
	v, err := s.EvalValue(ctx)
	if err != nil {
		return nil, err
	}
	if isEmpty(v) && def != nil {
		return Eval(def, ctx, nil)
	}
	return v, nil
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}
