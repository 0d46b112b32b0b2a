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
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/goccy/go-json"
)

// String is a string that may contain template actions. The template is
// parsed once, when the String is created.
type String struct {
	raw  string
	tmpl *template.Template
	def  *String
	// ref is set when the template is a single field reference, e.g.
	// {{ .config.ids }}.
	ref []string
}

// NewString parses raw and returns the interpolated string.
func NewString(raw string) (*String, error) {
	s := &String{raw: raw}
	if IsTemplate(raw) {
		t, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		s.tmpl = t
		s.ref = fieldRef(t)
	}
	return s, nil
}

func fieldRef(t *template.Template) []string {
	if t.Tree == nil || t.Tree.Root == nil || len(t.Tree.Root.Nodes) != 1 {
		return nil
	}
	action, ok := t.Tree.Root.Nodes[0].(*parse.ActionNode)
	if !ok || len(action.Pipe.Decl) > 0 || len(action.Pipe.Cmds) != 1 {
		return nil
	}
	args := action.Pipe.Cmds[0].Args
	if len(args) != 1 {
		return nil
	}
	field, ok := args[0].(*parse.FieldNode)
	if !ok {
		return nil
	}
	return field.Ident
}

// NewStringWithDefault parses raw and def. The default is rendered when raw
// renders to an empty result.
func NewStringWithDefault(raw, def string) (*String, error) {
	s, err := NewString(raw)
	if err != nil {
		return nil, err
	}
	if def != "" {
		if s.def, err = NewString(def); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustString is like NewString but panics on a syntax error. It is meant
// for templates that are constants in code.
func MustString(raw string) *String {
	s, err := NewString(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the unparsed template.
func (s *String) Raw() string {
	if s == nil {
		return ""
	}
	return s.raw
}

// IsEmpty returns true if s is nil or the raw template is empty.
func (s *String) IsEmpty() bool {
	return s == nil || s.raw == ""
}

// Eval renders the string.
func (s *String) Eval(ctx Context) (string, error) {
	if s == nil {
		return "", nil
	}
	if s.tmpl == nil {
		if s.raw == "" && s.def != nil {
			return s.def.Eval(ctx)
		}
		return s.raw, nil
	}
	out, err := render(s.tmpl, ctx)
	if err != nil && !errors.Is(err, ErrUndefined) {
		return "", err
	}
	if out == "" && s.def != nil {
		return s.def.Eval(ctx)
	}
	return out, nil
}

// EvalValue renders the string and converts the result to a literal if it
// represents one. Strings without template actions are not converted. A
// template that only references a map or a list returns it unchanged.
func (s *String) EvalValue(ctx Context) (any, error) {
	if s != nil && s.ref != nil {
		if v, ok := dpath.Get(ctx.data(), s.ref); ok {
			switch v.(type) {
			case map[string]any, []any, []string:
				return v, nil
			}
		}
	}
	out, err := s.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if s.tmpl == nil && (s.def == nil || s.def.tmpl == nil) {
		return out, nil
	}
	return Literal(out), nil
}

func (s *String) String() string { return s.Raw() }

var numberRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// Literal converts rendered text into the value it represents: integers,
// floats, booleans, null and JSON objects/arrays. Anything else is returned
// as the original string.
func Literal(s string) any {
	switch s {
	case "":
		return ""
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "null", "None":
		return nil
	}
	if numberRe.MatchString(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

// Boolean is an interpolated condition.
type Boolean struct {
	s *String
}

var falseValues = map[string]bool{
	"":      true,
	"false": true,
	"False": true,
	"0":     true,
	"0.0":   true,
	"{}":    true,
	"[]":    true,
	"()":    true,
	"map[]": true,
	"none":  true,
	"None":  true,
}

// NewBoolean parses the condition.
func NewBoolean(raw string) (*Boolean, error) {
	s, err := NewString(raw)
	if err != nil {
		return nil, err
	}
	return &Boolean{s: s}, nil
}

// Eval evaluates the condition. An empty condition is true.
func (b *Boolean) Eval(ctx Context) (bool, error) {
	if b == nil || b.s.IsEmpty() {
		return true, nil
	}
	out, err := b.s.Eval(ctx)
	if err != nil {
		return false, err
	}
	return !falseValues[out], nil
}

func (b *Boolean) Raw() string {
	if b == nil {
		return ""
	}
	return b.s.Raw()
}

// Mapping is a flat mapping whose keys and string values may contain
// template actions.
type Mapping struct {
	keys   []*String
	values []any // *String or a literal
}

// NewMapping parses the keys and string values of m.
func NewMapping(m map[string]any) (*Mapping, error) {
	out := &Mapping{}
	for k, v := range m {
		ks, err := NewString(k)
		if err != nil {
			return nil, err
		}
		if sv, ok := v.(string); ok {
			vs, err := NewString(sv)
			if err != nil {
				return nil, err
			}
			v = vs
		}
		out.keys = append(out.keys, ks)
		out.values = append(out.values, v)
	}
	return out, nil
}

// Eval renders the mapping. Entries whose value renders to nil are dropped.
func (m *Mapping) Eval(ctx Context) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(m.keys))
	for i, k := range m.keys {
		key, err := k.Eval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate key %q: %w", k.Raw(), err)
		}
		v := m.values[i]
		if s, ok := v.(*String); ok {
			v, err = s.EvalValue(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate value of %q: %w", key, err)
			}
		}
		if v == nil {
			continue
		}
		out[key] = v
	}
	return out, nil
}

// Len returns the number of entries in the mapping.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// NestedMapping is an arbitrarily nested structure of maps and lists whose
// strings may contain template actions.
type NestedMapping struct {
	root any
}

// NewNestedMapping parses every string contained in v.
func NewNestedMapping(v any) (*NestedMapping, error) {
	root, err := parseNested(v)
	if err != nil {
		return nil, err
	}
	return &NestedMapping{root: root}, nil
}

func parseNested(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return NewString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			p, err := parseNested(item)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			p, err := parseNested(item)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	default:
		return v, nil
	}
}

// Eval renders every template in the structure.
func (n *NestedMapping) Eval(ctx Context) (any, error) {
	if n == nil {
		return nil, nil
	}
	return evalNested(n.root, ctx)
}

func evalNested(v any, ctx Context) (any, error) {
	switch v := v.(type) {
	case *String:
		return v.EvalValue(ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			e, err := evalNested(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			e, err := evalNested(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return v, nil
	}
}
