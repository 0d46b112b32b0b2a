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

// Package factory builds runtime components from a resolved manifest. The
// set of component kinds is closed: every kind maps to a constructor
// registered in a Registry.
package factory

import (
	"fmt"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/ratelimit"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
)

const (
	keyType          = "type"
	keyClassName     = "class_name"
	keyParameters    = "$parameters"
	keyParametersAlt = "parameters"
)

// Constructor creates the component described by n.
type Constructor func(b *Builder, n *Node) (any, error)

// Registry maps component kinds to their constructors.
type Registry struct {
	m            sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry containing every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, c := range builtins() {
		r.constructors[kind] = c
	}
	return r
}

// Register adds a constructor. Registering a kind twice is an error.
func (r *Registry) Register(kind string, c Constructor) error {
	if kind == "" || c == nil {
		return fmt.Errorf("invalid registration for kind %q", kind)
	}
	r.m.Lock()
	defer r.m.Unlock()
	if _, ok := r.constructors[kind]; ok {
		return fmt.Errorf("component kind %q is already registered", kind)
	}
	r.constructors[kind] = c
	return nil
}

func (r *Registry) Lookup(kind string) (Constructor, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	c, ok := r.constructors[kind]
	return c, ok
}

// Kinds returns the registered kinds in alphabetical order.
func (r *Registry) Kinds() []string {
	r.m.RLock()
	defer r.m.RUnlock()
	return slices.Sorted(maps.Keys(r.constructors))
}

// Node is a single manifest component being built.
type Node struct {
	// Path locates the node in the manifest, e.g.
	// streams[0].retriever.paginator.
	Path string
	Kind string
	// Fields holds the options of the node with the inherited parameters
	// filled in where the node does not set them.
	Fields types.Mapping
	// Params are the parameters in effect for the node.
	Params types.Mapping

	scope map[string]any
}

// Decode decodes the fields of n into out. Input is weakly typed, numbers
// given as strings and single values given for lists are accepted.
func (n *Node) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(n.Fields); err != nil {
		return failure.Config(n.Path, "invalid %s: %v", n.Kind, err)
	}
	return nil
}

// Has returns true if the field is set to a non nil value.
func (n *Node) Has(field string) bool {
	v, ok := n.Fields[field]
	return ok && v != nil
}

// Require returns a config error naming the first missing field.
func (n *Node) Require(fields ...string) error {
	for _, f := range fields {
		if !n.Has(f) {
			return failure.Config(n.join(f), "%s is missing required option %q", n.Kind, f)
		}
	}
	return nil
}

func (n *Node) join(field string) string {
	if n.Path == "" {
		return field
	}
	return n.Path + "." + field
}

// with returns a copy of n carrying an additional scoped value. Scoped
// values are visible to all nodes built below n.
func (n *Node) with(key string, value any) *Node {
	cp := *n
	cp.scope = make(map[string]any, len(n.scope)+1)
	maps.Copy(cp.scope, n.scope)
	cp.scope[key] = value
	return &cp
}

func (n *Node) value(key string) any {
	return n.scope[key]
}

// Builder builds components with a registry against a user config.
type Builder struct {
	registry   *Registry
	config     types.Config
	baseDir    string
	httpClient *http.Client
	logger     zerolog.Logger
	budget     *ratelimit.APIBudget
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistry replaces the default registry.
func WithRegistry(r *Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithBaseDir sets the directory relative schema files are resolved in.
func WithBaseDir(dir string) Option {
	return func(b *Builder) { b.baseDir = dir }
}

func WithHTTPClient(c *http.Client) Option {
	return func(b *Builder) { b.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func NewBuilder(config types.Config, opts ...Option) *Builder {
	b := &Builder{
		config:     config,
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = DefaultRegistry()
	}
	return b
}

// Config returns the user config components are built against.
func (b *Builder) Config() types.Config { return b.config }

// Build builds a top level component. kind is used when the node does not
// declare its type.
func (b *Builder) Build(path string, raw any, kind string) (any, error) {
	return b.build(path, raw, kind, nil)
}

func (b *Builder) build(path string, raw any, defaultKind string, parent *Node) (any, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, failure.Config(path, "expected a component, got %T", raw)
	}
	kind, err := b.kind(path, fields, defaultKind)
	if err != nil {
		return nil, err
	}
	c, _ := b.registry.Lookup(kind)

	n := &Node{Path: path, Kind: kind}
	if parent != nil {
		n.scope = parent.scope
	}
	n.Params, err = parameters(path, parent, fields)
	if err != nil {
		return nil, err
	}
	n.Fields = make(types.Mapping, len(fields)+len(n.Params))
	for k, v := range fields {
		switch k {
		case keyType, keyClassName, keyParameters, keyParametersAlt:
			continue
		}
		n.Fields[k] = v
	}
	for k, v := range n.Params {
		if cur, ok := n.Fields[k]; !ok || cur == nil {
			n.Fields[k] = v
		}
	}
	return c(b, n)
}

func (b *Builder) kind(path string, fields map[string]any, defaultKind string) (string, error) {
	var kind string
	switch {
	case fields[keyType] != nil:
		s, ok := fields[keyType].(string)
		if !ok {
			return "", failure.Config(path, "component type must be a string, got %T", fields[keyType])
		}
		kind = s
	case fields[keyClassName] != nil:
		s, ok := fields[keyClassName].(string)
		if !ok {
			return "", failure.Config(path, "class_name must be a string, got %T", fields[keyClassName])
		}
		kind = s[strings.LastIndex(s, ".")+1:]
	default:
		kind = defaultKind
	}
	if kind == "" {
		return "", failure.Config(path, "component has no type")
	}
	if _, ok := b.registry.Lookup(kind); !ok {
		return "", failure.Config(path, "unknown component type %q", kind)
	}
	return kind, nil
}

// parameters merges the parameters of the parent with the ones declared on
// the node, the node's own values win.
func parameters(path string, parent *Node, fields map[string]any) (types.Mapping, error) {
	out := types.Mapping{}
	if parent != nil {
		maps.Copy(out, parent.Params)
	}
	for _, key := range []string{keyParameters, keyParametersAlt} {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		own, ok := raw.(map[string]any)
		if !ok {
			return nil, failure.Config(path+"."+key, "parameters must be a mapping, got %T", raw)
		}
		maps.Copy(out, own)
	}
	return out, nil
}

// Field builds the component at field of n. It returns false if the field
// is not set.
func Field[T any](b *Builder, n *Node, field, defaultKind string) (T, bool, error) {
	var zero T
	raw, ok := n.Fields[field]
	if !ok || raw == nil {
		return zero, false, nil
	}
	v, err := as[T](b, n.join(field), raw, defaultKind, n)
	return v, err == nil, err
}

// RequiredField is like Field but fails if the field is not set.
func RequiredField[T any](b *Builder, n *Node, field, defaultKind string) (T, error) {
	v, ok, err := Field[T](b, n, field, defaultKind)
	if err == nil && !ok {
		err = n.Require(field)
	}
	return v, err
}

// List builds every component of the list at field of n.
func List[T any](b *Builder, n *Node, field, defaultKind string) ([]T, error) {
	raw, ok := n.Fields[field]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, failure.Config(n.join(field), "expected a list, got %T", raw)
	}
	out := make([]T, 0, len(items))
	for i, item := range items {
		v, err := as[T](b, fmt.Sprintf("%s[%d]", n.join(field), i), item, defaultKind, n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func as[T any](b *Builder, path string, raw any, defaultKind string, parent *Node) (T, error) {
	var zero T
	v, err := b.build(path, raw, defaultKind, parent)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, failure.Config(path, "component of type %T can not be used here, expected %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}
