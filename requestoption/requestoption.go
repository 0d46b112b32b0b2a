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

// Package requestoption describes where values such as page tokens, page
// sizes or slice boundaries are injected into an outgoing request.
package requestoption

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Type is the part of the request an option is injected into.
type Type string

const (
	RequestParameter Type = "request_parameter"
	Header           Type = "header"
	BodyData         Type = "body_data"
	BodyJSON         Type = "body_json"
	Path             Type = "path"
)

func (t Type) valid() bool {
	switch t {
	case RequestParameter, Header, BodyData, BodyJSON, Path:
		return true
	}
	return false
}

// RequestOption injects a single value into a request.
type RequestOption struct {
	InjectInto Type
	fieldName  *interpolation.String
	params     types.Mapping
	config     types.Config
}

// New validates and returns a request option. Path injection is positional
// and must not name a field, every other type must name one.
func New(injectInto Type, fieldName string, config types.Config, params types.Mapping) (*RequestOption, error) {
	if !injectInto.valid() {
		return nil, failure.Config("", "invalid inject_into %q", injectInto)
	}
	if injectInto == Path && fieldName != "" {
		return nil, failure.Config("", "field_name %q is not allowed for path injection", fieldName)
	}
	if injectInto != Path && fieldName == "" {
		return nil, failure.Config("", "field_name is required when injecting into %s", injectInto)
	}
	fn, err := interpolation.NewString(fieldName)
	if err != nil {
		return nil, err
	}
	return &RequestOption{
		InjectInto: injectInto,
		fieldName:  fn,
		params:     params,
		config:     config,
	}, nil
}

// NewPath returns a request option that replaces the request path.
func NewPath() *RequestOption {
	return &RequestOption{InjectInto: Path, fieldName: interpolation.MustString("")}
}

// FieldName evaluates the name of the injected field.
func (o *RequestOption) FieldName() (string, error) {
	return o.fieldName.Eval(interpolation.NewContext(o.config, o.params))
}

// IsPath returns true if the option replaces the request path.
func (o *RequestOption) IsPath() bool {
	return o != nil && o.InjectInto == Path
}

// Inject writes value into opts according to the option type.
func (o *RequestOption) Inject(opts *Options, value any) error {
	if o == nil || value == nil {
		return nil
	}
	if o.InjectInto == Path {
		opts.Path = fmt.Sprint(value)
		return nil
	}
	name, err := o.FieldName()
	if err != nil {
		return err
	}
	switch o.InjectInto {
	case RequestParameter:
		opts.setParam(name, value)
	case Header:
		opts.setHeader(name, fmt.Sprint(value))
	case BodyData:
		opts.setBodyData(name, value)
	case BodyJSON:
		opts.setBodyJSON(name, value)
	}
	return nil
}

// Options are the request parts contributed by a component.
type Options struct {
	Params   types.Mapping
	Headers  map[string]string
	BodyData types.Mapping
	BodyJSON types.Mapping
	// Path replaces the requester path when not empty.
	Path string
}

func (o *Options) setParam(k string, v any) {
	if o.Params == nil {
		o.Params = types.Mapping{}
	}
	o.Params[k] = v
}

func (o *Options) setHeader(k, v string) {
	if o.Headers == nil {
		o.Headers = map[string]string{}
	}
	o.Headers[k] = v
}

func (o *Options) setBodyData(k string, v any) {
	if o.BodyData == nil {
		o.BodyData = types.Mapping{}
	}
	o.BodyData[k] = v
}

func (o *Options) setBodyJSON(k string, v any) {
	if o.BodyJSON == nil {
		o.BodyJSON = types.Mapping{}
	}
	o.BodyJSON[k] = v
}

// IsEmpty returns true if no part is set.
func (o Options) IsEmpty() bool {
	return len(o.Params) == 0 && len(o.Headers) == 0 && len(o.BodyData) == 0 &&
		len(o.BodyJSON) == 0 && o.Path == ""
}

// Merge adds other into o. A key that is set by both with different values
// is an error.
func (o *Options) Merge(other Options) error {
	var err error
	if o.Params, err = mergeMapping("request parameter", o.Params, other.Params); err != nil {
		return err
	}
	if o.BodyData, err = mergeMapping("body data", o.BodyData, other.BodyData); err != nil {
		return err
	}
	if o.BodyJSON, err = mergeMapping("body json", o.BodyJSON, other.BodyJSON); err != nil {
		return err
	}
	for k, v := range other.Headers {
		if existing, ok := o.Headers[k]; ok && existing != v {
			return failure.Config("", "header %q is set more than once with different values", k)
		}
		o.setHeader(k, v)
	}
	if other.Path != "" {
		if o.Path != "" && o.Path != other.Path {
			return failure.Config("", "request path is set more than once (%q and %q)", o.Path, other.Path)
		}
		o.Path = other.Path
	}
	return nil
}

func mergeMapping(kind string, dst, src types.Mapping) (types.Mapping, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if dst == nil {
		dst = make(types.Mapping, len(src))
	}
	for k, v := range src {
		if existing, ok := dst[k]; ok && !reflect.DeepEqual(existing, v) {
			return nil, failure.Config("", "%s %q is set more than once with different values", kind, k)
		}
		dst[k] = v
	}
	return dst, nil
}

// Clone returns a deep enough copy of o to be modified independently.
func (o Options) Clone() Options {
	return Options{
		Params:   maps.Clone(o.Params),
		Headers:  maps.Clone(o.Headers),
		BodyData: maps.Clone(o.BodyData),
		BodyJSON: maps.Clone(o.BodyJSON),
		Path:     o.Path,
	}
}

// Provider is implemented by components that contribute to requests.
type Provider interface {
	RequestOptions(ctx context.Context, state types.StreamState, slice types.StreamSlice, token types.PageToken) (Options, error)
}
