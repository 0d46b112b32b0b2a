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

// Package transformation modifies records after they are selected.
package transformation

import (
	"fmt"
	"strconv"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Transformation modifies a record in place.
type Transformation interface {
	Transform(record types.Mapping, state types.StreamState, slice types.StreamSlice) error
}

// AddedField describes a field added by AddFields.
type AddedField struct {
	Path  []string
	Value string
	// ValueType optionally coerces the evaluated value: string, number,
	// integer or boolean.
	ValueType string
}

type addedField struct {
	path      []string
	value     *interpolation.String
	valueType string
}

// AddFields sets fields to interpolated values. The record being
// transformed is available to the templates as "record".
type AddFields struct {
	fields []addedField
	ctx    interpolation.Context
}

func NewAddFields(fields []AddedField, config types.Config, params types.Mapping) (*AddFields, error) {
	a := &AddFields{ctx: interpolation.NewContext(config, params)}
	for i, f := range fields {
		if len(f.Path) == 0 {
			return nil, failure.Config(fmt.Sprintf("fields[%d]", i), "path must not be empty")
		}
		switch f.ValueType {
		case "", "string", "number", "integer", "boolean":
		default:
			return nil, failure.Config(fmt.Sprintf("fields[%d]", i), "unsupported value_type %q", f.ValueType)
		}
		v, err := interpolation.NewString(f.Value)
		if err != nil {
			return nil, err
		}
		a.fields = append(a.fields, addedField{path: f.Path, value: v, valueType: f.ValueType})
	}
	return a, nil
}

func (a *AddFields) Transform(record types.Mapping, state types.StreamState, slice types.StreamSlice) error {
	ctx := a.ctx.WithSlice(slice).WithState(state, nil).With(interpolation.KeyRecord, record)
	for _, f := range a.fields {
		v, err := f.value.EvalValue(ctx)
		if err != nil {
			return fmt.Errorf("failed to evaluate value of field %v: %w", f.path, err)
		}
		v, err = coerce(v, f.valueType)
		if err != nil {
			return fmt.Errorf("field %v: %w", f.path, err)
		}
		dpath.Set(record, f.path, v)
	}
	return nil
}

func coerce(v any, valueType string) (any, error) {
	if v == nil || valueType == "" {
		return v, nil
	}
	s := fmt.Sprint(v)
	switch valueType {
	case "string":
		return s, nil
	case "number":
		return strconv.ParseFloat(s, 64)
	case "integer":
		return strconv.ParseInt(s, 10, 64)
	case "boolean":
		return strconv.ParseBool(s)
	}
	return v, nil
}

// RemoveFields deletes the fields matching the field pointers. Pointers can
// contain "*" wildcards. If a condition is configured, a field is only
// removed when the condition evaluates to true for the record.
type RemoveFields struct {
	pointers  [][]string
	condition *interpolation.Boolean
	ctx       interpolation.Context
}

func NewRemoveFields(pointers [][]string, condition string, config types.Config, params types.Mapping) (*RemoveFields, error) {
	c, err := interpolation.NewBoolean(condition)
	if err != nil {
		return nil, err
	}
	return &RemoveFields{
		pointers:  pointers,
		condition: c,
		ctx:       interpolation.NewContext(config, params),
	}, nil
}

func (r *RemoveFields) Transform(record types.Mapping, state types.StreamState, slice types.StreamSlice) error {
	ok, err := r.condition.Eval(r.ctx.WithSlice(slice).WithState(state, nil).With(interpolation.KeyRecord, record))
	if err != nil {
		return fmt.Errorf("failed to evaluate remove_fields condition: %w", err)
	}
	if !ok {
		return nil
	}
	for _, p := range r.pointers {
		dpath.Delete(record, p)
	}
	return nil
}
