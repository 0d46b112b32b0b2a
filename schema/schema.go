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

// Package schema provides the JSON schemas advertised for streams during
// discovery.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
	"github.com/mitchellh/copystructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

// Loader returns the JSON schema of a stream.
type Loader interface {
	JSONSchema(ctx context.Context) (types.Mapping, error)
}

// DefaultLoader is used by streams that do not declare a schema. It
// describes an object with arbitrary properties.
type DefaultLoader struct{}

func (DefaultLoader) JSONSchema(context.Context) (types.Mapping, error) {
	return types.Mapping{
		"$schema":              draft07,
		"type":                 "object",
		"properties":           types.Mapping{},
		"additionalProperties": true,
	}, nil
}

// InlineLoader returns a schema embedded in the manifest.
type InlineLoader struct {
	schema types.Mapping
}

// NewInlineLoader returns a loader for the given schema. The schema is
// compiled once so that an invalid schema is reported while building the
// source.
func NewInlineLoader(schema types.Mapping) (*InlineLoader, error) {
	if schema == nil {
		schema = types.Mapping{}
	}
	if _, err := Compile("inline.json", schema); err != nil {
		return nil, err
	}
	return &InlineLoader{schema: schema}, nil
}

func (l *InlineLoader) JSONSchema(context.Context) (types.Mapping, error) {
	return deepCopy(l.schema)
}

// Compile compiles schema and returns a validator for it.
func Compile(name string, schema types.Mapping) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, failure.Config("", "failed to encode JSON schema %s: %v", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(string(raw))); err != nil {
		return nil, failure.Config("", "invalid JSON schema %s: %v", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, failure.Config("", "invalid JSON schema %s: %v", name, err)
	}
	return s, nil
}

// Validate checks value against a compiled schema. Value is normalized
// through JSON first so that Go integers and nested mappings validate the
// same way decoded JSON does.
func Validate(s *jsonschema.Schema, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return failure.Config("", "%v", err)
	}
	return nil
}

func deepCopy(m types.Mapping) (types.Mapping, error) {
	cp, err := copystructure.Copy(m)
	if err != nil {
		return nil, fmt.Errorf("failed to copy schema: %w", err)
	}
	return cp.(types.Mapping), nil //nolint:forcetypeassert // copy keeps the type
}
