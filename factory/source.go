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

package factory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/manifest"
	"github.com/conduitio/conduit-connector-declarative/ratelimit"
	"github.com/conduitio/conduit-connector-declarative/schema"
	"github.com/conduitio/conduit-connector-declarative/stream"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/multierr"
)

const (
	keyAPIBudget        = "api_budget"
	keyConcurrencyLevel = "concurrency_level"
)

// Spec describes the configuration a connector accepts.
type Spec struct {
	ConnectionSpecification types.Mapping
	DocumentationURL        string
	AdvancedAuth            types.Mapping

	schema *jsonschema.Schema
}

// ValidateConfig checks config against the connection specification.
func (s *Spec) ValidateConfig(config types.Config) error {
	if s == nil || s.schema == nil {
		return nil
	}
	if config == nil {
		config = types.Config{}
	}
	return schema.Validate(s.schema, config)
}

func buildSpec(_ *Builder, n *Node) (any, error) {
	var m struct {
		ConnectionSpecification map[string]any `mapstructure:"connection_specification"`
		DocumentationURL        string         `mapstructure:"documentation_url"`
		AdvancedAuth            map[string]any `mapstructure:"advanced_auth"`
	}
	if err := n.Require("connection_specification"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	s, err := schema.Compile("connection_specification.json", m.ConnectionSpecification)
	if err != nil {
		return nil, failure.WithPath(n.join("connection_specification"), err)
	}
	return &Spec{
		ConnectionSpecification: m.ConnectionSpecification,
		DocumentationURL:        m.DocumentationURL,
		AdvancedAuth:            m.AdvancedAuth,
		schema:                  s,
	}, nil
}

// Source holds the components built from a manifest.
type Source struct {
	Version string
	Streams []*stream.DeclarativeStream
	Check   *stream.CheckStream
	// Spec is nil if the manifest does not declare one.
	Spec   *Spec
	Budget *ratelimit.APIBudget
	// Concurrency is the number of partitions read in parallel, 0 if the
	// manifest does not set it.
	Concurrency int
}

// Stream returns the stream with the given name.
func (s *Source) Stream(name string) (*stream.DeclarativeStream, bool) {
	for _, st := range s.Streams {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

// ParseSpec builds only the spec of a manifest, it does not need a config.
func ParseSpec(m types.Mapping, opts ...Option) (*Spec, error) {
	raw, ok := m[manifest.KeySpec]
	if !ok || raw == nil {
		return nil, nil
	}
	s, err := as[*Spec](NewBuilder(nil, opts...), manifest.KeySpec, raw, KindSpec, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// BuildSource builds all components of a resolved manifest. Errors of
// independent streams are collected and returned together.
func BuildSource(ctx context.Context, m types.Mapping, config types.Config, opts ...Option) (*Source, error) {
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	b := NewBuilder(config, append([]Option{WithLogger(*zerolog.Ctx(ctx))}, opts...)...)
	src := &Source{}
	src.Version, _ = m[manifest.KeyVersion].(string)

	if raw, ok := m[manifest.KeySpec]; ok && raw != nil {
		s, err := as[*Spec](b, manifest.KeySpec, raw, KindSpec, nil)
		if err != nil {
			return nil, err
		}
		if err := s.ValidateConfig(config); err != nil {
			return nil, err
		}
		src.Spec = s
	}

	if raw, ok := m[keyAPIBudget]; ok && raw != nil {
		budget, err := as[*ratelimit.APIBudget](b, keyAPIBudget, raw, KindHTTPAPIBudget, nil)
		if err != nil {
			return nil, err
		}
		b.budget = budget
		src.Budget = budget
	}

	concurrency, err := concurrencyLevel(b, m[keyConcurrencyLevel])
	if err != nil {
		return nil, err
	}
	src.Concurrency = concurrency

	var errs error
	seen := make(map[string]bool)
	for i, raw := range m[manifest.KeyStreams].([]any) {
		p := fmt.Sprintf("%s[%d]", manifest.KeyStreams, i)
		s, err := as[*stream.DeclarativeStream](b, p, raw, KindDeclarativeStream, nil)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen[s.Name()] {
			errs = multierr.Append(errs, failure.Config(p, "duplicate stream name %q", s.Name()))
			continue
		}
		seen[s.Name()] = true
		src.Streams = append(src.Streams, s)
	}
	if errs != nil {
		return nil, errs
	}

	check, err := as[*stream.CheckStream](b, manifest.KeyCheck, m[manifest.KeyCheck], KindCheckStream, nil)
	if err != nil {
		return nil, err
	}
	for _, name := range check.StreamNames {
		if !seen[name] {
			return nil, failure.Config(manifest.KeyCheck+".stream_names", "stream %q is not defined in the manifest", name)
		}
	}
	src.Check = check
	return src, nil
}

// concurrencyLevel reads default_concurrency, capped by max_concurrency.
func concurrencyLevel(b *Builder, raw any) (int, error) {
	if raw == nil {
		return 0, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, failure.Config(keyConcurrencyLevel, "expected a mapping, got %T", raw)
	}
	ctx := interpolation.NewContext(b.config, nil)
	number := func(field string) (int, error) {
		v, ok := m[field]
		if !ok || v == nil {
			return 0, nil
		}
		s, err := interpolation.NewString(fmt.Sprint(v))
		if err != nil {
			return 0, failure.WithPath(keyConcurrencyLevel+"."+field, err)
		}
		out, err := s.Eval(ctx)
		if err != nil {
			return 0, failure.WithPath(keyConcurrencyLevel+"."+field, err)
		}
		n, err := strconv.Atoi(out)
		if err != nil || n < 0 {
			return 0, failure.Config(keyConcurrencyLevel+"."+field, "expected a positive integer, got %q", out)
		}
		return n, nil
	}
	def, err := number("default_concurrency")
	if err != nil {
		return 0, err
	}
	maxC, err := number("max_concurrency")
	if err != nil {
		return 0, err
	}
	if maxC > 0 && def > maxC {
		def = maxC
	}
	return def, nil
}
