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

// Package extractor pulls records out of decoded responses.
package extractor

import (
	"fmt"
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/jmespath/go-jmespath"
	"github.com/rs/zerolog"
)

// Extractor returns the record mappings contained in a response.
type Extractor interface {
	ExtractRecords(resp *http.Response) iter.Seq2[types.Mapping, error]
}

// MissingField controls what the path extractor does when the field
// addressed by the path is null or missing.
type MissingField string

const (
	// MissingFieldEmpty yields no records.
	MissingFieldEmpty MissingField = "empty"
	// MissingFieldRecord yields the decoded body itself.
	MissingFieldRecord MissingField = "record"
)

// DpathExtractor extracts records located at a field path. A list found at
// the path yields one record per element, a mapping yields a single record.
type DpathExtractor struct {
	fieldPath []*interpolation.String
	decoder   decoder.Decoder
	missing   MissingField
	ctx       interpolation.Context
}

func NewDpathExtractor(
	fieldPath []string,
	dec decoder.Decoder,
	missing MissingField,
	config types.Config,
	params types.Mapping,
) (*DpathExtractor, error) {
	switch missing {
	case "":
		missing = MissingFieldEmpty
	case MissingFieldEmpty, MissingFieldRecord:
	default:
		return nil, failure.Config("", "invalid missing field behavior %q", missing)
	}
	if dec == nil {
		dec = decoder.JSONDecoder{}
	}
	e := &DpathExtractor{
		decoder: dec,
		missing: missing,
		ctx:     interpolation.NewContext(config, params),
	}
	for _, p := range fieldPath {
		s, err := interpolation.NewString(p)
		if err != nil {
			return nil, err
		}
		e.fieldPath = append(e.fieldPath, s)
	}
	return e, nil
}

func (e *DpathExtractor) path() ([]string, error) {
	out := make([]string, len(e.fieldPath))
	for i, s := range e.fieldPath {
		seg, err := s.Eval(e.ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate field path: %w", err)
		}
		out[i] = seg
	}
	return out, nil
}

func (e *DpathExtractor) ExtractRecords(resp *http.Response) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		path, err := e.path()
		if err != nil {
			yield(nil, err)
			return
		}
		for body, err := range e.decoder.Decode(resp) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !e.extract(body, path, yield) {
				return
			}
		}
	}
}

func (e *DpathExtractor) extract(body types.Mapping, path []string, yield func(types.Mapping, error) bool) bool {
	if len(path) == 0 {
		if len(body) == 0 {
			return true
		}
		return yield(body, nil)
	}

	if dpath.HasWildcard(path) {
		for _, v := range dpath.Values(body, path) {
			if !yieldValue(v, yield) {
				return false
			}
		}
		return true
	}

	v, ok := dpath.Get(body, path)
	if !ok || v == nil {
		if e.missing == MissingFieldRecord && len(body) > 0 {
			return yield(body, nil)
		}
		return true
	}
	return yieldValue(v, yield)
}

// yieldValue yields v if it is a mapping or every mapping element if it is
// a list. Other values are not records and are skipped.
func yieldValue(v any, yield func(types.Mapping, error) bool) bool {
	switch v := v.(type) {
	case map[string]any:
		if len(v) == 0 {
			return true
		}
		return yield(v, nil)
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if !yield(m, nil) {
				return false
			}
		}
	}
	return true
}

// JMESPathExtractor applies a JMESPath expression to the decoded body. A
// failing or non matching expression yields no records.
type JMESPathExtractor struct {
	expr    *jmespath.JMESPath
	decoder decoder.Decoder
	logger  zerolog.Logger
}

func NewJMESPathExtractor(expression string, dec decoder.Decoder, logger zerolog.Logger) (*JMESPathExtractor, error) {
	expr, err := jmespath.Compile(expression)
	if err != nil {
		return nil, failure.Config("", "invalid JMESPath expression %q: %w", expression, err)
	}
	if dec == nil {
		dec = decoder.JSONDecoder{}
	}
	return &JMESPathExtractor{expr: expr, decoder: dec, logger: logger}, nil
}

func (e *JMESPathExtractor) ExtractRecords(resp *http.Response) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		for body, err := range e.decoder.Decode(resp) {
			if err != nil {
				yield(nil, err)
				return
			}
			res, err := e.expr.Search(body)
			if err != nil {
				e.logger.Debug().Err(err).Msg("JMESPath expression did not match response")
				continue
			}
			if !yieldValue(res, yield) {
				return
			}
		}
	}
}
