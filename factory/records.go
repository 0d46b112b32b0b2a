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
	"github.com/conduitio/conduit-connector-declarative/cursor"
	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/paginator"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/schema"
	"github.com/conduitio/conduit-connector-declarative/transformation"
)

// decoderOf returns the decoder declared by the closest retriever.
func decoderOf(n *Node) decoder.Decoder {
	if d, ok := n.value(scopeDecoder).(decoder.Decoder); ok {
		return d
	}
	return decoder.JSONDecoder{}
}

func buildRecordSelector(b *Builder, n *Node) (any, error) {
	var m struct {
		Name string `mapstructure:"name"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	ext, err := RequiredField[extractor.Extractor](b, n, "extractor", KindDpathExtractor)
	if err != nil {
		return nil, err
	}
	filter, _, err := Field[*extractor.RecordFilter](b, n, "record_filter", KindRecordFilter)
	if err != nil {
		return nil, err
	}
	s := &extractor.RecordSelector{
		Name:      m.Name,
		Extractor: ext,
		Filter:    filter,
	}
	s.Transformations, _ = n.value(scopeTransformations).([]transformation.Transformation)
	if dt, ok := n.value(scopeDatetimeCursor).(*cursor.DatetimeBasedCursor); ok && dt.IsClientSideIncremental() {
		s.SyncFilter, _ = n.value(scopeCursor).(cursor.Cursor)
	}
	return s, nil
}

func buildDpathExtractor(b *Builder, n *Node) (any, error) {
	var m struct {
		MissingField string `mapstructure:"missing_field"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	dec, ok, err := Field[decoder.Decoder](b, n, "decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	if !ok {
		dec = decoderOf(n)
	}
	e, err := extractor.NewDpathExtractor(path(n.Fields["field_path"]), dec, extractor.MissingField(m.MissingField), b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return e, nil
}

func buildJMESPathExtractor(b *Builder, n *Node) (any, error) {
	var m struct {
		Expression string `mapstructure:"expression"`
	}
	if err := n.Require("expression"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	e, err := extractor.NewJMESPathExtractor(m.Expression, decoderOf(n), b.logger)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return e, nil
}

func buildRecordFilter(b *Builder, n *Node) (any, error) {
	var m struct {
		Condition string `mapstructure:"condition"`
	}
	if err := n.Require("condition"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	f, err := extractor.NewRecordFilter(m.Condition, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return f, nil
}

// -- Transformations ----------------------------------------------------------

func buildAddFields(b *Builder, n *Node) (any, error) {
	fields, err := List[transformation.AddedField](b, n, "fields", KindAddedFieldDefinition)
	if err != nil {
		return nil, err
	}
	t, err := transformation.NewAddFields(fields, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return t, nil
}

func buildAddedFieldDefinition(_ *Builder, n *Node) (any, error) {
	var m struct {
		Value     string `mapstructure:"value"`
		ValueType string `mapstructure:"value_type"`
	}
	if err := n.Require("path", "value"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	return transformation.AddedField{
		Path:      path(n.Fields["path"]),
		Value:     m.Value,
		ValueType: m.ValueType,
	}, nil
}

func buildRemoveFields(b *Builder, n *Node) (any, error) {
	var m struct {
		FieldPointers [][]string `mapstructure:"field_pointers"`
		Condition     string     `mapstructure:"condition"`
	}
	if err := n.Require("field_pointers"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	t, err := transformation.NewRemoveFields(m.FieldPointers, m.Condition, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return t, nil
}

// -- Pagination ---------------------------------------------------------------

func buildDefaultPaginator(b *Builder, n *Node) (any, error) {
	var m struct {
		URLBase string `mapstructure:"url_base"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	strategy, err := RequiredField[paginator.Strategy](b, n, "pagination_strategy", "")
	if err != nil {
		return nil, err
	}
	if dt, ok := n.value(scopeDatetimeCursor).(*cursor.DatetimeBasedCursor); ok && dt.IsDataFeed() {
		if c, ok := n.value(scopeCursor).(cursor.Cursor); ok {
			strategy = paginator.NewStopConditionDecorator(strategy, cursor.StopCondition{Cursor: c})
		}
	}
	tokenOpt, _, err := Field[*requestoption.RequestOption](b, n, "page_token_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	sizeOpt, _, err := Field[*requestoption.RequestOption](b, n, "page_size_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	urlBase, err := b.eval(n, "url_base", m.URLBase)
	if err != nil {
		return nil, err
	}
	p, err := paginator.NewDefaultPaginator(strategy, tokenOpt, sizeOpt, urlBase)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return p, nil
}

func buildNoPagination(*Builder, *Node) (any, error) {
	return paginator.NoPagination{}, nil
}

func pageSize(b *Builder, n *Node) (int, error) {
	var m struct {
		PageSize string `mapstructure:"page_size"`
	}
	if err := n.Decode(&m); err != nil {
		return 0, err
	}
	size, err := paginator.EvalPageSize(m.PageSize, b.config, n.Params)
	return size, failure.WithPath(n.join("page_size"), err)
}

func buildOffsetIncrement(b *Builder, n *Node) (any, error) {
	var m struct {
		InjectOnFirstRequest bool `mapstructure:"inject_on_first_request"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	size, err := pageSize(b, n)
	if err != nil {
		return nil, err
	}
	return paginator.NewOffsetIncrement(size, m.InjectOnFirstRequest), nil
}

func buildPageIncrement(b *Builder, n *Node) (any, error) {
	var m struct {
		StartFromPage        int  `mapstructure:"start_from_page"`
		InjectOnFirstRequest bool `mapstructure:"inject_on_first_request"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	size, err := pageSize(b, n)
	if err != nil {
		return nil, err
	}
	return paginator.NewPageIncrement(size, m.StartFromPage, m.InjectOnFirstRequest), nil
}

func buildCursorPagination(b *Builder, n *Node) (any, error) {
	var m struct {
		CursorValue   string `mapstructure:"cursor_value"`
		StopCondition string `mapstructure:"stop_condition"`
	}
	if err := n.Require("cursor_value"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	size, err := pageSize(b, n)
	if err != nil {
		return nil, err
	}
	s, err := paginator.NewCursorPagination(m.CursorValue, m.StopCondition, size, decoderOf(n), b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return s, nil
}

// -- Decoders -----------------------------------------------------------------

func buildJSONDecoder(*Builder, *Node) (any, error) {
	return decoder.JSONDecoder{}, nil
}

func buildJSONLDecoder(*Builder, *Node) (any, error) {
	return decoder.JSONLDecoder{}, nil
}

func buildCSVDecoder(_ *Builder, n *Node) (any, error) {
	var m struct {
		Delimiter string   `mapstructure:"delimiter"`
		Encoding  string   `mapstructure:"encoding"`
		Headers   []string `mapstructure:"headers"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	d, err := decoder.NewCSVDecoder(m.Delimiter, m.Encoding, m.Headers)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return d, nil
}

func buildXMLDecoder(b *Builder, _ *Node) (any, error) {
	return decoder.XMLDecoder{Logger: b.logger}, nil
}

func buildGzipDecoder(b *Builder, n *Node) (any, error) {
	inner, ok, err := Field[decoder.Decoder](b, n, "decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	if !ok {
		inner = decoder.JSONDecoder{}
	}
	return decoder.GzipDecoder{Inner: inner}, nil
}

// -- Schema loaders -----------------------------------------------------------

func buildInlineSchemaLoader(_ *Builder, n *Node) (any, error) {
	var m struct {
		Schema map[string]any `mapstructure:"schema"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	l, err := schema.NewInlineLoader(m.Schema)
	if err != nil {
		return nil, failure.WithPath(n.join("schema"), err)
	}
	return l, nil
}

func buildJSONFileSchemaLoader(b *Builder, n *Node) (any, error) {
	var m struct {
		FilePath string `mapstructure:"file_path"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	l, err := schema.NewJSONFileLoader(m.FilePath, b.baseDir, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.join("file_path"), err)
	}
	return l, nil
}
