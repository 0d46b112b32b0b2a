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
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/conduitio/conduit-connector-declarative/async"
	"github.com/conduitio/conduit-connector-declarative/cursor"
	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/conduitio/conduit-connector-declarative/decoder"
	"github.com/conduitio/conduit-connector-declarative/extractor"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/paginator"
	"github.com/conduitio/conduit-connector-declarative/requester"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/retriever"
	"github.com/conduitio/conduit-connector-declarative/schema"
	"github.com/conduitio/conduit-connector-declarative/slicer"
	"github.com/conduitio/conduit-connector-declarative/stream"
	"github.com/conduitio/conduit-connector-declarative/transformation"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// Scoped values handed from a stream to the components built below it.
const (
	scopeDecoder         = "decoder"
	scopeTransformations = "transformations"
	scopeDatetimeCursor  = "datetime_cursor"
	scopeCursorFactory   = "cursor_factory"
	scopeCursor          = "cursor"
	scopeDatetimeFormat  = "datetime_format"
)

func buildDeclarativeStream(b *Builder, n *Node) (any, error) {
	// components of an enclosing stream, e.g. the child of a parent
	// stream, must not leak into this one
	n = &Node{Path: n.Path, Kind: n.Kind, Fields: n.Fields, Params: n.Params}

	var m struct {
		Name string `mapstructure:"name"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, failure.Config(n.join("name"), "stream name is required")
	}
	if _, ok := n.Params["name"]; !ok {
		params := maps.Clone(n.Params)
		if params == nil {
			params = types.Mapping{}
		}
		params["name"] = m.Name
		n.Params = params
	}

	transformations, err := List[transformation.Transformation](b, n, "transformations", "")
	if err != nil {
		return nil, err
	}
	child := n.with(scopeTransformations, transformations)

	var cursorField string
	if n.Has("incremental_sync") {
		dt, err := RequiredField[*cursor.DatetimeBasedCursor](b, n, "incremental_sync", KindDatetimeBasedCursor)
		if err != nil {
			return nil, err
		}
		cursorField = dt.CursorField()
		factory := cursor.Factory(func() (cursor.Cursor, error) {
			c, err := RequiredField[*cursor.DatetimeBasedCursor](b, n, "incremental_sync", KindDatetimeBasedCursor)
			if err != nil {
				return nil, err
			}
			return c, nil
		})
		child = child.with(scopeDatetimeCursor, dt).with(scopeCursorFactory, factory)
	}

	ret, err := RequiredField[retriever.Retriever](b, child, "retriever", KindSimpleRetriever)
	if err != nil {
		return nil, err
	}
	loader, ok, err := Field[schema.Loader](b, n, "schema_loader", KindJSONFileSchemaLoader)
	if err != nil {
		return nil, err
	}
	if !ok {
		loader = schema.DefaultLoader{}
	}

	s, err := stream.New(stream.Config{
		Name:         m.Name,
		PrimaryKey:   primaryKey(n.Fields["primary_key"]),
		Retriever:    ret,
		SchemaLoader: loader,
		CursorField:  cursorField,
	})
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return s, nil
}

// primaryKey accepts a single field, a list of fields or a list of field
// paths. Paths are joined with dots.
func primaryKey(v any) []string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if p, ok := item.([]any); ok {
				out = append(out, strings.Join(path(p), "."))
				continue
			}
			out = append(out, path([]any{item})[0])
		}
		return out
	}
	return nil
}

func buildSimpleRetriever(b *Builder, n *Node) (any, error) {
	var m struct {
		Name                 string `mapstructure:"name"`
		IgnoreSlicerOnPaging bool   `mapstructure:"ignore_stream_slicer_parameters_on_paginated_requests"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	dec, ok, err := Field[decoder.Decoder](b, n, "decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	if !ok {
		dec = decoder.JSONDecoder{}
	}
	n = n.with(scopeDecoder, dec)

	req, err := RequiredField[requester.Requester](b, n, "requester", KindHTTPRequester)
	if err != nil {
		return nil, err
	}
	router, err := partitionRouter(b, n)
	if err != nil {
		return nil, err
	}
	cur, err := streamCursor(n, router)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		n = n.with(scopeCursor, cur)
	}
	sel, err := RequiredField[*extractor.RecordSelector](b, n, "record_selector", KindRecordSelector)
	if err != nil {
		return nil, err
	}

	cfg := retriever.SimpleConfig{
		Name:         m.Name,
		PrimaryKey:   primaryKey(n.Fields["primary_key"]),
		Requester:    req,
		Selector:     sel,
		StreamSlicer: router,
		Cursor:       cur,
		IgnoreStreamSlicerParametersOnPaginatedRequests: m.IgnoreSlicerOnPaging,
	}
	if n.Has("paginator") {
		// every slice gets its own paginator so that slices can be read
		// concurrently
		newPaginator := func() (paginator.Paginator, error) {
			return RequiredField[paginator.Paginator](b, n, "paginator", KindDefaultPaginator)
		}
		if _, err := newPaginator(); err != nil {
			return nil, err
		}
		cfg.NewPaginator = newPaginator
	}
	r, err := retriever.NewSimpleRetriever(cfg)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return r, nil
}

// partitionRouter builds the partition router of a retriever. A list of
// routers is combined into their cartesian product.
func partitionRouter(b *Builder, n *Node) (slicer.StreamSlicer, error) {
	field := "partition_router"
	if !n.Has(field) {
		field = "stream_slicer"
	}
	if _, ok := n.Fields[field].([]any); ok {
		routers, err := List[slicer.StreamSlicer](b, n, field, "")
		if err != nil {
			return nil, err
		}
		s, err := slicer.NewCartesianProductSlicer(routers...)
		if err != nil {
			return nil, failure.WithPath(n.join(field), err)
		}
		return s, nil
	}
	s, ok, err := Field[slicer.StreamSlicer](b, n, field, "")
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

// streamCursor returns the cursor of the enclosing stream. Combined with a
// partition router every partition gets its own cursor.
func streamCursor(n *Node, router slicer.StreamSlicer) (cursor.Cursor, error) {
	dt, ok := n.value(scopeDatetimeCursor).(*cursor.DatetimeBasedCursor)
	if !ok {
		return nil, nil
	}
	if router == nil {
		return dt, nil
	}
	if _, single := router.(slicer.SinglePartitionRouter); single {
		return dt, nil
	}
	factory, _ := n.value(scopeCursorFactory).(cursor.Factory)
	c, err := cursor.NewPerPartitionCursor(router, factory)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return c, nil
}

func buildAsyncRetriever(b *Builder, n *Node) (any, error) {
	var m struct {
		Name              string              `mapstructure:"name"`
		StatusMapping     map[string][]string `mapstructure:"status_mapping"`
		PollingJobTimeout string              `mapstructure:"polling_job_timeout"`
		PollingInterval   string              `mapstructure:"polling_interval"`
	}
	if err := n.Require("creation_requester", "polling_requester", "download_requester", "status_extractor", "status_mapping", "record_selector"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	dec, ok, err := Field[decoder.Decoder](b, n, "decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	if !ok {
		dec = decoder.JSONDecoder{}
	}
	n = n.with(scopeDecoder, dec)

	cfg := async.HTTPJobRepositoryConfig{
		StatusPath:         extractorPath(n, "status_extractor"),
		DownloadTargetPath: extractorPath(n, "download_target_extractor"),
		Decoder:            dec,
		StatusMapping:      make(map[async.Status][]string),
	}
	if cfg.Creation, err = RequiredField[*requester.HTTPRequester](b, n, "creation_requester", KindHTTPRequester); err != nil {
		return nil, err
	}
	if cfg.Polling, err = RequiredField[*requester.HTTPRequester](b, n, "polling_requester", KindHTTPRequester); err != nil {
		return nil, err
	}
	if cfg.Download, err = RequiredField[*requester.HTTPRequester](b, n, "download_requester", KindHTTPRequester); err != nil {
		return nil, err
	}
	if r, ok, err := Field[*requester.HTTPRequester](b, n, "abort_requester", KindHTTPRequester); err != nil {
		return nil, err
	} else if ok {
		cfg.Abort = r
	}
	if r, ok, err := Field[*requester.HTTPRequester](b, n, "delete_requester", KindHTTPRequester); err != nil {
		return nil, err
	} else if ok {
		cfg.Delete = r
	}

	downloadDec, ok, err := Field[decoder.Decoder](b, n, "download_decoder", KindJSONDecoder)
	if err != nil {
		return nil, err
	}
	if !ok {
		downloadDec = dec
	}
	ext, ok, err := Field[extractor.Extractor](b, n.with(scopeDecoder, downloadDec), "download_extractor", KindDpathExtractor)
	if err != nil {
		return nil, err
	}
	if !ok {
		if ext, err = extractor.NewDpathExtractor(nil, downloadDec, extractor.MissingFieldEmpty, b.config, n.Params); err != nil {
			return nil, failure.WithPath(n.Path, err)
		}
	}
	cfg.DownloadExtractor = ext

	for key, values := range m.StatusMapping {
		var s async.Status
		switch key {
		case "running":
			s = async.StatusRunning
		case "completed":
			s = async.StatusCompleted
		case "failed":
			s = async.StatusFailed
		case "timeout":
			s = async.StatusTimedOut
		default:
			return nil, failure.Config(n.join("status_mapping."+key), "unknown job status %q", key)
		}
		cfg.StatusMapping[s] = values
	}

	if m.PollingJobTimeout != "" {
		v, err := b.eval(n, "polling_job_timeout", m.PollingJobTimeout)
		if err != nil {
			return nil, err
		}
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return nil, failure.Config(n.join("polling_job_timeout"), "expected a positive number of minutes, got %q", v)
		}
		cfg.JobTimeout = time.Duration(minutes) * time.Minute
	}
	interval, err := b.seconds(n, "polling_interval", m.PollingInterval)
	if err != nil {
		return nil, err
	}

	repo, err := async.NewHTTPJobRepository(cfg)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	router, err := partitionRouter(b, n)
	if err != nil {
		return nil, err
	}
	sel, err := RequiredField[*extractor.RecordSelector](b, n, "record_selector", KindRecordSelector)
	if err != nil {
		return nil, err
	}
	r, err := retriever.NewAsyncRetriever(retriever.AsyncConfig{
		Name:            m.Name,
		Repository:      repo,
		Selector:        sel,
		StreamSlicer:    router,
		PollingInterval: interval,
	})
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return r, nil
}

// extractorPath returns the field path of a path extractor node.
func extractorPath(n *Node, field string) []string {
	raw, _ := n.Fields[field].(map[string]any)
	return path(raw["field_path"])
}

// -- Partition routers --------------------------------------------------------

func buildSinglePartitionRouter(*Builder, *Node) (any, error) {
	return slicer.SinglePartitionRouter{}, nil
}

func buildListPartitionRouter(b *Builder, n *Node) (any, error) {
	var m struct {
		CursorField string `mapstructure:"cursor_field"`
	}
	if err := n.Require("values", "cursor_field"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	opt, _, err := Field[*requestoption.RequestOption](b, n, "request_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	r, err := slicer.NewListPartitionRouter(n.Fields["values"], m.CursorField, opt, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return r, nil
}

func buildSubstreamPartitionRouter(b *Builder, n *Node) (any, error) {
	if err := n.Require("parent_stream_configs"); err != nil {
		return nil, err
	}
	parents, err := List[slicer.ParentStreamConfig](b, n, "parent_stream_configs", KindParentStreamConfig)
	if err != nil {
		return nil, err
	}
	r, err := slicer.NewSubstreamPartitionRouter(parents...)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return r, nil
}

func buildParentStreamConfig(b *Builder, n *Node) (any, error) {
	var m struct {
		ParentKey      string     `mapstructure:"parent_key"`
		PartitionField string     `mapstructure:"partition_field"`
		ExtraFields    [][]string `mapstructure:"extra_fields"`
	}
	if err := n.Require("stream", "parent_key", "partition_field"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	parent, err := RequiredField[*stream.DeclarativeStream](b, n, "stream", KindDeclarativeStream)
	if err != nil {
		return nil, err
	}
	opt, _, err := Field[*requestoption.RequestOption](b, n, "request_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	cfg, err := slicer.NewParentStreamConfig(parent, m.ParentKey, m.PartitionField, opt, m.ExtraFields, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return cfg, nil
}

func buildCartesianProductSlicer(b *Builder, n *Node) (any, error) {
	slicers, err := List[slicer.StreamSlicer](b, n, "stream_slicers", "")
	if err != nil {
		return nil, err
	}
	s, err := slicer.NewCartesianProductSlicer(slicers...)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return s, nil
}

// -- Incremental sync ---------------------------------------------------------

func buildDatetimeBasedCursor(b *Builder, n *Node) (any, error) {
	var m struct {
		Step                    string   `mapstructure:"step"`
		CursorGranularity       string   `mapstructure:"cursor_granularity"`
		CursorField             string   `mapstructure:"cursor_field"`
		DatetimeFormat          string   `mapstructure:"datetime_format"`
		CursorDatetimeFormats   []string `mapstructure:"cursor_datetime_formats"`
		LookbackWindow          string   `mapstructure:"lookback_window"`
		PartitionFieldStart     string   `mapstructure:"partition_field_start"`
		PartitionFieldEnd       string   `mapstructure:"partition_field_end"`
		IsDataFeed              bool     `mapstructure:"is_data_feed"`
		IsClientSideIncremental bool     `mapstructure:"is_client_side_incremental"`
	}
	if err := n.Require("cursor_field", "start_datetime"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	if m.DatetimeFormat == "" {
		m.DatetimeFormat = datetime.DefaultFormat
	}
	scoped := n.with(scopeDatetimeFormat, m.DatetimeFormat)
	start, err := minMaxDatetime(b, scoped, "start_datetime")
	if err != nil {
		return nil, err
	}
	end, err := minMaxDatetime(b, scoped, "end_datetime")
	if err != nil {
		return nil, err
	}
	startOpt, _, err := Field[*requestoption.RequestOption](b, n, "start_time_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	endOpt, _, err := Field[*requestoption.RequestOption](b, n, "end_time_option", KindRequestOption)
	if err != nil {
		return nil, err
	}
	c, err := cursor.NewDatetimeBasedCursor(cursor.DatetimeConfig{
		Start:                   start,
		End:                     end,
		Step:                    m.Step,
		CursorGranularity:       m.CursorGranularity,
		CursorField:             m.CursorField,
		DatetimeFormat:          m.DatetimeFormat,
		CursorDatetimeFormats:   m.CursorDatetimeFormats,
		LookbackWindow:          m.LookbackWindow,
		PartitionFieldStart:     m.PartitionFieldStart,
		PartitionFieldEnd:       m.PartitionFieldEnd,
		StartTimeOption:         startOpt,
		EndTimeOption:           endOpt,
		IsDataFeed:              m.IsDataFeed,
		IsClientSideIncremental: m.IsClientSideIncremental,
	}, b.config, n.Params)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return c, nil
}

// minMaxDatetime builds a datetime given either as a plain string or as a
// MinMaxDatetime component.
func minMaxDatetime(b *Builder, n *Node, field string) (*cursor.MinMaxDatetime, error) {
	switch v := n.Fields[field].(type) {
	case nil:
		return nil, nil
	case string:
		format, _ := n.value(scopeDatetimeFormat).(string)
		m, err := cursor.NewMinMaxDatetime(v, format, "", "")
		if err != nil {
			return nil, failure.WithPath(n.join(field), err)
		}
		return m, nil
	default:
		m, _, err := Field[*cursor.MinMaxDatetime](b, n, field, KindMinMaxDatetime)
		return m, err
	}
}

func buildMinMaxDatetime(_ *Builder, n *Node) (any, error) {
	var m struct {
		Datetime       string `mapstructure:"datetime"`
		DatetimeFormat string `mapstructure:"datetime_format"`
		MinDatetime    string `mapstructure:"min_datetime"`
		MaxDatetime    string `mapstructure:"max_datetime"`
	}
	if err := n.Require("datetime"); err != nil {
		return nil, err
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	if m.DatetimeFormat == "" {
		m.DatetimeFormat, _ = n.value(scopeDatetimeFormat).(string)
	}
	mm, err := cursor.NewMinMaxDatetime(m.Datetime, m.DatetimeFormat, m.MinDatetime, m.MaxDatetime)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return mm, nil
}

// -- Check --------------------------------------------------------------------

func buildCheckStream(_ *Builder, n *Node) (any, error) {
	var m struct {
		StreamNames []string `mapstructure:"stream_names"`
	}
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	c, err := stream.NewCheckStream(m.StreamNames)
	if err != nil {
		return nil, failure.WithPath(n.Path, err)
	}
	return c, nil
}
