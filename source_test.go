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

package cdk

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/stream"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
	"github.com/matryer/is"
)

const testManifest = `
version: "0.1.0"
definitions:
  requester:
    type: HttpRequester
    url_base: "{{ .config.base_url }}"
    path: "/{{ .parameters.name }}"
  selector:
    extractor:
      field_path: ["data"]
streams:
  - type: DeclarativeStream
    name: items
    primary_key: id
    incremental_sync:
      type: DatetimeBasedCursor
      cursor_field: updated
      datetime_format: "%Y-%m-%d"
      start_datetime: "2024-01-01"
      end_datetime: "2024-01-31"
    retriever:
      requester:
        $ref: "#/definitions/requester"
      record_selector:
        $ref: "#/definitions/selector"
    schema_loader:
      type: InlineSchemaLoader
      schema:
        type: object
        properties:
          id: {type: integer}
  - type: DeclarativeStream
    name: broken
    retriever:
      requester:
        $ref: "#/definitions/requester"
      record_selector:
        $ref: "#/definitions/selector"
check:
  type: CheckStream
  stream_names: [items]
spec:
  type: Spec
  documentation_url: https://example.com/docs
  connection_specification:
    type: object
    required: [base_url]
    properties:
      base_url: {type: string}
`

func newTestServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"data":[{"id":1,"updated":"2024-01-05"},{"id":2,"updated":"2024-01-09"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSource(t *testing.T) *ManifestSource {
	t.Helper()
	src, err := NewManifestSource([]byte(testManifest))
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	return src
}

func decodeMessages(t *testing.T, buf *bytes.Buffer) []Message {
	t.Helper()
	var out []Message
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid message %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestManifestSource_Spec(t *testing.T) {
	is := is.New(t)
	spec, err := newTestSource(t).Spec(context.Background())
	is.NoErr(err)
	is.Equal(spec.DocumentationURL, "https://example.com/docs")
	is.Equal(spec.ConnectionSpecification["required"], []any{"base_url"})
}

func TestManifestSource_Check(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)
	src := newTestSource(t)

	is.NoErr(src.Check(context.Background(), types.Config{"base_url": srv.URL}))

	err := src.Check(context.Background(), types.Config{})
	is.True(failure.IsConfigError(err)) // base_url is required
}

func TestManifestSource_Discover(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)

	catalog, err := newTestSource(t).Discover(context.Background(), types.Config{"base_url": srv.URL})
	is.NoErr(err)
	is.Equal(len(catalog.Streams), 2)

	items := catalog.Streams[0]
	is.Equal(items.Name, "items")
	is.Equal(items.SupportedSyncModes, []stream.SyncMode{stream.FullRefresh, stream.Incremental})
	is.True(items.SourceDefinedCursor)
	is.Equal(items.DefaultCursorField, []string{"updated"})
	is.Equal(items.SourceDefinedPrimaryKey, [][]string{{"id"}})
	is.Equal(items.JSONSchema["type"], "object")

	broken := catalog.Streams[1]
	is.Equal(broken.SupportedSyncModes, []stream.SyncMode{stream.FullRefresh})
	is.Equal(broken.JSONSchema["additionalProperties"], true) // default schema
}

func TestManifestSource_Read(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)

	var buf bytes.Buffer
	w := NewMessageWriter(&buf)
	catalog := ConfiguredCatalog{Streams: []ConfiguredStream{
		{Stream: CatalogStream{Name: "items"}, SyncMode: stream.Incremental},
		{Stream: CatalogStream{Name: "broken"}, SyncMode: stream.FullRefresh},
		{Stream: CatalogStream{Name: "unknown"}, SyncMode: stream.FullRefresh},
	}}
	err := newTestSource(t).Read(context.Background(), types.Config{"base_url": srv.URL}, catalog, nil, w)
	is.True(err != nil) // broken and unknown failed

	var records, states []Message
	traces := map[string]*TraceError{}
	for _, m := range decodeMessages(t, &buf) {
		switch m.Type {
		case MessageTypeRecord:
			records = append(records, m)
		case MessageTypeState:
			states = append(states, m)
		case MessageTypeTrace:
			traces[m.Trace.Error.StreamDescriptor.Name] = m.Trace.Error
		}
	}
	is.Equal(len(records), 2)
	is.Equal(records[0].Record.Stream, "items")
	is.True(records[0].Record.EmittedAt > 0)

	is.True(len(states) >= 1)
	last := states[len(states)-1].State.Stream
	is.Equal(last.StreamDescriptor.Name, "items")
	is.Equal(last.StreamState, types.StreamState{"updated": "2024-01-09"})

	is.Equal(len(traces), 2)
	is.Equal(traces["broken"].FailureType, failure.SystemError)
	is.Equal(traces["unknown"].FailureType, failure.ConfigError)
}

func TestManifestSource_ReadWithState(t *testing.T) {
	is := is.New(t)

	var since string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since = r.URL.Query().Get("since")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	src, err := NewManifestSource([]byte(`
streams:
  - type: DeclarativeStream
    name: items
    incremental_sync:
      type: DatetimeBasedCursor
      cursor_field: updated
      datetime_format: "%Y-%m-%d"
      start_datetime: "2024-01-01"
      end_datetime: "2024-01-31"
      start_time_option:
        inject_into: request_parameter
        field_name: since
    retriever:
      requester:
        url_base: "{{ .config.base_url }}"
      record_selector:
        extractor:
          field_path: ["data"]
check:
  stream_names: [items]
`))
	is.NoErr(err)

	var buf bytes.Buffer
	catalog := ConfiguredCatalog{Streams: []ConfiguredStream{
		{Stream: CatalogStream{Name: "items"}, SyncMode: stream.Incremental},
	}}
	state := map[string]types.StreamState{"items": {"updated": "2024-01-20"}}
	err = src.Read(context.Background(), types.Config{"base_url": srv.URL}, catalog, state, NewMessageWriter(&buf))
	is.NoErr(err)
	is.Equal(since, "2024-01-20")

	msgs := decodeMessages(t, &buf)
	last := msgs[len(msgs)-1]
	is.Equal(last.Type, MessageTypeState)
	is.Equal(last.State.Stream.StreamState, types.StreamState{"updated": "2024-01-20"})
}

func TestManifestSource_ReadBuildError(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	err := newTestSource(t).Read(context.Background(), types.Config{}, ConfiguredCatalog{}, nil, NewMessageWriter(&buf))
	is.True(failure.IsConfigError(err))

	msgs := decodeMessages(t, &buf)
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Type, MessageTypeTrace)
	is.Equal(msgs[0].Trace.Error.FailureType, failure.ConfigError)
}

func TestNewManifestSource_Invalid(t *testing.T) {
	is := is.New(t)
	_, err := NewManifestSource([]byte(`streams: []`))
	is.True(failure.IsConfigError(err))
}
