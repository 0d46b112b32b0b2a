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
	"strings"
	"testing"
	"time"

	"github.com/conduitio/conduit-commons/opencdc"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
	"github.com/matryer/is"
)

func testRecord() Record {
	return Record{
		Stream:     "users",
		Data:       types.Mapping{"id": 1, "name": "ada", "address": map[string]any{"city": "London"}},
		EmittedAt:  time.UnixMilli(1700000000000),
		PrimaryKey: []string{"id", "address.city"},
	}
}

func TestNewRecordFormatter(t *testing.T) {
	testCases := []struct {
		format  string
		options string
		want    string
		wantErr bool
	}{
		{format: "", want: "protocol/json"},
		{format: "protocol/json", want: "protocol/json"},
		{format: "opencdc", want: "opencdc/json"},
		{format: "opencdc/json", options: "position.excluded=true", want: "opencdc/json"},
		{format: "template", options: "{{ .Stream }}", want: "template"},
		{format: "template", wantErr: true},
		{format: "debezium/json", wantErr: true},
		{format: "opencdc/avro", wantErr: true},
		{format: "opencdc/json", options: "position.excluded=maybe", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.format+" "+tc.options, func(t *testing.T) {
			is := is.New(t)
			f, err := NewRecordFormatter(tc.format, tc.options)
			if tc.wantErr {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			is.Equal(f.Name(), tc.want)
		})
	}
}

func TestProtocolFormat(t *testing.T) {
	is := is.New(t)
	f, err := NewRecordFormatter("", "")
	is.NoErr(err)

	got, err := f.Format(testRecord())
	is.NoErr(err)
	is.Equal(string(got), `{"type":"RECORD","record":{"stream":"users","data":{"address":{"city":"London"},"id":1,"name":"ada"},"emitted_at":1700000000000}}`)
}

func TestOpenCDCFormat(t *testing.T) {
	is := is.New(t)
	f, err := NewRecordFormatter("opencdc/json", "")
	is.NoErr(err)

	conv, err := f.(GenericRecordFormatter).Converter.Convert(testRecord())
	is.NoErr(err)
	rec := conv.(opencdc.Record)
	is.Equal(rec.Operation, opencdc.OperationSnapshot)
	is.Equal(rec.Key, opencdc.StructuredData{"id": 1, "address.city": "London"})
	is.Equal(rec.Payload.After, opencdc.StructuredData(testRecord().Data))
	collection, err := rec.Metadata.GetCollection()
	is.NoErr(err)
	is.Equal(collection, "users")
	is.Equal(rec.Metadata[MetadataStream], "users")
	is.True(len(rec.Position) > 0)

	_, err = f.Format(testRecord())
	is.NoErr(err)

	f, err = NewRecordFormatter("opencdc/json", "position.excluded=true")
	is.NoErr(err)
	conv, err = f.(GenericRecordFormatter).Converter.Convert(testRecord())
	is.NoErr(err)
	is.Equal(conv.(opencdc.Record).Position, nil)
}

func TestTemplateFormat(t *testing.T) {
	is := is.New(t)
	f, err := NewRecordFormatter("template", `{{ .Stream | upper }}:{{ index .Data "name" }}`)
	is.NoErr(err)

	got, err := f.Format(testRecord())
	is.NoErr(err)
	is.Equal(string(got), "USERS:ada")
}

func TestMessageWriter(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	w := NewMessageWriter(&buf)

	is.NoErr(w.Write(NewStateMessage("users", types.StreamState{"updated_at": "2024-01-01"})))
	is.NoErr(w.WriteRecord(testRecord()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	is.Equal(len(lines), 2)
	is.Equal(lines[0], `{"type":"STATE","state":{"type":"STREAM","stream":{"stream_descriptor":{"name":"users"},"stream_state":{"updated_at":"2024-01-01"}}}}`)

	var m Message
	is.NoErr(json.Unmarshal([]byte(lines[1]), &m))
	is.Equal(m.Type, MessageTypeRecord)
}

func TestMessageWriter_Batching(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	w := NewMessageWriter(&buf, WithBatching(3, time.Hour))

	is.NoErr(w.Write(NewLogMessage("INFO", "one")))
	is.NoErr(w.Write(NewLogMessage("INFO", "two")))
	is.Equal(buf.Len(), 0)

	is.NoErr(w.Write(NewLogMessage("INFO", "three")))
	is.Equal(strings.Count(buf.String(), "\n"), 3)

	is.NoErr(w.Write(NewLogMessage("INFO", "four")))
	is.NoErr(w.Flush())
	is.Equal(strings.Count(buf.String(), "\n"), 4)
}
