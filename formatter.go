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
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/conduitio/conduit-commons/opencdc"
	"github.com/conduitio/conduit-connector-declarative/internal/dpath"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
)

// Record is a record read from a stream, as handed to a RecordFormatter.
type Record struct {
	Stream     string
	Data       types.Mapping
	EmittedAt  time.Time
	PrimaryKey []string
}

// RecordFormatter is a type that can format a record to bytes. It controls
// how RECORD lines are written, all other messages use the protocol format.
type RecordFormatter interface {
	Name() string
	Configure(string) (RecordFormatter, error)
	Format(Record) ([]byte, error)
}

var (
	defaultConverter = ProtocolConverter{}
	defaultEncoder   = JSONEncoder{}
	defaultFormatter = GenericRecordFormatter{
		Converter: defaultConverter,
		Encoder:   defaultEncoder,
	}

	knownConverters = []Converter{ProtocolConverter{}, OpenCDCConverter{}}
	knownEncoders   = []Encoder{JSONEncoder{}}
)

const (
	genericRecordFormatSeparator     = "/" // e.g. opencdc/json
	recordFormatOptionsSeparator     = "," // e.g. opt1=val1,opt2=val2
	recordFormatOptionsPairSeparator = "=" // e.g. opt1=val1
)

// NewRecordFormatter returns the formatter named by format configured with
// options. The format is either "template" or "<converter>[/<encoder>]",
// the encoder defaults to json.
func NewRecordFormatter(format, options string) (RecordFormatter, error) {
	if format == "" {
		return defaultFormatter.Configure(options)
	}
	if format == (TemplateRecordFormatter{}).Name() {
		return TemplateRecordFormatter{}.Configure(options)
	}

	convName, encName, ok := strings.Cut(format, genericRecordFormatSeparator)
	if !ok {
		encName = defaultEncoder.Name()
	}
	i := slices.IndexFunc(knownConverters, func(c Converter) bool { return c.Name() == convName })
	if i < 0 {
		return nil, fmt.Errorf("unknown record format %q", format)
	}
	j := slices.IndexFunc(knownEncoders, func(e Encoder) bool { return e.Name() == encName })
	if j < 0 {
		return nil, fmt.Errorf("unknown record encoding %q", encName)
	}
	return GenericRecordFormatter{
		Converter: knownConverters[i],
		Encoder:   knownEncoders[j],
	}.Configure(options)
}

// GenericRecordFormatter is a formatter that uses a Converter and Encoder to
// format a record.
type GenericRecordFormatter struct {
	Converter
	Encoder
}

// Converter is a type that can change the structure of a Record.
type Converter interface {
	Name() string
	Configure(map[string]string) (Converter, error)
	Convert(Record) (any, error)
}

// Encoder is a type that can encode a random struct into a byte slice.
type Encoder interface {
	Name() string
	Configure(options map[string]string) (Encoder, error)
	Encode(r any) ([]byte, error)
}

// Name returns the name of the record formatter combined from the converter
// name and encoder name.
func (rf GenericRecordFormatter) Name() string {
	return rf.Converter.Name() + genericRecordFormatSeparator + rf.Encoder.Name()
}

func (rf GenericRecordFormatter) Configure(optRaw string) (RecordFormatter, error) {
	opt := rf.parseFormatOptions(optRaw)

	var err error
	rf.Converter, err = rf.Converter.Configure(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to configure converter: %w", err)
	}
	rf.Encoder, err = rf.Encoder.Configure(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to configure encoder: %w", err)
	}
	return rf, nil
}

func (rf GenericRecordFormatter) parseFormatOptions(options string) map[string]string {
	options = strings.TrimSpace(options)
	if len(options) == 0 {
		return nil
	}

	pairs := strings.Split(options, recordFormatOptionsSeparator)
	optMap := make(map[string]string, len(pairs))
	for _, pairStr := range pairs {
		k, v, _ := strings.Cut(pairStr, recordFormatOptionsPairSeparator)
		optMap[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return optMap
}

// Format converts and encodes record into a byte array.
func (rf GenericRecordFormatter) Format(r Record) ([]byte, error) {
	converted, err := rf.Converter.Convert(r)
	if err != nil {
		return nil, fmt.Errorf("converter %s failed: %w", rf.Converter.Name(), err)
	}

	out, err := rf.Encoder.Encode(converted)
	if err != nil {
		return nil, fmt.Errorf("encoder %s failed: %w", rf.Encoder.Name(), err)
	}

	return out, nil
}

// ProtocolConverter outputs a RECORD protocol message.
type ProtocolConverter struct{}

func (c ProtocolConverter) Name() string                                   { return "protocol" }
func (c ProtocolConverter) Configure(map[string]string) (Converter, error) { return c, nil }
func (c ProtocolConverter) Convert(r Record) (any, error) {
	return Message{
		Type: MessageTypeRecord,
		Record: &RecordMessage{
			Stream:    r.Stream,
			Data:      r.Data,
			EmittedAt: r.EmittedAt.UnixMilli(),
		},
	}, nil
}

// MetadataStream is the OpenCDC metadata key holding the name of the stream
// a record was read from, in addition to opencdc.collection.
const MetadataStream = "declarative.stream"

// OpenCDCConverter outputs an OpenCDC snapshot record. The key holds the
// primary key fields of the record.
type OpenCDCConverter struct {
	PositionExcluded bool
}

func (c OpenCDCConverter) Name() string { return "opencdc" }
func (c OpenCDCConverter) Configure(opt map[string]string) (Converter, error) {
	positionExcludedStr, ok := opt["position.excluded"]
	if !ok {
		positionExcludedStr = "false"
	}

	positionExcluded, err := strconv.ParseBool(positionExcludedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse position.excluded: %w", err)
	}

	c.PositionExcluded = positionExcluded
	return c, nil
}

func (c OpenCDCConverter) Convert(r Record) (any, error) {
	metadata := opencdc.Metadata{MetadataStream: r.Stream}
	metadata.SetCollection(r.Stream)
	metadata.SetReadAt(r.EmittedAt)

	var key opencdc.Data
	if len(r.PrimaryKey) > 0 {
		sd := make(opencdc.StructuredData, len(r.PrimaryKey))
		for _, k := range r.PrimaryKey {
			if v, ok := dpath.Get(map[string]any(r.Data), strings.Split(k, ".")); ok {
				sd[k] = v
			}
		}
		key = sd
	}

	rec := opencdc.Record{
		Operation: opencdc.OperationSnapshot,
		Metadata:  metadata,
		Key:       key,
		Payload: opencdc.Change{
			After: opencdc.StructuredData(r.Data),
		},
	}
	if !c.PositionExcluded {
		pos, err := json.Marshal(map[string]any{
			"stream":     r.Stream,
			"emitted_at": r.EmittedAt.UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode position: %w", err)
		}
		rec.Position = pos
	}
	return rec, nil
}

// JSONEncoder is an Encoder that outputs JSON.
type JSONEncoder struct{}

func (e JSONEncoder) Name() string                                 { return "json" }
func (e JSONEncoder) Configure(map[string]string) (Encoder, error) { return e, nil }
func (e JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// TemplateRecordFormatter is a RecordFormatter that formats a record using a
// Go template.
type TemplateRecordFormatter struct {
	template *template.Template
}

func (e TemplateRecordFormatter) Name() string { return "template" }
func (e TemplateRecordFormatter) Configure(tmpl string) (RecordFormatter, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, fmt.Errorf("template record format needs a template")
	}
	t := template.New("")
	t = t.Funcs(sprig.TxtFuncMap()) // inject sprig functions
	t, err := t.Parse(tmpl)
	if err != nil {
		return nil, err
	}

	e.template = t
	return e, nil
}

func (e TemplateRecordFormatter) Format(r Record) ([]byte, error) {
	var b bytes.Buffer
	err := e.template.Execute(&b, r)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
