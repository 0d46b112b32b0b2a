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
	"errors"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/stream"
	"github.com/conduitio/conduit-connector-declarative/types"
)

// MessageType is the type of a protocol message.
type MessageType string

const (
	MessageTypeRecord           MessageType = "RECORD"
	MessageTypeState            MessageType = "STATE"
	MessageTypeLog              MessageType = "LOG"
	MessageTypeTrace            MessageType = "TRACE"
	MessageTypeConnectionStatus MessageType = "CONNECTION_STATUS"
	MessageTypeCatalog          MessageType = "CATALOG"
	MessageTypeSpec             MessageType = "SPEC"
)

// Message is a single line of the connector protocol. Exactly one of the
// payload fields is set, matching Type.
type Message struct {
	Type             MessageType       `json:"type"`
	Record           *RecordMessage    `json:"record,omitempty"`
	State            *StateMessage     `json:"state,omitempty"`
	Log              *LogMessage       `json:"log,omitempty"`
	Trace            *TraceMessage     `json:"trace,omitempty"`
	ConnectionStatus *ConnectionStatus `json:"connectionStatus,omitempty"`
	Catalog          *Catalog          `json:"catalog,omitempty"`
	Spec             *SpecMessage      `json:"spec,omitempty"`
}

type RecordMessage struct {
	Stream string        `json:"stream"`
	Data   types.Mapping `json:"data"`
	// EmittedAt is a unix timestamp in milliseconds.
	EmittedAt int64 `json:"emitted_at"`
}

type StreamDescriptor struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

const stateTypeStream = "STREAM"

type StateMessage struct {
	Type   string       `json:"type"`
	Stream *StreamState `json:"stream,omitempty"`
}

type StreamState struct {
	StreamDescriptor StreamDescriptor  `json:"stream_descriptor"`
	StreamState      types.StreamState `json:"stream_state"`
}

type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

const traceTypeError = "ERROR"

type TraceMessage struct {
	Type      string      `json:"type"`
	EmittedAt int64       `json:"emitted_at"`
	Error     *TraceError `json:"error,omitempty"`
}

type TraceError struct {
	Message          string            `json:"message"`
	InternalMessage  string            `json:"internal_message,omitempty"`
	FailureType      failure.Type      `json:"failure_type"`
	StreamDescriptor *StreamDescriptor `json:"stream_descriptor,omitempty"`
}

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

type ConnectionStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type Catalog struct {
	Streams []CatalogStream `json:"streams"`
}

// CatalogStream describes a stream in the output of discover.
type CatalogStream struct {
	Name                    string            `json:"name"`
	JSONSchema              types.Mapping     `json:"json_schema"`
	SupportedSyncModes      []stream.SyncMode `json:"supported_sync_modes"`
	SourceDefinedCursor     bool              `json:"source_defined_cursor,omitempty"`
	DefaultCursorField      []string          `json:"default_cursor_field,omitempty"`
	SourceDefinedPrimaryKey [][]string        `json:"source_defined_primary_key,omitempty"`
}

type SpecMessage struct {
	DocumentationURL        string        `json:"documentationUrl,omitempty"`
	ConnectionSpecification types.Mapping `json:"connectionSpecification"`
	AdvancedAuth            types.Mapping `json:"advanced_auth,omitempty"`
}

// ConfiguredCatalog selects the streams read by a sync.
type ConfiguredCatalog struct {
	Streams []ConfiguredStream `json:"streams"`
}

type ConfiguredStream struct {
	Stream   CatalogStream   `json:"stream"`
	SyncMode stream.SyncMode `json:"sync_mode"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func NewRecordMessage(streamName string, data types.Mapping) Message {
	return Message{
		Type: MessageTypeRecord,
		Record: &RecordMessage{
			Stream:    streamName,
			Data:      data,
			EmittedAt: nowMillis(),
		},
	}
}

func NewStateMessage(streamName string, state types.StreamState) Message {
	if state == nil {
		state = types.StreamState{}
	}
	return Message{
		Type: MessageTypeState,
		State: &StateMessage{
			Type: stateTypeStream,
			Stream: &StreamState{
				StreamDescriptor: StreamDescriptor{Name: streamName},
				StreamState:      state,
			},
		},
	}
}

func NewLogMessage(level, message string) Message {
	return Message{
		Type: MessageTypeLog,
		Log:  &LogMessage{Level: level, Message: message},
	}
}

// NewTraceMessage converts err into an error trace. streamName is optional.
func NewTraceMessage(streamName string, err error) Message {
	te := &TraceError{
		Message:     err.Error(),
		FailureType: failure.TypeOf(err),
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		te.InternalMessage = fe.InternalMessage
	}
	if streamName != "" {
		te.StreamDescriptor = &StreamDescriptor{Name: streamName}
	}
	return Message{
		Type: MessageTypeTrace,
		Trace: &TraceMessage{
			Type:      traceTypeError,
			EmittedAt: nowMillis(),
			Error:     te,
		},
	}
}

func NewConnectionStatusMessage(err error) Message {
	status := &ConnectionStatus{Status: StatusSucceeded}
	if err != nil {
		status.Status = StatusFailed
		status.Message = err.Error()
	}
	return Message{Type: MessageTypeConnectionStatus, ConnectionStatus: status}
}

// ReadState collects the stream states found in a list of STATE messages.
func ReadState(msgs []StateMessage) map[string]types.StreamState {
	out := make(map[string]types.StreamState, len(msgs))
	for _, m := range msgs {
		if m.Stream == nil {
			continue
		}
		out[m.Stream.StreamDescriptor.Name] = m.Stream.StreamState
	}
	return out
}
