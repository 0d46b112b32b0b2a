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
	"errors"
	"testing"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestParseRuntimeConfig(t *testing.T) {
	is := is.New(t)

	cfg, err := ParseRuntimeConfig(nil)
	is.NoErr(err)
	is.Equal(cfg.CDK.Concurrency.Workers, 0)
	is.Equal(cfg.CDK.Output.Format, "protocol/json")
	is.Equal(cfg.CDK.Output.Batch.Size, 1)
	is.Equal(cfg.CDK.State.CheckpointInterval, 0)

	cfg, err = ParseRuntimeConfig(map[string]string{
		"cdk.concurrency.workers":      "4",
		"cdk.output.format":            "template",
		"cdk.output.template":          "{{ .Stream }}",
		"cdk.output.batch.size":        "100",
		"cdk.output.batch.delay":       "50ms",
		"cdk.state.checkpointInterval": "1000",
	})
	is.NoErr(err)
	is.Equal(cfg.CDK.Concurrency.Workers, 4)
	is.Equal(cfg.CDK.Output.Batch.Size, 100)
	is.Equal(cfg.CDK.Output.Batch.Delay, 50*time.Millisecond)
	is.Equal(cfg.CDK.State.CheckpointInterval, 1000)
	f, err := cfg.RecordFormatter()
	is.NoErr(err)
	is.Equal(f.Name(), "template")

	_, err = ParseRuntimeConfig(map[string]string{"cdk.concurrency.workers": "many"})
	is.True(err != nil)
	_, err = ParseRuntimeConfig(map[string]string{"cdk.unknown": "1"})
	is.True(err != nil)
}

func TestNewTraceMessage(t *testing.T) {
	is := is.New(t)

	fe := failure.Config("streams[0]", "bad option")
	fe.InternalMessage = "details"
	m := NewTraceMessage("users", fe)
	is.Equal(m.Type, MessageTypeTrace)
	is.Equal(m.Trace.Type, "ERROR")
	is.Equal(m.Trace.Error.FailureType, failure.ConfigError)
	is.Equal(m.Trace.Error.InternalMessage, "details")
	is.Equal(m.Trace.Error.StreamDescriptor.Name, "users")

	m = NewTraceMessage("", errors.New("boom"))
	is.Equal(m.Trace.Error.FailureType, failure.SystemError)
	is.Equal(m.Trace.Error.StreamDescriptor, nil)
}

func TestProtocolLogWriter(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	logger := NewLogger(NewMessageWriter(&buf), zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Warn().Str("stream", "users").Msg("slow")

	msgs := decodeMessages(t, &buf)
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Type, MessageTypeLog)
	is.Equal(msgs[0].Log.Level, "WARN")
	is.Equal(msgs[0].Log.Message, `slow {"stream":"users"}`)
}
