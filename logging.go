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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Logger can be used to fetch the configured logger from the context. If no
// logger was set in the context, a no-op logger is returned.
func Logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// NewLogger creates a logger writing LOG messages to w.
func NewLogger(w *MessageWriter, level zerolog.Level) zerolog.Logger {
	return zerolog.New(NewProtocolLogWriter(w)).Level(level).With().Timestamp().Logger()
}

// protocolLogWriter wraps zerolog JSON lines into LOG messages.
type protocolLogWriter struct {
	w *MessageWriter
}

// NewProtocolLogWriter returns a writer that turns zerolog events into LOG
// messages so that stdout only contains protocol messages.
func NewProtocolLogWriter(w *MessageWriter) io.Writer {
	return protocolLogWriter{w: w}
}

func (p protocolLogWriter) Write(b []byte) (int, error) {
	var event map[string]any
	if err := json.Unmarshal(b, &event); err != nil {
		// not a zerolog event, pass the line on as is
		return len(b), p.w.Write(NewLogMessage("INFO", strings.TrimSpace(string(b))))
	}

	level, _ := event[zerolog.LevelFieldName].(string)
	msg, _ := event[zerolog.MessageFieldName].(string)
	delete(event, zerolog.LevelFieldName)
	delete(event, zerolog.MessageFieldName)
	delete(event, zerolog.TimestampFieldName)
	if len(event) > 0 {
		fields, err := json.Marshal(event)
		if err == nil {
			msg = fmt.Sprintf("%s %s", msg, fields)
		}
	}
	if err := p.w.Write(NewLogMessage(protocolLevel(level), msg)); err != nil {
		// nowhere left to log to
		_, _ = fmt.Fprintf(os.Stderr, "failed to write log message: %v\n", err)
		return 0, err
	}
	return len(b), nil
}

func protocolLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if level == zerolog.LevelWarnValue {
		return "WARN"
	}
	return strings.ToUpper(level)
}
