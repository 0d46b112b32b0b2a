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
	"io"
	"time"

	"github.com/conduitio/conduit-connector-declarative/internal"
	"github.com/goccy/go-json"
)

// MessageWriter writes protocol messages as newline delimited JSON. It is
// safe for concurrent use.
type MessageWriter struct {
	out       io.Writer
	formatter RecordFormatter
	batcher   *internal.Batcher[[]byte]

	batchSize  int
	batchDelay time.Duration
}

type WriterOption func(*MessageWriter)

// WithRecordFormatter changes how RECORD messages are written.
func WithRecordFormatter(f RecordFormatter) WriterOption {
	return func(w *MessageWriter) { w.formatter = f }
}

// WithBatching buffers up to size messages or delay before writing them
// with a single call to the underlying writer.
func WithBatching(size int, delay time.Duration) WriterOption {
	return func(w *MessageWriter) {
		w.batchSize = size
		w.batchDelay = delay
	}
}

func NewMessageWriter(out io.Writer, opts ...WriterOption) *MessageWriter {
	w := &MessageWriter{
		out:       out,
		formatter: defaultFormatter,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.batcher = internal.NewBatcher(w.batchSize, w.batchDelay, w.writeLines)
	return w
}

// Write writes msg.
func (w *MessageWriter) Write(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return w.enqueue(b)
}

// WriteRecord writes r using the configured record formatter.
func (w *MessageWriter) WriteRecord(r Record) error {
	b, err := w.formatter.Format(r)
	if err != nil {
		return fmt.Errorf("failed to format record of stream %s: %w", r.Stream, err)
	}
	return w.enqueue(b)
}

// Flush writes all buffered messages.
func (w *MessageWriter) Flush() error {
	return w.batcher.Flush()
}

func (w *MessageWriter) enqueue(line []byte) error {
	_, err := w.batcher.Enqueue(bytes.TrimRight(line, "\n"))
	return err
}

func (w *MessageWriter) writeLines(lines [][]byte) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write messages: %w", err)
	}
	return nil
}
