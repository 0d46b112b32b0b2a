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

// Package decoder turns HTTP response bodies into mappings.
//
// Decoders return a lazy sequence that is consumed once. Decoders that are
// not stream responses buffer the body and put it back on the response, so
// the same response can be decoded by the extractor and the paginator.
package decoder

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/types"
)

// Decoder decodes a response body.
type Decoder interface {
	// IsStreamResponse returns true if the decoder reads the body as a
	// stream, in which case the body can only be decoded once.
	IsStreamResponse() bool
	// Decode returns the mappings contained in the response body.
	Decode(resp *http.Response) iter.Seq2[types.Mapping, error]
}

// ReadBody reads the whole body and replaces it with a reader over the read
// bytes, so the body can be read again.
func ReadBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return b, nil
}

func single(m types.Mapping, err error) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		yield(m, err)
	}
}

func empty() iter.Seq2[types.Mapping, error] {
	return func(func(types.Mapping, error) bool) {}
}

// PaginationDecoder wraps the decoder used by pagination strategies. Stream
// responses are not decoded a second time, a single empty mapping is
// returned instead.
type PaginationDecoder struct {
	Decoder Decoder
}

func (d PaginationDecoder) IsStreamResponse() bool { return d.Decoder.IsStreamResponse() }

func (d PaginationDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	if d.Decoder.IsStreamResponse() {
		return single(types.Mapping{}, nil)
	}
	return d.Decoder.Decode(resp)
}

// First returns the first mapping decoded from the response, or an empty
// mapping if there is none.
func First(d Decoder, resp *http.Response) (types.Mapping, error) {
	for m, err := range d.Decode(resp) {
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = types.Mapping{}
		}
		return m, nil
	}
	return types.Mapping{}, nil
}
