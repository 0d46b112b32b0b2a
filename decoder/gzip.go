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

package decoder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/klauspost/compress/gzip"
)

// GzipDecoder decompresses the body and hands it to the inner decoder.
// Bodies that are not gzip compressed are passed through unchanged.
type GzipDecoder struct {
	Inner Decoder
}

func (d GzipDecoder) IsStreamResponse() bool { return d.Inner.IsStreamResponse() }

func (d GzipDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	if resp == nil || resp.Body == nil {
		return empty()
	}
	br := bufio.NewReader(resp.Body)
	magic, _ := br.Peek(2)
	if len(magic) < 2 || magic[0] != 0x1f || magic[1] != 0x8b {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{br, resp.Body}
		return d.Inner.Decode(resp)
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return single(nil, fmt.Errorf("failed to open gzip body: %w", err))
	}
	orig := resp.Body
	resp.Header = resp.Header.Clone()
	resp.Header.Del("Content-Encoding")

	if !d.Inner.IsStreamResponse() {
		// inflate once, the inner decoder buffers the plain body for
		// subsequent decodes of the same response
		plain, err := io.ReadAll(zr)
		_ = zr.Close()
		_ = orig.Close()
		if err != nil {
			return single(nil, fmt.Errorf("failed to inflate gzip body: %w", err))
		}
		resp.Body = io.NopCloser(bytes.NewReader(plain))
		return d.Inner.Decode(resp)
	}

	resp.Body = struct {
		io.Reader
		io.Closer
	}{zr, closerFunc(func() error {
		_ = zr.Close()
		return orig.Close()
	})}
	return d.Inner.Decode(resp)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
