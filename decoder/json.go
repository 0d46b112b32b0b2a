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
	"iter"
	"net/http"

	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
)

// JSONDecoder decodes the whole body as one JSON document. An object is
// returned as a single mapping, an array as one mapping per object element.
type JSONDecoder struct{}

func (JSONDecoder) IsStreamResponse() bool { return false }

func (JSONDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	body, err := ReadBody(resp)
	if err != nil {
		return single(nil, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return single(types.Mapping{}, nil)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return single(nil, fmt.Errorf("failed to decode JSON response: %w", err))
	}
	switch v := doc.(type) {
	case map[string]any:
		return single(v, nil)
	case []any:
		return func(yield func(types.Mapping, error) bool) {
			for _, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	default:
		return single(types.Mapping{}, nil)
	}
}

// JSONLDecoder decodes one JSON object per line. The body is read as a
// stream.
type JSONLDecoder struct{}

func (JSONLDecoder) IsStreamResponse() bool { return true }

func (JSONLDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		if resp == nil || resp.Body == nil {
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var m types.Mapping
			if err := json.Unmarshal(line, &m); err != nil {
				yield(nil, fmt.Errorf("failed to decode JSON line: %w", err))
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read response body: %w", err))
		}
	}
}
