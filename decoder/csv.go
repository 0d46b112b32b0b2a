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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"unicode/utf8"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVDecoder decodes comma separated values. Unless headers are configured
// the first line is used as the header.
type CSVDecoder struct {
	delimiter rune
	encoding  encoding.Encoding
	headers   []string
}

// NewCSVDecoder validates the delimiter and the character encoding and
// returns the decoder. The encoding is a WHATWG label such as "utf-8" or
// "latin1", empty means UTF-8.
func NewCSVDecoder(delimiter, charset string, headers []string) (*CSVDecoder, error) {
	if delimiter == "" {
		delimiter = ","
	}
	if delimiter == `\t` {
		delimiter = "\t"
	}
	r, size := utf8.DecodeRuneInString(delimiter)
	if size != len(delimiter) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return nil, failure.Config("", "invalid CSV delimiter %q", delimiter)
	}
	d := &CSVDecoder{delimiter: r, headers: headers}
	if charset != "" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, failure.Config("", "unknown CSV encoding %q", charset)
		}
		d.encoding = enc
	}
	return d, nil
}

func (d *CSVDecoder) IsStreamResponse() bool { return true }

func (d *CSVDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	return func(yield func(types.Mapping, error) bool) {
		if resp == nil || resp.Body == nil {
			return
		}
		defer resp.Body.Close()

		var body io.Reader = resp.Body
		if d.encoding != nil {
			body = d.encoding.NewDecoder().Reader(body)
		}
		r := csv.NewReader(body)
		r.Comma = d.delimiter
		r.FieldsPerRecord = -1

		headers := d.headers
		if len(headers) == 0 {
			h, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read CSV header: %w", err))
				return
			}
			headers = h
		}

		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read CSV row: %w", err))
				return
			}
			m := make(types.Mapping, len(headers))
			for i, h := range headers {
				if i < len(row) {
					m[h] = row[i]
				} else {
					m[h] = nil
				}
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}
