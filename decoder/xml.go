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
	"bytes"
	"iter"
	"net/http"

	"github.com/clbanning/mxj/v2"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/rs/zerolog"
)

// XMLDecoder decodes an XML document into a nested mapping. Attributes are
// stored with a "-" prefix, element text next to attributes under "#text".
// A malformed document is logged and decodes to nothing.
type XMLDecoder struct {
	Logger zerolog.Logger
}

func (XMLDecoder) IsStreamResponse() bool { return false }

func (d XMLDecoder) Decode(resp *http.Response) iter.Seq2[types.Mapping, error] {
	body, err := ReadBody(resp)
	if err != nil {
		return single(nil, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return empty()
	}

	m, err := mxj.NewMapXml(body)
	if err != nil {
		d.Logger.Warn().Err(err).Int("bytes", len(body)).Msg("malformed XML response, skipping")
		return empty()
	}
	return single(map[string]any(m), nil)
}
