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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/klauspost/compress/gzip"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func response(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func collect(t *testing.T, d Decoder, resp *http.Response) []types.Mapping {
	t.Helper()
	var out []types.Mapping
	for m, err := range d.Decode(resp) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONDecoder(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want []types.Mapping
	}{
		{name: "object", body: `{"data":[{"id":1}]}`, want: []types.Mapping{{"data": []any{map[string]any{"id": float64(1)}}}}},
		{name: "array", body: `[{"id":1},{"id":2}]`, want: []types.Mapping{{"id": float64(1)}, {"id": float64(2)}}},
		{name: "empty body", body: ``, want: []types.Mapping{{}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(collect(t, JSONDecoder{}, response(tc.body)), tc.want)
		})
	}
}

func TestJSONDecoder_DecodeTwice(t *testing.T) {
	is := is.New(t)

	resp := response(`{"next":"abc"}`)
	first := collect(t, JSONDecoder{}, resp)
	second := collect(t, JSONDecoder{}, resp)
	is.Equal(first, second)
}

func TestJSONDecoder_Invalid(t *testing.T) {
	is := is.New(t)

	var gotErr error
	for _, err := range (JSONDecoder{}).Decode(response(`{"data":`)) {
		gotErr = err
	}
	is.True(gotErr != nil)
}

func TestJSONLDecoder(t *testing.T) {
	is := is.New(t)

	got := collect(t, JSONLDecoder{}, response("{\"id\":1}\n\n{\"id\":2}\n"))
	is.Equal(got, []types.Mapping{{"id": float64(1)}, {"id": float64(2)}})
	is.True(JSONLDecoder{}.IsStreamResponse())
}

func TestCSVDecoder(t *testing.T) {
	is := is.New(t)

	d, err := NewCSVDecoder(";", "", nil)
	is.NoErr(err)
	got := collect(t, d, response("id;name\n1;alice\n2;bob\n"))
	is.Equal(got, []types.Mapping{
		{"id": "1", "name": "alice"},
		{"id": "2", "name": "bob"},
	})
}

func TestCSVDecoder_ConfiguredHeaders(t *testing.T) {
	is := is.New(t)

	d, err := NewCSVDecoder("", "", []string{"id", "name"})
	is.NoErr(err)
	got := collect(t, d, response("1,alice\n2\n"))
	is.Equal(got, []types.Mapping{
		{"id": "1", "name": "alice"},
		{"id": "2", "name": nil},
	})
}

func TestNewCSVDecoder_InvalidDelimiter(t *testing.T) {
	for _, delim := range []string{"ab", `"`, "\n"} {
		is := is.New(t)
		_, err := NewCSVDecoder(delim, "", nil)
		is.True(failure.IsConfigError(err))
	}
}

func TestCSVDecoder_Encoding(t *testing.T) {
	is := is.New(t)

	d, err := NewCSVDecoder(",", "latin1", nil)
	is.NoErr(err)
	got := collect(t, d, response("city\nM\xfcnchen\n"))
	is.Equal(got, []types.Mapping{{"city": "München"}})

	_, err = NewCSVDecoder(",", "klingon", nil)
	is.True(failure.IsConfigError(err))
}

func TestXMLDecoder(t *testing.T) {
	is := is.New(t)

	d := XMLDecoder{Logger: zerolog.New(zerolog.NewTestWriter(t))}
	got := collect(t, d, response(`<users><user id="1">alice</user></users>`))
	is.Equal(len(got), 1)
	user := got[0]["users"].(map[string]any)["user"].(map[string]any)
	is.Equal(user["-id"], "1")
	is.Equal(user["#text"], "alice")
}

func TestXMLDecoder_Malformed(t *testing.T) {
	is := is.New(t)

	d := XMLDecoder{Logger: zerolog.New(zerolog.NewTestWriter(t))}
	got := collect(t, d, response(`<users><user>`))
	is.Equal(len(got), 0)
}

func TestGzipDecoder(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"data":[1,2]}`))
	is.NoErr(err)
	is.NoErr(zw.Close())

	resp := response("")
	resp.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	d := GzipDecoder{Inner: JSONDecoder{}}

	first := collect(t, d, resp)
	is.Equal(first, []types.Mapping{{"data": []any{float64(1), float64(2)}}})
	second := collect(t, d, resp) // body is plain after the first decode
	is.Equal(second, first)
}

func TestGzipDecoder_PlainBody(t *testing.T) {
	is := is.New(t)

	got := collect(t, GzipDecoder{Inner: JSONDecoder{}}, response(`{"a":"b"}`))
	is.Equal(got, []types.Mapping{{"a": "b"}})
}

func TestPaginationDecoder_SkipsStreamResponses(t *testing.T) {
	is := is.New(t)

	got := collect(t, PaginationDecoder{Decoder: JSONLDecoder{}}, response("{\"id\":1}\n"))
	is.Equal(got, []types.Mapping{{}})

	first, err := First(PaginationDecoder{Decoder: JSONDecoder{}}, response(`{"next":"x"}`))
	is.NoErr(err)
	is.Equal(first, types.Mapping{"next": "x"})
}
