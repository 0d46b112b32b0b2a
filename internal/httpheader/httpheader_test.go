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

package httpheader

import (
	"net/http"
	"testing"

	"github.com/matryer/is"
)

func TestParseLink(t *testing.T) {
	is := is.New(t)

	got := ParseLink(`<https://api.example.com/items?page=2&ids=1,2>; rel="next", <https://api.example.com/items?page=9>; rel="last"`)
	is.Equal(got["next"].(map[string]any)["url"], "https://api.example.com/items?page=2&ids=1,2")
	is.Equal(got["last"].(map[string]any)["url"], "https://api.example.com/items?page=9")

	is.Equal(len(ParseLink("garbage")), 0)
}

func TestMapping(t *testing.T) {
	is := is.New(t)

	h := http.Header{}
	h.Set("X-Next-Cursor", "abc")
	h.Set("Link", `<https://x/2>; rel="next"`)

	m := Mapping(h)
	is.Equal(m["X-Next-Cursor"], "abc")
	is.Equal(m["x-next-cursor"], "abc")
	is.Equal(m["link"].(map[string]any)["next"].(map[string]any)["url"], "https://x/2")
}
