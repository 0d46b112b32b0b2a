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

// Package httpheader exposes response headers to templates.
package httpheader

import (
	"net/http"
	"strings"
)

// Mapping returns the headers as a mapping usable in templates. Every header
// is available under its canonical and its lower case name. The parsed Link
// header is available under "link", keyed by relation type, so a next page
// URL can be read as .headers.link.next.url.
func Mapping(h http.Header) map[string]any {
	out := make(map[string]any, 2*len(h)+1)
	for k := range h {
		v := h.Get(k)
		out[k] = v
		out[strings.ToLower(k)] = v
	}
	if link := h.Values("Link"); len(link) > 0 {
		out["link"] = ParseLink(strings.Join(link, ","))
	}
	return out
}

// ParseLink parses an RFC 8288 Link header value into a mapping from
// relation type to the link's url and parameters.
func ParseLink(v string) map[string]any {
	out := map[string]any{}
	for _, part := range splitLinks(v) {
		part = strings.TrimSpace(part)
		start, end := strings.Index(part, "<"), strings.Index(part, ">")
		if start != 0 || end < 0 {
			continue
		}
		link := map[string]any{"url": part[1:end]}
		for _, param := range strings.Split(part[end+1:], ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok {
				continue
			}
			link[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
		}
		rel, _ := link["rel"].(string)
		for _, r := range strings.Fields(rel) {
			out[r] = link
		}
	}
	return out
}

// splitLinks splits on commas outside of angle brackets, URLs may contain
// commas.
func splitLinks(v string) []string {
	var (
		parts []string
		depth int
		last  int
	)
	for i, c := range v {
		switch c {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, v[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, v[last:])
}
