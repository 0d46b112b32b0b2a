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

// Package dpath reads and writes values in nested maps and lists addressed
// by a list of path segments. The segment "*" matches every key of a map and
// every element of a list, numeric segments index into lists.
package dpath

import (
	"slices"
	"strconv"
)

const Wildcard = "*"

// HasWildcard returns true if any segment is a wildcard.
func HasWildcard(path []string) bool {
	return slices.Contains(path, Wildcard)
}

// Get returns the value at path. The second return value is false if any
// segment is missing. Wildcards are not supported, use Values instead.
func Get(v any, path []string) (any, bool) {
	cur := v
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Values returns every value matching path. Wildcard segments fan out over
// all keys (in sorted order) or list elements.
func Values(v any, path []string) []any {
	if len(path) == 0 {
		return []any{v}
	}
	seg, rest := path[0], path[1:]
	switch c := v.(type) {
	case map[string]any:
		if seg == Wildcard {
			keys := make([]string, 0, len(c))
			for k := range c {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			var out []any
			for _, k := range keys {
				out = append(out, Values(c[k], rest)...)
			}
			return out
		}
		next, ok := c[seg]
		if !ok {
			return nil
		}
		return Values(next, rest)
	case []any:
		if seg == Wildcard {
			var out []any
			for _, item := range c {
				out = append(out, Values(item, rest)...)
			}
			return out
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil
		}
		return Values(c[i], rest)
	default:
		return nil
	}
}

// Set stores value at path, creating intermediate maps as needed.
// Intermediate values that are not maps are replaced.
func Set(m map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := m
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// Delete removes the values matching path and reports whether anything was
// removed.
func Delete(v any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	seg, rest := path[0], path[1:]
	switch c := v.(type) {
	case map[string]any:
		if len(rest) == 0 {
			if seg == Wildcard {
				n := len(c)
				clear(c)
				return n > 0
			}
			_, ok := c[seg]
			delete(c, seg)
			return ok
		}
		if seg == Wildcard {
			removed := false
			for _, item := range c {
				removed = Delete(item, rest) || removed
			}
			return removed
		}
		return Delete(c[seg], rest)
	case []any:
		if len(rest) == 0 {
			// elements are not removed from lists, that would shift indices
			return false
		}
		if seg == Wildcard {
			removed := false
			for _, item := range c {
				removed = Delete(item, rest) || removed
			}
			return removed
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return false
		}
		return Delete(c[i], rest)
	default:
		return false
	}
}
