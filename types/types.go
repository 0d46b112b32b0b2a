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

// Package types contains the values that flow between declarative
// components: records, stream slices, stream state and page tokens.
package types

import (
	"maps"
)

// Mapping is a generic JSON-like object.
type Mapping = map[string]any

// Config is the user supplied connector configuration.
type Config = Mapping

// StreamState is the opaque, cursor-defined state of a single stream.
type StreamState = Mapping

// StreamSlice identifies one unit of work of a stream. A slice is made of a
// partition (e.g. a parent record id) and a cursor slice (e.g. a datetime
// window). Either part can be empty.
type StreamSlice struct {
	Partition   Mapping
	CursorSlice Mapping
	// ExtraFields are carried along with the slice but not injected into
	// requests.
	ExtraFields Mapping
}

// NewStreamSlice returns a slice with the given partition and cursor slice.
func NewStreamSlice(partition, cursorSlice Mapping) StreamSlice {
	return StreamSlice{Partition: partition, CursorSlice: cursorSlice}
}

// Mapping returns the merged view of the partition and cursor slice, which
// is the view exposed to templates as "stream_slice".
func (s StreamSlice) Mapping() Mapping {
	out := make(Mapping, len(s.Partition)+len(s.CursorSlice))
	maps.Copy(out, s.Partition)
	maps.Copy(out, s.CursorSlice)
	return out
}

// Get returns the value stored under key in the cursor slice or, if not
// present there, in the partition.
func (s StreamSlice) Get(key string) (any, bool) {
	if v, ok := s.CursorSlice[key]; ok {
		return v, true
	}
	v, ok := s.Partition[key]
	return v, ok
}

// IsEmpty returns true if the slice carries neither a partition nor a cursor
// slice.
func (s StreamSlice) IsEmpty() bool {
	return len(s.Partition) == 0 && len(s.CursorSlice) == 0
}

// Record is a single data record read from a stream.
type Record struct {
	Data            Mapping
	Stream          string
	AssociatedSlice StreamSlice
}

// Get returns the top level field of the record data.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.Data[field]
	return v, ok
}

// PageTokenKey is the key under which the page token value is stored and
// exposed to templates (next_page_token.next_page_token).
const PageTokenKey = "next_page_token"

// PageToken is the opaque token identifying the next page. A nil token means
// there are no further pages.
type PageToken Mapping

// NewPageToken wraps v in a token. A nil value returns a nil token.
func NewPageToken(v any) PageToken {
	if v == nil {
		return nil
	}
	return PageToken{PageTokenKey: v}
}

// Value returns the raw token value.
func (t PageToken) Value() any {
	if t == nil {
		return nil
	}
	return t[PageTokenKey]
}
