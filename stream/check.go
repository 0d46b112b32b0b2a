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

package stream

import (
	"context"
	"fmt"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"go.uber.org/multierr"
)

// CheckStream verifies a connection by reading the first record of each of
// the named streams.
type CheckStream struct {
	StreamNames []string
}

func NewCheckStream(names []string) (*CheckStream, error) {
	if len(names) == 0 {
		return nil, failure.Config("stream_names", "check needs at least one stream name")
	}
	return &CheckStream{StreamNames: names}, nil
}

// Check returns nil if every named stream is available. Streams that return
// no records are considered available.
func (c *CheckStream) Check(ctx context.Context, streams []*DeclarativeStream) error {
	byName := make(map[string]*DeclarativeStream, len(streams))
	for _, s := range streams {
		byName[s.Name()] = s
	}
	var errs error
	for _, name := range c.StreamNames {
		s, ok := byName[name]
		if !ok {
			errs = multierr.Append(errs, failure.Config("stream_names", "stream %q is not defined in the manifest", name))
			continue
		}
		if err := available(ctx, s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stream %q is not available: %w", name, err))
		}
	}
	return errs
}

func available(ctx context.Context, s *DeclarativeStream) error {
	for slice, err := range s.StreamSlices(ctx) {
		if err != nil {
			return err
		}
		for _, err := range s.ReadSlice(ctx, slice) {
			// first record or first error decides
			return err
		}
		return nil
	}
	return nil
}
