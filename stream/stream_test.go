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
	"errors"
	"iter"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/matryer/is"
)

type fakeRetriever struct {
	slices  []types.StreamSlice
	records map[string][]types.Record
	err     error
	state   types.StreamState
}

func (r *fakeRetriever) StreamSlices(context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		for _, s := range r.slices {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (r *fakeRetriever) ReadSlice(_ context.Context, slice types.StreamSlice) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		if r.err != nil {
			yield(types.Record{}, r.err)
			return
		}
		key, _ := slice.Partition["id"].(string)
		for _, rec := range r.records[key] {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (r *fakeRetriever) State() types.StreamState { return r.state }

func (r *fakeRetriever) SetInitialState(state types.StreamState) error {
	r.state = state
	return nil
}

func newFake() *fakeRetriever {
	return &fakeRetriever{
		slices: []types.StreamSlice{
			types.NewStreamSlice(types.Mapping{"id": "a"}, nil),
			types.NewStreamSlice(types.Mapping{"id": "b"}, nil),
		},
		records: map[string][]types.Record{
			"a": {{Data: types.Mapping{"n": 1}}, {Data: types.Mapping{"n": 2}}},
			"b": {{Data: types.Mapping{"n": 3}}},
		},
	}
}

func TestDeclarativeStream_ReadRecords(t *testing.T) {
	is := is.New(t)

	s, err := New(Config{Name: "items", Retriever: newFake(), CursorField: "updated_at"})
	is.NoErr(err)
	is.True(s.SupportsIncremental())
	is.Equal(s.SyncModes(), []SyncMode{FullRefresh, Incremental})

	var got []any
	for rec, err := range s.ReadRecords(context.Background(), Incremental) {
		is.NoErr(err)
		got = append(got, rec.Data["n"])
	}
	is.Equal(got, []any{1, 2, 3})

	is.NoErr(s.SetInitialState(types.StreamState{"updated_at": "2024"}))
	is.Equal(s.State(), types.StreamState{"updated_at": "2024"})

	sc, err := s.JSONSchema(context.Background())
	is.NoErr(err)
	is.Equal(sc["type"], "object")
}

func TestDeclarativeStream_Invalid(t *testing.T) {
	is := is.New(t)
	_, err := New(Config{Retriever: newFake()})
	is.True(failure.IsConfigError(err))
	_, err = New(Config{Name: "items"})
	is.True(failure.IsConfigError(err))
}

func TestCheckStream(t *testing.T) {
	is := is.New(t)

	ok, err := New(Config{Name: "items", Retriever: newFake()})
	is.NoErr(err)
	empty, err := New(Config{Name: "empty", Retriever: &fakeRetriever{}})
	is.NoErr(err)
	boom := errors.New("401 unauthorized")
	broken, err := New(Config{Name: "broken", Retriever: &fakeRetriever{
		slices: []types.StreamSlice{{}},
		err:    boom,
	}})
	is.NoErr(err)
	streams := []*DeclarativeStream{ok, empty, broken}

	c, err := NewCheckStream([]string{"items", "empty"})
	is.NoErr(err)
	is.NoErr(c.Check(context.Background(), streams))

	c, err = NewCheckStream([]string{"items", "broken"})
	is.NoErr(err)
	err = c.Check(context.Background(), streams)
	is.True(errors.Is(err, boom))

	c, err = NewCheckStream([]string{"missing"})
	is.NoErr(err)
	is.True(failure.IsConfigError(c.Check(context.Background(), streams)))

	_, err = NewCheckStream(nil)
	is.True(failure.IsConfigError(err))
}
