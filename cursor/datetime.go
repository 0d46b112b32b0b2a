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

package cursor

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/requestoption"
	"github.com/conduitio/conduit-connector-declarative/types"
)

const (
	DefaultPartitionFieldStart = "start_time"
	DefaultPartitionFieldEnd   = "end_time"
)

// MinMaxDatetime is an interpolated datetime optionally clamped between an
// interpolated minimum and maximum.
type MinMaxDatetime struct {
	datetime *interpolation.String
	format   string
	min      *interpolation.String
	max      *interpolation.String
}

func NewMinMaxDatetime(value, format, minValue, maxValue string) (*MinMaxDatetime, error) {
	m := &MinMaxDatetime{format: format}
	var err error
	if m.datetime, err = interpolation.NewString(value); err != nil {
		return nil, fmt.Errorf("datetime: %w", err)
	}
	if m.min, err = interpolation.NewString(minValue); err != nil {
		return nil, fmt.Errorf("min_datetime: %w", err)
	}
	if m.max, err = interpolation.NewString(maxValue); err != nil {
		return nil, fmt.Errorf("max_datetime: %w", err)
	}
	return m, nil
}

// Get evaluates the datetime. It returns the zero time if m is nil or the
// datetime renders to an empty string.
func (m *MinMaxDatetime) Get(ctx interpolation.Context) (time.Time, error) {
	if m == nil {
		return time.Time{}, nil
	}
	t, err := m.eval(m.datetime, ctx)
	if err != nil || t.IsZero() {
		return t, err
	}
	lo, err := m.eval(m.min, ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !lo.IsZero() && t.Before(lo) {
		t = lo
	}
	hi, err := m.eval(m.max, ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !hi.IsZero() && t.After(hi) {
		t = hi
	}
	return t, nil
}

func (m *MinMaxDatetime) eval(s *interpolation.String, ctx interpolation.Context) (time.Time, error) {
	raw, err := s.Eval(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := datetime.Parse(raw, m.format)
	if err != nil {
		return time.Time{}, failure.Config("", "invalid datetime %q: %w", raw, err)
	}
	return t, nil
}

// DatetimeConfig configures a DatetimeBasedCursor. Step, CursorGranularity,
// LookbackWindow and CursorField may be templates over the config.
type DatetimeConfig struct {
	Start *MinMaxDatetime
	// End defaults to the current time.
	End *MinMaxDatetime
	// Step is the ISO-8601 duration of a slice. Step and CursorGranularity
	// are set together, without them the cursor produces a single slice.
	Step              string
	CursorGranularity string
	CursorField       string
	// DatetimeFormat is used for slice boundaries and state values.
	DatetimeFormat string
	// CursorDatetimeFormats are tried in order when parsing record values,
	// DatetimeFormat is the last resort.
	CursorDatetimeFormats []string
	LookbackWindow        string
	PartitionFieldStart   string
	PartitionFieldEnd     string
	StartTimeOption       *requestoption.RequestOption
	EndTimeOption         *requestoption.RequestOption
	// IsDataFeed marks streams returning the newest records first,
	// pagination stops at the first record behind the cursor.
	IsDataFeed bool
	// IsClientSideIncremental filters records behind the cursor after
	// extraction.
	IsClientSideIncremental bool
}

// DatetimeBasedCursor slices a stream in datetime windows and keeps the
// highest cursor value of the closed slices as state. Slices may be closed in
// any order, the state only moves once every earlier slice is closed too.
type DatetimeBasedCursor struct {
	cfg         DatetimeConfig
	ctx         interpolation.Context
	cursorField string
	step        datetime.Duration
	granularity datetime.Duration
	lookback    datetime.Duration
	now         func() time.Time

	mu sync.Mutex
	// cursor is the highest value of the closed slices at the front of open.
	cursor time.Time
	// observed holds the highest value per open slice.
	observed map[string]time.Time
	// open lists the slices of the running sync in the order they were
	// generated, up to the first slice that is not closed.
	open []*sliceProgress
	// window is the sync window captured when slices were generated.
	window *syncWindow
}

type sliceProgress struct {
	key    string
	closed bool
	max    time.Time
}

type syncWindow struct {
	start, end time.Time
}

var _ Cursor = (*DatetimeBasedCursor)(nil)

func NewDatetimeBasedCursor(cfg DatetimeConfig, config types.Config, params types.Mapping) (*DatetimeBasedCursor, error) {
	ctx := interpolation.NewContext(config, params)
	if cfg.Start == nil {
		return nil, failure.Config("", "start_datetime is required")
	}
	field, err := evalString(cfg.CursorField, ctx)
	if err != nil {
		return nil, fmt.Errorf("cursor_field: %w", err)
	}
	if field == "" {
		return nil, failure.Config("", "cursor_field is required")
	}
	if cfg.DatetimeFormat == "" {
		cfg.DatetimeFormat = datetime.DefaultFormat
	}
	if cfg.PartitionFieldStart == "" {
		cfg.PartitionFieldStart = DefaultPartitionFieldStart
	}
	if cfg.PartitionFieldEnd == "" {
		cfg.PartitionFieldEnd = DefaultPartitionFieldEnd
	}

	c := &DatetimeBasedCursor{
		cfg:         cfg,
		ctx:         ctx,
		cursorField: field,
		now:         time.Now,
		observed:    make(map[string]time.Time),
	}
	if c.step, err = evalDuration(cfg.Step, ctx); err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	if c.granularity, err = evalDuration(cfg.CursorGranularity, ctx); err != nil {
		return nil, fmt.Errorf("cursor_granularity: %w", err)
	}
	if c.step.IsZero() != c.granularity.IsZero() {
		return nil, failure.Config("", "step and cursor_granularity must be set together")
	}
	if c.lookback, err = evalDuration(cfg.LookbackWindow, ctx); err != nil {
		return nil, fmt.Errorf("lookback_window: %w", err)
	}
	return c, nil
}

func evalString(raw string, ctx interpolation.Context) (string, error) {
	s, err := interpolation.NewString(raw)
	if err != nil {
		return "", err
	}
	return s.Eval(ctx)
}

func evalDuration(raw string, ctx interpolation.Context) (datetime.Duration, error) {
	s, err := evalString(raw, ctx)
	if err != nil {
		return datetime.Duration{}, err
	}
	d, err := datetime.ParseDuration(s)
	if err != nil {
		return datetime.Duration{}, failure.Config("", "%w", err)
	}
	return d, nil
}

// CursorField returns the evaluated name of the cursor field.
func (c *DatetimeBasedCursor) CursorField() string { return c.cursorField }

func (c *DatetimeBasedCursor) IsDataFeed() bool { return c.cfg.IsDataFeed }

func (c *DatetimeBasedCursor) IsClientSideIncremental() bool { return c.cfg.IsClientSideIncremental }

func (c *DatetimeBasedCursor) SetInitialState(state types.StreamState) error {
	v, ok := state[c.cursorField]
	if !ok || v == nil || v == "" {
		return nil
	}
	t, err := c.parse(v)
	if err != nil {
		return failure.Config("", "invalid state for cursor field %q: %w", c.cursorField, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = t
	c.open = nil
	c.window = nil
	return nil
}

func (c *DatetimeBasedCursor) parse(v any) (time.Time, error) {
	formats := append(append([]string{}, c.cfg.CursorDatetimeFormats...), c.cfg.DatetimeFormat)
	return datetime.ParseAny(v, formats...)
}

func (c *DatetimeBasedCursor) State() types.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor.IsZero() {
		return types.StreamState{}
	}
	return types.StreamState{c.cursorField: datetime.Format(c.cursor, c.cfg.DatetimeFormat)}
}

func (c *DatetimeBasedCursor) current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// bounds returns the window the next sync covers: from the later of the
// start datetime and the state, moved back by the lookback window, up to the
// end datetime clamped to now.
func (c *DatetimeBasedCursor) bounds() (time.Time, time.Time, error) {
	ctx := c.ctx.WithState(c.State(), nil)
	now := c.now().UTC()

	end, err := c.cfg.End.Get(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_datetime: %w", err)
	}
	if end.IsZero() || end.After(now) {
		end = now
	}
	start, err := c.cfg.Start.Get(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_datetime: %w", err)
	}
	if start.After(end) {
		start = end
	}
	if cur := c.current(); cur.After(start) {
		start = cur
	}
	return c.lookback.SubtractFrom(start), end, nil
}

func (c *DatetimeBasedCursor) StreamSlices(context.Context) iter.Seq2[types.StreamSlice, error] {
	return func(yield func(types.StreamSlice, error) bool) {
		start, end, err := c.bounds()
		if err != nil {
			yield(types.StreamSlice{}, err)
			return
		}
		c.mu.Lock()
		c.open = nil
		c.window = &syncWindow{start: start, end: end}
		c.mu.Unlock()

		if c.step.IsZero() {
			yield(c.track(c.slice(start, end)), nil)
			return
		}
		for !start.After(end) {
			next := c.step.AddTo(start)
			if !next.After(start) {
				yield(types.StreamSlice{}, failure.Config("", "step %s does not advance the cursor", c.step))
				return
			}
			sliceEnd := c.granularity.SubtractFrom(next)
			if sliceEnd.After(end) {
				sliceEnd = end
			}
			if !yield(c.track(c.slice(start, sliceEnd)), nil) {
				return
			}
			start = next
		}
	}
}

func (c *DatetimeBasedCursor) slice(start, end time.Time) types.StreamSlice {
	return types.NewStreamSlice(nil, types.Mapping{
		c.cfg.PartitionFieldStart: datetime.Format(start, c.cfg.DatetimeFormat),
		c.cfg.PartitionFieldEnd:   datetime.Format(end, c.cfg.DatetimeFormat),
	})
}

// track registers slice as open before it is handed out.
func (c *DatetimeBasedCursor) track(slice types.StreamSlice) types.StreamSlice {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = append(c.open, &sliceProgress{key: c.key(slice)})
	return slice
}

func (c *DatetimeBasedCursor) RequestOptions(_ context.Context, _ types.StreamState, slice types.StreamSlice, _ types.PageToken) (requestoption.Options, error) {
	var opts requestoption.Options
	if c.cfg.StartTimeOption != nil {
		if v, ok := slice.CursorSlice[c.cfg.PartitionFieldStart]; ok {
			if err := c.cfg.StartTimeOption.Inject(&opts, v); err != nil {
				return requestoption.Options{}, err
			}
		}
	}
	if c.cfg.EndTimeOption != nil {
		if v, ok := slice.CursorSlice[c.cfg.PartitionFieldEnd]; ok {
			if err := c.cfg.EndTimeOption.Inject(&opts, v); err != nil {
				return requestoption.Options{}, err
			}
		}
	}
	return opts, nil
}

func (c *DatetimeBasedCursor) recordValue(record types.Record) (time.Time, bool) {
	v, ok := record.Data[c.cursorField]
	if !ok || v == nil || v == "" {
		return time.Time{}, false
	}
	t, err := c.parse(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sliceBounds parses the boundaries of a slice produced by this cursor.
func (c *DatetimeBasedCursor) sliceBounds(slice types.StreamSlice) (time.Time, time.Time, bool) {
	rawStart, ok1 := slice.CursorSlice[c.cfg.PartitionFieldStart]
	rawEnd, ok2 := slice.CursorSlice[c.cfg.PartitionFieldEnd]
	if !ok1 || !ok2 {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := datetime.Parse(rawStart, c.cfg.DatetimeFormat)
	end, err2 := datetime.Parse(rawEnd, c.cfg.DatetimeFormat)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Observe keeps the highest cursor value of records that fall inside the
// slice boundaries.
func (c *DatetimeBasedCursor) Observe(slice types.StreamSlice, record types.Record) {
	t, ok := c.recordValue(record)
	if !ok {
		return
	}
	if start, end, ok := c.sliceBounds(slice); ok && (t.Before(start) || t.After(end)) {
		return
	}
	key := c.key(slice)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.observed[key]; !ok || t.After(prev) {
		c.observed[key] = t
	}
}

func (c *DatetimeBasedCursor) key(slice types.StreamSlice) string {
	return fmt.Sprint(slice.CursorSlice[c.cfg.PartitionFieldStart], "/", slice.CursorSlice[c.cfg.PartitionFieldEnd])
}

func (c *DatetimeBasedCursor) CloseSlice(slice types.StreamSlice) error {
	key := c.key(slice)
	c.mu.Lock()
	defer c.mu.Unlock()
	t, observed := c.observed[key]
	delete(c.observed, key)

	i := slices.IndexFunc(c.open, func(p *sliceProgress) bool {
		return p.key == key && !p.closed
	})
	if i < 0 {
		// not generated by this cursor
		if observed && t.After(c.cursor) {
			c.cursor = t
		}
		return nil
	}
	c.open[i].closed = true
	c.open[i].max = t

	for len(c.open) > 0 && c.open[0].closed {
		if c.open[0].max.After(c.cursor) {
			c.cursor = c.open[0].max
		}
		c.open = c.open[1:]
	}
	return nil
}

// syncBounds returns the window captured by the last call to StreamSlices,
// or the current bounds if no slices were generated yet.
func (c *DatetimeBasedCursor) syncBounds() (time.Time, time.Time, error) {
	c.mu.Lock()
	w := c.window
	c.mu.Unlock()
	if w != nil {
		return w.start, w.end, nil
	}
	return c.bounds()
}

// ShouldBeSynced returns true if the record's cursor value is within the
// window of the current sync. Records without a cursor value are synced.
func (c *DatetimeBasedCursor) ShouldBeSynced(record types.Record) bool {
	t, ok := c.recordValue(record)
	if !ok {
		return true
	}
	start, end, err := c.syncBounds()
	if err != nil {
		return true
	}
	return !t.Before(start) && !t.After(end)
}

func (c *DatetimeBasedCursor) IsGreaterThanOrEqual(first, second types.Record) bool {
	a, okA := c.recordValue(first)
	b, okB := c.recordValue(second)
	switch {
	case okA && okB:
		return !a.Before(b)
	case okA:
		return true
	case okB:
		return false
	default:
		return true
	}
}
