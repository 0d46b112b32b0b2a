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

// Package datetime parses and formats datetimes the way manifests describe
// them. A format is either a Go layout, a strftime pattern (anything
// containing a '%' directive) or one of the epoch formats %s, %ms and
// %s_as_float.
package datetime

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	FormatEpochSeconds      = "%s"
	FormatEpochMillis       = "%ms"
	FormatEpochSecondsFloat = "%s_as_float"

	// DefaultFormat is used when a component does not declare a format.
	DefaultFormat = "%Y-%m-%dT%H:%M:%S.%f%z"
)

var ErrInvalidDatetime = errors.New("invalid datetime")

// fallbackLayouts are tried by Parse when no format is given.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Parse parses value using format. Values that are already a time.Time are
// returned in UTC. Strings without zone information are interpreted as UTC.
func Parse(value any, format string) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDatetime)
	}

	switch format {
	case FormatEpochSeconds, FormatEpochSecondsFloat:
		f, err := toFloat(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v is not an epoch: %w", ErrInvalidDatetime, value, err)
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	case FormatEpochMillis:
		f, err := toFloat(value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v is not an epoch: %w", ErrInvalidDatetime, value, err)
		}
		return time.UnixMilli(int64(f)).UTC(), nil
	}

	s := fmt.Sprint(value)
	if format == "" {
		for _, layout := range fallbackLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q does not match any known format", ErrInvalidDatetime, s)
	}

	t, err := time.Parse(Layout(format, true), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match format %q: %w", ErrInvalidDatetime, s, format, err)
	}
	return t.UTC(), nil
}

// ParseAny tries every format in order and returns the first successful
// parse.
func ParseAny(value any, formats ...string) (time.Time, error) {
	var firstErr error
	for _, f := range formats {
		t, err := Parse(value, f)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		return Parse(value, "")
	}
	return time.Time{}, firstErr
}

// Format formats t using format.
func Format(t time.Time, format string) string {
	t = t.UTC()
	switch format {
	case FormatEpochSeconds:
		return strconv.FormatInt(t.Unix(), 10)
	case FormatEpochMillis:
		return strconv.FormatInt(t.UnixMilli(), 10)
	case FormatEpochSecondsFloat:
		return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
	case "":
		format = DefaultFormat
	}
	return t.Format(Layout(format, false))
}

// strftime directives and their Go layout counterparts.
var directives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'f': "000000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'Z': "MST",
	'z': "-0700",
	'%': "%",
}

// Layout translates a strftime pattern into a Go layout. Patterns without a
// '%' directive are assumed to be Go layouts already. When parsing, %z also
// accepts a literal "Z".
func Layout(format string, parsing bool) string {
	if !strings.Contains(format, "%") {
		return format
	}
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		d := format[i]
		if d == 'z' && parsing {
			sb.WriteString("Z0700")
			continue
		}
		if repl, ok := directives[d]; ok {
			sb.WriteString(repl)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(d)
	}
	return sb.String()
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return strconv.ParseFloat(fmt.Sprint(v), 64)
	}
}
