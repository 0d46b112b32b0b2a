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

package interpolation

import (
	"fmt"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/conduitio/conduit-connector-declarative/datetime"
	"github.com/goccy/go-json"
)

// Now returns the current time. It is a variable so tests can freeze time.
var Now = time.Now

var (
	funcMapOnce sync.Once
	funcs       template.FuncMap
)

// funcMap returns the functions available to templates: the hermetic sprig
// functions plus the datetime macros.
func funcMap() template.FuncMap {
	funcMapOnce.Do(func() {
		funcs = sprig.HermeticTxtFuncMap()
		for name, fn := range macros() {
			funcs[name] = fn
		}
	})
	return funcs
}

func macros() template.FuncMap {
	return template.FuncMap{
		"now_utc":         func() time.Time { return Now().UTC() },
		"today_utc":       func() string { return Now().UTC().Format(time.DateOnly) },
		"timestamp":       timestamp,
		"day_delta":       dayDelta,
		"format_datetime": formatDatetime,
		"str_to_datetime": strToDatetime,
		"duration":        isoDuration,
		"max":             maxValue,
		"min":             minValue,
		"json":            toJSON,
		"tojson":          toJSON,
	}
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// timestamp converts a datetime or datetime string to epoch seconds.
func timestamp(v any) (int64, error) {
	switch v := v.(type) {
	case int, int64, float64:
		f, _ := strconv.ParseFloat(fmt.Sprint(v), 64)
		return int64(f), nil
	}
	t, err := datetime.Parse(v, "")
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// dayDelta returns now shifted by the number of days, formatted with the
// optional format.
func dayDelta(days int, format ...string) string {
	f := datetime.DefaultFormat
	if len(format) > 0 {
		f = format[0]
	}
	return datetime.Format(Now().UTC().AddDate(0, 0, days), f)
}

// formatDatetime formats a datetime or datetime string. An optional input
// format controls how strings are parsed.
func formatDatetime(v any, format string, inputFormat ...string) (string, error) {
	in := ""
	if len(inputFormat) > 0 {
		in = inputFormat[0]
	}
	t, err := datetime.Parse(v, in)
	if err != nil {
		return "", err
	}
	return datetime.Format(t, format), nil
}

func strToDatetime(s string) (time.Time, error) {
	return datetime.Parse(s, "")
}

func isoDuration(s string) (time.Duration, error) {
	d, err := datetime.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Approximate(), nil
}

func maxValue(first any, rest ...any) any {
	out := first
	for _, v := range rest {
		if compare(v, out) > 0 {
			out = v
		}
	}
	return out
}

func minValue(first any, rest ...any) any {
	out := first
	for _, v := range rest {
		if compare(v, out) < 0 {
			out = v
		}
	}
	return out
}

// compare orders numbers numerically, times chronologically and everything
// else by its string representation.
func compare(a, b any) int {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	fa, errA := strconv.ParseFloat(fmt.Sprint(a), 64)
	fb, errB := strconv.ParseFloat(fmt.Sprint(b), 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}
