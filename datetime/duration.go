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

package datetime

import (
	"fmt"
	"math"
	"time"

	"github.com/sosodev/duration"
)

// Duration is an ISO-8601 duration (e.g. P1D, PT0.000001S, P1M). Years and
// months are applied as calendar units.
type Duration struct {
	raw string
	d   *duration.Duration
}

// ParseDuration parses an ISO-8601 duration. An empty string returns the
// zero duration.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return Duration{}, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return Duration{}, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	return Duration{raw: s, d: d}, nil
}

// IsZero returns true if the duration was not set or is zero.
func (d Duration) IsZero() bool {
	if d.d == nil {
		return true
	}
	return d.d.Years == 0 && d.d.Months == 0 && d.d.Weeks == 0 && d.d.Days == 0 &&
		d.d.Hours == 0 && d.d.Minutes == 0 && d.d.Seconds == 0
}

func (d Duration) String() string { return d.raw }

// AddTo returns t shifted forward by the duration.
func (d Duration) AddTo(t time.Time) time.Time {
	return d.shift(t, 1)
}

// SubtractFrom returns t shifted backward by the duration.
func (d Duration) SubtractFrom(t time.Time) time.Time {
	return d.shift(t, -1)
}

func (d Duration) shift(t time.Time, sign int) time.Time {
	if d.d == nil {
		return t
	}
	if d.d.Negative {
		sign = -sign
	}
	t = t.AddDate(
		sign*int(d.d.Years),
		sign*int(d.d.Months),
		sign*(int(d.d.Weeks)*7+int(d.d.Days)),
	)
	clock := d.d.Hours*float64(time.Hour) +
		d.d.Minutes*float64(time.Minute) +
		d.d.Seconds*float64(time.Second)
	return t.Add(time.Duration(sign) * time.Duration(math.Round(clock)))
}

// Approximate converts the duration to a time.Duration, counting a month as
// 30 days and a year as 365 days.
func (d Duration) Approximate() time.Duration {
	if d.d == nil {
		return 0
	}
	return d.d.ToTimeDuration()
}
