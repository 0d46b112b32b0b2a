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

package errorhandler

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/jpillora/backoff"
)

// BackoffStrategy computes the wait before a retry. It returns false if it
// does not apply to the response, in which case the next strategy is asked.
type BackoffStrategy interface {
	Backoff(resp *http.Response, attempt int) (time.Duration, bool, error)
}

// ConstantBackoff always waits the same time.
type ConstantBackoff struct {
	Duration time.Duration
}

func (b ConstantBackoff) Backoff(*http.Response, int) (time.Duration, bool, error) {
	return b.Duration, true, nil
}

// maxExponentialBackoff caps a single exponential wait.
const maxExponentialBackoff = 10 * time.Minute

// ExponentialBackoff waits Factor * 2^(attempt-1).
type ExponentialBackoff struct {
	Factor time.Duration
}

func (b ExponentialBackoff) Backoff(_ *http.Response, attempt int) (time.Duration, bool, error) {
	factor := b.Factor
	if factor <= 0 {
		factor = DefaultBackoffFactor
	}
	bo := &backoff.Backoff{
		Factor: 2,
		Min:    factor,
		Max:    maxExponentialBackoff,
	}
	return bo.ForAttempt(float64(max(attempt-1, 0))), true, nil
}

// WaitTimeFromHeader reads the number of seconds to wait from a response
// header, e.g. Retry-After. Regex, if set, extracts the number from the
// header value.
type WaitTimeFromHeader struct {
	Header     string
	Regex      *regexp.Regexp
	MaxWaiting time.Duration
}

func NewWaitTimeFromHeader(header, regex string, maxWaiting time.Duration) (*WaitTimeFromHeader, error) {
	re, err := compileOptional(regex)
	if err != nil {
		return nil, err
	}
	return &WaitTimeFromHeader{Header: header, Regex: re, MaxWaiting: maxWaiting}, nil
}

func (b *WaitTimeFromHeader) Backoff(resp *http.Response, _ int) (time.Duration, bool, error) {
	secs, ok := headerNumber(resp, b.Header, b.Regex)
	if !ok {
		return 0, false, nil
	}
	d := seconds(secs)
	if b.MaxWaiting > 0 && d > b.MaxWaiting {
		return 0, false, failure.Config("", "API asked to wait %v which exceeds max_waiting_time_in_seconds (%v)", d, b.MaxWaiting)
	}
	return d, true, nil
}

// WaitUntilTimeFromHeader reads the epoch second until which to wait from a
// response header, e.g. X-RateLimit-Reset. The wait is at least MinWait.
type WaitUntilTimeFromHeader struct {
	Header  string
	Regex   *regexp.Regexp
	MinWait time.Duration

	now func() time.Time
}

func NewWaitUntilTimeFromHeader(header, regex string, minWait time.Duration) (*WaitUntilTimeFromHeader, error) {
	re, err := compileOptional(regex)
	if err != nil {
		return nil, err
	}
	return &WaitUntilTimeFromHeader{Header: header, Regex: re, MinWait: minWait, now: time.Now}, nil
}

func (b *WaitUntilTimeFromHeader) Backoff(resp *http.Response, _ int) (time.Duration, bool, error) {
	until, ok := headerNumber(resp, b.Header, b.Regex)
	if !ok {
		if b.MinWait > 0 {
			return b.MinWait, true, nil
		}
		return 0, false, nil
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	d := time.Unix(0, int64(until*float64(time.Second))).Sub(now())
	return max(d, b.MinWait, 0), true, nil
}

func compileOptional(regex string) (*regexp.Regexp, error) {
	if regex == "" {
		return nil, nil
	}
	re, err := regexp.Compile(regex)
	if err != nil {
		return nil, failure.Config("", "invalid regex %q: %w", regex, err)
	}
	return re, nil
}

func headerNumber(resp *http.Response, header string, re *regexp.Regexp) (float64, bool) {
	if resp == nil || header == "" {
		return 0, false
	}
	v := resp.Header.Get(header)
	if v == "" {
		return 0, false
	}
	if re != nil {
		v = re.FindString(v)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
