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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestRegistry(t *testing.T) {
	is := is.New(t)

	HTTPRequests.WithLabelValues("registry_test", "200").Inc()
	HTTPRequestDuration.WithLabelValues("registry_test").Observe(0.1)
	HTTPRetries.WithLabelValues("registry_test", "RETRY").Inc()
	RateLimitWaitSeconds.WithLabelValues("registry_test").Add(1.5)
	RecordsEmitted.WithLabelValues("registry_test").Add(3)
	StreamFailures.WithLabelValues("registry_test", "system_error").Inc()

	families, err := Registry.Gather()
	is.NoErr(err)
	got := make(map[string]bool)
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"declarative_http_requests_total",
		"declarative_http_request_duration_seconds",
		"declarative_http_retries_total",
		"declarative_rate_limit_wait_seconds_total",
		"declarative_records_emitted_total",
		"declarative_stream_failures_total",
	} {
		is.True(got[name]) // collector registered
	}
}

func TestHandler(t *testing.T) {
	is := is.New(t)

	StreamFailures.WithLabelValues("handler_test", "config_error").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	is.True(strings.Contains(string(body), `declarative_stream_failures_total{failure_type="config_error",stream="handler_test"} 1`))
}
