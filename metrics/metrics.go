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

// Package metrics contains the prometheus collectors of the connector
// runtime. They are registered on Registry, which the CLI exposes when a
// metrics address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "declarative"

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests sent, by stream and status code.",
	}, []string{"stream", "status"})

	HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests, by stream.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stream"})

	HTTPRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_retries_total",
		Help:      "Number of retried HTTP requests, by stream and action.",
	}, []string{"stream", "action"})

	RateLimitWaitSeconds = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds_total",
		Help:      "Time spent waiting for the API budget, by stream.",
	}, []string{"stream"})

	RecordsEmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_emitted_total",
		Help:      "Number of records emitted, by stream.",
	}, []string{"stream"})

	StreamFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_failures_total",
		Help:      "Number of streams that failed, by stream and failure type.",
	}, []string{"stream", "failure_type"})
)

// Handler returns an HTTP handler exposing Registry in the Prometheus text
// format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
