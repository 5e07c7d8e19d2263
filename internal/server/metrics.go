// Copyright 2026 The Trackio Authors
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

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackio_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	rowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackio_rows_ingested_total",
			Help: "Total metric rows accepted by the bulk endpoint",
		},
		[]string{"project", "table"},
	)

	artifactsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackio_artifacts_received_total",
		Help: "Total media artifacts accepted by the upload endpoint",
	})

	ingestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackio_ingest_errors_total",
			Help: "Total ingest failures by reason",
		},
		[]string{"reason"},
	)
)
