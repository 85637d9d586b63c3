// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	QuerySuccessCounter = "catalog_query_success_count"
	QueryFailureCounter = "catalog_query_failure_count"
	QueryDuration       = "catalog_query_duration_seconds"
)

// ProvideMetrics returns the metrics relevant to the catalog backends.
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: QuerySuccessCounter,
				Help: "Counter for the number of successful catalog store queries.",
			},
			"type",
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: QueryFailureCounter,
				Help: "Counter for the number of failed catalog store queries.",
			},
			"type",
		),
		touchstone.HistogramVec(
			prometheus.HistogramOpts{
				Name:    QueryDuration,
				Help:    "A histogram of catalog store query latencies.",
				Buckets: []float64{0.0625, 0.125, .25, .5, 1, 5, 10, 20, 40, 80, 160},
			},
			"type",
		),
	)
}

type Measures struct {
	fx.In
	QuerySuccessCount *prometheus.CounterVec   `name:"catalog_query_success_count"`
	QueryFailureCount *prometheus.CounterVec   `name:"catalog_query_failure_count"`
	QueryDurations    *prometheus.HistogramVec `name:"catalog_query_duration_seconds"`
}
