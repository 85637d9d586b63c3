// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xmidt-org/touchstone/touchhttp"
	"go.uber.org/fx"
)

// provideServerInstrumenters builds the per-server HTTP metrics bundles.
func provideServerInstrumenters() fx.Option {
	return fx.Provide(
		fx.Annotated{
			Name: "servers.primary.metrics",
			Target: touchhttp.ServerBundle{}.NewInstrumenter(
				touchhttp.ServerLabel, "primary",
			),
		},
		fx.Annotated{
			Name: "servers.health.metrics",
			Target: touchhttp.ServerBundle{}.NewInstrumenter(
				touchhttp.ServerLabel, "health",
			),
		},
	)
}

// provideMetricsHandler exposes everything registered with the touchstone
// factory on the metrics server.
func provideMetricsHandler() fx.Option {
	return fx.Provide(
		fx.Annotated{
			Name: "metrics.handler",
			Target: func(g prometheus.Gatherer) http.Handler {
				return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
			},
		},
	)
}
