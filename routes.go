// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/certificate"
	"github.com/exedra-dev/xrgate/discovery"
	"github.com/exedra-dev/xrgate/gateway"
	"github.com/exedra-dev/xrgate/model"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/xmidt-org/candlelight"
	"github.com/xmidt-org/httpaux"
	"github.com/xmidt-org/httpaux/recovery"
	"github.com/xmidt-org/touchstone/touchhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type PrimaryIn struct {
	fx.In
	LC           fx.Lifecycle
	Logger       *zap.Logger
	Config       Config
	Store        catalog.Store
	Refresher    *discovery.Refresher
	Gateway      *gateway.Gateway
	Certificates *certificate.Manager
	Tracing      candlelight.Tracing
	Metrics      touchhttp.ServerInstrumenter `name:"servers.primary.metrics"`
}

// BuildPrimaryServer mounts the portal-facing API and starts the primary
// listener.
func BuildPrimaryServer(in PrimaryIn) {
	router := mux.NewRouter()
	api := router.PathPrefix("/" + apiBase).Subrouter()
	api.Methods(http.MethodPost).Path("/discovery/refresh").Handler(discovery.NewRefreshHandler(in.Refresher))
	api.Methods(http.MethodGet).Path("/providers").Handler(discovery.NewProvidersHandler(in.Store))
	api.Methods(http.MethodPost).Path("/invoke").Handler(gateway.NewInvokeHandler(in.Gateway))
	api.Methods(http.MethodGet).Path("/invoke/stream").Handler(gateway.NewStreamInvokeHandler(in.Gateway))
	api.Methods(http.MethodPost).Path("/certificate").Handler(certificate.NewUploadHandler(in.Certificates))
	api.Methods(http.MethodGet).Path("/certificate").Handler(certificate.NewDescribeHandler(in.Certificates))
	api.Methods(http.MethodDelete).Path("/certificate").Handler(certificate.NewDeleteHandler(in.Certificates))

	options := []otelmux.Option{
		otelmux.WithTracerProvider(in.Tracing.TracerProvider()),
		otelmux.WithPropagators(in.Tracing.Propagator()),
	}
	chain := alice.New(
		recovery.Middleware(recovery.WithStatusCode(555)),
		alice.Constructor(otelmux.Middleware(applicationName, options...)),
		candlelight.EchoFirstTraceNodeInfo(in.Tracing, false),
		auth.NewPrincipalMiddleware([]byte(in.Config.Auth.JWTSecret), in.Logger),
	)

	runServer(in.LC, in.Logger, "primary", in.Config.Servers.Primary.Address,
		in.Metrics.Then(chain.Then(router)))
}

type HealthIn struct {
	fx.In
	LC      fx.Lifecycle
	Logger  *zap.Logger
	Config  Config
	Metrics touchhttp.ServerInstrumenter `name:"servers.health.metrics"`
}

func BuildHealthServer(in HealthIn) {
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/health").Handler(httpaux.ConstantHandler{
		StatusCode: http.StatusOK,
	})
	runServer(in.LC, in.Logger, "health", in.Config.Servers.Health.Address,
		in.Metrics.Then(router))
}

type MetricsIn struct {
	fx.In
	LC      fx.Lifecycle
	Logger  *zap.Logger
	Config  Config
	Handler http.Handler `name:"metrics.handler"`
}

func BuildMetricsServer(in MetricsIn) {
	router := mux.NewRouter()
	router.Methods(http.MethodGet).Path("/metrics").Handler(in.Handler)
	runServer(in.LC, in.Logger, "metrics", in.Config.Servers.Metrics.Address, router)
}

type SchedulerIn struct {
	fx.In
	LC        fx.Lifecycle
	Logger    *zap.Logger
	Config    Config
	Refresher *discovery.Refresher
}

// startScheduler wires the background refresh loop into the fx lifecycle when
// it is enabled in configuration.
func startScheduler(in SchedulerIn) {
	if !in.Config.Refresh.Enabled {
		return
	}
	scheduler := discovery.NewScheduler(
		in.Refresher,
		model.PrincipalRef(in.Config.Refresh.Principal),
		in.Config.Refresh.Interval,
		in.Logger,
	)
	in.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			scheduler.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

// runServer binds the listener during OnStart so a bad address fails the app
// instead of a background goroutine.
func runServer(lc fx.Lifecycle, logger *zap.Logger, name, address string, handler http.Handler) {
	server := &http.Server{Addr: address, Handler: handler}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", address)
			if err != nil {
				return err
			}
			logger.Info("server listening", zap.String("server", name), zap.String("address", address))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server exited", zap.String("server", name), zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
