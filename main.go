// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/exedra-dev/xrgate/auth"
	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/catalog/db"
	"github.com/exedra-dev/xrgate/certificate"
	"github.com/exedra-dev/xrgate/discovery"
	"github.com/exedra-dev/xrgate/gateway"
	"github.com/exedra-dev/xrgate/identity"
	"github.com/exedra-dev/xrgate/model"
	"github.com/exedra-dev/xrgate/vault"
	"github.com/spf13/pflag"
	"github.com/xmidt-org/arrange"
	"github.com/xmidt-org/candlelight"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	applicationName = "xrgate"

	apiBase = "api/v1"
)

var (
	GitCommit = "undefined"
	Version   = "undefined"
	BuildTime = "undefined"
)

func main() {
	v, logger, err := setup(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	app := fx.New(
		arrange.LoggerFunc(logger.Sugar().Infof),
		arrange.ForViper(v),
		fx.Supply(logger, v),
		touchstone.Provide(),
		provideServerInstrumenters(),
		provideMetricsHandler(),
		db.Provide(),
		fx.Provide(
			provideConfig,
			func(cfg Config) touchstone.Config { return cfg.Prometheus },
			func(cfg Config) db.Configs { return cfg.Stores },
			func(cfg Config) (*vault.Codec, error) {
				return vault.NewCodecFromHex(cfg.Vault.MasterKey)
			},
			func() *identity.Cache {
				return identity.NewCache(identity.DefaultTTL, nil)
			},
			func(cfg Config, store catalog.Store, codec *vault.Codec, cache *identity.Cache, logger *zap.Logger) *identity.Factory {
				return identity.NewFactory(store, codec, cache, cfg.Identity, logger)
			},
			func(cfg Config, factory *identity.Factory, logger *zap.Logger) *discovery.ServerClient {
				return discovery.NewServerClient(factory, cfg.Identity, logger)
			},
			func(store catalog.Store, client *discovery.ServerClient, logger *zap.Logger) *discovery.Refresher {
				return discovery.NewRefresher(store, client, logger)
			},
			func(store catalog.Store) auth.Oracle {
				return auth.NewStoreOracle(store)
			},
			func(store catalog.Store, factory *identity.Factory, oracle auth.Oracle, logger *zap.Logger) *gateway.Gateway {
				return gateway.New(store, factory, oracle, logger)
			},
			func(cfg Config, store catalog.Store, codec *vault.Codec, factory *identity.Factory, logger *zap.Logger) *certificate.Manager {
				defaults := model.PrincipalConfig{
					BaseURL: cfg.DefaultBaseURL,
					Client:  cfg.DefaultClient,
				}
				return certificate.NewManager(store, codec, factory, defaults, logger)
			},
			candlelight.New,
			func(cfg Config) candlelight.Config {
				tracing := cfg.Tracing
				tracing.ApplicationName = applicationName
				return tracing
			},
		),
		fx.Invoke(
			BuildPrimaryServer,
			BuildHealthServer,
			BuildMetricsServer,
			startScheduler,
		),
	)

	switch err := app.Err(); {
	case errors.Is(err, pflag.ErrHelp):
		return
	case err == nil:
		app.Run()
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
