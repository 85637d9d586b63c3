// SPDX-FileCopyrightText: 2025 Exedra Development, S.L.
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"

	"github.com/exedra-dev/xrgate/catalog"
	"github.com/exedra-dev/xrgate/catalog/cassandra"
	"github.com/exedra-dev/xrgate/catalog/db/metric"
	"github.com/exedra-dev/xrgate/catalog/dynamodb"
	"github.com/exedra-dev/xrgate/catalog/inmem"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Configs selects the catalog backend. The first non-nil config wins; with
// neither set the catalog lives in memory and dies with the process.
type Configs struct {
	Dynamo   *dynamodb.Config
	Yugabyte *cassandra.Config
}

type SetupIn struct {
	fx.In
	Configs  Configs
	Measures metric.Measures
	LC       fx.Lifecycle
	Logger   *zap.Logger
}

func Provide() fx.Option {
	return fx.Options(
		metric.ProvideMetrics(),
		fx.Provide(
			SetupStore,
		),
	)
}

func SetupStore(in SetupIn) (catalog.Store, error) {
	if in.Configs.Dynamo != nil {
		in.Logger.Info("using dynamodb store implementation")
		return dynamodb.NewDynamoStore(context.Background(), *in.Configs.Dynamo, in.Measures, in.Logger)
	}
	if in.Configs.Yugabyte != nil {
		in.Logger.Info("using yugabyte store implementation")
		store, err := cassandra.NewCassandraStore(*in.Configs.Yugabyte, in.Measures, in.Logger)
		if err != nil {
			return nil, err
		}
		in.LC.Append(fx.Hook{
			OnStop: func(context.Context) error {
				store.Close()
				return nil
			},
		})
		return store, nil
	}
	in.Logger.Info("using in memory store implementation")
	return inmem.NewInMem(), nil
}
