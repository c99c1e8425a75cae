// Package memorychessbookfx provides an fx module for an in-memory chessbook client.
// Useful for testing.
package memorychessbookfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/chessbook"
	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/stats/logger"
	"github.com/discochess/chessbook/internal/store/memstore"
)

// Module provides an in-memory chessbook client for testing.
// Requires a *zap.Logger to be provided. An engine.Factory is optional;
// without one the client cannot build.
var Module = fx.Module("memorychessbook",
	fx.Provide(
		newStatsCollector,
		newMemStore,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("chessbook.stats"))
}

func newMemStore() *memstore.Store {
	return memstore.New()
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Store     *memstore.Store
	Engine    engine.Factory `optional:"true"`
	Lifecycle fx.Lifecycle
}

// Result holds the provided client. The store is provided separately for
// test setup.
type Result struct {
	fx.Out

	Client *chessbook.Client
}

func newClient(p Params) (Result, error) {
	opts := []chessbook.Option{
		chessbook.WithStore(p.Store),
		chessbook.WithStats(p.Collector),
		chessbook.WithLogger(p.Logger.Named("chessbook")),
	}
	if p.Engine != nil {
		opts = append(opts, chessbook.WithEngine(p.Engine))
	}
	client, err := chessbook.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
