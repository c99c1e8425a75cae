// Package chessbookfx provides an fx module for a SQLite-backed chessbook client.
package chessbookfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/chessbook"
	"github.com/discochess/chessbook/internal/config"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/stats/logger"
	"github.com/discochess/chessbook/internal/store/sqlitestore"
)

// Config holds configuration for the chessbook client.
type Config struct {
	// StorePath is the SQLite analysis store file.
	StorePath string

	// Settings holds engine, build and scoring settings.
	// Nil means config.Default().
	Settings *config.Config
}

// Module provides a SQLite-backed chessbook client.
// Requires a Config and a *zap.Logger to be provided.
var Module = fx.Module("chessbook",
	fx.Provide(
		newStatsCollector,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("chessbook.stats"))
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *chessbook.Client
}

func newClient(p Params) (Result, error) {
	settings := config.Default()
	if p.Config.Settings != nil {
		settings = *p.Config.Settings
	}
	if err := settings.Validate(); err != nil {
		return Result{}, err
	}
	c, err := settings.Store.NewCodec()
	if err != nil {
		return Result{}, err
	}

	st, err := sqlitestore.Open(p.Config.StorePath,
		sqlitestore.WithCodec(c),
		sqlitestore.WithBusyTimeout(settings.Store.BusyTimeout),
		sqlitestore.WithLogger(p.Logger),
	)
	if err != nil {
		return Result{}, err
	}

	client, err := chessbook.New(
		chessbook.WithStore(st),
		chessbook.WithConfig(settings),
		chessbook.WithStats(p.Collector),
		chessbook.WithLogger(p.Logger.Named("chessbook")),
	)
	if err != nil {
		st.Close()
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
