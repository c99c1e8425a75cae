package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/chessbook"
	"github.com/discochess/chessbook/internal/config"
	"github.com/discochess/chessbook/internal/store/sqlitestore"
)

var (
	// Global flags.
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chessbook",
	Short: "Analyze chess games and export the best of them",
	Long: `Chessbook evaluates every move of a chess game archive with a UCI
engine, stores per-game quality metrics in a SQLite file, and exports
deterministic rankings of the stored games back to PGN.

Builds are resumable: games already analyzed with the same engine budget
and scoring weights are skipped.

Examples:
  # Analyze an archive
  chessbook build games.pgn.zst games.db

  # Export the 20 best games
  chessbook export games.db best.pgn -n 20 --sort_by quality_score:desc

  # Show the score distribution
  chessbook stats games.db`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// newLogger builds the CLI logger: development output with --verbose,
// warnings and errors only otherwise.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, finishing current games...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// session bundles what every subcommand needs.
type session struct {
	settings config.Config
	logger   *zap.Logger
	client   *chessbook.Client
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("closing client", zap.Error(err))
	}
	s.logger.Sync()
}

// openSession loads settings, opens the store at path and creates a client.
// Read-only sessions skip the store's writer lock so they can run next to a
// build.
func openSession(path string, readOnly bool, configure func(*config.Config), opts ...chessbook.Option) (*session, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(&settings)
		if err := settings.Validate(); err != nil {
			return nil, err
		}
	}
	c, err := settings.Store.NewCodec()
	if err != nil {
		return nil, err
	}

	sopts := []sqlitestore.Option{
		sqlitestore.WithCodec(c),
		sqlitestore.WithBusyTimeout(settings.Store.BusyTimeout),
		sqlitestore.WithLogger(logger),
	}
	if readOnly {
		sopts = append(sopts, sqlitestore.WithoutLock())
	}
	st, err := sqlitestore.Open(path, sopts...)
	if err != nil {
		return nil, err
	}

	copts := []chessbook.Option{
		chessbook.WithStore(st),
		chessbook.WithConfig(settings),
		chessbook.WithLogger(logger),
	}
	client, err := chessbook.New(append(copts, opts...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &session{settings: settings, logger: logger, client: client}, nil
}
