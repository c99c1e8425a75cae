// Package chessbook analyzes archives of chess games with a UCI engine,
// stores one row of quality metrics per game, and exports deterministic
// rankings of the stored games back to PGN.
//
// Example usage:
//
//	st, err := sqlitestore.Open("games.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := chessbook.New(
//	    chessbook.WithStore(st),
//	    chessbook.WithEnginePath("stockfish"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	summary, err := client.Build(ctx, "games.pgn.zst")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("analyzed %d games\n", summary.Analyzed)
//
//	_, err = client.Export(ctx, "best.pgn", export.Request{Limit: 20})
package chessbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/archive"
	"github.com/discochess/chessbook/internal/builder"
	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/export"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("chessbook: client closed")

	// ErrNoStore indicates no store was provided.
	ErrNoStore = errors.New("chessbook: no store provided")

	// ErrNoEngine indicates a build on a client without an engine.
	ErrNoEngine = errors.New("chessbook: no engine configured")
)

// Client runs builds and exports against one analysis store.
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	store    store.Store
	pool     *engine.Pool
	cache    *engine.Cache
	archive  *archive.Archive
	ownsArch bool
	builder  *builder.Builder
	exporter *export.Exporter
	stats    stats.Collector
	logger   *zap.Logger
	closed   atomic.Bool
}

// New creates a new Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.store == nil {
		return nil, ErrNoStore
	}
	if err := cfg.budget.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.scoring.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		store:   cfg.store,
		archive: cfg.archive,
		stats:   cfg.stats,
		logger:  cfg.logger,
	}
	if c.archive == nil {
		c.archive = archive.New(archive.WithLogger(cfg.logger))
		c.ownsArch = true
	}

	workers := cfg.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if cfg.factory != nil {
		factory := cfg.factory
		if cfg.cacheSize > 0 {
			cache, err := engine.NewCache(cfg.cacheSize, cfg.stats)
			if err != nil {
				return nil, fmt.Errorf("creating evaluation cache: %w", err)
			}
			c.cache = cache
			factory = cache.Wrap(factory)
		}
		size := cfg.poolSize
		if size <= 0 {
			size = workers
		}
		pool, err := engine.NewPool(size, factory,
			engine.WithTimeout(cfg.timeout),
			engine.WithMaxAttempts(cfg.maxAttempts),
			engine.WithStats(cfg.stats),
			engine.WithLogger(cfg.logger),
		)
		if err != nil {
			return nil, err
		}
		c.pool = pool
	}

	bopts := []builder.Option{
		builder.WithWorkers(workers),
		builder.WithBudget(cfg.budget),
		builder.WithScoring(cfg.scoring),
		builder.WithStats(cfg.stats),
		builder.WithLogger(cfg.logger),
	}
	if cfg.progress != nil {
		bopts = append(bopts, builder.WithProgress(cfg.progress))
	}
	c.builder = builder.NewBuilder(c.store, c.pool, bopts...)
	c.exporter = export.New(c.store, export.WithLogger(cfg.logger), export.WithStats(cfg.stats))

	c.logger.Debug("client initialized",
		zap.Int("workers", workers),
		zap.Bool("engine", c.pool != nil),
		zap.Stringer("budget", cfg.budget),
		zap.String("metricVersion", c.builder.MetricVersion()),
	)
	return c, nil
}

// Build analyzes every game in the archive at uri.
func (c *Client) Build(ctx context.Context, uri string) (builder.Summary, error) {
	if c.closed.Load() {
		return builder.Summary{}, ErrClosed
	}
	if c.pool == nil {
		return builder.Summary{}, ErrNoEngine
	}
	rc, err := c.archive.Open(ctx, uri)
	if err != nil {
		return builder.Summary{}, fmt.Errorf("opening input: %w", err)
	}
	defer rc.Close()
	return c.BuildFrom(ctx, rc)
}

// BuildFrom analyzes every game read from r.
func (c *Client) BuildFrom(ctx context.Context, r io.Reader) (builder.Summary, error) {
	if c.closed.Load() {
		return builder.Summary{}, ErrClosed
	}
	if c.pool == nil {
		return builder.Summary{}, ErrNoEngine
	}
	summary, err := c.builder.Build(ctx, r)
	c.recordSize(ctx)
	return summary, err
}

// Rescore recomputes the metrics of every row written by other scoring
// weights, from the stored evaluations.
func (c *Client) Rescore(ctx context.Context) (builder.Summary, error) {
	if c.closed.Load() {
		return builder.Summary{}, ErrClosed
	}
	return c.builder.Rescore(ctx)
}

// Export writes the games selected by req to the archive at uri.
// On error nothing is written to uri.
func (c *Client) Export(ctx context.Context, uri string, req export.Request) (export.Result, error) {
	if c.closed.Load() {
		return export.Result{}, ErrClosed
	}
	if err := req.Query().Validate(); err != nil {
		return export.Result{}, err
	}
	sink, err := c.archive.Create(ctx, uri)
	if err != nil {
		return export.Result{}, fmt.Errorf("creating output: %w", err)
	}
	return c.exporter.Export(ctx, sink, req)
}

// Lookup returns the stored row of a game.
// Returns store.ErrNotFound if the game has not been analyzed.
func (c *Client) Lookup(ctx context.Context, fingerprint string) (*store.Record, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return store.Get(ctx, c.store, fingerprint)
}

// Stats summarizes the quality scores of every stored game.
func (c *Client) Stats(ctx context.Context) (Distribution, error) {
	if c.closed.Load() {
		return Distribution{}, ErrClosed
	}
	scores, err := c.store.QualityScores(ctx)
	if err != nil {
		return Distribution{}, fmt.Errorf("reading quality scores: %w", err)
	}
	c.stats.SetGauge(stats.MetricStoredGames, int64(len(scores)))
	return NewDistribution(scores, DefaultBins), nil
}

// MetricVersion returns the version tag of the client's scoring weights.
func (c *Client) MetricVersion() string {
	return c.builder.MetricVersion()
}

// Store returns the underlying analysis store.
func (c *Client) Store() store.Store {
	return c.store
}

func (c *Client) recordSize(ctx context.Context) {
	n, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Debug("counting stored games", zap.Error(err))
		return
	}
	c.stats.SetGauge(stats.MetricStoredGames, int64(n))
}

// Close stops the engines and closes the store.
// After Close, the client should not be used.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var errs []error
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing engines: %w", err))
		}
	}
	if c.ownsArch {
		if err := c.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing archive: %w", err))
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}
