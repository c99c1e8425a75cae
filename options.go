package chessbook

import (
	"time"

	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/archive"
	"github.com/discochess/chessbook/internal/builder"
	"github.com/discochess/chessbook/internal/config"
	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/metrics"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
)

// Option configures a Client.
type Option interface {
	apply(*options)
}

// options holds the client configuration.
type options struct {
	store       store.Store
	factory     engine.Factory
	poolSize    int
	timeout     time.Duration
	maxAttempts int
	cacheSize   int
	workers     int
	budget      engine.Budget
	scoring     metrics.Scoring
	archive     *archive.Archive
	progress    builder.ProgressFunc
	stats       stats.Collector
	logger      *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		timeout:     engine.DefaultTimeout,
		maxAttempts: engine.DefaultMaxAttempts,
		cacheSize:   engine.DefaultCacheSize,
		budget:      builder.DefaultBudget,
		scoring:     metrics.DefaultScoring(),
		stats:       stats.NewNoop(),
		logger:      zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithStore sets the analysis store. Required.
// The client closes the store on Close.
func WithStore(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithEngine sets the factory that starts engine evaluators.
// Without an engine the client can rescore, export and report, but not build.
func WithEngine(f engine.Factory) Option {
	return optionFunc(func(o *options) {
		o.factory = f
	})
}

// WithEnginePath starts UCI engines from the binary at path.
func WithEnginePath(path string, opts ...engine.UCIOption) Option {
	return WithEngine(engine.UCIFactory(path, opts...))
}

// WithPoolSize sets the number of engine processes.
// Default is the number of workers.
func WithPoolSize(n int) Option {
	return optionFunc(func(o *options) {
		o.poolSize = n
	})
}

// WithEngineTimeout bounds every engine call.
// Default is 30s.
func WithEngineTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.timeout = d
	})
}

// WithMaxAttempts sets how many times a position is tried before its game
// fails. Default is 3.
func WithMaxAttempts(n int) Option {
	return optionFunc(func(o *options) {
		o.maxAttempts = n
	})
}

// WithCacheSize sets the number of cached evaluations shared by all
// engines. Zero disables the cache.
func WithCacheSize(n int) Option {
	return optionFunc(func(o *options) {
		o.cacheSize = n
	})
}

// WithWorkers sets the number of games analyzed concurrently.
// Default is the number of CPUs.
func WithWorkers(n int) Option {
	return optionFunc(func(o *options) {
		o.workers = n
	})
}

// WithBudget sets the engine search budget per position.
// Default is depth 12.
func WithBudget(b engine.Budget) Option {
	return optionFunc(func(o *options) {
		o.budget = b
	})
}

// WithScoring sets the quality score weights.
func WithScoring(s metrics.Scoring) Option {
	return optionFunc(func(o *options) {
		o.scoring = s
	})
}

// WithArchive sets the archive used to open inputs and create outputs.
func WithArchive(a *archive.Archive) Option {
	return optionFunc(func(o *options) {
		o.archive = a
	})
}

// WithProgress sets the build progress callback.
func WithProgress(fn builder.ProgressFunc) Option {
	return optionFunc(func(o *options) {
		o.progress = fn
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithConfig applies engine, build and scoring settings.
// The engine binary is started from cfg.Engine.Path.
func WithConfig(cfg config.Config) Option {
	return optionFunc(func(o *options) {
		o.factory = engine.UCIFactory(cfg.Engine.Path, cfg.Engine.UCIOptions()...)
		o.timeout = cfg.Engine.Timeout
		o.maxAttempts = cfg.Engine.MaxAttempts
		o.cacheSize = cfg.Engine.CacheSize
		o.workers = cfg.Build.Workers
		o.budget = cfg.Build.Budget()
		o.scoring = cfg.Scoring
	})
}
