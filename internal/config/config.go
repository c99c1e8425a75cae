// Package config loads the operator settings of a chessbook run from YAML.
//
// Every field is optional; missing fields keep their defaults:
//
//	engine:
//	  path: /usr/local/bin/stockfish
//	  hash_mb: 256
//	  threads: 1
//	  timeout: 30s
//	  max_attempts: 3
//	  cache_size: 100000
//	build:
//	  workers: 8
//	  depth: 12
//	store:
//	  codec: zstd
//	scoring:
//	  cpl_weight: 1.5
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/discochess/chessbook/internal/codec"
	"github.com/discochess/chessbook/internal/codec/gzipcodec"
	"github.com/discochess/chessbook/internal/codec/noopcodec"
	"github.com/discochess/chessbook/internal/codec/zstdcodec"
	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/metrics"
)

// EngineEnv overrides the default engine path.
const EngineEnv = "CHESSBOOK_ENGINE"

// ErrInvalid indicates a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid configuration")

// Engine configures the UCI engine processes.
type Engine struct {
	Path        string            `yaml:"path"`
	Args        []string          `yaml:"args"`
	Options     map[string]string `yaml:"options"`
	HashMB      int               `yaml:"hash_mb"`
	Threads     int               `yaml:"threads"`
	Timeout     time.Duration     `yaml:"timeout"`
	MaxAttempts int               `yaml:"max_attempts"`
	// CacheSize is the number of cached evaluations. Zero disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// Build configures the build phase.
type Build struct {
	// Workers defaults to the number of CPUs when zero.
	Workers  int           `yaml:"workers"`
	Depth    int           `yaml:"depth"`
	MoveTime time.Duration `yaml:"movetime"`
}

// Budget returns the engine budget of the build.
func (b Build) Budget() engine.Budget {
	return engine.Budget{Depth: b.Depth, MoveTime: b.MoveTime}
}

// Store configures the analysis store.
type Store struct {
	// Codec compresses stored evaluations: zstd, gzip or none.
	Codec       string        `yaml:"codec"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Config is the full configuration of a run.
type Config struct {
	Engine  Engine          `yaml:"engine"`
	Build   Build           `yaml:"build"`
	Store   Store           `yaml:"store"`
	Scoring metrics.Scoring `yaml:"scoring"`
}

// Default returns the default configuration.
func Default() Config {
	path := engine.DefaultEnginePath
	if p := os.Getenv(EngineEnv); p != "" {
		path = p
	}
	return Config{
		Engine: Engine{
			Path:        path,
			HashMB:      64,
			Threads:     1,
			Timeout:     engine.DefaultTimeout,
			MaxAttempts: engine.DefaultMaxAttempts,
			CacheSize:   engine.DefaultCacheSize,
		},
		Build: Build{
			Depth: 12,
		},
		Store: Store{
			Codec:       "zstd",
			BusyTimeout: 5 * time.Second,
		},
		Scoring: metrics.DefaultScoring(),
	}
}

// Load reads the configuration at path on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r on top of the defaults. Unknown fields are
// rejected.
func Decode(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.Path == "" {
		errs = append(errs, errors.New("engine.path is empty"))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.timeout must be positive, got %s", c.Engine.Timeout))
	}
	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts))
	}
	if c.Engine.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("engine.cache_size must not be negative, got %d", c.Engine.CacheSize))
	}
	if c.Build.Workers < 0 {
		errs = append(errs, fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers))
	}
	if err := c.Build.Budget().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("build: %w", err))
	}
	if _, err := c.Store.NewCodec(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// NewCodec returns the evaluation codec named by the store settings.
func (s Store) NewCodec() (codec.Codec, error) {
	switch s.Codec {
	case "", "zstd":
		return zstdcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "none":
		return noopcodec.New(), nil
	}
	return nil, fmt.Errorf("store.codec must be zstd, gzip or none, got %q", s.Codec)
}

// UCIOptions returns the process options of the engine settings.
func (e Engine) UCIOptions() []engine.UCIOption {
	opts := []engine.UCIOption{
		engine.WithArgs(e.Args...),
	}
	if e.HashMB > 0 {
		opts = append(opts, engine.WithHash(e.HashMB))
	}
	if e.Threads > 0 {
		opts = append(opts, engine.WithThreads(e.Threads))
	}
	for name, value := range e.Options {
		opts = append(opts, engine.WithOption(name, value))
	}
	return opts
}
