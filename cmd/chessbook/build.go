package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/chessbook"
	"github.com/discochess/chessbook/internal/builder"
	"github.com/discochess/chessbook/internal/config"
	promstats "github.com/discochess/chessbook/internal/stats/prometheus"
)

var buildCmd = &cobra.Command{
	Use:   "build <input> <store>",
	Short: "Analyze every game of an archive into the store",
	Long: `Evaluate every move of every game in the input archive and store the
resulting quality metrics.

The input may be a local file or directory, "-" for stdin, a gs:// or s3://
object or prefix, or an http(s) URL. Files ending in .zst or .gz are
decompressed.

Games already stored with the same engine budget and scoring weights are
skipped, so an interrupted build can simply be run again. Games stored with
the same budget but older weights are rescored without the engine.

Examples:
  # Analyze a local archive at depth 12
  chessbook build games.pgn games.db

  # Analyze every archive under a bucket prefix with 8 engines
  chessbook build gs://my-bucket/archives/ games.db --workers 8

  # Use a fixed time per position and expose metrics
  chessbook build games.pgn.zst games.db --movetime 200ms --metrics-addr :9090`,
	Args: cobra.ExactArgs(2),
	RunE: runBuild,
}

var (
	enginePath   string
	depth        int
	moveTime     time.Duration
	workers      int
	threads      int
	hashMB       int
	timeout      time.Duration
	attempts     int
	cacheSize    int
	metricsAddr  string
	showProgress bool
)

func init() {
	buildCmd.Flags().StringVar(&enginePath, "engine", "", "UCI engine binary (default $"+config.EngineEnv+" or stockfish)")
	buildCmd.Flags().IntVar(&depth, "depth", 12, "search depth per position")
	buildCmd.Flags().DurationVar(&moveTime, "movetime", 0, "search time per position")
	buildCmd.Flags().IntVarP(&workers, "workers", "w", 0, "games analyzed in parallel (default number of CPUs)")
	buildCmd.Flags().IntVar(&threads, "threads", 1, "search threads per engine")
	buildCmd.Flags().IntVar(&hashMB, "hash", 64, "engine hash table size in MB")
	buildCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout per engine call")
	buildCmd.Flags().IntVar(&attempts, "attempts", 3, "attempts per position before a game fails")
	buildCmd.Flags().IntVar(&cacheSize, "cache-size", 100_000, "evaluations cached across games (0 disables)")
	buildCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the build")
	buildCmd.Flags().BoolVar(&showProgress, "progress", true, "print progress")
	rootCmd.AddCommand(buildCmd)
}

// applyEngineFlags overrides settings with the flags the user set.
func applyEngineFlags(cmd *cobra.Command) func(*config.Config) {
	return func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("engine") {
			c.Engine.Path = enginePath
		}
		if flags.Changed("depth") {
			c.Build.Depth = depth
		}
		if flags.Changed("movetime") {
			c.Build.MoveTime = moveTime
			if !flags.Changed("depth") {
				c.Build.Depth = 0
			}
		}
		if flags.Changed("workers") {
			c.Build.Workers = workers
		}
		if flags.Changed("threads") {
			c.Engine.Threads = threads
		}
		if flags.Changed("hash") {
			c.Engine.HashMB = hashMB
		}
		if flags.Changed("timeout") {
			c.Engine.Timeout = timeout
		}
		if flags.Changed("attempts") {
			c.Engine.MaxAttempts = attempts
		}
		if flags.Changed("cache-size") {
			c.Engine.CacheSize = cacheSize
		}
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	input, storePath := args[0], args[1]

	var opts []chessbook.Option
	if showProgress {
		opts = append(opts, chessbook.WithProgress(builder.DefaultProgressFunc))
	}
	var registry *prometheus.Registry
	if metricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, chessbook.WithStats(promstats.New(registry)))
	}

	s, err := openSession(storePath, false, applyEngineFlags(cmd), opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if registry != nil {
		srv, err := serveMetrics(metricsAddr, registry, s.logger)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Building chessbook store\n")
	fmt.Printf("  Input:    %s\n", input)
	fmt.Printf("  Store:    %s\n", storePath)
	fmt.Printf("  Engine:   %s\n", s.settings.Engine.Path)
	fmt.Printf("  Budget:   %s\n", s.settings.Build.Budget())
	fmt.Printf("  Version:  %s\n", s.client.MetricVersion())
	fmt.Println()

	summary, err := s.client.Build(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Printf("Stopped after %d analyzed games; run again to resume.\n", summary.Analyzed)
		}
		return err
	}
	if summary.Failed > 0 || summary.StoreErrors > 0 {
		fmt.Printf("%d games failed, %d could not be stored; see the log for details.\n", summary.Failed, summary.StoreErrors)
	}

	dist, err := s.client.Stats(ctx)
	if err != nil {
		return err
	}
	printDistribution(dist)
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}
