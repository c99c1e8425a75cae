// Package builder implements the analysis pipeline: it reads games from an
// archive, evaluates every position with a pool of engines, computes the
// game's metrics and writes one row per game to the analysis store.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/metrics"
	"github.com/discochess/chessbook/internal/pgn"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
)

// DefaultBudget is the search budget used when none is configured.
var DefaultBudget = engine.Budget{Depth: 12}

// rescoreBatch is the page size used when rescoring stored rows.
const rescoreBatch = 500

// progressEvery is how many games pass between progress reports.
const progressEvery = 10

// Summary reports the outcome of a run.
type Summary struct {
	RunID string

	// Parsed is the number of well-formed games read.
	Parsed int
	// ParseErrors is the number of malformed blocks skipped.
	ParseErrors int
	// Empty is the number of games without moves; they are not stored.
	Empty int
	// Skipped is the number of games already stored with the current
	// engine budget and metric version.
	Skipped int
	// Rescored is the number of games whose metrics were recomputed from
	// stored evaluations.
	Rescored int
	// Analyzed is the number of games evaluated by the engine and stored.
	Analyzed int
	// Failed is the number of games abandoned after engine failures.
	Failed int
	// StoreErrors is the number of games whose row could not be written.
	StoreErrors int

	// EngineCalls is the number of positions submitted to engines.
	EngineCalls int64

	Duration time.Duration
}

// Stored returns how many games have an up-to-date row after the run.
func (s Summary) Stored() int {
	return s.Skipped + s.Rescored + s.Analyzed
}

// Builder runs the analysis pipeline against a store.
type Builder struct {
	store    store.Store
	pool     *engine.Pool
	workers  int
	budget   engine.Budget
	scoring  metrics.Scoring
	logger   *zap.Logger
	stats    stats.Collector
	progress ProgressFunc
	now      func() time.Time
}

// Option configures the Builder.
type Option func(*Builder)

// WithWorkers sets the number of games analyzed concurrently.
// Default is the pool size.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithBudget sets the search budget for every evaluation of the run.
func WithBudget(budget engine.Budget) Option {
	return func(b *Builder) { b.budget = budget }
}

// WithScoring sets the quality score weights.
func WithScoring(s metrics.Scoring) Option {
	return func(b *Builder) { b.scoring = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(b *Builder) { b.stats = c }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(b *Builder) { b.progress = fn }
}

// WithClock sets the time source used for analyzed_at.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder writing to s. The pool may be nil for a
// builder that only rescores.
func NewBuilder(s store.Store, pool *engine.Pool, opts ...Option) *Builder {
	b := &Builder{
		store:   s,
		pool:    pool,
		budget:  DefaultBudget,
		scoring: metrics.DefaultScoring(),
		logger:  zap.NewNop(),
		stats:   stats.NewNoop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers <= 0 {
		if pool != nil {
			b.workers = pool.Size()
		} else {
			b.workers = runtime.NumCPU()
		}
	}
	b.logger = b.logger.Named("builder")
	return b
}

// MetricVersion returns the version tag written with every row.
func (b *Builder) MetricVersion() string {
	return b.scoring.Version()
}

// outcome classifies what happened to one game.
type outcome int

const (
	outcomeEmpty outcome = iota
	outcomeSkipped
	outcomeRescored
	outcomeAnalyzed
	outcomeFailed
	outcomeStoreError
	outcomeInterrupted
)

// tally accumulates a Summary across workers.
type tally struct {
	mu      sync.Mutex
	summary Summary
	calls   atomic.Int64
}

func (t *tally) add(o outcome) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeEmpty:
		t.summary.Empty++
	case outcomeSkipped:
		t.summary.Skipped++
	case outcomeRescored:
		t.summary.Rescored++
	case outcomeAnalyzed:
		t.summary.Analyzed++
	case outcomeFailed:
		t.summary.Failed++
	case outcomeStoreError:
		t.summary.StoreErrors++
	}
	return t.summary
}

func (t *tally) parsed(ok bool) {
	t.mu.Lock()
	if ok {
		t.summary.Parsed++
	} else {
		t.summary.ParseErrors++
	}
	t.mu.Unlock()
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summary
	s.EngineCalls = t.calls.Load()
	return s
}

// Build analyzes every game read from r. Games are processed concurrently
// and each row is written as soon as its game is done, so an interrupted
// build resumes where it stopped. Per-game failures are counted in the
// Summary; the returned error is reserved for input errors, invalid
// configuration and cancellation.
func (b *Builder) Build(ctx context.Context, r io.Reader) (Summary, error) {
	start := b.now()
	if b.pool == nil {
		return Summary{}, errors.New("builder: no engine pool")
	}
	if err := b.budget.Validate(); err != nil {
		return Summary{}, err
	}
	if err := b.scoring.Validate(); err != nil {
		return Summary{}, err
	}

	t := &tally{}
	t.summary.RunID = uuid.NewString()
	logger := b.logger.With(zap.String("run", t.summary.RunID))
	version := b.scoring.Version()
	budget := b.budget.String()

	logger.Info("build started",
		zap.String("metric_version", version),
		zap.String("engine_budget", budget),
		zap.Int("workers", b.workers),
	)

	var bytesRead atomic.Int64
	scanner := pgn.NewScanner(newProgressReader(r, &bytesRead), pgn.WithWarningFunc(func(pe *pgn.ParseError) {
		t.parsed(false)
		b.stats.IncCounter(stats.MetricParseErrors, 1)
		logger.Warn("skipping malformed game",
			zap.Int("index", pe.Index),
			zap.Int("line", pe.Line),
			zap.Error(pe.Err),
		)
	}))

	g, gctx := errgroup.WithContext(ctx)
	games := make(chan *pgn.Record, b.workers)

	g.Go(func() error {
		defer close(games)
		for scanner.Scan() {
			rec := scanner.Record()
			t.parsed(true)
			b.stats.IncCounter(stats.MetricGamesParsed, 1)
			select {
			case games <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading games: %w", err)
		}
		return nil
	})

	var active atomic.Int64
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for rec := range games {
				if err := gctx.Err(); err != nil {
					return err
				}
				b.stats.SetGauge(stats.MetricWorkersActive, active.Add(1))
				o := b.process(gctx, logger, rec, version, budget, &t.calls)
				b.stats.SetGauge(stats.MetricWorkersActive, active.Add(-1))
				if o == outcomeInterrupted {
					return gctx.Err()
				}
				s := t.add(o)
				if n := s.done(); n%progressEvery == 0 {
					b.reportProgress(Progress{
						Phase:     PhaseBuild,
						Summary:   s,
						BytesRead: bytesRead.Load(),
						StartTime: start,
					})
				}
			}
			return nil
		})
	}

	err := g.Wait()
	s := t.snapshot()
	s.Duration = b.now().Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		logger.Warn("build stopped", append(summaryFields(s), zap.Error(err))...)
		b.reportProgress(Progress{Phase: PhaseError, Summary: s, StartTime: start, Error: err})
		return s, err
	}

	logger.Info("build finished", summaryFields(s)...)
	b.reportProgress(Progress{Phase: PhaseDone, Summary: s, BytesRead: bytesRead.Load(), StartTime: start})
	return s, nil
}

// process handles one game end to end.
func (b *Builder) process(ctx context.Context, logger *zap.Logger, rec *pgn.Record, version, budget string, calls *atomic.Int64) outcome {
	if rec.Plies() == 0 {
		logger.Debug("skipping game without moves", zap.Int("index", rec.Index))
		return outcomeEmpty
	}

	fp := rec.Fingerprint()
	logger = logger.With(zap.String("fingerprint", fp), zap.Int("index", rec.Index))

	st, err := b.store.Status(ctx, fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		b.stats.IncCounter(stats.MetricStoreErrors, 1)
		logger.Error("reading game status", zap.Error(err))
		return outcomeStoreError
	case st.EngineBudget == budget && st.MetricVersion == version:
		b.stats.IncCounter(stats.MetricGamesSkipped, 1)
		return outcomeSkipped
	case st.EngineBudget == budget && st.HasEvaluations:
		return b.rescoreStored(ctx, logger, fp)
	}

	started := time.Now()
	scores, err := b.evaluate(ctx, rec, calls)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		b.stats.IncCounter(stats.MetricGamesFailed, 1)
		logger.Warn("game analysis failed", zap.Error(err))
		return outcomeFailed
	}

	row, err := newRecord(rec, scores, b.scoring, budget, b.now())
	if err != nil {
		b.stats.IncCounter(stats.MetricGamesFailed, 1)
		logger.Warn("computing metrics", zap.Error(err))
		return outcomeFailed
	}
	if err := b.store.Upsert(ctx, row); err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		b.stats.IncCounter(stats.MetricStoreErrors, 1)
		logger.Error("writing game", zap.Error(err))
		return outcomeStoreError
	}

	b.stats.IncCounter(stats.MetricGamesAnalyzed, 1)
	b.stats.ObserveHistogram(stats.MetricGameSeconds, time.Since(started).Seconds())
	b.stats.ObserveHistogram(stats.MetricQualityScore, row.QualityScore)
	logger.Debug("game analyzed",
		zap.Int("plies", row.NumMoves),
		zap.Float64("quality_score", row.QualityScore),
	)
	return outcomeAnalyzed
}

// evaluate scores every position of the game with one engine handle.
func (b *Builder) evaluate(ctx context.Context, rec *pgn.Record, calls *atomic.Int64) ([]eval.Score, error) {
	h, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.Release(h)

	positions := rec.Positions()
	scores := make([]eval.Score, len(positions))
	for i, pos := range positions {
		if _, terminal := engine.Terminal(pos); !terminal {
			calls.Add(1)
		}
		s, err := h.Evaluate(ctx, pos, b.budget)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", i, err)
		}
		scores[i] = s
	}
	return scores, nil
}

func (b *Builder) rescoreStored(ctx context.Context, logger *zap.Logger, fp string) outcome {
	row, err := store.Get(ctx, b.store, fp)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		b.stats.IncCounter(stats.MetricStoreErrors, 1)
		logger.Error("reading stored game", zap.Error(err))
		return outcomeStoreError
	}
	if err := rescore(row, b.scoring); err != nil {
		b.stats.IncCounter(stats.MetricGamesFailed, 1)
		logger.Warn("rescoring game", zap.Error(err))
		return outcomeFailed
	}
	if err := b.store.Upsert(ctx, row); err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		b.stats.IncCounter(stats.MetricStoreErrors, 1)
		logger.Error("writing game", zap.Error(err))
		return outcomeStoreError
	}
	b.stats.IncCounter(stats.MetricGamesRescored, 1)
	return outcomeRescored
}

// Rescore recomputes the metrics of every stored row written with another
// metric version, using the stored evaluations. Rows without evaluations
// are counted as failed; they need a fresh build.
func (b *Builder) Rescore(ctx context.Context) (Summary, error) {
	start := b.now()
	if err := b.scoring.Validate(); err != nil {
		return Summary{}, err
	}

	t := &tally{}
	t.summary.RunID = uuid.NewString()
	logger := b.logger.With(zap.String("run", t.summary.RunID))
	version := b.scoring.Version()
	logger.Info("rescore started", zap.String("metric_version", version))

	var last string
	for {
		if err := ctx.Err(); err != nil {
			return t.snapshot(), err
		}
		q := store.Query{
			Filters: []store.Filter{{Column: "metric_version", Op: store.OpNe, Value: version}},
			Sort:    []store.SortKey{{Column: "fingerprint"}},
			Limit:   rescoreBatch,
		}
		if last != "" {
			q.Filters = append(q.Filters, store.Filter{Column: "fingerprint", Op: store.OpGt, Value: last})
		}
		rows, err := b.store.Query(ctx, q)
		if err != nil {
			return t.snapshot(), fmt.Errorf("querying stale rows: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for i := range rows {
			row := &rows[i]
			last = row.Fingerprint
			t.add(b.rescoreRow(ctx, logger, row))
		}
		s := t.snapshot()
		b.reportProgress(Progress{Phase: PhaseRescore, Summary: s, StartTime: start})
	}

	s := t.snapshot()
	s.Duration = b.now().Sub(start)
	logger.Info("rescore finished", summaryFields(s)...)
	b.reportProgress(Progress{Phase: PhaseDone, Summary: s, StartTime: start})
	return s, nil
}

func (b *Builder) rescoreRow(ctx context.Context, logger *zap.Logger, row *store.Record) outcome {
	logger = logger.With(zap.String("fingerprint", row.Fingerprint))
	if len(row.Evaluations.Scores) == 0 {
		b.stats.IncCounter(stats.MetricGamesFailed, 1)
		logger.Warn("no stored evaluations; rebuild required")
		return outcomeFailed
	}
	if err := rescore(row, b.scoring); err != nil {
		b.stats.IncCounter(stats.MetricGamesFailed, 1)
		logger.Warn("rescoring game", zap.Error(err))
		return outcomeFailed
	}
	if err := b.store.Upsert(ctx, row); err != nil {
		b.stats.IncCounter(stats.MetricStoreErrors, 1)
		logger.Error("writing game", zap.Error(err))
		return outcomeStoreError
	}
	b.stats.IncCounter(stats.MetricGamesRescored, 1)
	return outcomeRescored
}

func (b *Builder) reportProgress(p Progress) {
	if b.progress != nil {
		b.progress(p)
	}
}

func summaryFields(s Summary) []zap.Field {
	return []zap.Field{
		zap.Int("parsed", s.Parsed),
		zap.Int("parse_errors", s.ParseErrors),
		zap.Int("empty", s.Empty),
		zap.Int("skipped", s.Skipped),
		zap.Int("rescored", s.Rescored),
		zap.Int("analyzed", s.Analyzed),
		zap.Int("failed", s.Failed),
		zap.Int("store_errors", s.StoreErrors),
		zap.Int64("engine_calls", s.EngineCalls),
		zap.Duration("duration", s.Duration),
	}
}

// done returns the number of games that reached a final outcome.
func (s Summary) done() int {
	return s.Empty + s.Skipped + s.Rescored + s.Analyzed + s.Failed + s.StoreErrors
}
