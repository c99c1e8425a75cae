package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/notnil/chess"
	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/stats"
)

// Default handle settings.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Compile-time check that Handle implements Evaluator.
var _ Evaluator = (*Handle)(nil)

// Handle owns one evaluator at a time. Each evaluation is bounded by a
// timeout and retried on failure; the evaluator is discarded and restarted
// after every failed attempt.
type Handle struct {
	factory     Factory
	timeout     time.Duration
	maxAttempts int
	newBackOff  func() backoff.BackOff
	stats       stats.Collector
	logger      *zap.Logger

	current Evaluator
	starts  int
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithTimeout sets the per-evaluation timeout. Default is 30s.
func WithTimeout(d time.Duration) HandleOption {
	return func(h *Handle) { h.timeout = d }
}

// WithMaxAttempts sets how many times one position is tried before the
// evaluation fails with ErrExhausted. Default is 3.
func WithMaxAttempts(n int) HandleOption {
	return func(h *Handle) { h.maxAttempts = n }
}

// WithBackOff sets the delay policy between attempts.
func WithBackOff(fn func() backoff.BackOff) HandleOption {
	return func(h *Handle) { h.newBackOff = fn }
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) HandleOption {
	return func(h *Handle) { h.stats = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HandleOption {
	return func(h *Handle) { h.logger = l }
}

// NewHandle creates a handle that starts evaluators with factory on demand.
func NewHandle(factory Factory, opts ...HandleOption) *Handle {
	h := &Handle{
		factory:     factory,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		stats:       stats.NewNoop(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.maxAttempts < 1 {
		h.maxAttempts = 1
	}
	return h
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// Evaluate scores pos, retrying with a fresh evaluator on failure.
// Cancellation of ctx is returned as is and never retried.
func (h *Handle) Evaluate(ctx context.Context, pos *chess.Position, budget Budget) (eval.Score, error) {
	if s, ok := Terminal(pos); ok {
		return s, nil
	}

	attempt := 0
	op := func() (eval.Score, error) {
		attempt++
		if attempt > 1 {
			h.stats.IncCounter(stats.MetricEngineRetries, 1)
		}
		s, err := h.attempt(ctx, pos, budget)
		if err == nil {
			return s, nil
		}
		h.discard()
		if ctx.Err() != nil {
			return eval.Score{}, backoff.Permanent(ctx.Err())
		}
		h.logger.Warn("evaluation failed",
			zap.Int("attempt", attempt),
			zap.String("fen", pos.String()),
			zap.Error(err),
		)
		return eval.Score{}, err
	}

	s, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(h.newBackOff()),
		backoff.WithMaxTries(uint(h.maxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return eval.Score{}, ctx.Err()
		}
		return eval.Score{}, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
	return s, nil
}

func (h *Handle) attempt(ctx context.Context, pos *chess.Position, budget Budget) (eval.Score, error) {
	if h.current == nil {
		ev, err := h.factory(ctx)
		if err != nil {
			return eval.Score{}, fmt.Errorf("starting engine: %w", err)
		}
		if h.starts > 0 {
			h.stats.IncCounter(stats.MetricEngineRestarts, 1)
		}
		h.current = ev
		h.starts++
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.stats.IncCounter(stats.MetricEngineCalls, 1)
	start := time.Now()
	s, err := h.current.Evaluate(callCtx, pos, budget)
	h.stats.ObserveHistogram(stats.MetricEvalSeconds, time.Since(start).Seconds())
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return s, err
}

// discard closes the current evaluator so the next attempt starts a new one.
func (h *Handle) discard() {
	if h.current == nil {
		return
	}
	if err := h.current.Close(); err != nil {
		h.logger.Debug("closing failed evaluator", zap.Error(err))
	}
	h.current = nil
}

// Starts returns how many evaluators this handle has started.
func (h *Handle) Starts() int {
	return h.starts
}

// Close releases the current evaluator, if any.
func (h *Handle) Close() error {
	if h.current == nil {
		return nil
	}
	err := h.current.Close()
	h.current = nil
	return err
}
