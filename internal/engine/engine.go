// Package engine drives external position evaluators.
//
// An Evaluator scores one position at a time. Handles wrap an evaluator with
// a per-call timeout, bounded retries and restart on failure; a Pool hands
// handles out to workers so each game owns one engine while it is analyzed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/discochess/chessbook/internal/eval"
)

var (
	// ErrTimeout indicates the engine did not answer within the call timeout.
	ErrTimeout = errors.New("engine: evaluation timed out")

	// ErrCrashed indicates the engine process exited or its pipes broke.
	ErrCrashed = errors.New("engine: process crashed")

	// ErrProtocol indicates the engine produced output that could not be used.
	ErrProtocol = errors.New("engine: protocol error")

	// ErrExhausted indicates every retry of an evaluation failed.
	ErrExhausted = errors.New("engine: retries exhausted")

	// ErrInvalidBudget indicates a search budget with no limit.
	ErrInvalidBudget = errors.New("engine: invalid search budget")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("engine: pool closed")
)

// Evaluator scores chess positions.
type Evaluator interface {
	// Evaluate returns the score of pos from White's perspective.
	// It must return promptly once ctx is done.
	Evaluate(ctx context.Context, pos *chess.Position, budget Budget) (eval.Score, error)

	// Close releases the evaluator.
	Close() error
}

// Factory starts a new Evaluator.
type Factory func(ctx context.Context) (Evaluator, error)

// Budget is the search limit applied to every evaluation of a run.
type Budget struct {
	// Depth limits the search to a number of plies.
	Depth int `yaml:"depth"`

	// MoveTime limits the search to a wall-clock duration.
	MoveTime time.Duration `yaml:"movetime"`
}

// Validate rejects budgets that would let the engine search forever.
func (b Budget) Validate() error {
	if b.Depth < 0 || b.MoveTime < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidBudget)
	}
	if b.Depth == 0 && b.MoveTime == 0 {
		return fmt.Errorf("%w: depth or movetime required", ErrInvalidBudget)
	}
	return nil
}

// String returns the canonical budget tag stored with every analyzed game.
// Examples: "depth=12", "movetime=100ms", "depth=12,movetime=1s"
func (b Budget) String() string {
	var parts []string
	if b.Depth > 0 {
		parts = append(parts, "depth="+strconv.Itoa(b.Depth))
	}
	if b.MoveTime > 0 {
		parts = append(parts, "movetime="+b.MoveTime.String())
	}
	return strings.Join(parts, ",")
}

// goCommand renders the UCI search command for the budget.
func (b Budget) goCommand() string {
	cmd := "go"
	if b.Depth > 0 {
		cmd += " depth " + strconv.Itoa(b.Depth)
	}
	if b.MoveTime > 0 {
		cmd += " movetime " + strconv.FormatInt(b.MoveTime.Milliseconds(), 10)
	}
	return cmd
}

// Terminal scores positions that need no search: checkmate and stalemate.
func Terminal(pos *chess.Position) (eval.Score, bool) {
	switch pos.Status() {
	case chess.Checkmate:
		// The side to move has been mated.
		if pos.Turn() == chess.White {
			return eval.CP(-eval.MateValue), true
		}
		return eval.CP(eval.MateValue), true
	case chess.Stalemate:
		return eval.CP(0), true
	}
	return eval.Score{}, false
}

// positionKey identifies a position for caching: the FEN without the move
// counters, which do not affect the evaluation.
func positionKey(pos *chess.Position) string {
	fields := strings.Fields(pos.String())
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
