// Package store defines the analysis store: one row of metrics per game,
// keyed by the game's fingerprint.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/discochess/chessbook/internal/eval"
)

var (
	// ErrNotFound is returned when no row exists for a fingerprint.
	ErrNotFound = errors.New("store: game not found")

	// ErrWrite wraps failures to durably write a row.
	ErrWrite = errors.New("store: write failed")

	// ErrUnknownColumn indicates a filter or sort key names a column that
	// is not queryable.
	ErrUnknownColumn = errors.New("store: unknown column")

	// ErrInvalidFilter indicates a malformed filter.
	ErrInvalidFilter = errors.New("store: invalid filter")

	// ErrLocked indicates another process holds the store.
	ErrLocked = errors.New("store: locked by another process")
)

// Store defines the interface for analysis store backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Status returns the version information of a stored game.
	// Returns ErrNotFound if the game has no row.
	Status(ctx context.Context, fingerprint string) (Status, error)

	// Upsert inserts the row or overwrites the existing row with the same
	// fingerprint. Readers never observe a partially written row.
	Upsert(ctx context.Context, rec *Record) error

	// Query returns matching rows in the requested order.
	Query(ctx context.Context, q Query) ([]Record, error)

	// QualityScores returns the quality score of every row.
	QualityScores(ctx context.Context) ([]float64, error)

	// Count returns the number of rows.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// Status identifies how a stored row was produced.
type Status struct {
	MetricVersion string
	EngineBudget  string
	// HasEvaluations is true when per-position scores were stored, so the
	// row can be rescored without the engine.
	HasEvaluations bool
}

// Evaluations are the stored per-position scores of a game.
type Evaluations struct {
	// FirstMover is "w" or "b", the side to move in the first position.
	FirstMover string `json:"first"`

	// Scores holds one score per position, from White's perspective.
	Scores []eval.Score `json:"scores"`
}

// Record is one row of the analysis store.
type Record struct {
	Fingerprint string

	Link        string
	Event       string
	Site        string
	Date        string
	Round       string
	White       string
	Black       string
	Result      string
	TimeControl string
	Termination string
	ECO         string
	WhiteElo    *int
	BlackElo    *int

	// GameDatetime is the game's start time in UTC, nil if unknown.
	GameDatetime *time.Time

	Winner    string
	NumMoves  int
	Checkmate bool

	WhiteCPL     *float64
	BlackCPL     *float64
	AvgCPL       *float64
	CPLStdDev    float64
	Blunders     int
	Mistakes     int
	Inaccuracies int
	Promotions   int
	QualityScore float64

	MetricVersion string
	EngineBudget  string
	Evaluations   Evaluations

	// RawPGN is the verbatim game text.
	RawPGN string

	AnalyzedAt time.Time
}

// Status returns the version information of the record.
func (r *Record) Status() Status {
	return Status{
		MetricVersion:  r.MetricVersion,
		EngineBudget:   r.EngineBudget,
		HasEvaluations: len(r.Evaluations.Scores) > 0,
	}
}

// Get returns the full row stored for fingerprint.
// Returns ErrNotFound if the game has no row.
func Get(ctx context.Context, s Store, fingerprint string) (*Record, error) {
	rows, err := s.Query(ctx, Query{
		Filters: []Filter{{Column: "fingerprint", Op: OpEq, Value: fingerprint}},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}
