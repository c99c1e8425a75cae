// Package memstore implements an in-memory analysis store.
// It follows the same query semantics as the SQLite store and is meant for
// tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/discochess/chessbook/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory analysis store.
type Store struct {
	mu      sync.RWMutex
	rows    map[string]store.Record
	upserts int
	failFn  func(*store.Record) error
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[string]store.Record)}
}

// FailWrites makes Upsert fail for records where fn returns an error.
func (s *Store) FailWrites(fn func(*store.Record) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Upserts returns the number of successful upserts.
func (s *Store) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Status returns the version information of a stored game.
func (s *Store) Status(ctx context.Context, fingerprint string) (store.Status, error) {
	if err := ctx.Err(); err != nil {
		return store.Status{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rows[fingerprint]
	if !ok {
		return store.Status{}, store.ErrNotFound
	}
	return rec.Status(), nil
}

// Upsert inserts or overwrites a row.
func (s *Store) Upsert(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Fingerprint == "" {
		return fmt.Errorf("%w: empty fingerprint", store.ErrWrite)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFn != nil {
		if err := s.failFn(rec); err != nil {
			return fmt.Errorf("%w: %s: %w", store.ErrWrite, rec.Fingerprint, err)
		}
	}
	s.rows[rec.Fingerprint] = clone(*rec)
	s.upserts++
	return nil
}

// Query returns matching rows in the requested order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []store.Record
	for _, rec := range s.rows {
		if matches(&rec, q.Filters) {
			out = append(out, clone(rec))
		}
	}
	s.mu.RUnlock()

	ordering := q.Ordering()
	slices.SortFunc(out, func(a, b store.Record) int {
		for _, k := range ordering {
			c := store.Compare(a.Value(k.Column), b.Value(k.Column))
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// QualityScores returns the quality score of every row.
func (s *Store) QualityScores(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make([]float64, 0, len(s.rows))
	for _, rec := range s.rows {
		scores = append(scores, rec.QualityScore)
	}
	slices.Sort(scores)
	return scores, nil
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func matches(rec *store.Record, filters []store.Filter) bool {
	for _, f := range filters {
		if !f.Match(rec.Value(f.Column)) {
			return false
		}
	}
	return true
}

func clone(rec store.Record) store.Record {
	rec.Evaluations.Scores = slices.Clone(rec.Evaluations.Scores)
	return rec
}
