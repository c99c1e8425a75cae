// Package export selects games from the analysis store and writes them back
// out as an archive document, in a deterministic order.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/pgn"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
)

// DefaultLimit is the number of games exported when no limit is given.
const DefaultLimit = 50

// DefaultSort ranks the best games first.
var DefaultSort = []store.SortKey{{Column: "quality_score", Desc: true}}

// ErrInvalidSortKey indicates a sort key naming an unknown column or direction.
var ErrInvalidSortKey = errors.New("export: invalid sort key")

// SortKeyError describes one rejected sort key.
type SortKeyError struct {
	Key    string
	Reason string
}

func (e *SortKeyError) Error() string {
	return fmt.Sprintf("export: invalid sort key %q: %s", e.Key, e.Reason)
}

// Is reports whether target is ErrInvalidSortKey.
func (e *SortKeyError) Is(target error) bool {
	return target == ErrInvalidSortKey
}

// ParseSort parses "column[:asc|desc]" sort keys in order.
func ParseSort(specs []string) ([]store.SortKey, error) {
	keys := make([]store.SortKey, 0, len(specs))
	for _, spec := range specs {
		name, dir, _ := strings.Cut(strings.TrimSpace(spec), ":")
		if _, ok := store.LookupColumn(name); !ok {
			return nil, &SortKeyError{
				Key:    spec,
				Reason: fmt.Sprintf("unknown column %q (valid: %s)", name, strings.Join(store.ColumnNames(), ", ")),
			}
		}
		key := store.SortKey{Column: name}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			key.Desc = true
		default:
			return nil, &SortKeyError{Key: spec, Reason: fmt.Sprintf("direction must be asc or desc, got %q", dir)}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ParseFilter parses a "column<op>value" expression such as
// "white_elo>=2500" or "white~%Carlsen%".
func ParseFilter(expr string) (store.Filter, error) {
	idx, op := -1, store.Op("")
	for _, candidate := range store.Ops {
		i := strings.Index(expr, string(candidate))
		if i < 0 {
			continue
		}
		if idx < 0 || i < idx || (i == idx && len(candidate) > len(op)) {
			idx, op = i, candidate
		}
	}
	if idx <= 0 {
		return store.Filter{}, fmt.Errorf("%w: %q has no column and operator", store.ErrInvalidFilter, expr)
	}

	name := strings.TrimSpace(expr[:idx])
	col, ok := store.LookupColumn(name)
	if !ok {
		return store.Filter{}, fmt.Errorf("%w: %q", store.ErrUnknownColumn, name)
	}
	value, err := col.Parse(strings.TrimSpace(expr[idx+len(op):]))
	if err != nil {
		return store.Filter{}, err
	}
	return store.Filter{Column: name, Op: op, Value: value}, nil
}

// Sink receives the exported document. Nothing written is published until
// Commit.
type Sink interface {
	io.Writer
	Commit() error
	Abort() error
}

// Request describes one export.
type Request struct {
	// Sort defaults to DefaultSort when empty.
	Sort    []store.SortKey
	Filters []store.Filter
	// Limit defaults to DefaultLimit when zero.
	Limit int
}

// Result summarizes a finished export.
type Result struct {
	Count int
	// Empty is set when no game matched. The document is still written.
	Empty bool
}

// Exporter writes query results as archive documents.
type Exporter struct {
	store  store.Store
	logger *zap.Logger
	stats  stats.Collector
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// WithStats sets the stats collector.
func WithStats(c stats.Collector) Option {
	return func(e *Exporter) { e.stats = c }
}

// New creates an Exporter reading from s.
func New(s store.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:  s,
		logger: zap.NewNop(),
		stats:  stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("export")
	return e
}

// Query resolves defaults and returns the store query for req.
func (r Request) Query() store.Query {
	q := store.Query{Sort: r.Sort, Filters: r.Filters, Limit: r.Limit}
	if len(q.Sort) == 0 {
		q.Sort = DefaultSort
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	return q
}

// Export runs the query and writes every matching game to dst in the
// order the store returns them. On any error dst is aborted, so a failed
// export leaves no output behind.
func (e *Exporter) Export(ctx context.Context, dst Sink, req Request) (Result, error) {
	q := req.Query()
	if err := q.Validate(); err != nil {
		dst.Abort()
		return Result{}, err
	}

	rows, err := e.store.Query(ctx, q)
	if err != nil {
		dst.Abort()
		return Result{}, fmt.Errorf("querying store: %w", err)
	}

	w := pgn.NewWriter(dst)
	for i := range rows {
		if err := ctx.Err(); err != nil {
			dst.Abort()
			return Result{}, err
		}
		if err := w.Write(rows[i].RawPGN); err != nil {
			dst.Abort()
			return Result{}, fmt.Errorf("game %s: %w", rows[i].Fingerprint, err)
		}
	}
	if err := w.Flush(); err != nil {
		dst.Abort()
		return Result{}, fmt.Errorf("flushing output: %w", err)
	}
	if err := dst.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing output: %w", err)
	}

	res := Result{Count: w.Count(), Empty: w.Count() == 0}
	if res.Empty {
		e.logger.Warn("no games matched", zap.Stringers("sort", q.Sort), zap.Int("filters", len(q.Filters)))
	} else {
		e.logger.Info("exported games", zap.Int("count", res.Count), zap.Int("limit", q.Limit))
	}
	e.stats.IncCounter(stats.MetricGamesExported, int64(res.Count))
	return res, nil
}
