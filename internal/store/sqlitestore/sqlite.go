// Package sqlitestore implements the analysis store on a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/discochess/chessbook/internal/codec"
	"github.com/discochess/chessbook/internal/codec/zstdcodec"
	"github.com/discochess/chessbook/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

var (
	selectSQL = "SELECT " + strings.Join(columns, ", ") + " FROM games"
	upsertSQL = buildUpsert()
)

// Store is a SQLite-backed analysis store.
// Writes are serialized; WAL mode lets readers see the last committed state.
type Store struct {
	db     *sql.DB
	path   string
	codec  codec.Codec
	logger *zap.Logger
	lock   *flock.Flock

	busyTimeout time.Duration
	useLock     bool

	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec used for the evaluations blob.
// Default is zstd.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBusyTimeout sets how long a connection waits on a locked database.
// Default is 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// WithoutLock disables the advisory lock file that keeps a second process
// from opening the same store.
func WithoutLock() Option {
	return func(s *Store) { s.useLock = false }
}

// Open opens or creates the store at path and migrates its schema.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		codec:       zstdcodec.New(),
		logger:      zap.NewNop(),
		busyTimeout: 5 * time.Second,
		useLock:     true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.useLock {
		s.lock = flock.New(path + ".lock")
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrLocked, path)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		s.unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if _, err := db.Exec(schema); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	s.logger.Debug("store opened", zap.String("path", path))
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Status returns the version information of a stored game.
func (s *Store) Status(ctx context.Context, fingerprint string) (store.Status, error) {
	var st store.Status
	err := s.db.QueryRowContext(ctx,
		`SELECT metric_version, engine_budget, evaluations IS NOT NULL FROM games WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&st.MetricVersion, &st.EngineBudget, &st.HasEvaluations)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Status{}, store.ErrNotFound
	}
	if err != nil {
		return store.Status{}, fmt.Errorf("reading status: %w", err)
	}
	return st, nil
}

// Upsert inserts or overwrites a row inside a single transaction.
func (s *Store) Upsert(ctx context.Context, rec *store.Record) error {
	if rec.Fingerprint == "" {
		return fmt.Errorf("%w: empty fingerprint", store.ErrWrite)
	}
	args, err := s.values(rec)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", store.ErrWrite, rec.Fingerprint, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", store.ErrWrite, err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %s: %w", store.ErrWrite, rec.Fingerprint, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing %s: %w", store.ErrWrite, rec.Fingerprint, err)
	}
	return nil
}

// Query returns matching rows in the requested order.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, args := buildQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying games: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading games: %w", err)
	}
	return out, nil
}

// QualityScores returns the quality score of every row in ascending order.
func (s *Store) QualityScores(ctx context.Context) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT quality_score FROM games ORDER BY quality_score`)
	if err != nil {
		return nil, fmt.Errorf("querying scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores = append(scores, v)
	}
	return scores, rows.Err()
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting games: %w", err)
	}
	return n, nil
}

// Close closes the database and releases the lock file.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.unlock()
	return err
}

func (s *Store) unlock() {
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("releasing lock", zap.Error(err))
		}
	}
}

func buildUpsert() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	updates := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		updates = append(updates, c+" = excluded."+c)
	}
	return "INSERT INTO games (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders +
		") ON CONFLICT(fingerprint) DO UPDATE SET " + strings.Join(updates, ", ")
}

// buildQuery renders a validated query. Column names come from the
// allow-list; values are always bound as parameters.
func buildQuery(q store.Query) (string, []any) {
	var b strings.Builder
	var args []any
	b.WriteString(selectSQL)

	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		op := string(f.Op)
		if f.Op == store.OpLike {
			op = "LIKE"
		}
		fmt.Fprintf(&b, "%s %s ?", f.Column, op)
		args = append(args, f.Value)
	}

	b.WriteString(" ORDER BY ")
	for i, k := range q.Ordering() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k.Column)
		if k.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args
}

func (s *Store) values(r *store.Record) ([]any, error) {
	var blob any
	if len(r.Evaluations.Scores) > 0 {
		data, err := json.Marshal(r.Evaluations)
		if err != nil {
			return nil, fmt.Errorf("encoding evaluations: %w", err)
		}
		if blob, err = codec.Encode(s.codec, data); err != nil {
			return nil, fmt.Errorf("compressing evaluations: %w", err)
		}
	}

	return []any{
		r.Fingerprint, r.Link, r.Event, r.Site, r.Date, r.Round, r.White, r.Black,
		r.Result, r.Value("white_elo"), r.Value("black_elo"), r.TimeControl,
		r.Termination, r.ECO, r.Value("game_datetime"), r.Winner, r.NumMoves,
		r.Value("checkmate"), r.Value("white_cpl"), r.Value("black_cpl"),
		r.Value("avg_cpl"), r.CPLStdDev, r.Blunders, r.Mistakes, r.Inaccuracies,
		r.Promotions, r.QualityScore, r.MetricVersion, r.EngineBudget,
		store.FormatTime(r.AnalyzedAt), blob, r.RawPGN,
	}, nil
}

func (s *Store) scan(rows *sql.Rows) (store.Record, error) {
	var (
		r                  store.Record
		whiteElo, blackElo sql.NullInt64
		gameDatetime       sql.NullString
		whiteCPL, blackCPL sql.NullFloat64
		avgCPL             sql.NullFloat64
		checkmate          int64
		analyzedAt         string
		blob               []byte
	)
	err := rows.Scan(
		&r.Fingerprint, &r.Link, &r.Event, &r.Site, &r.Date, &r.Round, &r.White, &r.Black,
		&r.Result, &whiteElo, &blackElo, &r.TimeControl, &r.Termination, &r.ECO,
		&gameDatetime, &r.Winner, &r.NumMoves, &checkmate, &whiteCPL,
		&blackCPL, &avgCPL, &r.CPLStdDev, &r.Blunders, &r.Mistakes,
		&r.Inaccuracies, &r.Promotions, &r.QualityScore, &r.MetricVersion,
		&r.EngineBudget, &analyzedAt, &blob, &r.RawPGN,
	)
	if err != nil {
		return store.Record{}, fmt.Errorf("scanning game: %w", err)
	}

	r.WhiteElo = nullInt(whiteElo)
	r.BlackElo = nullInt(blackElo)
	r.WhiteCPL = nullFloat(whiteCPL)
	r.BlackCPL = nullFloat(blackCPL)
	r.AvgCPL = nullFloat(avgCPL)
	r.Checkmate = checkmate != 0

	if gameDatetime.Valid {
		t, err := time.Parse(store.TimeFormat, gameDatetime.String)
		if err != nil {
			return store.Record{}, fmt.Errorf("parsing game_datetime of %s: %w", r.Fingerprint, err)
		}
		r.GameDatetime = &t
	}
	if r.AnalyzedAt, err = time.Parse(store.TimeFormat, analyzedAt); err != nil {
		return store.Record{}, fmt.Errorf("parsing analyzed_at of %s: %w", r.Fingerprint, err)
	}

	if len(blob) > 0 {
		data, err := codec.Decode(s.codec, blob)
		if err != nil {
			return store.Record{}, fmt.Errorf("decompressing evaluations of %s: %w", r.Fingerprint, err)
		}
		if err := json.Unmarshal(data, &r.Evaluations); err != nil {
			return store.Record{}, fmt.Errorf("decoding evaluations of %s: %w", r.Fingerprint, err)
		}
	}
	return r, nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
