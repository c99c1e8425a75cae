package chessbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/notnil/chess"

	"github.com/discochess/chessbook/internal/engine"
	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/export"
	"github.com/discochess/chessbook/internal/metrics"
	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
	"github.com/discochess/chessbook/internal/store/memstore"
)

// flatEngine scores every position as level.
type flatEngine struct {
	calls *atomic.Int64
}

func (e flatEngine) Evaluate(ctx context.Context, pos *chess.Position, budget engine.Budget) (eval.Score, error) {
	e.calls.Add(1)
	return eval.CP(0), nil
}

func (e flatEngine) Close() error { return nil }

func flatFactory(calls *atomic.Int64) engine.Factory {
	return func(ctx context.Context) (engine.Evaluator, error) {
		return flatEngine{calls: calls}, nil
	}
}

func testGame(round int, moves string) string {
	return fmt.Sprintf("[Event \"Club\"]\n[Round \"%d\"]\n[White \"A\"]\n[Black \"B\"]\n[Result \"*\"]\n\n%s *\n", round, moves)
}

func writeArchive(t *testing.T, games ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "games.pgn")
	if err := os.WriteFile(path, []byte(strings.Join(games, "\n")), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func newTestClient(t *testing.T, s store.Store, opts ...Option) (*Client, *atomic.Int64) {
	t.Helper()
	calls := new(atomic.Int64)
	opts = append([]Option{
		WithStore(s),
		WithEngine(flatFactory(calls)),
		WithWorkers(2),
		WithBudget(engine.Budget{Depth: 4}),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, calls
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoStore) {
		t.Errorf("New() error = %v, want ErrNoStore", err)
	}
}

func TestNew_InvalidBudget(t *testing.T) {
	_, err := New(WithStore(memstore.New()), WithBudget(engine.Budget{}))
	if !errors.Is(err, engine.ErrInvalidBudget) {
		t.Errorf("New() error = %v, want ErrInvalidBudget", err)
	}
}

func TestNew_WithStore(t *testing.T) {
	mem := memstore.New()
	client, err := New(WithStore(mem))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	if client.Store() != mem {
		t.Error("Store() returned unexpected store")
	}
}

func TestClient_BuildWithoutEngine(t *testing.T) {
	client, err := New(WithStore(memstore.New()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Build(context.Background(), writeArchive(t, testGame(1, "1. e4 e5"))); !errors.Is(err, ErrNoEngine) {
		t.Errorf("Build() error = %v, want ErrNoEngine", err)
	}
}

func TestClient_BuildExportStats(t *testing.T) {
	ctx := context.Background()
	collector := stats.NewMemory()
	client, calls := newTestClient(t, memstore.New(), WithStats(collector))
	defer client.Close()

	input := writeArchive(t,
		testGame(1, "1. e4 e5 2. Nf3 Nc6"),
		testGame(2, "1. d4 d5"),
		testGame(3, "1. c4"),
	)
	summary, err := client.Build(ctx, input)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if summary.Analyzed != 3 {
		t.Errorf("Analyzed = %d, want 3", summary.Analyzed)
	}
	if calls.Load() == 0 {
		t.Error("engine was never called")
	}
	if got := collector.Gauge(stats.MetricStoredGames); got != 3 {
		t.Errorf("stored games gauge = %d, want 3", got)
	}

	// A second build over the same input does no engine work.
	before := calls.Load()
	summary, err = client.Build(ctx, input)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if summary.Skipped != 3 || calls.Load() != before {
		t.Errorf("rebuild skipped %d games with %d new calls, want 3 and 0", summary.Skipped, calls.Load()-before)
	}

	out := filepath.Join(t.TempDir(), "best.pgn.zst")
	res, err := client.Export(ctx, out, export.Request{
		Sort:  []store.SortKey{{Column: "num_moves", Desc: true}},
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Count != 2 {
		t.Errorf("exported %d games, want 2", res.Count)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Stat(output) error = %v", err)
	}

	dist, err := client.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if dist.Count != 3 || len(dist.Buckets) == 0 {
		t.Errorf("Stats() = %+v, want 3 scores", dist)
	}
}

func TestClient_ExportInvalidSortWritesNothing(t *testing.T) {
	client, _ := newTestClient(t, memstore.New())
	defer client.Close()

	out := filepath.Join(t.TempDir(), "out.pgn")
	_, err := client.Export(context.Background(), out, export.Request{
		Sort: []store.SortKey{{Column: "elegance"}},
	})
	if !errors.Is(err, store.ErrUnknownColumn) {
		t.Fatalf("Export() error = %v, want ErrUnknownColumn", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("Stat(output) error = %v, want not exist", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 0 {
		t.Errorf("output directory has %d entries, want 0", len(entries))
	}
}

func TestClient_Lookup(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	client, _ := newTestClient(t, mem)
	defer client.Close()

	if _, err := client.Lookup(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := client.Build(ctx, writeArchive(t, testGame(1, "1. e4 e5"))); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	rows, err := mem.Query(ctx, store.Query{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("Query() = %d rows, %v", len(rows), err)
	}
	rec, err := client.Lookup(ctx, rows[0].Fingerprint)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.NumMoves != 2 {
		t.Errorf("NumMoves = %d, want 2", rec.NumMoves)
	}
}

func TestClient_RescoreAfterWeightChange(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()

	first, calls := newTestClient(t, mem)
	defer first.Close()
	if _, err := first.Build(ctx, writeArchive(t, testGame(1, "1. e4 e5"), testGame(2, "1. d4"))); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	scoring := metrics.DefaultScoring()
	scoring.Base = 50
	second, err := New(WithStore(mem), WithScoring(scoring))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer second.Close()
	if second.MetricVersion() == first.MetricVersion() {
		t.Fatal("metric version did not change with the weights")
	}

	before := calls.Load()
	summary, err := second.Rescore(ctx)
	if err != nil {
		t.Fatalf("Rescore() error = %v", err)
	}
	if summary.Rescored != 2 {
		t.Errorf("Rescored = %d, want 2", summary.Rescored)
	}
	if calls.Load() != before {
		t.Error("rescore called the engine")
	}
	rows, _ := mem.Query(ctx, store.Query{})
	for _, r := range rows {
		if r.MetricVersion != second.MetricVersion() {
			t.Errorf("row %s has version %s, want %s", r.Fingerprint, r.MetricVersion, second.MetricVersion())
		}
	}
}

func TestClient_Closed(t *testing.T) {
	client, _ := newTestClient(t, memstore.New())
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}

	ctx := context.Background()
	if _, err := client.Build(ctx, "games.pgn"); !errors.Is(err, ErrClosed) {
		t.Errorf("Build() error = %v, want ErrClosed", err)
	}
	if _, err := client.Export(ctx, "out.pgn", export.Request{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Export() error = %v, want ErrClosed", err)
	}
	if _, err := client.Rescore(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Rescore() error = %v, want ErrClosed", err)
	}
	if _, err := client.Stats(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Stats() error = %v, want ErrClosed", err)
	}
}

func TestNewDistribution(t *testing.T) {
	if d := NewDistribution(nil, DefaultBins); d.Count != 0 || d.Buckets != nil {
		t.Errorf("NewDistribution(nil) = %+v, want zero", d)
	}

	d := NewDistribution([]float64{42, 42}, DefaultBins)
	if len(d.Buckets) != 1 || d.Buckets[0].Count != 2 {
		t.Errorf("constant scores: buckets = %+v, want one bucket of 2", d.Buckets)
	}

	scores := []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	d = NewDistribution(scores, 10)
	if d.Count != 11 || d.Min != 0 || d.Max != 100 || d.Mean != 50 {
		t.Errorf("NewDistribution() = %+v", d)
	}
	if len(d.Buckets) != 10 {
		t.Fatalf("len(Buckets) = %d, want 10", len(d.Buckets))
	}
	total := 0
	for _, b := range d.Buckets {
		total += b.Count
	}
	if total != 11 {
		t.Errorf("bucket counts sum to %d, want 11", total)
	}
	if last := d.Buckets[9]; last.Count != 2 {
		t.Errorf("last bucket = %+v, want 90 and 100", last)
	}
}
