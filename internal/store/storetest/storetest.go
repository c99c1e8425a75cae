// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/store"
)

// Factory creates an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// NewRecord returns a minimal valid record.
func NewRecord(fingerprint string, quality float64) *store.Record {
	avg := 100 - quality
	return &store.Record{
		Fingerprint:   fingerprint,
		White:         "white-" + fingerprint,
		Black:         "black-" + fingerprint,
		Result:        "1-0",
		Winner:        "White",
		NumMoves:      40,
		AvgCPL:        &avg,
		QualityScore:  quality,
		MetricVersion: "v1",
		EngineBudget:  "depth=12",
		RawPGN:        fmt.Sprintf("[Event \"%s\"]\n\n1. e4 1-0", fingerprint),
		AnalyzedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertAndQuery", func(t *testing.T) { testUpsertAndQuery(t, newStore(t)) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, newStore(t)) })
	t.Run("StatusNotFound", func(t *testing.T) { testStatusNotFound(t, newStore(t)) })
	t.Run("SortAndLimit", func(t *testing.T) { testSortAndLimit(t, newStore(t)) })
	t.Run("MultiKeySort", func(t *testing.T) { testMultiKeySort(t, newStore(t)) })
	t.Run("TieBreakByFingerprint", func(t *testing.T) { testTieBreak(t, newStore(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newStore(t)) })
	t.Run("NullsOrderFirstAscending", func(t *testing.T) { testNulls(t, newStore(t)) })
	t.Run("UnknownColumn", func(t *testing.T) { testUnknownColumn(t, newStore(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, newStore(t)) })
	t.Run("QualityScores", func(t *testing.T) { testQualityScores(t, newStore(t)) })
}

func mustUpsert(t *testing.T, s store.Store, recs ...*store.Record) {
	t.Helper()
	for _, r := range recs {
		if err := s.Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert(%s) error = %v", r.Fingerprint, err)
		}
	}
}

func mustQuery(t *testing.T, s store.Store, q store.Query) []store.Record {
	t.Helper()
	recs, err := s.Query(context.Background(), q)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	return recs
}

func fingerprints(recs []store.Record) string {
	var out string
	for i, r := range recs {
		if i > 0 {
			out += ","
		}
		out += r.Fingerprint
	}
	return out
}

func testUpsertAndQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := NewRecord("a", 42.5)
	elo := 1850
	wcpl := 12.5
	when := time.Date(2023, 7, 9, 18, 30, 0, 0, time.UTC)
	rec.WhiteElo = &elo
	rec.WhiteCPL = &wcpl
	rec.GameDatetime = &when
	rec.Checkmate = true
	rec.Blunders = 2
	rec.Evaluations = store.Evaluations{
		FirstMover: "w",
		Scores:     []eval.Score{eval.CP(20), eval.CP(-35), eval.MateIn(-2)},
	}
	mustUpsert(t, s, rec)

	st, err := s.Status(ctx, "a")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.MetricVersion != "v1" || st.EngineBudget != "depth=12" || !st.HasEvaluations {
		t.Errorf("Status() = %+v", st)
	}

	got := mustQuery(t, s, store.Query{})
	if len(got) != 1 {
		t.Fatalf("Query() returned %d rows, want 1", len(got))
	}
	r := got[0]
	if r.RawPGN != rec.RawPGN {
		t.Errorf("RawPGN = %q, want %q", r.RawPGN, rec.RawPGN)
	}
	if r.WhiteElo == nil || *r.WhiteElo != elo {
		t.Errorf("WhiteElo = %v, want %d", r.WhiteElo, elo)
	}
	if r.BlackElo != nil {
		t.Errorf("BlackElo = %v, want nil", *r.BlackElo)
	}
	if r.WhiteCPL == nil || *r.WhiteCPL != wcpl {
		t.Errorf("WhiteCPL = %v, want %v", r.WhiteCPL, wcpl)
	}
	if r.BlackCPL != nil {
		t.Errorf("BlackCPL = %v, want nil", *r.BlackCPL)
	}
	if r.GameDatetime == nil || !r.GameDatetime.Equal(when) {
		t.Errorf("GameDatetime = %v, want %v", r.GameDatetime, when)
	}
	if !r.AnalyzedAt.Equal(rec.AnalyzedAt) {
		t.Errorf("AnalyzedAt = %v, want %v", r.AnalyzedAt, rec.AnalyzedAt)
	}
	if !r.Checkmate || r.Blunders != 2 || r.QualityScore != 42.5 {
		t.Errorf("metrics = checkmate %v blunders %d quality %v", r.Checkmate, r.Blunders, r.QualityScore)
	}
	if r.Evaluations.FirstMover != "w" || len(r.Evaluations.Scores) != 3 || r.Evaluations.Scores[2] != eval.MateIn(-2) {
		t.Errorf("Evaluations = %+v", r.Evaluations)
	}
}

func testUpsertOverwrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustUpsert(t, s, NewRecord("a", 10))

	updated := NewRecord("a", 55)
	updated.MetricVersion = "v2"
	mustUpsert(t, s, updated)

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
	got := mustQuery(t, s, store.Query{})
	if got[0].QualityScore != 55 || got[0].MetricVersion != "v2" {
		t.Errorf("row not overwritten: quality %v version %q", got[0].QualityScore, got[0].MetricVersion)
	}
	st, err := s.Status(ctx, "a")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.HasEvaluations {
		t.Error("HasEvaluations = true for a row stored without evaluations")
	}
}

func testStatusNotFound(t *testing.T, s store.Store) {
	if _, err := s.Status(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Status() error = %v, want ErrNotFound", err)
	}
}

func testSortAndLimit(t *testing.T, s store.Store) {
	mustUpsert(t, s, NewRecord("g10", 10), NewRecord("g30", 30), NewRecord("g20", 20))

	got := mustQuery(t, s, store.Query{
		Sort:  []store.SortKey{{Column: "quality_score", Desc: true}},
		Limit: 2,
	})
	if fp := fingerprints(got); fp != "g30,g20" {
		t.Errorf("Query() order = %s, want g30,g20", fp)
	}

	got = mustQuery(t, s, store.Query{
		Sort:  []store.SortKey{{Column: "quality_score"}},
		Limit: 100,
	})
	if fp := fingerprints(got); fp != "g10,g20,g30" {
		t.Errorf("Query() order = %s, want g10,g20,g30", fp)
	}
}

func testMultiKeySort(t *testing.T, s store.Store) {
	a, b, c := NewRecord("a", 50), NewRecord("b", 50), NewRecord("c", 70)
	a.Winner, b.Winner, c.Winner = "White", "Black", "White"
	mustUpsert(t, s, a, b, c)

	got := mustQuery(t, s, store.Query{Sort: []store.SortKey{
		{Column: "winner"},
		{Column: "quality_score", Desc: true},
	}})
	if fp := fingerprints(got); fp != "b,c,a" {
		t.Errorf("Query() order = %s, want b,c,a", fp)
	}
}

func testTieBreak(t *testing.T, s store.Store) {
	mustUpsert(t, s, NewRecord("d", 5), NewRecord("b", 5), NewRecord("c", 5), NewRecord("a", 5))

	for i := 0; i < 3; i++ {
		got := mustQuery(t, s, store.Query{Sort: []store.SortKey{{Column: "quality_score", Desc: true}}})
		if fp := fingerprints(got); fp != "a,b,c,d" {
			t.Fatalf("Query() order = %s, want a,b,c,d", fp)
		}
	}
}

func testFilters(t *testing.T, s store.Store) {
	a, b, c := NewRecord("a", 10), NewRecord("b", 60), NewRecord("c", 90)
	a.White, b.White, c.White = "Magnus", "Hikaru", "magnus_fan"
	mustUpsert(t, s, a, b, c)

	tests := []struct {
		name    string
		filters []store.Filter
		want    string
	}{
		{"min score", []store.Filter{{Column: "quality_score", Op: store.OpGe, Value: 60.0}}, "b,c"},
		{"score range", []store.Filter{
			{Column: "quality_score", Op: store.OpGt, Value: 10.0},
			{Column: "quality_score", Op: store.OpLt, Value: 90.0},
		}, "b"},
		{"text equality", []store.Filter{{Column: "white", Op: store.OpEq, Value: "Hikaru"}}, "b"},
		{"not equal", []store.Filter{{Column: "white", Op: store.OpNe, Value: "Hikaru"}}, "a,c"},
		{"like", []store.Filter{{Column: "white", Op: store.OpLike, Value: "magnus%"}}, "a,c"},
		{"integer column", []store.Filter{{Column: "num_moves", Op: store.OpEq, Value: int64(40)}}, "a,b,c"},
		{"no match", []store.Filter{{Column: "quality_score", Op: store.OpGt, Value: 1000.0}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustQuery(t, s, store.Query{Filters: tt.filters})
			if fp := fingerprints(got); fp != tt.want {
				t.Errorf("Query() = %s, want %s", fp, tt.want)
			}
		})
	}
}

func testNulls(t *testing.T, s store.Store) {
	a, b, c := NewRecord("a", 1), NewRecord("b", 1), NewRecord("c", 1)
	eloA, eloC := 2000, 1500
	a.WhiteElo, c.WhiteElo = &eloA, &eloC
	mustUpsert(t, s, a, b, c)

	asc := mustQuery(t, s, store.Query{Sort: []store.SortKey{{Column: "white_elo"}}})
	if fp := fingerprints(asc); fp != "b,c,a" {
		t.Errorf("ascending order = %s, want b,c,a", fp)
	}
	desc := mustQuery(t, s, store.Query{Sort: []store.SortKey{{Column: "white_elo", Desc: true}}})
	if fp := fingerprints(desc); fp != "a,c,b" {
		t.Errorf("descending order = %s, want a,c,b", fp)
	}

	filtered := mustQuery(t, s, store.Query{Filters: []store.Filter{{Column: "white_elo", Op: store.OpNe, Value: int64(0)}}})
	if fp := fingerprints(filtered); fp != "a,c" {
		t.Errorf("NULL should not match != filter, got %s", fp)
	}
}

func testUnknownColumn(t *testing.T, s store.Store) {
	ctx := context.Background()
	tests := []store.Query{
		{Sort: []store.SortKey{{Column: "raw_pgn"}}},
		{Sort: []store.SortKey{{Column: "quality_score; DROP TABLE games"}}},
		{Filters: []store.Filter{{Column: "nope", Op: store.OpEq, Value: "x"}}},
	}
	for _, q := range tests {
		if _, err := s.Query(ctx, q); !errors.Is(err, store.ErrUnknownColumn) {
			t.Errorf("Query(%+v) error = %v, want ErrUnknownColumn", q, err)
		}
	}
}

func testConcurrentUpserts(t *testing.T, s store.Store) {
	const n = 40
	var wg sync.WaitGroup
	errCh := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every goroutine also rewrites a shared row.
			if err := s.Upsert(context.Background(), NewRecord(fmt.Sprintf("g%02d", i), float64(i))); err != nil {
				errCh <- err
			}
			if err := s.Upsert(context.Background(), NewRecord("shared", float64(i))); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("Upsert() error = %v", err)
	}

	count, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != n+1 {
		t.Errorf("Count() = %d, want %d", count, n+1)
	}
}

func testQualityScores(t *testing.T, s store.Store) {
	mustUpsert(t, s, NewRecord("a", 30), NewRecord("b", 10), NewRecord("c", 20))
	scores, err := s.QualityScores(context.Background())
	if err != nil {
		t.Fatalf("QualityScores() error = %v", err)
	}
	want := []float64{10, 20, 30}
	if len(scores) != len(want) {
		t.Fatalf("QualityScores() = %v, want %v", scores, want)
	}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("QualityScores()[%d] = %v, want %v", i, scores[i], want[i])
		}
	}
}
