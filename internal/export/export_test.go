package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/discochess/chessbook/internal/stats"
	"github.com/discochess/chessbook/internal/store"
	"github.com/discochess/chessbook/internal/store/memstore"
)

// bufSink records what was committed.
type bufSink struct {
	buf       bytes.Buffer
	committed bool
	aborted   bool
}

func (s *bufSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *bufSink) Commit() error {
	s.committed = true
	return nil
}

func (s *bufSink) Abort() error {
	s.aborted = true
	s.buf.Reset()
	return nil
}

func gameText(name string) string {
	return fmt.Sprintf("[Event \"%s\"]\n[Result \"1-0\"]\n\n1. e4 e5 1-0", name)
}

func seed(t *testing.T, scores map[string]float64) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for name, score := range scores {
		rec := &store.Record{
			Fingerprint:  "fp-" + name,
			Event:        name,
			QualityScore: score,
			RawPGN:       gameText(name),
		}
		if err := s.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	return s
}

func events(doc string) []string {
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, "[Event \"") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(line, "[Event \""), "\"]"))
		}
	}
	return out
}

func TestExport_TopTwoByScore(t *testing.T) {
	s := seed(t, map[string]float64{"a": 10, "b": 30, "c": 20})
	keys, err := ParseSort([]string{"quality_score:desc"})
	if err != nil {
		t.Fatalf("ParseSort() error = %v", err)
	}

	var dst bufSink
	res, err := New(s).Export(context.Background(), &dst, Request{Sort: keys, Limit: 2})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Count != 2 || res.Empty {
		t.Errorf("Export() = %+v, want Count 2", res)
	}
	got := events(dst.buf.String())
	if want := []string{"b", "c"}; !equal(got, want) {
		t.Errorf("exported %v, want %v", got, want)
	}
	if !dst.committed {
		t.Error("sink not committed")
	}
}

func TestExport_LimitAboveMatches(t *testing.T) {
	scores := make(map[string]float64)
	for i := 0; i < 7; i++ {
		scores[fmt.Sprintf("g%d", i)] = float64(i)
	}
	s := seed(t, scores)

	var dst bufSink
	res, err := New(s).Export(context.Background(), &dst, Request{Limit: 100})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Count != 7 {
		t.Errorf("Count = %d, want 7", res.Count)
	}
}

func TestExport_PreservesStoreOrder(t *testing.T) {
	s := seed(t, map[string]float64{"a": 5, "b": 5, "c": 9, "d": 1})
	keys, err := ParseSort([]string{"quality_score:asc", "event:desc"})
	if err != nil {
		t.Fatalf("ParseSort() error = %v", err)
	}
	req := Request{Sort: keys}

	want := []string{"d", "b", "a", "c"}
	for i := 0; i < 3; i++ {
		var dst bufSink
		if _, err := New(s).Export(context.Background(), &dst, req); err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if got := events(dst.buf.String()); !equal(got, want) {
			t.Fatalf("run %d exported %v, want %v", i, got, want)
		}
	}
}

func TestExport_DefaultsRankBestFirst(t *testing.T) {
	scores := make(map[string]float64)
	for i := 0; i < DefaultLimit+10; i++ {
		scores[fmt.Sprintf("g%03d", i)] = float64(i)
	}
	s := seed(t, scores)

	var dst bufSink
	res, err := New(s).Export(context.Background(), &dst, Request{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Count != DefaultLimit {
		t.Errorf("Count = %d, want %d", res.Count, DefaultLimit)
	}
	if got := events(dst.buf.String())[0]; got != fmt.Sprintf("g%03d", DefaultLimit+9) {
		t.Errorf("first game = %s, want the highest score", got)
	}
}

func TestExport_Empty(t *testing.T) {
	s := seed(t, map[string]float64{"a": 10})
	f, err := ParseFilter("quality_score>100")
	if err != nil {
		t.Fatalf("ParseFilter() error = %v", err)
	}

	collector := stats.NewMemory()
	var dst bufSink
	res, err := New(s, WithStats(collector)).Export(context.Background(), &dst, Request{Filters: []store.Filter{f}})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !res.Empty || res.Count != 0 {
		t.Errorf("Export() = %+v, want empty", res)
	}
	if !dst.committed || dst.buf.Len() != 0 {
		t.Errorf("committed = %v, len = %d, want empty committed document", dst.committed, dst.buf.Len())
	}
	if got := collector.Counter(stats.MetricGamesExported); got != 0 {
		t.Errorf("exported counter = %d, want 0", got)
	}
}

func TestExport_InvalidSortKeyWritesNothing(t *testing.T) {
	s := seed(t, map[string]float64{"a": 10})

	var dst bufSink
	_, err := New(s).Export(context.Background(), &dst, Request{Sort: []store.SortKey{{Column: "nonsense"}}})
	if !errors.Is(err, store.ErrUnknownColumn) {
		t.Fatalf("Export() error = %v, want ErrUnknownColumn", err)
	}
	if dst.committed || !dst.aborted || dst.buf.Len() != 0 {
		t.Errorf("sink committed = %v aborted = %v len = %d", dst.committed, dst.aborted, dst.buf.Len())
	}
}

func TestExport_Cancelled(t *testing.T) {
	s := seed(t, map[string]float64{"a": 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bufSink
	if _, err := New(s).Export(ctx, &dst, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Export() error = %v, want context.Canceled", err)
	}
	if dst.committed {
		t.Error("sink committed after cancellation")
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		specs   []string
		want    []store.SortKey
		wantErr bool
	}{
		{specs: []string{"quality_score:desc"}, want: []store.SortKey{{Column: "quality_score", Desc: true}}},
		{specs: []string{"avg_cpl"}, want: []store.SortKey{{Column: "avg_cpl"}}},
		{specs: []string{"white_elo:ASC", "num_moves:desc"}, want: []store.SortKey{{Column: "white_elo"}, {Column: "num_moves", Desc: true}}},
		{specs: nil, want: []store.SortKey{}},
		{specs: []string{"elo:desc"}, wantErr: true},
		{specs: []string{"avg_cpl:down"}, wantErr: true},
		{specs: []string{"raw_pgn"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.specs, ","), func(t *testing.T) {
			got, err := ParseSort(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSort() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ske *SortKeyError
				if !errors.Is(err, ErrInvalidSortKey) || !errors.As(err, &ske) {
					t.Errorf("ParseSort() error = %v, want *SortKeyError", err)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseSort() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("key %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr    string
		want    store.Filter
		wantErr error
	}{
		{expr: "white_elo>=2500", want: store.Filter{Column: "white_elo", Op: store.OpGe, Value: int64(2500)}},
		{expr: "quality_score < 12.5", want: store.Filter{Column: "quality_score", Op: store.OpLt, Value: 12.5}},
		{expr: "winner=White", want: store.Filter{Column: "winner", Op: store.OpEq, Value: "White"}},
		{expr: "result!=1/2-1/2", want: store.Filter{Column: "result", Op: store.OpNe, Value: "1/2-1/2"}},
		{expr: "white~%Carlsen%", want: store.Filter{Column: "white", Op: store.OpLike, Value: "%Carlsen%"}},
		{expr: "event=a>=b", want: store.Filter{Column: "event", Op: store.OpEq, Value: "a>=b"}},
		{expr: "checkmate=true", want: store.Filter{Column: "checkmate", Op: store.OpEq, Value: int64(1)}},
		{expr: "nope=1", wantErr: store.ErrUnknownColumn},
		{expr: "white_elo>=strong", wantErr: store.ErrInvalidFilter},
		{expr: "white_elo", wantErr: store.ErrInvalidFilter},
		{expr: "=5", wantErr: store.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseFilter() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilter() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseFilter() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
