package store

import (
	"errors"
	"testing"
)

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr error
	}{
		{"empty", Query{}, nil},
		{"valid", Query{
			Filters: []Filter{{Column: "quality_score", Op: OpGe, Value: 1.5}},
			Sort:    []SortKey{{Column: "avg_cpl", Desc: true}},
			Limit:   5,
		}, nil},
		{"unknown sort column", Query{Sort: []SortKey{{Column: "evaluations"}}}, ErrUnknownColumn},
		{"unknown filter column", Query{Filters: []Filter{{Column: "x", Op: OpEq, Value: "y"}}}, ErrUnknownColumn},
		{"bad operator", Query{Filters: []Filter{{Column: "white", Op: "<>", Value: "y"}}}, ErrInvalidFilter},
		{"text value on real column", Query{Filters: []Filter{{Column: "avg_cpl", Op: OpEq, Value: "y"}}}, ErrInvalidFilter},
		{"numeric value on text column", Query{Filters: []Filter{{Column: "white", Op: OpEq, Value: int64(1)}}}, ErrInvalidFilter},
		{"like on number", Query{Filters: []Filter{{Column: "avg_cpl", Op: OpLike, Value: 1.0}}}, ErrInvalidFilter},
		{"negative limit", Query{Limit: -1}, ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuery_Ordering(t *testing.T) {
	q := Query{Sort: []SortKey{{Column: "quality_score", Desc: true}}}
	got := q.Ordering()
	if len(got) != 2 || got[1] != TieBreak {
		t.Errorf("Ordering() = %v, want tie-break appended", got)
	}

	q = Query{Sort: []SortKey{{Column: "fingerprint", Desc: true}, {Column: "avg_cpl"}}}
	got = q.Ordering()
	if len(got) != 1 || !got[0].Desc {
		t.Errorf("Ordering() = %v, want only descending fingerprint", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{nil, nil, 0},
		{nil, int64(1), -1},
		{int64(2), 1.5, 1},
		{1.0, int64(1), 0},
		{"a", "b", -1},
		{int64(5), "a", -1},
	}
	for _, tt := range tests {
		got := Compare(tt.a, tt.b)
		if (got < 0) != (tt.want < 0) || (got > 0) != (tt.want > 0) {
			t.Errorf("Compare(%v, %v) = %d, want sign of %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLike(t *testing.T) {
	tests := []struct {
		s, pattern string
		want       bool
	}{
		{"Magnus", "magnus", true},
		{"Magnus", "Mag%", true},
		{"Magnus", "%nus", true},
		{"Magnus", "M_gnus", true},
		{"Magnus", "M_nus", false},
		{"", "%", true},
		{"abc", "a%c%", true},
		{"abc", "b%", false},
	}
	for _, tt := range tests {
		if got := like(tt.s, tt.pattern); got != tt.want {
			t.Errorf("like(%q, %q) = %v, want %v", tt.s, tt.pattern, got, tt.want)
		}
	}
}

func TestColumn_Parse(t *testing.T) {
	elo, _ := LookupColumn("white_elo")
	if v, err := elo.Parse("2100"); err != nil || v != int64(2100) {
		t.Errorf("Parse(2100) = %v, %v", v, err)
	}
	if _, err := elo.Parse("high"); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Parse(high) error = %v, want ErrInvalidFilter", err)
	}

	score, _ := LookupColumn("quality_score")
	if v, err := score.Parse("12.5"); err != nil || v != 12.5 {
		t.Errorf("Parse(12.5) = %v, %v", v, err)
	}

	mate, _ := LookupColumn("checkmate")
	if v, err := mate.Parse("true"); err != nil || v != int64(1) {
		t.Errorf("Parse(true) = %v, %v", v, err)
	}

	if _, ok := LookupColumn("raw_pgn"); ok {
		t.Error("raw_pgn must not be queryable")
	}
}
