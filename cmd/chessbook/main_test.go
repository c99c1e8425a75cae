package main

import (
	"errors"
	"testing"
	"time"

	"github.com/discochess/chessbook/internal/config"
	"github.com/discochess/chessbook/internal/export"
	"github.com/discochess/chessbook/internal/store"
)

func TestExportRequest(t *testing.T) {
	flags := exportCmd.Flags()
	for name, value := range map[string]string{
		"count":     "5",
		"sort_by":   "avg_cpl:asc,num_moves:desc",
		"where":     "winner=White",
		"min_score": "60",
	} {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Set(%s) error = %v", name, err)
		}
	}

	req, err := exportRequest(exportCmd, nil)
	if err != nil {
		t.Fatalf("exportRequest() error = %v", err)
	}
	if req.Limit != 5 {
		t.Errorf("Limit = %d, want 5", req.Limit)
	}
	if len(req.Sort) != 2 || req.Sort[0].Column != "avg_cpl" || !req.Sort[1].Desc {
		t.Errorf("Sort = %v", req.Sort)
	}
	want := []store.Filter{
		{Column: "winner", Op: store.OpEq, Value: "White"},
		{Column: "quality_score", Op: store.OpGe, Value: 60.0},
	}
	if len(req.Filters) != len(want) {
		t.Fatalf("Filters = %v, want %v", req.Filters, want)
	}
	for i := range want {
		if req.Filters[i] != want[i] {
			t.Errorf("filter %d = %v, want %v", i, req.Filters[i], want[i])
		}
	}

	if err := flags.Set("sort_by", "brilliance:desc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := exportRequest(exportCmd, nil); !errors.Is(err, export.ErrInvalidSortKey) {
		t.Errorf("exportRequest() error = %v, want ErrInvalidSortKey", err)
	}
}

func TestSplitSortArgs(t *testing.T) {
	paths, keys := splitSortArgs([]string{"games.db", "s3://bucket/best.pgn", "avg_cpl:asc", "num_moves"})
	if len(paths) != 2 || paths[0] != "games.db" || paths[1] != "s3://bucket/best.pgn" {
		t.Errorf("paths = %v", paths)
	}
	if len(keys) != 2 || keys[0] != "avg_cpl:asc" || keys[1] != "num_moves" {
		t.Errorf("keys = %v", keys)
	}
}

func TestExportRequest_PositionalSortKeys(t *testing.T) {
	sortBy, limit = nil, 5
	req, err := exportRequest(exportCmd, []string{"white_elo:desc", "avg_cpl"})
	if err != nil {
		t.Fatalf("exportRequest() error = %v", err)
	}
	if len(req.Sort) != 2 {
		t.Fatalf("Sort = %v, want 2 keys", req.Sort)
	}
	if req.Sort[0].Column != "white_elo" || !req.Sort[0].Desc || req.Sort[1].Column != "avg_cpl" || req.Sort[1].Desc {
		t.Errorf("Sort = %v, want white_elo desc, avg_cpl asc", req.Sort)
	}
}

func TestApplyEngineFlags(t *testing.T) {
	flags := buildCmd.Flags()
	if err := flags.Set("movetime", "150ms"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := flags.Set("attempts", "5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	cfg := config.Default()
	cfg.Engine.Threads = 4
	applyEngineFlags(buildCmd)(&cfg)

	if got := cfg.Build.Budget().String(); got != "movetime=150ms" {
		t.Errorf("Budget() = %q, want movetime=150ms", got)
	}
	if cfg.Engine.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.Threads != 4 {
		t.Errorf("Threads = %d, want the unchanged setting 4", cfg.Engine.Threads)
	}
	if cfg.Engine.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default", cfg.Engine.Timeout)
	}
}
