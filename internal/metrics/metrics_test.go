package metrics

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/notnil/chess"

	"github.com/discochess/chessbook/internal/eval"
)

func intPtr(v int) *int { return &v }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func scores(cps ...int) []eval.Score {
	out := make([]eval.Score, len(cps))
	for i, cp := range cps {
		out[i] = eval.CP(cp)
	}
	return out
}

func TestCentipawnLoss(t *testing.T) {
	tests := []struct {
		name   string
		before eval.Score
		after  eval.Score
		mover  chess.Color
		want   int
	}{
		{"white loses ground", eval.CP(50), eval.CP(-30), chess.White, 80},
		{"black loses ground", eval.CP(-50), eval.CP(100), chess.Black, 150},
		{"improvement floors at zero", eval.CP(0), eval.CP(40), chess.White, 0},
		{"black improvement floors at zero", eval.CP(0), eval.CP(-40), chess.Black, 0},
		{"missed mate clipped", eval.MateIn(2), eval.CP(0), chess.White, 1000},
		{"walks into mate clipped", eval.CP(0), eval.MateIn(3), chess.Black, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CentipawnLoss(tt.before, tt.after, tt.mover, 1000); got != tt.want {
				t.Errorf("CentipawnLoss() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWinner(t *testing.T) {
	tests := map[string]string{
		"1-0":     WinnerWhite,
		"0-1":     WinnerBlack,
		"1/2-1/2": WinnerDraw,
		"*":       WinnerDraw,
		"":        WinnerDraw,
	}
	for result, want := range tests {
		if got := Winner(result); got != want {
			t.Errorf("Winner(%q) = %q, want %q", result, got, want)
		}
	}
}

func TestCompute_SideAverages(t *testing.T) {
	// White loses 20 then 0, black loses 100 then 300.
	in := Input{
		Evaluations: scores(20, 0, 100, 200, 500),
		FirstMover:  chess.White,
		Result:      "1/2-1/2",
	}
	s := DefaultScoring()
	res, err := Compute(in, s)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}

	if len(res.Moves) != 4 {
		t.Fatalf("len(Moves) = %d, want 4", len(res.Moves))
	}
	if m := res.Moves[3]; m.Ply != 4 || m.Mover != chess.Black || m.Before != eval.CP(200) || m.After != eval.CP(500) {
		t.Errorf("Moves[3] = %+v, want ply 4 by black from 200 to 500", m)
	}

	wantLosses := []int{20, 100, 0, 300}
	for i, want := range wantLosses {
		if res.Losses[i] != want {
			t.Errorf("Losses[%d] = %d, want %d", i, res.Losses[i], want)
		}
	}
	if res.WhiteCPL == nil || !almostEqual(*res.WhiteCPL, 10) {
		t.Errorf("WhiteCPL = %v, want 10", res.WhiteCPL)
	}
	if res.BlackCPL == nil || !almostEqual(*res.BlackCPL, 200) {
		t.Errorf("BlackCPL = %v, want 200", res.BlackCPL)
	}
	if !almostEqual(res.AvgCPL, 105) {
		t.Errorf("AvgCPL = %v, want 105", res.AvgCPL)
	}
	if res.Blunders != 1 || res.Mistakes != 1 || res.Inaccuracies != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/1/0", res.Blunders, res.Mistakes, res.Inaccuracies)
	}
	// Population std dev of {20, 100, 0, 300}.
	if !almostEqual(res.CPLStdDev, math.Sqrt(14075)) {
		t.Errorf("CPLStdDev = %v, want %v", res.CPLStdDev, math.Sqrt(14075))
	}
	want := s.Base - 105 + 2*1 + 1*1
	if !almostEqual(res.QualityScore, want) {
		t.Errorf("QualityScore = %v, want %v", res.QualityScore, want)
	}
}

func TestCompute_SingleMove(t *testing.T) {
	res, err := Compute(Input{Evaluations: scores(30, 10), FirstMover: chess.White}, DefaultScoring())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if res.BlackCPL != nil {
		t.Errorf("BlackCPL = %v, want nil", *res.BlackCPL)
	}
	if !almostEqual(res.AvgCPL, 20) {
		t.Errorf("AvgCPL = %v, want 20", res.AvgCPL)
	}
}

func TestCompute_BlackMovesFirst(t *testing.T) {
	res, err := Compute(Input{Evaluations: scores(0, 60), FirstMover: chess.Black}, DefaultScoring())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if res.WhiteCPL != nil {
		t.Errorf("WhiteCPL = %v, want nil", *res.WhiteCPL)
	}
	if res.BlackCPL == nil || !almostEqual(*res.BlackCPL, 60) {
		t.Errorf("BlackCPL = %v, want 60", res.BlackCPL)
	}
}

func TestCompute_NoMoves(t *testing.T) {
	for _, evals := range [][]eval.Score{nil, scores(10)} {
		if _, err := Compute(Input{Evaluations: evals}, DefaultScoring()); !errors.Is(err, ErrNoMoves) {
			t.Errorf("Compute(%d evals) error = %v, want ErrNoMoves", len(evals), err)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		Evaluations: scores(10, -40, 35, 20, 400, -600, -580),
		FirstMover:  chess.White,
		Result:      "0-1",
		WhiteElo:    intPtr(1500),
		BlackElo:    intPtr(1400),
	}
	first, err := Compute(in, DefaultScoring())
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Compute(in, DefaultScoring())
		if again.QualityScore != first.QualityScore {
			t.Fatalf("QualityScore changed between runs: %v vs %v", again.QualityScore, first.QualityScore)
		}
	}
}

func TestCompute_MonotonicInAvgCPL(t *testing.T) {
	s := DefaultScoring()
	// Same length, result and move classes; only the size of small losses differs.
	better := Input{Evaluations: scores(0, -10, 0, -10, 0), FirstMover: chess.White, Result: "1-0"}
	worse := Input{Evaluations: scores(0, -30, 0, -30, 0), FirstMover: chess.White, Result: "1-0"}

	b, err := Compute(better, s)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	w, err := Compute(worse, s)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if b.AvgCPL >= w.AvgCPL {
		t.Fatalf("test setup: AvgCPL %v should be below %v", b.AvgCPL, w.AvgCPL)
	}
	if b.QualityScore <= w.QualityScore {
		t.Errorf("lower avg_cpl scored %v, higher scored %v; want strictly higher", b.QualityScore, w.QualityScore)
	}
}

func TestCompute_DecisiveIndicators(t *testing.T) {
	s := DefaultScoring()
	base := Input{Evaluations: scores(0, 0, 0), FirstMover: chess.White}

	draw := base
	draw.Result = "1/2-1/2"
	win := base
	win.Result = "1-0"
	mate := win
	mate.Checkmate = true
	upset := mate
	upset.WhiteElo, upset.BlackElo = intPtr(1200), intPtr(2000)

	var prev float64
	for i, in := range []Input{draw, win, mate, upset} {
		res, err := Compute(in, s)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if i > 0 && res.QualityScore < prev {
			t.Errorf("step %d: QualityScore %v dropped below %v", i, res.QualityScore, prev)
		}
		prev = res.QualityScore
	}

	checkmateOnDraw := draw
	checkmateOnDraw.Checkmate = true
	a, _ := Compute(draw, s)
	b, _ := Compute(checkmateOnDraw, s)
	if a.QualityScore != b.QualityScore {
		t.Error("checkmate bonus should only apply to decisive games")
	}
}

func TestCompute_LengthAndPromotions(t *testing.T) {
	s := DefaultScoring()
	evals := make([]eval.Score, 31)
	short, _ := Compute(Input{Evaluations: evals[:11], FirstMover: chess.White}, s)
	long, _ := Compute(Input{Evaluations: evals, FirstMover: chess.White}, s)
	if !almostEqual(long.QualityScore-short.QualityScore, s.LengthBonus) {
		t.Errorf("length bonus = %v, want %v", long.QualityScore-short.QualityScore, s.LengthBonus)
	}

	promo, _ := Compute(Input{Evaluations: evals[:11], FirstMover: chess.White, Promotions: 2}, s)
	if !almostEqual(promo.QualityScore-short.QualityScore, 2*s.PromotionBonus) {
		t.Errorf("promotion bonus = %v, want %v", promo.QualityScore-short.QualityScore, 2*s.PromotionBonus)
	}
}

func TestCompute_TimeForfeitPenalty(t *testing.T) {
	s := DefaultScoring()
	s.TimeForfeitPenalty = 4
	in := Input{Evaluations: scores(0, 0, 0), FirstMover: chess.White, Result: "0-1"}
	normal, _ := Compute(in, s)
	in.Termination = "Time forfeit"
	forfeit, _ := Compute(in, s)
	if !almostEqual(normal.QualityScore-forfeit.QualityScore, 4) {
		t.Errorf("penalty = %v, want 4", normal.QualityScore-forfeit.QualityScore)
	}
}

func TestCompute_DrawByRulePenalty(t *testing.T) {
	s := DefaultScoring()
	s.DrawByRulePenalty = 7
	in := Input{Evaluations: scores(0, 0, 0), FirstMover: chess.White, Result: "1/2-1/2"}
	agreed, _ := Compute(in, s)

	for _, termination := range []string{"Game drawn by repetition", "Game drawn by 50-move rule", "Fifty move rule"} {
		in.Termination = termination
		res, _ := Compute(in, s)
		if !almostEqual(agreed.QualityScore-res.QualityScore, 7) {
			t.Errorf("%q: penalty = %v, want 7", termination, agreed.QualityScore-res.QualityScore)
		}
	}

	in.Termination = "Game drawn by stalemate"
	if res, _ := Compute(in, s); !almostEqual(res.QualityScore, agreed.QualityScore) {
		t.Errorf("stalemate penalized: %v, want %v", res.QualityScore, agreed.QualityScore)
	}

	decisive := Input{Evaluations: scores(0, 0, 0), FirstMover: chess.White, Result: "1-0"}
	base, _ := Compute(decisive, s)
	decisive.Termination = "repetition"
	if res, _ := Compute(decisive, s); !almostEqual(res.QualityScore, base.QualityScore) {
		t.Errorf("decisive game penalized: %v, want %v", res.QualityScore, base.QualityScore)
	}
}

func TestScoring_Validate(t *testing.T) {
	if err := DefaultScoring().Validate(); err != nil {
		t.Fatalf("DefaultScoring().Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Scoring)
		want   string
	}{
		{"zero cpl weight", func(s *Scoring) { s.CPLWeight = 0 }, "cpl_weight"},
		{"negative bonus", func(s *Scoring) { s.DecisiveBonus = -1 }, "decisive_bonus"},
		{"zero ceiling", func(s *Scoring) { s.CPLCeiling = 0 }, "cpl_ceiling"},
		{"inverted plies", func(s *Scoring) { s.MinPlies = 200 }, "min_plies"},
		{"negative draw penalty", func(s *Scoring) { s.DrawByRulePenalty = -1 }, "draw_by_rule_penalty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultScoring()
			tt.mutate(&s)
			err := s.Validate()
			if !errors.Is(err, ErrInvalidScoring) {
				t.Fatalf("Validate() error = %v, want ErrInvalidScoring", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestScoring_Version(t *testing.T) {
	a := DefaultScoring()
	if a.Version() != DefaultScoring().Version() {
		t.Error("Version() not stable for equal weights")
	}
	if !strings.HasPrefix(a.Version(), FormulaVersion+".") {
		t.Errorf("Version() = %q, want prefix %q", a.Version(), FormulaVersion+".")
	}
	b := a
	b.BlunderWeight = 3
	if a.Version() == b.Version() {
		t.Error("Version() should change when a weight changes")
	}
}
