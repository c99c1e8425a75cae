// Package metrics turns per-position engine evaluations into per-game
// quality metrics. Everything here is a pure function of its inputs.
package metrics

import (
	"errors"
	"strings"

	"github.com/notnil/chess"
	"gonum.org/v1/gonum/stat"

	"github.com/discochess/chessbook/internal/eval"
)

// Move classification thresholds in centipawns.
const (
	BlunderThreshold    = 200
	MistakeThreshold    = 100
	InaccuracyThreshold = 50
)

// Winner values.
const (
	WinnerWhite = "White"
	WinnerBlack = "Black"
	WinnerDraw  = "Draw"
)

var (
	// ErrNoMoves indicates a game without moves, which has no defined CPL.
	ErrNoMoves = errors.New("metrics: game has no moves")

	// ErrInvalidScoring indicates weights that fail validation.
	ErrInvalidScoring = errors.New("metrics: invalid scoring")
)

// Input is everything the calculator needs about one game.
type Input struct {
	// Evaluations holds one score per position, starting with the position
	// before the first move, all from White's perspective.
	Evaluations []eval.Score

	// FirstMover is the side to move in the first position.
	FirstMover chess.Color

	// Result is the game's result tag ("1-0", "0-1", "1/2-1/2", "*").
	Result string

	// Termination is the game's termination tag, if any.
	Termination string

	// Checkmate is true when the final position is checkmate.
	Checkmate bool

	// WhiteElo and BlackElo are nil when unknown.
	WhiteElo *int
	BlackElo *int

	// Promotions is the number of pawn promotions.
	Promotions int
}

// Result holds the computed metrics for one game.
type Result struct {
	// Moves pairs the evaluations around each ply.
	Moves []eval.MoveEvaluation

	// Losses holds the clipped centipawn loss of each ply.
	Losses []int

	// WhiteCPL and BlackCPL are nil for a side that made no move.
	WhiteCPL *float64
	BlackCPL *float64

	// AvgCPL is the plain mean of the defined side averages.
	AvgCPL float64

	CPLStdDev    float64
	Blunders     int
	Mistakes     int
	Inaccuracies int
	Winner       string
	QualityScore float64
}

// CentipawnLoss returns the evaluation drop caused by a move, from the
// mover's perspective, clipped to [0, ceiling].
func CentipawnLoss(before, after eval.Score, mover chess.Color, ceiling int) int {
	loss := before.For(mover) - after.For(mover)
	if loss < 0 {
		return 0
	}
	if loss > ceiling {
		return ceiling
	}
	return loss
}

// Winner maps a result tag to the winning side.
func Winner(result string) string {
	switch strings.TrimSpace(result) {
	case "1-0":
		return WinnerWhite
	case "0-1":
		return WinnerBlack
	default:
		return WinnerDraw
	}
}

// Compute derives all metrics for a game.
// Returns ErrNoMoves for games with fewer than two evaluations.
func Compute(in Input, s Scoring) (Result, error) {
	plies := len(in.Evaluations) - 1
	if plies < 1 {
		return Result{}, ErrNoMoves
	}

	res := Result{
		Moves:  make([]eval.MoveEvaluation, plies),
		Losses: make([]int, plies),
		Winner: Winner(in.Result),
	}

	var white, black []float64
	all := make([]float64, plies)
	mover := in.FirstMover
	for i := 0; i < plies; i++ {
		loss := CentipawnLoss(in.Evaluations[i], in.Evaluations[i+1], mover, s.CPLCeiling)
		res.Moves[i] = eval.MoveEvaluation{Ply: i + 1, Mover: mover, Before: in.Evaluations[i], After: in.Evaluations[i+1]}
		res.Losses[i] = loss
		all[i] = float64(loss)
		if mover == chess.White {
			white = append(white, float64(loss))
		} else {
			black = append(black, float64(loss))
		}

		switch {
		case loss >= BlunderThreshold:
			res.Blunders++
		case loss >= MistakeThreshold:
			res.Mistakes++
		case loss >= InaccuracyThreshold:
			res.Inaccuracies++
		}
		mover = mover.Other()
	}

	res.WhiteCPL = mean(white)
	res.BlackCPL = mean(black)
	switch {
	case res.WhiteCPL != nil && res.BlackCPL != nil:
		res.AvgCPL = (*res.WhiteCPL + *res.BlackCPL) / 2
	case res.WhiteCPL != nil:
		res.AvgCPL = *res.WhiteCPL
	default:
		res.AvgCPL = *res.BlackCPL
	}
	_, res.CPLStdDev = stat.PopMeanStdDev(all, nil)

	res.QualityScore = quality(in, res, plies, s)
	return res, nil
}

func quality(in Input, res Result, plies int, s Scoring) float64 {
	score := s.Base - s.CPLWeight*res.AvgCPL
	score += s.BlunderWeight*float64(res.Blunders) + s.MistakeWeight*float64(res.Mistakes)

	if plies >= s.MinPlies && plies <= s.MaxPlies {
		score += s.LengthBonus
	}
	if res.Winner != WinnerDraw {
		score += s.DecisiveBonus
		if in.Checkmate {
			score += s.CheckmateBonus
		}
		if isUpset(res.Winner, in.WhiteElo, in.BlackElo) {
			score += s.UpsetBonus
		}
		if strings.Contains(strings.ToLower(in.Termination), "time") {
			score -= s.TimeForfeitPenalty
		}
	} else if isDrawByRule(in.Termination) {
		score -= s.DrawByRulePenalty
	}
	score += s.PromotionBonus * float64(in.Promotions)
	return score
}

// isDrawByRule reports a termination by repetition or the fifty-move rule,
// as in "Game drawn by repetition" or "Game drawn by 50-move rule".
func isDrawByRule(termination string) bool {
	t := strings.ToLower(termination)
	for _, marker := range []string{"repetition", "50-move", "50 move", "fifty"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func isUpset(winner string, whiteElo, blackElo *int) bool {
	if whiteElo == nil || blackElo == nil {
		return false
	}
	switch winner {
	case WinnerWhite:
		return *whiteElo < *blackElo
	case WinnerBlack:
		return *blackElo < *whiteElo
	}
	return false
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}
