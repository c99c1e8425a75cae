// Package eval defines engine evaluation scores.
package eval

import (
	"strconv"

	"github.com/notnil/chess"
)

// MateValue is the centipawn magnitude assigned to a delivered checkmate.
// A forced mate in N is folded to MateValue-N so faster mates rank higher.
const MateValue = 10000

// Score is a position evaluation from White's perspective.
type Score struct {
	// Centipawns is the evaluation in hundredths of a pawn.
	// Positive values favor White. Ignored when Mate is non-zero.
	Centipawns int `json:"cp,omitempty"`

	// Mate is the number of moves until forced checkmate.
	// Positive values mean White delivers mate, negative means Black.
	// Zero means no forced mate was found.
	Mate int `json:"mate,omitempty"`
}

// CP returns a centipawn score.
func CP(cp int) Score {
	return Score{Centipawns: cp}
}

// MateIn returns a forced-mate score.
func MateIn(n int) Score {
	return Score{Mate: n}
}

// IsMate returns true if the score is a forced mate.
func (s Score) IsMate() bool {
	return s.Mate != 0
}

// Value returns the score as centipawns, folding mates into the
// ±MateValue range.
func (s Score) Value() int {
	switch {
	case s.Mate > 0:
		return MateValue - s.Mate
	case s.Mate < 0:
		return -MateValue - s.Mate
	default:
		return s.Centipawns
	}
}

// For returns the score as centipawns from the given side's perspective.
func (s Score) For(c chess.Color) int {
	if c == chess.Black {
		return -s.Value()
	}
	return s.Value()
}

// Negate flips the perspective of the score.
func (s Score) Negate() Score {
	return Score{Centipawns: -s.Centipawns, Mate: -s.Mate}
}

// String returns a human-readable score.
// Examples: "+1.25", "-0.50", "#3", "#-5"
func (s Score) String() string {
	if s.Mate != 0 {
		return "#" + strconv.Itoa(s.Mate)
	}
	cp := s.Centipawns
	sign := "+"
	if cp < 0 {
		sign = "-"
		cp = -cp
	}
	whole := cp / 100
	frac := cp % 100
	if frac < 10 {
		return sign + strconv.Itoa(whole) + ".0" + strconv.Itoa(frac)
	}
	return sign + strconv.Itoa(whole) + "." + strconv.Itoa(frac)
}

// MoveEvaluation is the evaluation of the position after a single move.
type MoveEvaluation struct {
	// Ply is the 1-based half-move index.
	Ply int

	// Mover is the side that played the move.
	Mover chess.Color

	// Before is the evaluation of the position the mover faced.
	Before Score

	// After is the evaluation of the resulting position.
	After Score
}
