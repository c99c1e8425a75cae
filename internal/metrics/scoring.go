package metrics

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FormulaVersion identifies the shape of the quality formula.
// Bump it whenever Compute changes in a way the weights do not capture.
const FormulaVersion = "q3"

// Scoring holds the tunable weights of the quality formula.
type Scoring struct {
	// CPLCeiling caps a single move's centipawn loss.
	CPLCeiling int `yaml:"cpl_ceiling"`

	// Base is the score of a flawless game before bonuses.
	Base float64 `yaml:"base"`

	// CPLWeight is subtracted per centipawn of average loss. Must be positive.
	CPLWeight float64 `yaml:"cpl_weight"`

	// BlunderWeight and MistakeWeight reward eventful games.
	BlunderWeight float64 `yaml:"blunder_weight"`
	MistakeWeight float64 `yaml:"mistake_weight"`

	// LengthBonus is added when the game length in plies lies in
	// [MinPlies, MaxPlies].
	LengthBonus float64 `yaml:"length_bonus"`
	MinPlies    int     `yaml:"min_plies"`
	MaxPlies    int     `yaml:"max_plies"`

	// DecisiveBonus is added for any decisive result, CheckmateBonus on top
	// of it when the game ended on the board.
	DecisiveBonus  float64 `yaml:"decisive_bonus"`
	CheckmateBonus float64 `yaml:"checkmate_bonus"`

	// PromotionBonus is added per promotion.
	PromotionBonus float64 `yaml:"promotion_bonus"`

	// UpsetBonus is added when the lower-rated player wins.
	UpsetBonus float64 `yaml:"upset_bonus"`

	// TimeForfeitPenalty is subtracted for games decided on time.
	TimeForfeitPenalty float64 `yaml:"time_forfeit_penalty"`

	// DrawByRulePenalty is subtracted for draws by repetition or the
	// fifty-move rule.
	DrawByRulePenalty float64 `yaml:"draw_by_rule_penalty"`
}

// DefaultScoring returns the default weights.
func DefaultScoring() Scoring {
	return Scoring{
		CPLCeiling:         1000,
		Base:               100,
		CPLWeight:          1,
		BlunderWeight:      2,
		MistakeWeight:      1,
		LengthBonus:        10,
		MinPlies:           20,
		MaxPlies:           120,
		DecisiveBonus:      5,
		CheckmateBonus:     15,
		PromotionBonus:     2,
		UpsetBonus:         3,
		TimeForfeitPenalty: 0,
		DrawByRulePenalty:  10,
	}
}

// Validate reports weights that would break the ordering guarantees.
func (s Scoring) Validate() error {
	var errs []error
	if s.CPLCeiling <= 0 {
		errs = append(errs, fmt.Errorf("cpl_ceiling must be positive, got %d", s.CPLCeiling))
	}
	if s.CPLWeight <= 0 {
		errs = append(errs, fmt.Errorf("cpl_weight must be positive, got %g", s.CPLWeight))
	}
	if s.MinPlies > s.MaxPlies {
		errs = append(errs, fmt.Errorf("min_plies %d exceeds max_plies %d", s.MinPlies, s.MaxPlies))
	}
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"blunder_weight", s.BlunderWeight},
		{"mistake_weight", s.MistakeWeight},
		{"length_bonus", s.LengthBonus},
		{"decisive_bonus", s.DecisiveBonus},
		{"checkmate_bonus", s.CheckmateBonus},
		{"promotion_bonus", s.PromotionBonus},
		{"upset_bonus", s.UpsetBonus},
		{"time_forfeit_penalty", s.TimeForfeitPenalty},
		{"draw_by_rule_penalty", s.DrawByRulePenalty},
	}
	for _, w := range nonNegative {
		if w.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %g", w.name, w.value))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScoring, errors.Join(errs...))
	}
	return nil
}

// Version returns the metric version tag stored with every row.
// Any change to the weights or the formula yields a new version.
func (s Scoring) Version() string {
	h := xxhash.New()
	for _, f := range []float64{
		float64(s.CPLCeiling), s.Base, s.CPLWeight, s.BlunderWeight,
		s.MistakeWeight, s.LengthBonus, float64(s.MinPlies), float64(s.MaxPlies),
		s.DecisiveBonus, s.CheckmateBonus, s.PromotionBonus, s.UpsetBonus,
		s.TimeForfeitPenalty, s.DrawByRulePenalty,
	} {
		h.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		h.WriteString("|")
	}
	return fmt.Sprintf("%s.%08x", FormulaVersion, uint32(h.Sum64()))
}
