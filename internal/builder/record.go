package builder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/discochess/chessbook/internal/eval"
	"github.com/discochess/chessbook/internal/metrics"
	"github.com/discochess/chessbook/internal/pgn"
	"github.com/discochess/chessbook/internal/store"
)

// newRecord assembles the store row of an analyzed game.
func newRecord(rec *pgn.Record, scores []eval.Score, s metrics.Scoring, budget string, now time.Time) (*store.Record, error) {
	positions := rec.Positions()
	first := positions[0].Turn()
	final := positions[len(positions)-1]

	row := &store.Record{
		Fingerprint:  rec.Fingerprint(),
		Link:         rec.Tag("Link"),
		Event:        rec.Tag("Event"),
		Site:         rec.Tag("Site"),
		Date:         rec.Tag("Date"),
		Round:        rec.Tag("Round"),
		White:        rec.Tag("White"),
		Black:        rec.Tag("Black"),
		Result:       rec.Tag("Result"),
		TimeControl:  rec.Tag("TimeControl"),
		Termination:  rec.Tag("Termination"),
		ECO:          rec.Tag("ECO"),
		WhiteElo:     parseElo(rec.Tag("WhiteElo")),
		BlackElo:     parseElo(rec.Tag("BlackElo")),
		GameDatetime: gameDatetime(rec),
		NumMoves:     rec.Plies(),
		Checkmate:    final.Status() == chess.Checkmate,
		Promotions:   rec.Promotions(),
		EngineBudget: budget,
		Evaluations: store.Evaluations{
			FirstMover: colorCode(first),
			Scores:     scores,
		},
		RawPGN:     rec.Raw,
		AnalyzedAt: now.UTC(),
	}
	if err := rescore(row, s); err != nil {
		return nil, err
	}
	return row, nil
}

// rescore recomputes the metric columns of row from its stored evaluations
// and stamps the current metric version.
func rescore(row *store.Record, s metrics.Scoring) error {
	first, err := parseColor(row.Evaluations.FirstMover)
	if err != nil {
		return err
	}
	res, err := metrics.Compute(metrics.Input{
		Evaluations: row.Evaluations.Scores,
		FirstMover:  first,
		Result:      row.Result,
		Termination: row.Termination,
		Checkmate:   row.Checkmate,
		WhiteElo:    row.WhiteElo,
		BlackElo:    row.BlackElo,
		Promotions:  row.Promotions,
	}, s)
	if err != nil {
		return err
	}

	avg := res.AvgCPL
	row.Winner = res.Winner
	row.WhiteCPL = res.WhiteCPL
	row.BlackCPL = res.BlackCPL
	row.AvgCPL = &avg
	row.CPLStdDev = res.CPLStdDev
	row.Blunders = res.Blunders
	row.Mistakes = res.Mistakes
	row.Inaccuracies = res.Inaccuracies
	row.QualityScore = res.QualityScore
	row.MetricVersion = s.Version()
	return nil
}

func parseElo(v string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// gameDatetime reads the start time from UTCDate/UTCTime, falling back to
// Date at midnight. Partial dates ("2023.??.??") yield nil.
func gameDatetime(rec *pgn.Record) *time.Time {
	date := rec.Tag("UTCDate")
	clock := rec.Tag("UTCTime")
	if date == "" {
		date, clock = rec.Tag("Date"), ""
	}
	if date == "" || strings.Contains(date, "?") {
		return nil
	}
	if clock == "" || strings.Contains(clock, "?") {
		clock = "00:00:00"
	}
	t, err := time.ParseInLocation("2006.01.02 15:04:05", date+" "+clock, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func colorCode(c chess.Color) string {
	if c == chess.Black {
		return "b"
	}
	return "w"
}

func parseColor(code string) (chess.Color, error) {
	switch code {
	case "w", "":
		return chess.White, nil
	case "b":
		return chess.Black, nil
	}
	return chess.NoColor, fmt.Errorf("builder: invalid first mover %q", code)
}
