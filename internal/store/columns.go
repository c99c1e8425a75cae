package store

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the storage type of a queryable column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	default:
		return "text"
	}
}

// Column describes a column that may be used in filters and sort keys.
type Column struct {
	Name string
	Kind Kind
}

// Columns lists every queryable column, in table order.
// The verbatim game text and the evaluation blob are deliberately absent.
var Columns = []Column{
	{"fingerprint", KindText},
	{"link", KindText},
	{"event", KindText},
	{"site", KindText},
	{"date", KindText},
	{"round", KindText},
	{"white", KindText},
	{"black", KindText},
	{"result", KindText},
	{"white_elo", KindInteger},
	{"black_elo", KindInteger},
	{"time_control", KindText},
	{"termination", KindText},
	{"eco", KindText},
	{"game_datetime", KindText},
	{"winner", KindText},
	{"num_moves", KindInteger},
	{"checkmate", KindInteger},
	{"white_cpl", KindReal},
	{"black_cpl", KindReal},
	{"avg_cpl", KindReal},
	{"cpl_std_dev", KindReal},
	{"blunders", KindInteger},
	{"mistakes", KindInteger},
	{"inaccuracies", KindInteger},
	{"promotions", KindInteger},
	{"quality_score", KindReal},
	{"metric_version", KindText},
	{"engine_budget", KindText},
	{"analyzed_at", KindText},
}

var columnsByName = func() map[string]Column {
	m := make(map[string]Column, len(Columns))
	for _, c := range Columns {
		m[c.Name] = c
	}
	return m
}()

// LookupColumn returns the named queryable column.
func LookupColumn(name string) (Column, bool) {
	c, ok := columnsByName[name]
	return c, ok
}

// ColumnNames returns the names of all queryable columns.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Parse converts a textual value to the column's type:
// int64 for integer columns, float64 for real columns, string otherwise.
func (c Column) Parse(s string) (any, error) {
	switch c.Kind {
	case KindInteger:
		if b, err := strconv.ParseBool(s); err == nil && c.Name == "checkmate" {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidFilter, c.Name, s)
		}
		return v, nil
	case KindReal:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidFilter, c.Name, s)
		}
		return v, nil
	default:
		return s, nil
	}
}

// TimeFormat is the text encoding of timestamps in the store.
// It sorts lexically in chronological order.
const TimeFormat = "2006-01-02T15:04:05Z"

// FormatTime encodes a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Value returns the record's value for a queryable column: string, int64,
// float64, or nil for NULL.
func (r *Record) Value(column string) any {
	switch column {
	case "fingerprint":
		return r.Fingerprint
	case "link":
		return r.Link
	case "event":
		return r.Event
	case "site":
		return r.Site
	case "date":
		return r.Date
	case "round":
		return r.Round
	case "white":
		return r.White
	case "black":
		return r.Black
	case "result":
		return r.Result
	case "white_elo":
		return intValue(r.WhiteElo)
	case "black_elo":
		return intValue(r.BlackElo)
	case "time_control":
		return r.TimeControl
	case "termination":
		return r.Termination
	case "eco":
		return r.ECO
	case "game_datetime":
		if r.GameDatetime == nil {
			return nil
		}
		return FormatTime(*r.GameDatetime)
	case "winner":
		return r.Winner
	case "num_moves":
		return int64(r.NumMoves)
	case "checkmate":
		if r.Checkmate {
			return int64(1)
		}
		return int64(0)
	case "white_cpl":
		return floatValue(r.WhiteCPL)
	case "black_cpl":
		return floatValue(r.BlackCPL)
	case "avg_cpl":
		return floatValue(r.AvgCPL)
	case "cpl_std_dev":
		return r.CPLStdDev
	case "blunders":
		return int64(r.Blunders)
	case "mistakes":
		return int64(r.Mistakes)
	case "inaccuracies":
		return int64(r.Inaccuracies)
	case "promotions":
		return int64(r.Promotions)
	case "quality_score":
		return r.QualityScore
	case "metric_version":
		return r.MetricVersion
	case "engine_budget":
		return r.EngineBudget
	case "analyzed_at":
		return FormatTime(r.AnalyzedAt)
	}
	return nil
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func floatValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
