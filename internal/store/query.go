package store

import (
	"fmt"
	"strings"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpLt   Op = "<"
	OpLe   Op = "<="
	OpGt   Op = ">"
	OpGe   Op = ">="
	OpLike Op = "~"
)

// Ops lists the operators in the order a parser should try them,
// longest first.
var Ops = []Op{OpLe, OpGe, OpNe, OpEq, OpLt, OpGt, OpLike}

func (o Op) valid() bool {
	for _, op := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Filter restricts a query to rows whose column compares true against Value.
// Comparisons against NULL are false, as in SQL.
type Filter struct {
	Column string
	Op     Op
	// Value is a string, int64 or float64 matching the column kind.
	Value any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s%s%v", f.Column, f.Op, f.Value)
}

// SortKey orders rows by one column.
type SortKey struct {
	Column string
	Desc   bool
}

func (k SortKey) String() string {
	if k.Desc {
		return k.Column + ":desc"
	}
	return k.Column + ":asc"
}

// TieBreak is appended to every ordering so results are totally ordered.
var TieBreak = SortKey{Column: "fingerprint"}

// Query selects rows from the store.
type Query struct {
	Filters []Filter
	// Sort is applied lexicographically, first key dominant.
	Sort []SortKey
	// Limit bounds the number of rows. Zero means no limit.
	Limit int
}

// Validate checks every column and operator against the allow-list.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		c, ok := LookupColumn(f.Column)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, f.Column)
		}
		if !f.Op.valid() {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
		}
		switch f.Value.(type) {
		case string:
			if c.Kind != KindText {
				return fmt.Errorf("%w: %s is %s, got text value", ErrInvalidFilter, c.Name, c.Kind)
			}
		case int64, float64:
			if c.Kind == KindText {
				return fmt.Errorf("%w: %s is text, got numeric value", ErrInvalidFilter, c.Name)
			}
			if f.Op == OpLike {
				return fmt.Errorf("%w: %s only applies to text columns", ErrInvalidFilter, OpLike)
			}
		default:
			return fmt.Errorf("%w: unsupported value type %T for %s", ErrInvalidFilter, f.Value, c.Name)
		}
	}
	for _, k := range q.Sort {
		if _, ok := LookupColumn(k.Column); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, k.Column)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidFilter, q.Limit)
	}
	return nil
}

// Ordering returns the sort keys with the fingerprint tie-break appended.
func (q Query) Ordering() []SortKey {
	keys := make([]SortKey, 0, len(q.Sort)+1)
	for _, k := range q.Sort {
		if k.Column == TieBreak.Column {
			// Fingerprints are unique; later keys cannot matter.
			return append(keys, k)
		}
		keys = append(keys, k)
	}
	return append(keys, TieBreak)
}

// Compare orders two column values the way SQLite does: NULL first,
// numbers before text, numbers numerically, text bytewise.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case string:
		return strings.Compare(av, b.(string))
	default:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
}

// Match reports whether a column value satisfies a filter.
func (f Filter) Match(v any) bool {
	if v == nil {
		return false
	}
	if f.Op == OpLike {
		s, ok := v.(string)
		pattern, _ := f.Value.(string)
		return ok && like(s, pattern)
	}
	c := Compare(v, f.Value)
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 2
	default:
		return 1
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// like implements SQL LIKE with % and _ wildcards, case-insensitive for
// ASCII as in SQLite.
func like(s, pattern string) bool {
	s, pattern = strings.ToLower(s), strings.ToLower(pattern)
	var match func(si, pi int) bool
	match = func(si, pi int) bool {
		for pi < len(pattern) {
			switch pattern[pi] {
			case '%':
				for pi < len(pattern) && pattern[pi] == '%' {
					pi++
				}
				if pi == len(pattern) {
					return true
				}
				for ; si <= len(s); si++ {
					if match(si, pi) {
						return true
					}
				}
				return false
			case '_':
				if si >= len(s) {
					return false
				}
			default:
				if si >= len(s) || s[si] != pattern[pi] {
					return false
				}
			}
			si++
			pi++
		}
		return si == len(s)
	}
	return match(0, 0)
}
