// Package pgn splits game archives into individual game records.
//
// Blocks are cut on tag lines that follow movetext outside a brace comment,
// so every game keeps its exact source text for later export. Each block is decoded independently;
// a malformed block is reported and skipped rather than ending the scan.
package pgn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/notnil/chess"
)

// ErrMalformed indicates a game block could not be decoded.
var ErrMalformed = errors.New("pgn: malformed game")

// ParseError describes a single game block that failed to decode.
type ParseError struct {
	// Index is the 1-based position of the block in the archive.
	Index int
	// Line is the 1-based line where the block starts.
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pgn: game %d (line %d): %v", e.Index, e.Line, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// WarningFunc receives parse errors for skipped blocks.
type WarningFunc func(*ParseError)

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithWarningFunc sets the callback invoked for every skipped block.
func WithWarningFunc(fn WarningFunc) ScannerOption {
	return func(s *Scanner) { s.warn = fn }
}

// WithMaxLineSize sets the longest line the scanner accepts.
// Default is 4MB.
func WithMaxLineSize(n int) ScannerOption {
	return func(s *Scanner) { s.maxLine = n }
}

// Scanner reads game records from an archive one block at a time.
type Scanner struct {
	lines   *bufio.Scanner
	warn    WarningFunc
	maxLine int

	line     int
	pending  string
	havePend bool
	blocks   int
	warnings int
	record   *Record
	err      error
	done     bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader, opts ...ScannerOption) *Scanner {
	s := &Scanner{maxLine: 4 * 1024 * 1024}
	for _, opt := range opts {
		opt(s)
	}
	s.lines = bufio.NewScanner(r)
	s.lines.Buffer(make([]byte, 64*1024), s.maxLine)
	return s
}

// Scan advances to the next well-formed game.
// It returns false at end of input or on an I/O error; see Err.
func (s *Scanner) Scan() bool {
	for !s.done {
		raw, start, ok := s.nextBlock()
		if !ok {
			s.done = true
			break
		}
		s.blocks++
		rec, err := Parse(raw)
		if err != nil {
			s.warnings++
			if s.warn != nil {
				s.warn(&ParseError{Index: s.blocks, Line: start, Err: err})
			}
			continue
		}
		rec.Index = s.blocks
		s.record = rec
		return true
	}
	s.record = nil
	return false
}

// Record returns the game produced by the last call to Scan.
func (s *Scanner) Record() *Record {
	return s.record
}

// Err returns the first I/O error encountered, if any.
// Malformed games are not errors; they are counted by Warnings.
func (s *Scanner) Err() error {
	return s.err
}

// Blocks returns the number of game blocks read so far.
func (s *Scanner) Blocks() int {
	return s.blocks
}

// Warnings returns the number of blocks skipped as malformed.
func (s *Scanner) Warnings() int {
	return s.warnings
}

// tagLine matches the opening of a tag pair such as `[Event "`.
var tagLine = regexp.MustCompile(`^\[[A-Za-z0-9_]+\s+"`)

// nextBlock collects lines until a tag line follows movetext.
func (s *Scanner) nextBlock() (string, int, bool) {
	var b strings.Builder
	start := 0
	inMoves, inComment := false, false

	for {
		text, ok := s.readLine()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(text)

		if !inComment && strings.HasPrefix(trimmed, "%") {
			// Escape lines carry no game data.
			continue
		}

		if inMoves && !inComment && tagLine.MatchString(trimmed) {
			s.pending, s.havePend = text, true
			s.line--
			break
		}
		if trimmed == "" && b.Len() == 0 {
			continue
		}
		if b.Len() == 0 {
			start = s.line
		}
		if trimmed != "" && (inComment || !strings.HasPrefix(trimmed, "[")) {
			inMoves = true
			inComment = scanComment(trimmed, inComment)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}

	raw := strings.TrimSpace(b.String())
	if raw == "" {
		return "", 0, false
	}
	return raw, start, true
}

// scanComment reports whether a brace comment is still open after line.
func scanComment(line string, open bool) bool {
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case open:
			open = c != '}'
		case c == '{':
			open = true
		case c == ';':
			return false
		}
	}
	return open
}

// movetextOnly rejoins movetext lines that begin with '[' onto the line
// before them. The decoder drops every line starting with '[' as a tag pair,
// which loses the rest of a wrapped comment such as "[%clk 0:09:58] }".
func movetextOnly(raw string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	last := -1
	inComment := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out = append(out, line)
			continue
		case last < 0 && strings.HasPrefix(trimmed, "["):
			out = append(out, line)
			continue
		case last >= 0 && strings.HasPrefix(trimmed, "["):
			out[last] += " " + trimmed
		default:
			out = append(out, line)
			last = len(out) - 1
		}
		inComment = scanComment(trimmed, inComment)
	}
	return strings.Join(out, "\n")
}

func (s *Scanner) readLine() (string, bool) {
	if s.havePend {
		s.havePend = false
		s.line++
		return s.pending, true
	}
	if s.err != nil || !s.lines.Scan() {
		if err := s.lines.Err(); err != nil && s.err == nil {
			s.err = fmt.Errorf("reading archive: %w", err)
		}
		return "", false
	}
	s.line++
	return strings.TrimSuffix(s.lines.Text(), "\r"), true
}

// Parse decodes a single game block.
func Parse(raw string) (rec *Record, err error) {
	// The decoder can panic on some truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("decoder panic: %v", r)
		}
	}()

	if !tagLine.MatchString(strings.TrimSpace(raw)) {
		return nil, errors.New("no tag pairs")
	}

	opt, err := chess.PGN(strings.NewReader(movetextOnly(raw)))
	if err != nil {
		return nil, err
	}
	game := chess.NewGame(opt)

	tags := make([]Tag, 0, len(game.TagPairs()))
	for _, tp := range game.TagPairs() {
		tags = append(tags, Tag{Name: tp.Key, Value: tp.Value})
	}

	positions := game.Positions()
	moves := game.Moves()
	san := make([]string, len(moves))
	promotions := 0
	for i, m := range moves {
		san[i] = chess.AlgebraicNotation{}.Encode(positions[i], m)
		if m.Promo() != chess.NoPieceType {
			promotions++
		}
	}

	return &Record{
		Tags:       tags,
		Moves:      san,
		Raw:        raw,
		Game:       game,
		promotions: promotions,
	}, nil
}
