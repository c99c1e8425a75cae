package pgn

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/notnil/chess"
)

// FingerprintTags are the tags that take part in a game's identity.
// Missing tags contribute an empty value.
var FingerprintTags = []string{
	"Event", "Site", "Date", "Round", "White", "Black", "Result",
	"UTCDate", "UTCTime", "Link",
}

// Tag is a single header tag pair.
type Tag struct {
	Name  string
	Value string
}

// Record is one parsed game.
type Record struct {
	// Index is the 1-based position of the game block in its archive.
	Index int

	// Tags are the header tags in source order.
	Tags []Tag

	// Moves are the mainline moves in standard algebraic notation.
	Moves []string

	// Raw is the verbatim source text of the game block.
	Raw string

	// Game is the replayed game.
	Game *chess.Game

	promotions  int
	fingerprint string
}

// Tag returns the value of the named tag, or "" if absent.
func (r *Record) Tag(name string) string {
	for _, t := range r.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// Plies returns the number of half-moves in the mainline.
func (r *Record) Plies() int {
	return len(r.Moves)
}

// Promotions returns the number of pawn promotions in the mainline.
func (r *Record) Promotions() int {
	return r.promotions
}

// Positions returns every position of the mainline, starting with the
// initial position. It has Plies()+1 entries.
func (r *Record) Positions() []*chess.Position {
	return r.Game.Positions()
}

// Fingerprint returns the game's stable identity: a hex SHA-256 digest of
// the identity tags and the move list. Formatting, comments and tag order in
// the source text do not affect it.
func (r *Record) Fingerprint() string {
	if r.fingerprint == "" {
		r.fingerprint = Fingerprint(r.Tag, r.Moves)
	}
	return r.fingerprint
}

// Fingerprint computes a game identity from a tag lookup and SAN moves.
func Fingerprint(tag func(string) string, moves []string) string {
	h := sha256.New()
	for _, name := range FingerprintTags {
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(tag(name)))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte(strings.Join(moves, " ")))
	return hex.EncodeToString(h.Sum(nil))
}
