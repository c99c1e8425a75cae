package pgn

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Writer serializes games into an archive document.
// Games are separated by a blank line.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends a game's verbatim text to the document.
func (w *Writer) Write(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("writing game %d: empty game text", w.count+1)
	}
	if _, err := w.w.WriteString(raw); err != nil {
		return fmt.Errorf("writing game %d: %w", w.count+1, err)
	}
	if _, err := w.w.WriteString("\n\n"); err != nil {
		return fmt.Errorf("writing game %d: %w", w.count+1, err)
	}
	w.count++
	return nil
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Count returns the number of games written.
func (w *Writer) Count() int {
	return w.count
}
