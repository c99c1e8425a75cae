// Package noopcodec provides an identity codec for uncompressed data.
package noopcodec

import (
	"io"

	"github.com/discochess/chessbook/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec passes data through unchanged.
type Codec struct{}

// New returns a new identity codec.
func New() *Codec {
	return &Codec{}
}

// Reader returns r as a ReadCloser. Closing it does not close r.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Writer returns w as a WriteCloser. Closing it does not close w,
// so callers keep ownership of the underlying sink.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// Extension returns empty string.
func (c *Codec) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
