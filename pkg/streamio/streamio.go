// Package streamio wraps a reader or writer with a running SHA-256 hash
// over the bytes consumed or written so far, letting a codec compute a
// trailing checksum without buffering the whole file in memory. The
// trailer field itself must never be fed through the hasher.
package streamio

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/cuemby/pippin/pkg/sum"
)

// HashWriter wraps an io.Writer, accumulating a checksum over every byte
// written through it.
type HashWriter struct {
	w io.Writer
	h hash.Hash
}

// NewHashWriter wraps w.
func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{w: w, h: sha256.New()}
}

// Write implements io.Writer.
func (hw *HashWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of every byte written so far.
func (hw *HashWriter) Sum() sum.Sum {
	var s sum.Sum
	copy(s[:], hw.h.Sum(nil))
	return s
}

// HashReader wraps an io.Reader, accumulating a checksum over every byte
// read through it.
type HashReader struct {
	r io.Reader
	h hash.Hash
}

// NewHashReader wraps r.
func NewHashReader(r io.Reader) *HashReader {
	return &HashReader{r: r, h: sha256.New()}
}

// Read implements io.Reader.
func (hr *HashReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of every byte read so far.
func (hr *HashReader) Sum() sum.Sum {
	var s sum.Sum
	copy(s[:], hr.h.Sum(nil))
	return s
}
