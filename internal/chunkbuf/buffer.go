// Package chunkbuf provides the fixed-capacity byte buffer that request
// handlers refill from the transport, and a bounds-checked cursor for
// scanning it.
package chunkbuf

import (
	"errors"
	"io"
)

// ErrCapacity is returned when a buffer cannot hold even one new byte.
var ErrCapacity = errors.New("chunkbuf: no usable capacity")

// Buffer is a fixed-capacity byte buffer. One slot is reserved for a
// terminator, so at most Cap()-1 bytes are usable, and buf[Len()] is 0 after
// every fill.
type Buffer struct {
	buf []byte
	n   int
}

// New allocates a Buffer with the given total capacity (minimum 2).
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{buf: make([]byte, capacity)}
}

func (b *Buffer) Cap() int    { return len(b.buf) }
func (b *Buffer) Usable() int { return len(b.buf) - 1 }
func (b *Buffer) Len() int    { return b.n }

// Bytes returns the filled region. It is only valid until the next fill.
func (b *Buffer) Bytes() []byte { return b.buf[:b.n] }

// Fill replaces the buffer contents with up to min(want, Usable()) bytes read
// from r. It returns the number of bytes read, which is at least 1 unless err
// is non-nil.
func (b *Buffer) Fill(r io.Reader, want int) (int, error) {
	b.n = 0
	return b.fillAt(r, want)
}

// FillAfter keeps the bytes of keep at the front of the buffer and reads up to
// want more bytes after them. keep may alias the current contents. It returns
// only the number of newly read bytes.
func (b *Buffer) FillAfter(keep []byte, r io.Reader, want int) (int, error) {
	if len(keep) >= b.Usable() {
		return 0, ErrCapacity
	}
	b.n = copy(b.buf, keep)
	return b.fillAt(r, want)
}

func (b *Buffer) fillAt(r io.Reader, want int) (int, error) {
	room := b.Usable() - b.n
	if want > room {
		want = room
	}
	if want <= 0 {
		b.buf[b.n] = 0
		return 0, ErrCapacity
	}
	n, err := io.ReadAtLeast(r, b.buf[b.n:b.n+want], 1)
	b.n += n
	b.buf[b.n] = 0
	if n > 0 {
		// a short read carrying data is handled now; the reader reports the
		// error again on the next call
		return n, nil
	}
	return 0, err
}
