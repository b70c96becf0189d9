package chunkbuf

import "bytes"

// Cursor is a forward-only position over a byte slice. Every operation is
// bounds-checked; the position never moves backwards and never exceeds
// len(data).
type Cursor struct {
	data []byte
	pos  int
}

func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

func (c *Cursor) Pos() int { return c.pos }

// Len reports how many bytes remain after the position.
func (c *Cursor) Len() int { return len(c.data) - c.pos }

// Rest returns the unconsumed bytes without advancing.
func (c *Cursor) Rest() []byte { return c.data[c.pos:] }

// Find returns the offset of tok relative to the current position, or -1.
func (c *Cursor) Find(tok []byte) int {
	if len(tok) == 0 {
		return -1
	}
	return bytes.Index(c.data[c.pos:], tok)
}

// Advance moves the position forward by n bytes, clamped to the end.
func (c *Cursor) Advance(n int) {
	if n <= 0 {
		return
	}
	c.pos += n
	if c.pos > len(c.data) {
		c.pos = len(c.data)
	}
}

// TakeUntil returns the bytes before the next occurrence of tok and advances
// past tok. If tok is absent nothing moves and ok is false.
func (c *Cursor) TakeUntil(tok []byte) (before []byte, ok bool) {
	i := c.Find(tok)
	if i < 0 {
		return nil, false
	}
	before = c.data[c.pos : c.pos+i]
	c.pos += i + len(tok)
	return before, true
}
