package chunkbuf

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_FillRespectsUsableCapacity(t *testing.T) {
	b := New(8)
	require.Equal(t, 7, b.Usable())

	n, err := b.Fill(strings.NewReader("0123456789"), 100)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "0123456", string(b.Bytes()))
	assert.Equal(t, byte(0), b.buf[b.Len()], "terminator slot")
}

func TestBuffer_FillHonoursWant(t *testing.T) {
	b := New(16)
	n, err := b.Fill(strings.NewReader("abcdef"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(b.Bytes()))
}

func TestBuffer_FillShortReadKeepsData(t *testing.T) {
	b := New(16)
	r := iotest.OneByteReader(strings.NewReader("xyz"))
	n, err := b.Fill(r, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", string(b.Bytes()))
}

func TestBuffer_FillEOF(t *testing.T) {
	b := New(16)
	_, err := b.Fill(strings.NewReader(""), 10)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_FillPropagatesReaderError(t *testing.T) {
	boom := errors.New("boom")
	b := New(16)
	_, err := b.Fill(iotest.ErrReader(boom), 10)
	require.ErrorIs(t, err, boom)
}

func TestBuffer_FillAfterKeepsPrefix(t *testing.T) {
	b := New(10)
	_, err := b.Fill(strings.NewReader("hello"), 5)
	require.NoError(t, err)

	keep := b.Bytes()[3:] // "lo", aliases the buffer
	n, err := b.FillAfter(keep, strings.NewReader("world!!!!"), 100)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "loworld!!", string(b.Bytes()))
}

func TestBuffer_FillAfterRejectsOversizedKeep(t *testing.T) {
	b := New(4)
	_, err := b.FillAfter(bytes.Repeat([]byte("a"), 3), strings.NewReader("b"), 1)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestCursor_Operations(t *testing.T) {
	c := NewCursor([]byte("head\r\n\r\nbody--X"))

	before, ok := c.TakeUntil([]byte("\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "head", string(before))
	assert.Equal(t, 8, c.Pos())

	assert.Equal(t, 4, c.Find([]byte("--X")))
	assert.Equal(t, -1, c.Find([]byte("nope")))
	assert.Equal(t, -1, c.Find(nil))

	c.Advance(2)
	assert.Equal(t, "dy--X", string(c.Rest()))
	c.Advance(100)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Rest())

	_, ok = c.TakeUntil([]byte("x"))
	assert.False(t, ok)
}

func TestCursor_AdvanceNeverGoesBack(t *testing.T) {
	c := NewCursor([]byte("abc"))
	c.Advance(2)
	c.Advance(-5)
	assert.Equal(t, 2, c.Pos())
}
