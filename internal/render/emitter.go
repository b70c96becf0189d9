package render

import (
	"bytes"
	"errors"
	"net/http"
)

var ErrClosed = errors.New("render: emitter already finished")

// Emitter receives consecutive ranges of a response. An empty range ends
// the response; nothing may be emitted after it.
type Emitter interface {
	Emit(p []byte) error
}

// ChunkedEmitter writes each range to w and flushes it, so the response goes
// out with chunked transfer encoding.
type ChunkedEmitter struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	done bool
	n    int64
}

func NewChunkedEmitter(w http.ResponseWriter) *ChunkedEmitter {
	return &ChunkedEmitter{w: w, rc: http.NewResponseController(w)}
}

func (e *ChunkedEmitter) Emit(p []byte) error {
	if e.done {
		return ErrClosed
	}
	if len(p) == 0 {
		e.done = true
		return e.flush()
	}
	n, err := e.w.Write(p)
	e.n += int64(n)
	if err != nil {
		return err
	}
	return e.flush()
}

// Written reports the body bytes written so far.
func (e *ChunkedEmitter) Written() int64 { return e.n }

func (e *ChunkedEmitter) flush() error {
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// BufferEmitter collects ranges in memory.
type BufferEmitter struct {
	bytes.Buffer
	Chunks int
	Done   bool
}

func (e *BufferEmitter) Emit(p []byte) error {
	if e.Done {
		return ErrClosed
	}
	if len(p) == 0 {
		e.Done = true
		return nil
	}
	e.Chunks++
	_, err := e.Write(p)
	return err
}
