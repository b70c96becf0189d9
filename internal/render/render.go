// Package render streams HTML documents with %%TOKEN%% placeholders and
// builds the dynamic file listing inserted into them.
package render

import (
	"context"
	"errors"
	"fmt"

	"datalogger/internal/chunkbuf"
	"datalogger/internal/logging"
)

var ErrValueCount = errors.New("render: value count does not match token count")

// Document is an immutable template. Tokens are replaced in order, each at
// its first occurrence after the previous one.
type Document struct {
	name   string
	body   []byte
	tokens [][]byte
	log    logging.Logger
}

func NewDocument(name string, body []byte, log logging.Logger, tokens ...string) *Document {
	if log == nil {
		log = logging.Discard()
	}
	d := &Document{name: name, body: body, log: log}
	for _, t := range tokens {
		d.tokens = append(d.tokens, []byte(t))
	}
	return d
}

func (d *Document) Name() string { return d.name }

// Render emits the document with values substituted for its tokens, then
// the empty end-of-response emission. A token missing from the body is
// logged and skipped. The first emit error aborts the render.
func (d *Document) Render(ctx context.Context, em Emitter, values ...[]byte) error {
	if len(values) != len(d.tokens) {
		return fmt.Errorf("%w: %s has %d tokens, got %d values", ErrValueCount, d.name, len(d.tokens), len(values))
	}
	cur := chunkbuf.NewCursor(d.body)
	for i, tok := range d.tokens {
		before, ok := cur.TakeUntil(tok)
		if !ok {
			d.log.Warn(ctx, "placeholder not found", "document", d.name, "token", string(tok))
			continue
		}
		if err := emit(em, before); err != nil {
			return d.fail(ctx, err)
		}
		if err := emit(em, values[i]); err != nil {
			return d.fail(ctx, err)
		}
	}
	if err := emit(em, cur.Rest()); err != nil {
		return d.fail(ctx, err)
	}
	if err := em.Emit(nil); err != nil {
		return d.fail(ctx, err)
	}
	return nil
}

// RenderStrings is Render for string values.
func (d *Document) RenderStrings(ctx context.Context, em Emitter, values ...string) error {
	bs := make([][]byte, len(values))
	for i, v := range values {
		bs[i] = []byte(v)
	}
	return d.Render(ctx, em, bs...)
}

func (d *Document) fail(ctx context.Context, err error) error {
	d.log.Error(ctx, "render aborted", "document", d.name, "err", err)
	return fmt.Errorf("render %s: %w", d.name, err)
}

func emit(em Emitter, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return em.Emit(p)
}
