// Package upload receives a single-file multipart/form-data body and streams
// the file part into the storage root through a fixed receive buffer.
//
// The body is never buffered whole. Each receive fills the buffer with at
// most min(remaining, Usable()) bytes; the first chunk must carry the part
// headers, the payload follows CRLFCRLF and ends before the boundary.
package upload

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"datalogger/internal/chunkbuf"
	"datalogger/internal/logging"
	"datalogger/internal/storage"
)

const (
	DefaultBufferSize  = 2048
	DefaultMaxFilename = 128
	DefaultRecvTimeout = 5 * time.Second

	drainChunk = 128
)

var (
	headerSep = []byte("\r\n\r\n")
	crlf      = []byte("\r\n")
)

// State is the position of a session in its lifecycle.
type State int

const (
	AwaitingHeaders State = iota
	Streaming
	Draining
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingHeaders:
		return "awaiting-headers"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Options struct {
	BufferSize  int
	MaxFilename int
	// CarryOverlap makes the receiver find a separator or boundary that is
	// split across two reads. Off, such a split goes unnoticed and the rest
	// of the body lands in the file. Off, a boundary that starts exactly at
	// the beginning of a read also keeps the CRLF in front of it, because
	// that CRLF was flushed with the previous read ("\r" alone when only the
	// LF starts the read).
	CarryOverlap bool
	RecvTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 1 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MaxFilename <= 0 {
		o.MaxFilename = DefaultMaxFilename
	}
	return o
}

// Request is the transport view of one upload.
type Request struct {
	ContentType   string
	ContentLength int64
	Body          io.Reader
	Overwrite     bool
	// SetReadDeadline bounds each receive. May be nil.
	SetReadDeadline func(time.Time) error
}

// Outcome describes how a session ended. It is filled in on error too.
type Outcome struct {
	SessionID string
	Filename  string
	Path      string
	State     State
	Conflict  bool
	Written   int64
	Boundary  bool
	// Unread is set when part of the declared body was never read, after a
	// receive failure or an aborted drain. The connection cannot be reused.
	Unread bool
}

type Manager struct {
	resolver *Resolver
	opts     Options
	log      logging.Logger
}

func New(dir *storage.Dir, opts Options, log logging.Logger) *Manager {
	return &Manager{
		resolver: NewResolver(dir, log),
		opts:     opts.withDefaults(),
		log:      log,
	}
}

func (m *Manager) Options() Options { return m.opts }

// Receive runs one upload session to completion. The returned error wraps
// ErrProtocol, ErrStorage or is a *TransportError.
func (m *Manager) Receive(ctx context.Context, req Request) (Outcome, error) {
	s := &session{
		m:         m,
		id:        uuid.NewString(),
		overwrite: req.Overwrite,
		remaining: req.ContentLength,
	}
	s.log = m.log.With("session", s.id)

	err := s.prepare(req)
	if err == nil {
		s.log.Info(ctx, "upload started", "content_length", req.ContentLength, "overwrite", req.Overwrite)
		err = s.run(ctx)
	}
	if req.SetReadDeadline != nil {
		_ = req.SetReadDeadline(time.Time{})
	}
	err = s.finish(ctx, err)
	return s.outcome(), err
}

// finish closes the sink and only then records Done or Failed.
func (s *session) finish(ctx context.Context, err error) error {
	if s.sink != nil {
		if cerr := s.sink.Close(); cerr != nil && err == nil {
			err = storageErr("close "+s.path, cerr)
		}
		s.sink = nil
	}
	if err != nil {
		s.state = Failed
		s.log.Error(ctx, "upload failed", "file", s.filename, "written", s.written, "err", err)
	} else {
		s.state = Done
		s.log.Info(ctx, "upload finished", "file", s.filename, "written", s.written,
			"conflict", s.conflict, "boundary", s.sawBoundary)
	}
	return err
}

type session struct {
	m   *Manager
	log logging.Logger

	id        string
	boundary  []byte
	overwrite bool
	body      io.Reader
	remaining int64
	buf       *chunkbuf.Buffer
	carry     []byte

	state       State
	filename    string
	path        string
	sink        storage.Sink
	written     int64
	conflict    bool
	sawBoundary bool
}

func (s *session) prepare(req Request) error {
	if req.ContentLength <= 0 || req.Body == nil {
		return ErrNoContent
	}
	b, err := BoundaryFromContentType(req.ContentType)
	if err != nil {
		return err
	}
	s.boundary = b
	s.buf = chunkbuf.New(s.m.opts.BufferSize)
	if s.m.opts.CarryOverlap && s.buf.Usable() <= len(b)+1 {
		return ErrBufferTooSmall
	}
	s.body = &deadlineReader{r: req.Body, set: req.SetReadDeadline, timeout: s.m.opts.RecvTimeout}
	return nil
}

func (s *session) run(ctx context.Context) error {
	for s.remaining > 0 {
		if err := ctx.Err(); err != nil {
			return classify(err)
		}
		n, err := s.fill()
		if err != nil {
			return err
		}
		last := int64(n) >= s.remaining
		if err := s.consume(ctx, s.buf.Bytes(), last); err != nil {
			return err
		}
		s.remaining -= int64(n)
		if s.state == Draining {
			s.drain(ctx)
			return nil
		}
		if s.sawBoundary {
			s.remaining = 0
		}
	}
	if !s.sawBoundary {
		s.log.Warn(ctx, "body ended without a closing boundary", "file", s.filename, "state", s.state.String())
	}
	return nil
}

func (s *session) fill() (int, error) {
	want := int(min(s.remaining, int64(s.buf.Usable())))
	var (
		n   int
		err error
	)
	if len(s.carry) > 0 {
		n, err = s.buf.FillAfter(s.carry, s.body, want)
	} else {
		n, err = s.buf.Fill(s.body, want)
	}
	s.carry = nil
	if errors.Is(err, chunkbuf.ErrCapacity) {
		return 0, ErrHeadersTooLarge
	}
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// consume handles the current window. last is true when the declared body
// ends with this read.
func (s *session) consume(ctx context.Context, chunk []byte, last bool) error {
	cur := chunkbuf.NewCursor(chunk)
	if s.state == AwaitingHeaders {
		if s.m.opts.CarryOverlap && !last && cur.Find(headerSep) < 0 {
			s.carry = chunk
			return nil
		}
		if s.filename == "" {
			if err := s.resolve(ctx, chunk); err != nil {
				return err
			}
			if s.state == Draining {
				return nil
			}
		}
		i := cur.Find(headerSep)
		if i < 0 {
			return nil
		}
		cur.Advance(i + len(headerSep))
		s.log.Debug(ctx, "part headers skipped", "bytes", cur.Pos())
		s.state = Streaming
	}
	return s.stream(cur.Rest(), last)
}

func (s *session) resolve(ctx context.Context, chunk []byte) error {
	name, err := ExtractFilename(chunk, 0)
	if err != nil {
		return err
	}
	if max := s.m.opts.MaxFilename; len(name) > max {
		s.log.Warn(ctx, "filename too long, truncating", "len", len(name), "max", max)
		name = name[:max]
	}
	s.filename = name
	res, err := s.m.resolver.Resolve(ctx, name, s.overwrite)
	s.path = res.Path
	if err != nil {
		return err
	}
	if res.Conflict {
		s.conflict = true
		s.state = Draining
		return nil
	}
	s.sink = res.Sink
	return nil
}

func (s *session) stream(data []byte, last bool) error {
	cur := chunkbuf.NewCursor(data)
	if payload, ok := cur.TakeUntil(s.boundary); ok {
		s.sawBoundary = true
		return s.write(trimLineEnd(payload))
	}
	if !s.m.opts.CarryOverlap || last {
		return s.write(data)
	}
	// hold back enough for a boundary and the CRLF in front of it
	hold := min(len(s.boundary)+1, len(data))
	if err := s.write(data[:len(data)-hold]); err != nil {
		return err
	}
	s.carry = data[len(data)-hold:]
	return nil
}

func (s *session) write(p []byte) error {
	if len(p) == 0 || s.sink == nil {
		return nil
	}
	n, err := s.sink.Write(p)
	s.written += int64(n)
	if err != nil {
		return storageErr("write "+s.path, err)
	}
	return nil
}

// drain discards the rest of the declared body. Failures end the drain
// early and are only logged.
func (s *session) drain(ctx context.Context) {
	s.log.Info(ctx, "draining request body", "remaining", s.remaining)
	scratch := make([]byte, drainChunk)
	for s.remaining > 0 {
		want := int(min(s.remaining, drainChunk))
		n, err := io.ReadAtLeast(s.body, scratch[:want], 1)
		s.remaining -= int64(n)
		if err != nil {
			s.log.Error(ctx, "drain aborted", "remaining", s.remaining, "err", err)
			return
		}
	}
}

func (s *session) outcome() Outcome {
	return Outcome{
		SessionID: s.id,
		Filename:  s.filename,
		Path:      s.path,
		State:     s.state,
		Conflict:  s.conflict,
		Written:   s.written,
		Boundary:  s.sawBoundary,
		Unread:    s.remaining > 0,
	}
}

// trimLineEnd strips the CRLF (or bare LF) that precedes a boundary.
func trimLineEnd(p []byte) []byte {
	n := len(p)
	switch {
	case n >= 2 && p[n-2] == crlf[0] && p[n-1] == crlf[1]:
		return p[:n-2]
	case n >= 1 && p[n-1] == '\n':
		return p[:n-1]
	}
	return p
}

type deadlineReader struct {
	r       io.Reader
	set     func(time.Time) error
	timeout time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if d.set != nil && d.timeout > 0 {
		// unsupported deadlines leave the read unbounded
		_ = d.set(time.Now().Add(d.timeout))
	}
	return d.r.Read(p)
}
