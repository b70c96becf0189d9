package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ErrProtocol is wrapped by every error caused by a malformed request.
var ErrProtocol = errors.New("malformed upload")

// ErrStorage is wrapped by every error caused by the storage root.
var ErrStorage = errors.New("storage failure")

var (
	ErrNoContent            = fmt.Errorf("%w: no content (Content-Length is 0 or missing)", ErrProtocol)
	ErrMissingContentType   = fmt.Errorf("%w: missing Content-Type header", ErrProtocol)
	ErrMissingBoundary      = fmt.Errorf("%w: Content-Type has no boundary", ErrProtocol)
	ErrBoundaryTooLong      = fmt.Errorf("%w: boundary too long", ErrProtocol)
	ErrMissingDisposition   = fmt.Errorf("%w: missing Content-Disposition header", ErrProtocol)
	ErrMissingFilename      = fmt.Errorf("%w: Content-Disposition has no filename", ErrProtocol)
	ErrUnterminatedFilename = fmt.Errorf("%w: filename could not be parsed", ErrProtocol)
	ErrHeadersTooLarge      = fmt.Errorf("%w: part headers exceed the receive buffer", ErrProtocol)
	ErrBufferTooSmall       = fmt.Errorf("%w: receive buffer too small for boundary", ErrStorage)
)

// Kind classifies a receive failure.
type Kind int

const (
	Generic Kind = iota
	Timeout
	PeerClosed
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case PeerClosed:
		return "peer closed"
	default:
		return "receive error"
	}
}

// TransportError is returned when reading the request body fails.
type TransportError struct {
	Kind Kind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func classify(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	var ne net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Kind: Timeout, Err: err}
	case errors.As(err, &ne) && ne.Timeout():
		return &TransportError{Kind: Timeout, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.Canceled):
		return &TransportError{Kind: PeerClosed, Err: err}
	default:
		return &TransportError{Kind: Generic, Err: err}
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
