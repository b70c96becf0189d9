package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"datalogger/internal/storage"
	"datalogger/internal/upload"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)
	req := upload.Request{
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Body:          r.Body,
		Overwrite:     upload.ParseOverwrite(r.URL.RawQuery),
		SetReadDeadline: func(t time.Time) error {
			if err := rc.SetReadDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
			return nil
		},
	}

	out, err := s.uploads.Receive(ctx, req)
	if out.Unread {
		// net/http would otherwise try to discard the rest of a stalled body
		// before replying, with no read deadline left.
		w.Header().Set("Connection", "close")
	}
	switch {
	case err != nil:
		recordError(ctx, err)
		s.metrics.ObserveUpload(uploadResult(err), out.Written)
		s.json(w, r, statusFor(err), reply{Status: "error", Message: uploadMessage(err)})
	case out.Conflict:
		s.metrics.ObserveUpload("conflict", 0)
		s.json(w, r, http.StatusConflict, reply{
			Status:   "conflict",
			Message:  fmt.Sprintf("File '%s' already exists. Upload again with overwrite to replace it.", out.Filename),
			Filename: out.Filename,
		})
	default:
		s.metrics.ObserveUpload("success", out.Written)
		s.json(w, r, http.StatusOK, reply{
			Status:   "success",
			Message:  fmt.Sprintf("File '%s' uploaded (%d bytes).", out.Filename, out.Written),
			Filename: out.Filename,
		})
	}
}

func uploadResult(err error) string {
	var te *upload.TransportError
	switch {
	case errors.As(err, &te) && te.Kind == upload.Timeout:
		return "timeout"
	case errors.As(err, &te) && te.Kind == upload.PeerClosed:
		return "peer_closed"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, upload.ErrProtocol):
		return "protocol"
	default:
		return "storage"
	}
}

// uploadMessage is the client-facing text for a failed upload.
func uploadMessage(err error) string {
	var te *upload.TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case upload.Timeout:
			return "Timeout while receiving upload data."
		case upload.PeerClosed:
			return "Connection closed by the client."
		default:
			return "Error while receiving upload data."
		}
	}
	switch {
	case errors.Is(err, upload.ErrNoContent):
		return "No data to upload (content length is 0 or invalid)."
	case errors.Is(err, upload.ErrMissingContentType):
		return "Missing Content-Type header."
	case errors.Is(err, upload.ErrMissingBoundary):
		return "Invalid Content-Type, boundary is missing."
	case errors.Is(err, upload.ErrBoundaryTooLong):
		return "Boundary string in the Content-Type header is too long."
	case errors.Is(err, upload.ErrMissingDisposition):
		return "Missing Content-Disposition header."
	case errors.Is(err, upload.ErrMissingFilename):
		return "File name not found in the Content-Disposition header."
	case errors.Is(err, upload.ErrUnterminatedFilename):
		return "Malformed upload header (file name could not be parsed)."
	case errors.Is(err, upload.ErrHeadersTooLarge):
		return "Upload part headers do not fit the receive buffer."
	case errors.Is(err, upload.ErrBufferTooSmall):
		return "Internal server error (receive buffer)."
	case errors.Is(err, upload.ErrProtocol):
		return "Malformed upload request."
	case errors.Is(err, storage.ErrReserved):
		return "This file name is reserved by the logger."
	default:
		return "The file could not be stored. Check the file name and storage availability."
	}
}
