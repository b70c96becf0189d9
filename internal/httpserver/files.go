package httpserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"datalogger/internal/fsutil"
	"datalogger/internal/render"
	"datalogger/internal/storage"
)

// downloadChunk is the read-and-forward unit of /download.
const downloadChunk = 1024

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := s.dir.List()
	if err != nil {
		s.log.Error(ctx, "list storage root", "root", s.dir.Root(), "err", err)
		recordError(ctx, err)
		s.message(w, r, http.StatusInternalServerError, "Server error", "error",
			"Could not open the storage directory.")
		return
	}

	lc := s.cfg.Listing
	rows := render.NewListing(lc.Initial, lc.Increment, lc.Max)
	for _, e := range entries {
		if !rows.AddRow(e.Name) {
			s.log.Warn(ctx, "file list truncated", "rows", rows.Rows(), "total", len(entries), "cap", rows.Cap())
			s.metrics.ListingTruncated()
			break
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	em := render.NewChunkedEmitter(w)
	err = s.listDoc.Render(ctx, em, rows.Bytes())
	s.metrics.ObserveRender(s.listDoc.Name(), err)
	if err != nil {
		recordError(ctx, err)
		s.log.Warn(ctx, "list page aborted", "sent", em.Written(), "err", err)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name, err := fsutil.FileParam(r.URL.RawQuery)
	if err != nil {
		s.message(w, r, http.StatusBadRequest, "Download error", "error", "Missing or invalid file parameter.")
		return
	}

	f, _, err := s.dir.Open(name)
	if err != nil {
		s.log.Warn(ctx, "open for download", "file", name, "err", err)
		s.message(w, r, http.StatusNotFound, "Download error", "error",
			fmt.Sprintf("File '%s' was not found or cannot be opened.", name))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))

	rc := http.NewResponseController(w)
	buf := make([]byte, downloadChunk)
	var sent int64
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.log.Warn(ctx, "download aborted", "file", name, "sent", sent, "err", werr)
				return
			}
			sent += int64(n)
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				s.log.Warn(ctx, "download aborted", "file", name, "sent", sent, "err", ferr)
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Headers are gone; the client sees a short body.
			recordError(ctx, rerr)
			s.log.Error(ctx, "read during download", "file", name, "sent", sent, "err", rerr)
			return
		}
	}
	s.log.Debug(ctx, "download complete", "file", name, "bytes", sent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name, err := fsutil.FileParam(r.URL.RawQuery)
	if err != nil {
		msg := "Invalid file parameter for delete."
		if errors.Is(err, fsutil.ErrMissingParam) {
			msg = "Missing file parameter for delete."
		}
		s.json(w, r, http.StatusBadRequest, reply{Status: "error", Message: msg})
		return
	}

	if err := s.dir.Remove(name); err != nil {
		s.log.Warn(ctx, "delete failed", "file", name, "err", err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			status = http.StatusNotFound
		case errors.Is(err, storage.ErrReserved):
			status = http.StatusForbidden
		}
		s.json(w, r, status, reply{
			Status:  "error",
			Message: fmt.Sprintf("Could not delete file '%s': %v", name, cause(err)),
		})
		return
	}
	s.log.Info(ctx, "file deleted", "file", name)
	s.json(w, r, http.StatusOK, reply{
		Status:  "success",
		Message: fmt.Sprintf("File '%s' deleted.", name),
	})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted, failed, err := s.dir.RemoveAll()
	if err != nil {
		s.log.Error(ctx, "delete all", "root", s.dir.Root(), "err", err)
		recordError(ctx, err)
		s.json(w, r, http.StatusInternalServerError, reply{Status: "error", Message: "Could not open the storage directory."})
		return
	}
	s.log.Info(ctx, "delete all", "deleted", deleted, "failed", failed)

	var out reply
	switch {
	case deleted == 0 && failed == 0:
		out = reply{Status: "info", Message: "No files to delete."}
	case failed == 0:
		out = reply{Status: "success", Message: fmt.Sprintf("Deleted %d files.", deleted)}
	case deleted == 0:
		out = reply{Status: "error", Message: fmt.Sprintf("Error: could not delete files. %d failed.", failed)}
	default:
		out = reply{Status: "warning", Message: fmt.Sprintf("Deleted %d files, %d failed.", deleted, failed)}
	}
	s.json(w, r, http.StatusOK, out)
}

// cause drops the absolute path from filesystem errors shown to clients.
func cause(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
