package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"datalogger/internal/fsutil"
	"datalogger/internal/render"
)

const thumbMax = 160

// handleThumb serves a JPEG thumbnail of an image in the storage root,
// cached under <stateDir>/thumbs by name and modification time.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name, err := fsutil.FileParam(r.URL.RawQuery)
	if err != nil {
		http.Error(w, "bad file parameter", http.StatusBadRequest)
		return
	}
	if !render.IsImage(name) {
		http.NotFound(w, r)
		return
	}
	f, st, err := s.dir.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	thumbDir := filepath.Join(s.cfg.StateDir, "thumbs")
	key := fmt.Sprintf("%s-%d.jpg", thumbKey(name), st.ModTime().Unix())
	thumbPath := filepath.Join(thumbDir, key)
	if b, err := os.ReadFile(thumbPath); err == nil {
		writeThumb(w, b)
		return
	}

	b, err := makeThumb(f, thumbMax)
	if err != nil {
		s.log.Debug(ctx, "thumbnail", "file", name, "err", err)
		http.NotFound(w, r)
		return
	}
	if err := os.MkdirAll(thumbDir, 0o755); err == nil {
		if err := os.WriteFile(thumbPath, b, 0o644); err != nil {
			s.log.Warn(ctx, "cache thumbnail", "path", thumbPath, "err", err)
		}
	}
	writeThumb(w, b)
}

func writeThumb(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}

func thumbKey(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
}

func makeThumb(r io.Reader, limit int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	nw, nh := w, h
	switch {
	case w > h && w > limit:
		nw, nh = limit, h*limit/w
	case h >= w && h > limit:
		nw, nh = w*limit/h, limit
	}
	nw, nh = max(nw, 1), max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
