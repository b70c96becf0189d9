package httpserver

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/webdav"

	"datalogger/internal/storage"
)

// davMethods are the WebDAV verbs chi does not route by default.
var davMethods = []string{"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK"}

func init() {
	for _, m := range davMethods {
		chi.RegisterMethod(m)
	}
}

// davHandler mounts the storage root under /dav. Reads are open like the
// rest of the UI; anything else needs credentials when users are configured.
func (s *Server) davHandler() http.Handler {
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: reservedFS{FileSystem: webdav.Dir(s.dir.Root()), dir: s.dir},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Warn(r.Context(), "webdav", "method", r.Method, "path", r.URL.Path, "err", err)
			}
		},
	}
	write := s.guard.Middleware(dav)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			dav.ServeHTTP(w, r)
		default:
			write.ServeHTTP(w, r)
		}
	})
}

// reservedFS refuses WebDAV changes to the reserved paths of the storage
// root, such as the state directory.
type reservedFS struct {
	webdav.FileSystem
	dir *storage.Dir
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

func (f reservedFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if f.dir.Reserved(name) {
		return os.ErrPermission
	}
	return f.FileSystem.Mkdir(ctx, name, perm)
}

func (f reservedFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&writeFlags != 0 && f.dir.Reserved(name) {
		return nil, os.ErrPermission
	}
	return f.FileSystem.OpenFile(ctx, name, flag, perm)
}

func (f reservedFS) RemoveAll(ctx context.Context, name string) error {
	if f.dir.Reserved(name) {
		return os.ErrPermission
	}
	return f.FileSystem.RemoveAll(ctx, name)
}

func (f reservedFS) Rename(ctx context.Context, oldName, newName string) error {
	if f.dir.Reserved(oldName) || f.dir.Reserved(newName) {
		return os.ErrPermission
	}
	return f.FileSystem.Rename(ctx, oldName, newName)
}
