// Package storage is the file system behind the logger: the directory that
// stands in for the SD card. Names coming from requests go through
// fsutil.SanitizeName and are never canonicalised.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"datalogger/internal/fsutil"
)

// SystemVolumeInfo is never removed by RemoveAll.
const SystemVolumeInfo = "System Volume Information"

var (
	ErrNoFreeName = errors.New("storage: no free file name")
	ErrReserved   = errors.New("storage: reserved name")
)

// Sink is the append-only write target of an upload.
type Sink interface {
	io.Writer
	io.Closer
}

type Dir struct {
	root string
	// reserved holds slash-separated paths relative to root that request
	// names may not write or remove.
	reserved []string
}

// New returns a Dir rooted at root, creating it when missing.
func New(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("storage: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

// Reserve keeps request names away from p, usually the state directory.
// A p outside the root needs no protection and is ignored.
func (d *Dir) Reserve(p string) error {
	root, err := filepath.Abs(d.root)
	if err != nil {
		return fmt.Errorf("storage: abs root: %w", err)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("storage: abs %s: %w", p, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	if rel == "." {
		return errors.New("storage: cannot reserve the root itself")
	}
	d.reserved = append(d.reserved, filepath.ToSlash(rel))
	return nil
}

// Reserved reports whether name is a reserved path, lies below one or is
// an ancestor of one.
func (d *Dir) Reserved(name string) bool {
	rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(fsutil.SanitizeName(name))), "/")
	for _, r := range d.reserved {
		if rel == "" || rel == r || strings.HasPrefix(rel, r+"/") || strings.HasPrefix(r, rel+"/") {
			return true
		}
	}
	return false
}

// Path returns the on-disk path for a request-supplied name.
func (d *Dir) Path(name string) string {
	return fsutil.JoinRoot(d.root, name)
}

// Exists reports whether name exists (stat succeeds).
func (d *Dir) Exists(name string) (bool, error) {
	_, err := os.Stat(d.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Create opens name for writing, truncating any existing content.
func (d *Dir) Create(name string) (Sink, error) {
	if d.Reserved(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: ErrReserved}
	}
	return os.OpenFile(d.Path(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// Open opens name for reading. Directories are refused.
func (d *Dir) Open(name string) (*os.File, fs.FileInfo, error) {
	f, err := os.Open(d.Path(name))
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s: is a directory", name)
	}
	return f, st, nil
}

func (d *Dir) Remove(name string) error {
	if d.Reserved(name) {
		return &fs.PathError{Op: "remove", Path: name, Err: ErrReserved}
	}
	return os.Remove(d.Path(name))
}

// Entry is one regular file in the root.
type Entry struct {
	Name    string
	Size    int64
	ModTime int64
}

// List returns the regular files directly under the root, sorted by name.
func (d *Dir) List() ([]Entry, error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime().Unix()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RemoveAll deletes every regular file directly under the root.
func (d *Dir) RemoveAll() (deleted, failed int, err error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range ents {
		if !e.Type().IsRegular() || e.Name() == SystemVolumeInfo {
			continue
		}
		if rmErr := os.Remove(filepath.Join(d.root, e.Name())); rmErr != nil {
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed, nil
}

// NextLogFile creates the first missing "<prefix>N<ext>" for N in 1..max and
// returns it open for writing together with its name.
func (d *Dir) NextLogFile(prefix, ext string, max int) (*os.File, string, error) {
	for i := 1; i <= max; i++ {
		name := fmt.Sprintf("%s%d%s", prefix, i, ext)
		f, err := os.OpenFile(filepath.Join(d.root, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, name, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return nil, "", err
	}
	return nil, "", ErrNoFreeName
}
