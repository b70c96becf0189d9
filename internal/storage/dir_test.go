package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDir(t *testing.T) *Dir {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "sd"))
	require.NoError(t, err)
	return d
}

func TestDir_CreateExistsOpen(t *testing.T) {
	d := newDir(t)

	ok, err := d.Exists("a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	w, err := d.Create("a.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err = d.Exists("a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	f, st, err := d.Open("a.txt")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), st.Size())
}

func TestDir_CreateTruncates(t *testing.T) {
	d := newDir(t)
	require.NoError(t, os.WriteFile(d.Path("a.txt"), []byte("long old content"), 0o644))

	w, err := d.Create("a.txt")
	require.NoError(t, err)
	_, _ = io.WriteString(w, "new")
	require.NoError(t, w.Close())

	b, err := os.ReadFile(d.Path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestDir_PathSanitizes(t *testing.T) {
	d := newDir(t)
	p := d.Path("../../etc/passwd")
	assert.NotContains(t, p, "..")
	assert.Equal(t, d.Root()+"/__/__/etc/passwd", p)
}

func TestDir_OpenRejectsDirectory(t *testing.T) {
	d := newDir(t)
	require.NoError(t, os.Mkdir(d.Path("sub"), 0o755))
	_, _, err := d.Open("sub")
	require.Error(t, err)
}

func TestDir_ListAndRemoveAll(t *testing.T) {
	d := newDir(t)
	for _, n := range []string{"b.csv", "a.csv", SystemVolumeInfo} {
		require.NoError(t, os.WriteFile(d.Path(n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(d.Path("dir"), 0o755))

	ents, err := d.List()
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, SystemVolumeInfo, ents[0].Name)
	assert.Equal(t, "a.csv", ents[1].Name)

	deleted, failed, err := d.RemoveAll()
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 0, failed)

	ents, err = d.List()
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, SystemVolumeInfo, ents[0].Name)
}

func TestDir_NextLogFile(t *testing.T) {
	d := newDir(t)
	require.NoError(t, os.WriteFile(d.Path("log_1.csv"), nil, 0o644))

	f, name, err := d.NextLogFile("log_", ".csv", 999)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "log_2.csv", name)

	f2, _, err := d.NextLogFile("log_", ".csv", 2)
	assert.Nil(t, f2)
	require.ErrorIs(t, err, ErrNoFreeName)
}

func TestDir_ReservedStateDir(t *testing.T) {
	d := newDir(t)
	state := filepath.Join(d.Root(), ".datalogger")
	require.NoError(t, os.MkdirAll(state, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(state, "settings.json"), []byte("{}"), 0o644))
	require.NoError(t, d.Reserve(state))

	for _, name := range []string{
		".datalogger/settings.json",
		"/.datalogger/settings.json",
		"./.datalogger//settings.json",
		".datalogger",
		"",
	} {
		assert.True(t, d.Reserved(name), name)
	}
	for _, name := range []string{"a.txt", ".datalogger2", "x/.datalogger/settings.json"} {
		assert.False(t, d.Reserved(name), name)
	}

	_, err := d.Create(".datalogger/settings.json")
	assert.ErrorIs(t, err, ErrReserved)
	assert.ErrorIs(t, d.Remove(".datalogger/settings.json"), ErrReserved)
	assert.FileExists(t, filepath.Join(state, "settings.json"))

	w, err := d.Create("a.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, d.Remove("a.txt"))
}

func TestDir_ReserveOutsideRootOrRoot(t *testing.T) {
	d := newDir(t)
	require.NoError(t, d.Reserve(filepath.Join(t.TempDir(), "state")))
	assert.False(t, d.Reserved("state"))
	assert.Error(t, d.Reserve(d.Root()))
}
