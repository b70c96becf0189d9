package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalogger/internal/logging"
)

func open(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), dir, logging.Discard())
	require.NoError(t, err)
	return s
}

func TestOpen_Defaults(t *testing.T) {
	s := open(t, t.TempDir())

	assert.False(t, s.LogOnBoot())
	chs := s.Channels()
	require.Len(t, chs, NumChannels)
	for _, c := range chs {
		assert.Equal(t, Channel{Factor: 1, Unit: "V"}, c)
	}
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "defaults are not written until a save")
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	s := open(t, dir)

	chs := s.Channels()
	chs[0] = Channel{Factor: 2.5, Unit: "A"}
	chs[7] = Channel{Factor: -1, Unit: "degreesCelsius"}
	require.NoError(t, s.SaveChannels(chs))
	require.NoError(t, s.SetLogOnBoot(true))

	r := open(t, dir)
	assert.True(t, r.LogOnBoot())
	got := r.Channels()
	assert.Equal(t, Channel{Factor: 2.5, Unit: "A"}, got[0])
	assert.Equal(t, "degreesCe", got[7].Unit)
	assert.Equal(t, [NumChannels]float64{2.5, 1, 1, 1, 1, 1, 1, -1}, r.Factors())
	assert.Equal(t, "A", r.Units()[0])

	_, err := os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestChannelsIsACopy(t *testing.T) {
	s := open(t, t.TempDir())
	chs := s.Channels()
	chs[0].Factor = 99
	assert.Equal(t, 1.0, s.Channels()[0].Factor)
}

func TestSaveChannels_Count(t *testing.T) {
	s := open(t, t.TempDir())
	require.ErrorIs(t, s.SaveChannels(make([]Channel, 7)), ErrChannelCount)
	require.ErrorIs(t, s.SaveChannels(make([]Channel, 9)), ErrChannelCount)
	assert.Equal(t, 1.0, s.Channels()[0].Factor)
}

func TestUnitCutOnRuneBoundary(t *testing.T) {
	c := normalize(Channel{Unit: "12345678µV"})
	assert.Equal(t, "12345678", c.Unit)
}

func TestOpen_CorruptFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))

	s := open(t, dir)
	assert.Equal(t, Defaults(), s.Snapshot())
}
