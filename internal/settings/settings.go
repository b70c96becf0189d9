// Package settings persists the logger's user settings as a small JSON
// document in the state directory.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"datalogger/internal/logging"
)

const (
	NumChannels = 8
	MaxUnitLen  = 9
	FileName    = "settings.json"

	DefaultFactor = 1.0
	DefaultUnit   = "V"
)

var ErrChannelCount = fmt.Errorf("settings: exactly %d channels required", NumChannels)

type Channel struct {
	Factor float64 `json:"factor"`
	Unit   string  `json:"unit"`
}

type Settings struct {
	LogOnBoot bool                 `json:"logOnBoot"`
	Channels  [NumChannels]Channel `json:"channels"`
}

func Defaults() Settings {
	var s Settings
	for i := range s.Channels {
		s.Channels[i] = Channel{Factor: DefaultFactor, Unit: DefaultUnit}
	}
	return s
}

type Store struct {
	mu   sync.RWMutex
	path string
	cur  Settings
}

// Open loads dir/settings.json. A missing or unreadable document yields the
// defaults; only a failure to create dir is an error.
func Open(ctx context.Context, dir string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("settings: mkdir %s: %w", dir, err)
	}
	st := &Store{path: filepath.Join(dir, FileName), cur: Defaults()}
	b, err := os.ReadFile(st.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info(ctx, "no settings saved, using defaults", "path", st.path)
		return st, nil
	case err != nil:
		log.Warn(ctx, "read settings, using defaults", "path", st.path, "err", err)
		return st, nil
	}
	loaded := Defaults()
	if err := json.Unmarshal(b, &loaded); err != nil {
		log.Warn(ctx, "decode settings, using defaults", "path", st.path, "err", err)
		return st, nil
	}
	for i := range loaded.Channels {
		loaded.Channels[i] = normalize(loaded.Channels[i])
	}
	st.cur = loaded
	return st, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) LogOnBoot() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.LogOnBoot
}

func (s *Store) SetLogOnBoot(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	next.LogOnBoot = on
	return s.commit(next)
}

// Channels returns a copy of the channel configuration.
func (s *Store) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, NumChannels)
	copy(out, s.cur.Channels[:])
	return out
}

// SaveChannels replaces all channel configurations. Units longer than
// MaxUnitLen bytes are cut.
func (s *Store) SaveChannels(chs []Channel) error {
	if len(chs) != NumChannels {
		return ErrChannelCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	for i, c := range chs {
		next.Channels[i] = normalize(c)
	}
	return s.commit(next)
}

func (s *Store) Factors() [NumChannels]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f [NumChannels]float64
	for i, c := range s.cur.Channels {
		f[i] = c.Factor
	}
	return f
}

func (s *Store) Units() [NumChannels]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u [NumChannels]string
	for i, c := range s.cur.Channels {
		u[i] = c.Unit
	}
	return u
}

// commit writes next and makes it current. Caller holds mu.
func (s *Store) commit(next Settings) error {
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	s.cur = next
	return nil
}

func normalize(c Channel) Channel {
	if len(c.Unit) > MaxUnitLen {
		n := MaxUnitLen
		for n > 0 && !utf8.RuneStart(c.Unit[n]) {
			n--
		}
		c.Unit = c.Unit[:n]
	}
	return c
}
