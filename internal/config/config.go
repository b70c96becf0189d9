// Package config holds the datalogger's runtime settings: defaults, an
// optional JSON overlay and command-line overrides applied by cmd.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is intentionally small and JSON-friendly.
// If Users is empty, mutating routes are open.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr"`

	// Root is the storage root that stands in for the SD card.
	Root string `json:"root"`

	// StateDir stores settings.json.
	// Default: <root>/.datalogger
	StateDir string `json:"stateDir"`

	// Users is a map of username -> bcrypt hash.
	// Example:
	// "alice": {"bcrypt":"$2a$10$..."}
	Users map[string]User `json:"users,omitempty"`

	Upload    Upload    `json:"upload"`
	Listing   Listing   `json:"listing"`
	Telemetry Telemetry `json:"telemetry"`

	// Workers bounds concurrently served requests; Backlog more may wait up
	// to BacklogTimeout for a slot.
	Workers        int      `json:"workers"`
	Backlog        int      `json:"backlog"`
	BacklogTimeout Duration `json:"backlogTimeout"`

	// WebDAV mounts the storage root under /dav/.
	WebDAV bool `json:"webdav"`

	Log Log `json:"log"`
}

type User struct {
	Bcrypt string `json:"bcrypt"`
}

// Upload tunes the multipart receiver. CarryOverlap makes it detect a part
// separator or boundary split across two reads.
type Upload struct {
	BufferSize   int      `json:"bufferSize"`
	MaxFilename  int      `json:"maxFilename"`
	CarryOverlap bool     `json:"carryOverlap"`
	RecvTimeout  Duration `json:"recvTimeout"`
}

type Listing struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
	Max       int `json:"max"`
}

type Telemetry struct {
	Interval  Duration `json:"interval"`
	Synthetic bool     `json:"synthetic"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadDefaults populates Config with the values used when nothing else is
// given.
func (c *Config) LoadDefaults() {
	c.Addr = "0.0.0.0:8080"
	c.Upload = Upload{
		BufferSize:  2048,
		MaxFilename: 128,
		RecvTimeout: Duration{5 * time.Second},
	}
	c.Listing = Listing{Initial: 2048, Increment: 1024, Max: 1 << 20}
	c.Telemetry = Telemetry{Interval: Duration{10 * time.Millisecond}, Synthetic: true}
	c.Workers = 4
	c.Backlog = 16
	c.BacklogTimeout = Duration{30 * time.Second}
	c.WebDAV = true
	c.Log = Log{Level: "info", Format: "text"}
}

// Load applies defaults and then overlays the JSON file at path, if any.
func Load(path string) (Config, error) {
	var c Config
	c.LoadDefaults()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Finalize resolves paths and checks the values. It is called after flag
// overrides.
func (c *Config) Finalize() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("config: abs root: %w", err)
	}
	c.Root = abs
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.Root, ".datalogger")
	}
	switch {
	case c.Upload.BufferSize < 2:
		return fmt.Errorf("config: upload.bufferSize %d too small", c.Upload.BufferSize)
	case c.Upload.MaxFilename <= 0:
		return errors.New("config: upload.maxFilename must be positive")
	case c.Listing.Initial <= 0 || c.Listing.Increment <= 0 || c.Listing.Max < c.Listing.Initial:
		return errors.New("config: listing sizes must be positive and max >= initial")
	case c.Workers <= 0:
		return errors.New("config: workers must be positive")
	case c.Backlog < 0:
		return errors.New("config: backlog must not be negative")
	}
	return nil
}

func (c Config) HasAuth() bool {
	return len(c.Users) > 0
}

// Duration is a time.Duration that reads either a string such as "5s" or
// an integer count of nanoseconds from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x)
		return nil
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		d.Duration = p
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}
