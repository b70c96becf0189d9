package telemetry

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"datalogger/internal/logging"
	"datalogger/internal/storage"
)

const (
	DefaultInterval         = 10 * time.Millisecond
	DefaultReadErrorBackoff = 200 * time.Millisecond
	DefaultOpenErrorBackoff = time.Second
	DefaultMaxLogFiles      = 999

	logPrefix = "log_"
	logExt    = ".csv"
)

var csvHeader = []string{"timestamp", "adc0", "adc1", "adc2", "adc3", "adc4", "adc5", "adc6", "adc7"}

// Factors supplies the per-channel scaling applied to raw readings.
type Factors interface {
	Factors() [NumChannels]float64
}

// Observer is told about every cycle. Implementations must not block.
type Observer interface {
	Sample(values [NumChannels]float64)
	ReadError()
	RowWritten()
	LogFileOpened(name string)
}

type nopObserver struct{}

func (nopObserver) Sample([NumChannels]float64) {}
func (nopObserver) ReadError()                  {}
func (nopObserver) RowWritten()                 {}
func (nopObserver) LogFileOpened(string)        {}

type RecorderConfig struct {
	Interval         time.Duration
	ReadErrorBackoff time.Duration
	OpenErrorBackoff time.Duration
	MaxLogFiles      int
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadErrorBackoff <= 0 {
		c.ReadErrorBackoff = DefaultReadErrorBackoff
	}
	if c.OpenErrorBackoff <= 0 {
		c.OpenErrorBackoff = DefaultOpenErrorBackoff
	}
	if c.MaxLogFiles <= 0 {
		c.MaxLogFiles = DefaultMaxLogFiles
	}
	return c
}

// Recorder is the sampling loop. Timestamps are milliseconds since the
// recorder was created.
type Recorder struct {
	cfg     RecorderConfig
	src     Source
	factors Factors
	state   *State
	dir     *storage.Dir
	obs     Observer
	log     logging.Logger

	start time.Time
	now   func() time.Time

	file     *os.File
	fileName string
	csv      *csv.Writer
}

func NewRecorder(cfg RecorderConfig, src Source, factors Factors, state *State, dir *storage.Dir, obs Observer, log logging.Logger) *Recorder {
	if obs == nil {
		obs = nopObserver{}
	}
	r := &Recorder{
		cfg:     cfg.withDefaults(),
		src:     src,
		factors: factors,
		state:   state,
		dir:     dir,
		obs:     obs,
		log:     log,
		now:     time.Now,
	}
	r.start = r.now()
	return r
}

// Run samples until ctx is done, then closes any open log file.
func (r *Recorder) Run(ctx context.Context) error {
	r.log.Info(ctx, "recorder started", "interval", r.cfg.Interval.String())
	defer r.closeFile(ctx)
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info(ctx, "recorder stopped")
			return nil
		case <-t.C:
		}
		t.Reset(r.Step(ctx))
	}
}

// Step runs one cycle and returns how long to wait before the next.
func (r *Recorder) Step(ctx context.Context) time.Duration {
	raw, err := r.src.Read(ctx)
	if err != nil {
		r.log.Warn(ctx, "channel read failed", "err", err)
		r.obs.ReadError()
		return r.cfg.ReadErrorBackoff
	}
	f := r.factors.Factors()
	var v [NumChannels]float64
	for i := range v {
		v[i] = raw[i] * f[i]
	}
	if !r.state.Publish(v) {
		r.log.Debug(ctx, "snapshot skipped, state busy")
	}
	r.obs.Sample(v)

	if !r.state.LoggingEnabled() {
		if r.file != nil {
			r.closeFile(ctx)
		}
		return r.cfg.Interval
	}
	if r.file == nil {
		if err := r.openNext(ctx); err != nil {
			r.log.Error(ctx, "open log file", "err", err)
			return r.cfg.OpenErrorBackoff
		}
	}
	if err := r.writeRow(v); err != nil {
		r.log.Error(ctx, "write log row", "file", r.fileName, "err", err)
		r.closeFile(ctx)
		return r.cfg.Interval
	}
	r.obs.RowWritten()
	return r.cfg.Interval
}

func (r *Recorder) openNext(ctx context.Context) error {
	f, name, err := r.dir.NextLogFile(logPrefix, logExt, r.cfg.MaxLogFiles)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = ';'
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	r.file, r.fileName, r.csv = f, name, w
	if !r.state.SetCurrentLogFile(name) {
		r.log.Warn(ctx, "current log file not updated, state busy", "file", name)
	}
	r.obs.LogFileOpened(name)
	r.log.Info(ctx, "log file opened", "file", name)
	return nil
}

func (r *Recorder) writeRow(v [NumChannels]float64) error {
	rec := make([]string, 0, NumChannels+1)
	rec = append(rec, strconv.FormatInt(r.now().Sub(r.start).Milliseconds(), 10))
	for _, x := range v {
		rec = append(rec, strconv.FormatFloat(x, 'f', 6, 64))
	}
	if err := r.csv.Write(rec); err != nil {
		return err
	}
	r.csv.Flush()
	return r.csv.Error()
}

func (r *Recorder) closeFile(ctx context.Context) {
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		r.log.Warn(ctx, "close log file", "file", r.fileName, "err", err)
	} else {
		r.log.Info(ctx, "log file closed", "file", r.fileName)
	}
	r.file, r.csv = nil, nil
	if !r.state.SetCurrentLogFile(NoLogFile) {
		r.log.Warn(ctx, "current log file not reset, state busy")
	}
}
