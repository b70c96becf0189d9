// Package telemetry samples the eight analog channels, publishes the latest
// snapshot to the HTTP handlers and records it to CSV log files.
package telemetry

import "time"

const NumChannels = 8

const (
	NoLogFile   = "N/A"
	BusyLogFile = "N/A (busy)"

	readWait    = 10 * time.Millisecond
	logFileWait = 100 * time.Millisecond
)

// guard is a one-slot lock that supports a bounded wait.
type guard chan struct{}

func newGuard() guard { return make(guard, 1) }

func (g guard) lock() { g <- struct{}{} }

func (g guard) unlock() { <-g }

func (g guard) tryLock(d time.Duration) bool {
	select {
	case g <- struct{}{}:
		return true
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case g <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// State is shared between the sampler and the request handlers. Readings
// and the logging flag share one guard, the current log file name has its
// own. No method holds both.
type State struct {
	readings guard
	voltages [NumChannels]float64
	logging  bool

	file           guard
	currentLogFile string
}

func NewState() *State {
	return &State{
		readings:       newGuard(),
		file:           newGuard(),
		currentLogFile: NoLogFile,
	}
}

// Publish stores a new snapshot. It gives up after a short wait and reports
// false when the snapshot was skipped.
func (s *State) Publish(v [NumChannels]float64) bool {
	if !s.readings.tryLock(readWait) {
		return false
	}
	s.voltages = v
	s.readings.unlock()
	return true
}

// Voltages returns the latest snapshot, or zeros when the lock is busy.
func (s *State) Voltages() [NumChannels]float64 {
	if !s.readings.tryLock(readWait) {
		return [NumChannels]float64{}
	}
	defer s.readings.unlock()
	return s.voltages
}

func (s *State) SetLogging(on bool) {
	s.readings.lock()
	s.logging = on
	s.readings.unlock()
}

func (s *State) LoggingEnabled() bool {
	s.readings.lock()
	defer s.readings.unlock()
	return s.logging
}

// LoggingStatus is LoggingEnabled for status polling: it reports false when
// the lock is busy.
func (s *State) LoggingStatus() bool {
	if !s.readings.tryLock(readWait) {
		return false
	}
	defer s.readings.unlock()
	return s.logging
}

func (s *State) SetCurrentLogFile(name string) bool {
	if !s.file.tryLock(logFileWait) {
		return false
	}
	s.currentLogFile = name
	s.file.unlock()
	return true
}

func (s *State) CurrentLogFile() string {
	if !s.file.tryLock(readWait) {
		return BusyLogFile
	}
	defer s.file.unlock()
	return s.currentLogFile
}
