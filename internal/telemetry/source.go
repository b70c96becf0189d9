package telemetry

import (
	"context"
	"math"
	"sync"
)

// FullScale is the largest magnitude a channel reports, in volts.
const FullScale = 4.096

// Source reads one raw snapshot of all channels, in volts.
type Source interface {
	Read(ctx context.Context) ([NumChannels]float64, error)
}

// SyntheticSource produces phase-shifted sine waves, one step per Read.
type SyntheticSource struct {
	mu     sync.Mutex
	step   int
	period int
}

func NewSyntheticSource(period int) *SyntheticSource {
	if period <= 0 {
		period = 500
	}
	return &SyntheticSource{period: period}
}

func (s *SyntheticSource) Read(ctx context.Context) ([NumChannels]float64, error) {
	var out [NumChannels]float64
	if err := ctx.Err(); err != nil {
		return out, err
	}
	s.mu.Lock()
	n := s.step
	s.step++
	s.mu.Unlock()

	phase := 2 * math.Pi * float64(n%s.period) / float64(s.period)
	for i := range out {
		v := 2.0 + 1.5*math.Sin(phase+float64(i)*math.Pi/4)
		out[i] = math.Max(-FullScale, math.Min(FullScale, v))
	}
	return out, nil
}
