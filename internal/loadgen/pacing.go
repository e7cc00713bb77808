package loadgen

import "time"

// Default think time bounds between scenario steps.
const (
	DefaultPacingMin = 1 * time.Second
	DefaultPacingMax = 3 * time.Second
)

// Pacer draws think times uniformly from [Min, Max].
type Pacer struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPacer sleeps between one and three seconds.
func DefaultPacer() Pacer {
	return Pacer{Min: DefaultPacingMin, Max: DefaultPacingMax}
}

// Next draws the next think time.
func (p Pacer) Next(src RandomSource) time.Duration {
	diff := p.Max - p.Min
	if diff <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(src.Float64()*float64(diff))
}
