package chunkuploader

import (
	"math"
	"sync"
)

// ProgressReporter emits the progress of one upload attempt.
// Values are rounded to three decimals and never go below a value already
// reported. The mutex can be shared between reporters writing to the same sink.
type ProgressReporter struct {
	sink ProgressSink
	mu   *sync.Mutex
	last float64
}

// NewProgressReporter creates a reporter. sink may be nil, mu may be nil.
func NewProgressReporter(sink ProgressSink, mu *sync.Mutex) *ProgressReporter {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &ProgressReporter{
		sink: sink,
		mu:   mu,
	}
}

// Report emits round(completed/total, 3).
func (p *ProgressReporter) Report(completed, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	value := Fraction(completed, total)
	if value < p.last {
		value = p.last
	}
	p.last = value

	if p.sink != nil {
		p.sink.Report(value)
	}
}

// Fraction returns completed/total rounded to three decimals.
// An empty source is complete by definition.
func Fraction(completed, total int64) float64 {
	if total <= 0 {
		return 1
	}
	return Round3(float64(completed) / float64(total))
}

// Round3 rounds v to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
