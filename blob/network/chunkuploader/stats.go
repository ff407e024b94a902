package chunkuploader

import (
	"sync"
	"time"
)

// Stats tracks the requests of one upload for reporting.
type Stats struct {
	sum       time.Duration
	requests  int64
	bytesSent int64
	mu        sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records an acknowledged request.
func (s *Stats) Update(d time.Duration, sent int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.requests++
	s.bytesSent += sent
}

// Average returns the average duration of acknowledged requests.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requests == 0 {
		return 0
	}
	return s.sum / time.Duration(s.requests)
}

// RequestCount returns the number of acknowledged requests.
func (s *Stats) RequestCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// BytesSent returns the payload bytes of all acknowledged requests.
func (s *Stats) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// TotalDuration returns the sum of all request durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
