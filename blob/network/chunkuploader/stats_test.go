package chunkuploader

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	stats := NewStats()
	if stats.Average() != 0 {
		t.Errorf("Average() of empty stats = %v, want 0", stats.Average())
	}

	stats.Update(100*time.Millisecond, ChunkSize)
	stats.Update(300*time.Millisecond, 10)

	if got := stats.RequestCount(); got != 2 {
		t.Errorf("RequestCount() = %d, want 2", got)
	}
	if got := stats.BytesSent(); got != ChunkSize+10 {
		t.Errorf("BytesSent() = %d, want %d", got, ChunkSize+10)
	}
	if got := stats.Average(); got != 200*time.Millisecond {
		t.Errorf("Average() = %v, want 200ms", got)
	}
	if got := stats.TotalDuration(); got != 400*time.Millisecond {
		t.Errorf("TotalDuration() = %v, want 400ms", got)
	}
}
