package chunkuploader

import (
	"fmt"
	"io"
	"sync"
)

// RangeReader reads byte ranges from a seekable source.
// Thread-safe: every read seeks to its own offset under a lock, so identical
// (offset, length) pairs always yield identical bytes for an unchanged source.
type RangeReader struct {
	source io.ReadSeeker
	size   int64
	mu     sync.Mutex
}

// NewRangeReader creates a RangeReader and determines the size of source.
func NewRangeReader(source io.ReadSeeker) (*RangeReader, error) {
	size, err := source.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("determine source size: %w", err)
	}

	return &RangeReader{
		source: source,
		size:   size,
	}, nil
}

// Size returns the total length of the source.
func (r *RangeReader) Size() int64 {
	return r.size
}

// ReadRange returns min(maxLength, Size()-offset) bytes starting at offset.
func (r *RangeReader) ReadRange(offset, maxLength int64) ([]byte, error) {
	if offset < 0 || offset > r.size {
		return nil, fmt.Errorf("offset %d out of range [0, %d]", offset, r.size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	length := NextChunkSize(r.size-offset, maxLength)
	if _, err := r.source.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d: %w", offset, err)
	}

	chunk := make([]byte, length)
	if _, err := io.ReadFull(r.source, chunk); err != nil {
		return nil, fmt.Errorf("read %d bytes at position %d: %w", length, offset, err)
	}

	return chunk, nil
}
