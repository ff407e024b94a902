package chunkuploader

import (
	"net/http"
	"time"
)

// Protocol unit sizes.
const (
	// BlockSize is the size of a block in the block/chunk protocol.
	BlockSize int64 = 4 * 1024 * 1024
	// ChunkSize is the size of a single request body inside a block.
	ChunkSize int64 = 1024 * 1024
	// SliceSize is the slice size of the session/slice protocol. Files up to
	// this size are sent in a single request.
	SliceSize int64 = 512 * 1024
)

// Config holds configuration for the chunk runner.
type Config struct {
	// MaxRetryPerChunk is the number of extra attempts for a request that failed
	// with a temporary error. The backends never asked for retries, so the
	// default keeps a failed request fatal.
	// Default: 0
	MaxRetryPerChunk int

	// RetryWait is the pause between two attempts of the same request.
	// Default: 2 seconds
	RetryWait time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetryPerChunk: 0,
		RetryWait:        2 * time.Second,
	}
}

// DefaultHTTPClient creates an HTTP client tuned for sequential chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - a request is bounded by its own context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxConnsPerHost:     4,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// NextChunkSize returns the size of the next request body: the nominal size,
// shrunk to what is left near the end of the stream.
func NextChunkSize(remaining, nominal int64) int64 {
	if remaining <= 0 {
		return 0
	}
	if remaining < nominal {
		return remaining
	}
	return nominal
}
