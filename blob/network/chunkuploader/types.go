// Package chunkuploader provides the sequential building blocks of a resumable upload:
// deterministic range reads, whole-stream digests, monotonic progress reporting and
// a runner that drives a provider state machine one acknowledged request at a time.
package chunkuploader

import (
	"context"
	"errors"
)

// ErrCancelled is returned when the caller's context is done before the upload finished.
var ErrCancelled = errors.New("upload cancelled")

// Stepper is a provider-specific upload state machine.
// UploadNextChunk issues exactly one request and returns the number of payload bytes it sent.
// The machine only advances after the request was acknowledged, so calling
// UploadNextChunk again after a failure repeats the same request.
type Stepper interface {
	UploadNextChunk(ctx context.Context) (int64, error)
	IsComplete() bool
}

// ProgressSink receives upload progress values between 0 and 1.
type ProgressSink interface {
	Report(progress float64)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(progress float64)

// Report ...
func (f ProgressFunc) Report(progress float64) {
	f(progress)
}

type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err (or an error it wraps) declares itself temporary.
func IsTemporary(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
