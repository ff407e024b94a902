package chunkuploader

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Runner drives a Stepper until it completes, one request at a time.
type Runner struct {
	config Config
	logger log.Logger
	stats  *Stats
}

// NewRunner creates a new Runner with the given configuration.
func NewRunner(config Config, logger log.Logger) *Runner {
	return &Runner{
		config: config,
		logger: logger,
		stats:  NewStats(),
	}
}

// Drive calls step.UploadNextChunk until step.IsComplete.
// Cancellation is checked before every request; a request already on the wire
// is never interrupted by it.
func (r *Runner) Drive(ctx context.Context, step Stepper) error {
	for request := 1; !step.IsComplete(); request++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before request %d: %w", ErrCancelled, request, err)
		}

		start := time.Now()
		sent, err := r.send(ctx, step, request)
		if err != nil {
			return err
		}

		took := time.Since(start)
		r.stats.Update(took, sent)
		r.logger.Debugf("Request %d acknowledged in %v (%d bytes) [avg=%v]",
			request, took.Round(time.Millisecond), sent, r.stats.Average().Round(time.Millisecond))
	}

	return nil
}

// Stats returns the statistics of the driven requests.
func (r *Runner) Stats() *Stats {
	return r.stats
}

func (r *Runner) send(ctx context.Context, step Stepper, request int) (int64, error) {
	var sent int64
	maxAttempts := uint(r.config.MaxRetryPerChunk) + 1

	err := retry.Times(uint(r.config.MaxRetryPerChunk)).Wait(r.config.RetryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w before retrying request %d: %w", ErrCancelled, request, err), true
			}
			r.logger.Debugf("Retrying request %d (attempt %d/%d)", request, attempt+1, maxAttempts)
		}

		n, err := step.UploadNextChunk(ctx)
		if err != nil {
			if IsTemporary(err) && attempt+1 < maxAttempts {
				r.logger.Warnf("Request %d attempt %d failed: %s", request, attempt+1, err)
			}
			return err, !IsTemporary(err)
		}

		sent = n
		return nil, false
	})
	if err != nil {
		return 0, err
	}

	return sent, nil
}
