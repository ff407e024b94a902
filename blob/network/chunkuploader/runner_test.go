package chunkuploader

import (
	"context"
	"errors"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
)

type fakeError struct {
	temporary bool
}

func (e fakeError) Error() string   { return "fake failure" }
func (e fakeError) Temporary() bool { return e.temporary }

// countingStepper completes after steps acknowledged requests of size bytes each.
type countingStepper struct {
	steps    int
	size     int64
	done     int
	calls    int
	failures []error
	onCall   func(call int)
}

func (s *countingStepper) UploadNextChunk(context.Context) (int64, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return 0, err
	}
	s.done++
	return s.size, nil
}

func (s *countingStepper) IsComplete() bool {
	return s.done >= s.steps
}

func TestRunner_Drive(t *testing.T) {
	step := &countingStepper{steps: 3, size: 10}
	runner := NewRunner(DefaultConfig(), log.NewLogger())

	if err := runner.Drive(context.Background(), step); err != nil {
		t.Fatalf("Drive error: %v", err)
	}

	if step.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", step.calls)
	}
	if runner.Stats().RequestCount() != 3 {
		t.Errorf("Expected 3 requests, got %d", runner.Stats().RequestCount())
	}
	if runner.Stats().BytesSent() != 30 {
		t.Errorf("Expected 30 bytes sent, got %d", runner.Stats().BytesSent())
	}
}

func TestRunner_Drive_AlreadyComplete(t *testing.T) {
	step := &countingStepper{steps: 0}
	runner := NewRunner(DefaultConfig(), log.NewLogger())

	if err := runner.Drive(context.Background(), step); err != nil {
		t.Fatalf("Drive error: %v", err)
	}
	if step.calls != 0 {
		t.Errorf("Expected no calls, got %d", step.calls)
	}
}

func TestRunner_Drive_FailureIsFatalByDefault(t *testing.T) {
	step := &countingStepper{steps: 3, failures: []error{fakeError{temporary: true}}}
	runner := NewRunner(DefaultConfig(), log.NewLogger())

	err := runner.Drive(context.Background(), step)
	if err == nil {
		t.Fatal("Expected error")
	}

	var fe fakeError
	if !errors.As(err, &fe) {
		t.Errorf("Expected the step error to be returned, got %v", err)
	}
	if step.calls != 1 {
		t.Errorf("Expected 1 call, got %d", step.calls)
	}
}

func TestRunner_Drive_RetriesTemporaryErrors(t *testing.T) {
	step := &countingStepper{
		steps:    2,
		size:     5,
		failures: []error{fakeError{temporary: true}, fakeError{temporary: true}},
	}
	config := DefaultConfig()
	config.MaxRetryPerChunk = 2
	config.RetryWait = 0
	runner := NewRunner(config, log.NewLogger())

	if err := runner.Drive(context.Background(), step); err != nil {
		t.Fatalf("Drive error: %v", err)
	}
	if step.calls != 4 {
		t.Errorf("Expected 4 calls, got %d", step.calls)
	}
	if runner.Stats().BytesSent() != 10 {
		t.Errorf("Expected 10 bytes sent, got %d", runner.Stats().BytesSent())
	}
}

func TestRunner_Drive_PermanentErrorNotRetried(t *testing.T) {
	step := &countingStepper{steps: 1, failures: []error{fakeError{temporary: false}}}
	config := DefaultConfig()
	config.MaxRetryPerChunk = 3
	config.RetryWait = 0
	runner := NewRunner(config, log.NewLogger())

	if err := runner.Drive(context.Background(), step); err == nil {
		t.Fatal("Expected error")
	}
	if step.calls != 1 {
		t.Errorf("Expected 1 call, got %d", step.calls)
	}
}

func TestRunner_Drive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	step := &countingStepper{
		steps: 5,
		onCall: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}
	runner := NewRunner(DefaultConfig(), log.NewLogger())

	err := runner.Drive(ctx, step)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	// The request in flight when cancel happened is still acknowledged
	if step.done != 2 {
		t.Errorf("Expected 2 acknowledged requests, got %d", step.done)
	}
}
