package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classifying runtime failures. ModelSlot uses the
// classification to decide retry; the client itself never retries.
var (
	ErrRuntimeUnavailable = errors.New("model runtime unavailable")
	ErrModelAbsent        = errors.New("model not present in runtime")
	ErrRuntimeTimeout     = errors.New("model runtime deadline exceeded")
)

// RuntimeError wraps a non-transport, non-timeout failure reported by the
// runtime, preserving the HTTP status when there is one.
type RuntimeError struct {
	StatusCode int
	Message    string
}

func (e *RuntimeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("model runtime error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model runtime error: %s", e.Message)
}

// ModelLoadFailed reports exhaustion of the slot's load-retry budget.
type ModelLoadFailed struct {
	Model    string
	Attempts int
	Last     error
}

func (e *ModelLoadFailed) Error() string {
	return fmt.Sprintf("failed to load model %q after %d attempts: %v", e.Model, e.Attempts, e.Last)
}

func (e *ModelLoadFailed) Unwrap() error {
	return e.Last
}

// retryable reports whether a load attempt failure should consume another
// attempt. Caller cancellation is never retried.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch {
	case errors.Is(err, ErrRuntimeUnavailable),
		errors.Is(err, ErrModelAbsent),
		errors.Is(err, ErrRuntimeTimeout):
		return true
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.StatusCode == 429 || re.StatusCode >= 500
	}
	return false
}
