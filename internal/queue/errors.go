package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ReplayError classifies replay failures as transient/permanent. Either way
// the queued row survives; the flag only drives logging and metrics.
type ReplayError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ReplayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "replay error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ReplayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a replay failure looks retryable on a later
// flush pass.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var replayErr *ReplayError
	if errors.As(err, &replayErr) {
		return replayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}
