package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisposed is returned by any operation invoked after the service was disposed.
var ErrDisposed = errors.New("service disposed")

// ErrNotInitialized is returned when an operation requires a completed Initialize.
var ErrNotInitialized = errors.New("service not initialized")

// ErrAborted is returned when a cancellation signal stops an in-flight operation.
// It is always distinct from a timeout.
var ErrAborted = errors.New("aborted")

// ErrEventLoopDisconnected is used to reject all pending session waits after
// the event stream could not be re-established.
var ErrEventLoopDisconnected = errors.New("event loop disconnected")

// ErrSessionNotFound is returned when a session ID is unknown to the service.
var ErrSessionNotFound = errors.New("session not found")

// ErrWaitInProgress is returned when a second wait is registered for a session
// that already has one pending.
var ErrWaitInProgress = errors.New("session already has a pending wait")

// TimeoutError reports that an operation exceeded its deadline. Callers can
// tell "took too long" from "was told to stop" (ErrAborted).
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// ValidationExhaustedError is the terminal error of the retry loop. It carries
// the attempt count and the last continuation message verbatim, so operators
// see the actual script output.
type ValidationExhaustedError struct {
	Attempts     int
	LastFeedback string
}

func (e *ValidationExhaustedError) Error() string {
	return fmt.Sprintf("validation did not pass after %d attempts; last feedback: %s", e.Attempts, e.LastFeedback)
}
