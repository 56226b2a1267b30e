package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotRunning is returned when an operation needs a live schedule.
	ErrNotRunning = errors.New("pipeline: scheduler not running")

	// ErrNoDetection is returned by a single-shot capture that found no
	// object. Continuous policies never surface this; they skip the
	// cycle silently.
	ErrNoDetection = errors.New("pipeline: no object detected")

	// ErrDetectorNotReady is returned when measuring is requested before
	// the one-time model load has resolved.
	ErrDetectorNotReady = errors.New("pipeline: detector not ready")

	// ErrWrongPolicy is returned when a trigger is used outside
	// single-shot mode.
	ErrWrongPolicy = errors.New("pipeline: capture requires single-shot policy")
)

// CycleError wraps a failure inside one detect-render cycle. It is
// transient: the scheduler logs it, surfaces it, and keeps running.
type CycleError struct {
	Stage string // "capture", "detect" or "render"
	Err   error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("pipeline: cycle %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *CycleError) Unwrap() error {
	return e.Err
}
