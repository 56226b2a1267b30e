package detect

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sizecam/sizecam/internal/log"
)

// ErrNotReady is returned when detection is requested before the one-time
// model load has completed.
var ErrNotReady = errors.New("detect: detector not loaded yet")

// LoadError indicates the detector failed to initialize. It is distinct
// from a runtime detection failure: measuring is impossible until the
// model is reloaded.
type LoadError struct {
	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("detect: model load failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader performs the one-time asynchronous detector initialization.
// Load may be called repeatedly but only the first call starts the load;
// the result is process-wide for the loader's lifetime.
type Loader struct {
	newFn func() (Detector, error)

	mu       sync.Mutex
	started  bool
	detector Detector
	err      error
	done     chan struct{}
}

// NewLoader creates a loader around a detector constructor.
func NewLoader(newFn func() (Detector, error)) *Loader {
	return &Loader{
		newFn: newFn,
		done:  make(chan struct{}),
	}
}

// Load starts the asynchronous load. Subsequent calls are no-ops.
func (l *Loader) Load() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go func() {
		det, err := l.newFn()

		l.mu.Lock()
		if err != nil {
			l.err = &LoadError{Err: err}
			log.Error("detector load failed", "error", err)
		} else {
			l.detector = det
			log.Info("detector loaded")
		}
		l.mu.Unlock()

		close(l.done)
	}()
}

// Done is closed when the load finishes, successfully or not.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Loading reports whether the load has started but not finished.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Detector returns the loaded detector, or nil until the load completes
// successfully.
func (l *Loader) Detector() Detector {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector
}

// Err returns the load error, or nil. Always a *LoadError when non-nil.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close releases the loaded detector, if any.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detector != nil {
		err := l.detector.Close()
		l.detector = nil
		return err
	}
	return nil
}
