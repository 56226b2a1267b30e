// Package pipeline coordinates the capture, detect, measure and render
// cycle behind a scheduling policy, and exposes the observable pipeline
// state.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/sizecam/sizecam/internal/log"
	"github.com/sizecam/sizecam/pkg/camera"
	"github.com/sizecam/sizecam/pkg/detect"
	"github.com/sizecam/sizecam/pkg/measure"
)

// Policy selects how the detect-render cycle repeats.
type Policy int

const (
	// PolicyInterval re-runs the cycle on a wall-clock timer. Ticks that
	// land while a cycle is still running are dropped, never queued.
	PolicyInterval Policy = iota

	// PolicyContinuous chains the next cycle immediately after the
	// previous one completes, paced by frame delivery. No overlap by
	// construction; the detection rate follows the source rate.
	PolicyContinuous

	// PolicySingleShot previews live frames and runs exactly one full
	// cycle on explicit trigger, holding the result as terminal state.
	PolicySingleShot
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyInterval:
		return "interval"
	case PolicyContinuous:
		return "continuous"
	case PolicySingleShot:
		return "single-shot"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "interval", "fixed", "fixed-interval":
		return PolicyInterval, nil
	case "continuous", "stream":
		return PolicyContinuous, nil
	case "single-shot", "singleshot", "capture":
		return PolicySingleShot, nil
	default:
		return 0, fmt.Errorf("pipeline: unknown policy %q", s)
	}
}

// FrameSource yields frames from an open capture session.
type FrameSource interface {
	Read() (camera.Frame, error)
}

// Renderer paints the overlay for one cycle and encodes it for transport.
type Renderer interface {
	RenderJPEG(frame camera.Frame, region *detect.Region, m *measure.Measurement) ([]byte, error)
}

// SchedulerConfig holds the tunable scheduling parameters.
type SchedulerConfig struct {
	Policy   Policy
	Interval time.Duration // Cycle period for PolicyInterval
	Scale    float64       // Pixel-to-meter scale constant
	Clock    clock.Clock   // Injectable for tests
}

// DefaultSchedulerConfig returns the recommended configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Policy:   PolicyInterval,
		Interval: 500 * time.Millisecond,
		Scale:    measure.DefaultScaleConstant,
		Clock:    clock.New(),
	}
}

// handle identifies one live scheduling run. Its live flag is the
// liveness token: it is checked before any in-flight result is applied,
// so results that resolve after Stop are discarded.
type handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	live   atomic.Bool
}

func (h *handle) alive() bool {
	return h.live.Load()
}

// Scheduler drives the repeated capture-detect-measure-render cycle under
// one policy. At most one handle is live at a time; starting a new
// schedule always cancels the prior one first.
type Scheduler struct {
	cfg      SchedulerConfig
	renderer Renderer

	// OnResult receives every published cycle result.
	OnResult func(Result)

	// OnError receives transient cycle errors. The scheduler keeps
	// running after reporting one.
	OnError func(error)

	mu       sync.Mutex
	handle   *handle
	source   FrameSource
	detector detect.Detector

	cycles  atomic.Uint64
	busy    atomic.Bool
	trigger chan chan error
}

// NewScheduler creates a scheduler. Zero-value config fields fall back to
// defaults.
func NewScheduler(cfg SchedulerConfig, renderer Renderer) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Scale <= 0 {
		cfg.Scale = measure.DefaultScaleConstant
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Scheduler{
		cfg:      cfg,
		renderer: renderer,
		trigger:  make(chan chan error),
	}
}

// Start begins a new scheduling run over the given frame source. Any
// prior run is stopped first, so there is never more than one live
// handle. Returns the new handle id.
func (s *Scheduler) Start(src FrameSource, det detect.Detector) (string, error) {
	if det == nil {
		return "", ErrDetectorNotReady
	}

	s.mu.Lock()
	prev := s.handle
	s.mu.Unlock()
	if prev != nil {
		s.stopHandle(prev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.live.Store(true)

	s.mu.Lock()
	s.handle = h
	s.source = src
	s.detector = det
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		switch s.cfg.Policy {
		case PolicyInterval:
			s.runInterval(h)
		case PolicyContinuous:
			s.runContinuous(h)
		case PolicySingleShot:
			s.runSingleShot(h)
		}
	}()

	log.Info("scheduler started", "policy", s.cfg.Policy.String(), "handle", h.id)
	return h.id, nil
}

// Stop cancels the current run. It guarantees no further cycle executes
// after it returns: the loop goroutine has exited and any in-flight
// detection result will fail the liveness check and be discarded.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	s.stopHandle(h)
	log.Info("scheduler stopped", "handle", h.id)
}

func (s *Scheduler) stopHandle(h *handle) {
	h.live.Store(false)
	h.cancel()
	<-h.done
}

// Trigger runs exactly one full cycle under the single-shot policy and
// blocks until it completes. ErrNoDetection means the frame held no
// recognizable object; the live preview keeps running in that case.
func (s *Scheduler) Trigger() error {
	if s.cfg.Policy != PolicySingleShot {
		return ErrWrongPolicy
	}

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil || !h.alive() {
		return ErrNotRunning
	}

	resp := make(chan error, 1)
	select {
	case s.trigger <- resp:
	case <-h.done:
		return ErrNotRunning
	}

	select {
	case err := <-resp:
		return err
	case <-h.done:
		return ErrNotRunning
	}
}

// Running reports whether a schedule is currently live.
func (s *Scheduler) Running() bool {
	return s.LiveHandles() == 1
}

// LiveHandles returns the number of live schedule handles (0 or 1).
func (s *Scheduler) LiveHandles() int {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return 0
	}
	select {
	case <-h.done:
		return 0
	default:
		return 1
	}
}

// HandleID returns the current handle id, or "" when idle.
func (s *Scheduler) HandleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.id
}

// Cycles returns the monotonically increasing cycle counter.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

func (s *Scheduler) runInterval(h *handle) {
	t := s.cfg.Clock.Ticker(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			// at most one in-flight cycle: drop the tick if the
			// previous cycle is still running
			if !s.busy.CompareAndSwap(false, true) {
				continue
			}
			s.cycleAndReport(h, false)
			s.busy.Store(false)
		}
	}
}

func (s *Scheduler) runContinuous(h *handle) {
	for {
		select {
		case <-h.ctx.Done():
			return
		default:
			if err := s.cycleAndReport(h, false); err != nil {
				// Back off briefly so a dead source does not spin.
				s.cfg.Clock.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (s *Scheduler) runSingleShot(h *handle) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case resp := <-s.trigger:
			err := s.runCycle(h, true)
			if err != nil && h.alive() {
				log.Warn("capture cycle failed", "error", err)
			}
			resp <- err
			if err == nil {
				// Terminal: the captured still is held; a new
				// schedule is required to go live again.
				return
			}
		default:
			if err := s.previewCycle(h); err != nil {
				s.cfg.Clock.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (s *Scheduler) cycleAndReport(h *handle, captured bool) error {
	err := s.runCycle(h, captured)
	if err != nil && h.alive() {
		log.Warn("detection cycle failed", "error", err)
		if s.OnError != nil {
			s.OnError(err)
		}
	}
	return err
}

// runCycle executes one full capture, detect, measure, render and publish
// cycle. The liveness token is checked before every suspension result is
// applied; a cycle that loses the race with Stop publishes nothing.
func (s *Scheduler) runCycle(h *handle, captured bool) error {
	if !h.alive() {
		return ErrNotRunning
	}

	s.mu.Lock()
	src, det := s.source, s.detector
	s.mu.Unlock()

	n := s.cycles.Add(1)

	frame, err := src.Read()
	if err != nil {
		return &CycleError{Stage: "capture", Err: err}
	}
	defer frame.Close()

	regions, err := det.Detect(frame)
	if !h.alive() {
		// Stopped while detection was in flight: discard.
		return nil
	}
	if err != nil {
		return &CycleError{Stage: "detect", Err: err}
	}

	region := detect.First(regions)
	var m *measure.Measurement
	if region != nil {
		conv := measure.Convert(*region, frame.Width, s.cfg.Scale)
		m = &conv
	} else if captured {
		return ErrNoDetection
	}

	jpeg, err := s.renderer.RenderJPEG(frame, region, m)
	if err != nil {
		return &CycleError{Stage: "render", Err: err}
	}

	if !h.alive() {
		return nil
	}
	s.publish(Result{
		Cycle:       n,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Region:      region,
		Measurement: m,
		JPEG:        jpeg,
		Captured:    captured,
	})
	return nil
}

// previewCycle renders the bare frame without detection, keeping the live
// feed flowing while single-shot mode waits for a trigger.
func (s *Scheduler) previewCycle(h *handle) error {
	if !h.alive() {
		return ErrNotRunning
	}

	s.mu.Lock()
	src := s.source
	s.mu.Unlock()

	frame, err := src.Read()
	if err != nil {
		return &CycleError{Stage: "capture", Err: err}
	}
	defer frame.Close()

	jpeg, err := s.renderer.RenderJPEG(frame, nil, nil)
	if err != nil {
		return &CycleError{Stage: "render", Err: err}
	}

	if !h.alive() {
		return nil
	}
	s.publish(Result{
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		JPEG:        jpeg,
	})
	return nil
}

func (s *Scheduler) publish(res Result) {
	if s.OnResult != nil {
		s.OnResult(res)
	}
}
