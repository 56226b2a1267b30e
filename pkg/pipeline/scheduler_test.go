package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sizecam/sizecam/pkg/camera"
	"github.com/sizecam/sizecam/pkg/detect"
	"github.com/sizecam/sizecam/pkg/measure"
)

// fakeSource delivers synthetic frames without a capture device.
type fakeSource struct {
	width  int
	height int
	err    error
	reads  atomic.Int32
}

func (f *fakeSource) Read() (camera.Frame, error) {
	f.reads.Add(1)
	if f.err != nil {
		return camera.Frame{}, f.err
	}
	return camera.Frame{Width: f.width, Height: f.height}, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{width: 1280, height: 720}
}

// fakeDetector records concurrency so tests can observe re-entrancy.
type fakeDetector struct {
	mu      sync.Mutex
	regions []detect.Region

	delay time.Duration
	gate  chan struct{} // when set, Detect blocks until closed

	entered    chan struct{}
	calls      atomic.Int32
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func (d *fakeDetector) Detect(frame camera.Frame) ([]detect.Region, error) {
	if d.inFlight.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	defer d.inFlight.Add(-1)

	d.calls.Add(1)
	if d.entered != nil {
		select {
		case d.entered <- struct{}{}:
		default:
		}
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]detect.Region(nil), d.regions...), nil
}

func (d *fakeDetector) SetRegions(regions []detect.Region) {
	d.mu.Lock()
	d.regions = regions
	d.mu.Unlock()
}

func (d *fakeDetector) Close() error { return nil }

// fakeRenderer returns a fixed payload in place of an encoded overlay.
type fakeRenderer struct {
	renders atomic.Int32
}

func (r *fakeRenderer) RenderJPEG(frame camera.Frame, region *detect.Region, m *measure.Measurement) ([]byte, error) {
	r.renders.Add(1)
	return []byte("jpeg"), nil
}

// resultSink collects published results.
type resultSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *resultSink) add(res Result) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
}

func (s *resultSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *resultSink) captured() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.results {
		if s.results[i].Captured {
			return &s.results[i]
		}
	}
	return nil
}

func (s *resultSink) lastMeasured() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Measurement != nil {
			return &s.results[i]
		}
	}
	return nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in        string
		expect    Policy
		expectErr bool
	}{
		{in: "interval", expect: PolicyInterval},
		{in: "fixed-interval", expect: PolicyInterval},
		{in: "continuous", expect: PolicyContinuous},
		{in: "single-shot", expect: PolicySingleShot},
		{in: "Capture", expect: PolicySingleShot},
		{in: "vsync", expectErr: true},
		{in: "", expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePolicy(tc.in)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expect {
				t.Errorf("got %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestScheduler_IntervalNoOverlap(t *testing.T) {
	mock := clock.NewMock()
	det := &fakeDetector{delay: 20 * time.Millisecond}
	sink := &resultSink{}

	s := NewScheduler(SchedulerConfig{
		Policy:   PolicyInterval,
		Interval: 500 * time.Millisecond,
		Scale:    1.5,
		Clock:    mock,
	}, &fakeRenderer{})
	s.OnResult = sink.add

	if _, err := s.Start(newFakeSource(), det); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// Fire ticks faster than the artificially slow cycle can drain
	// them; extra ticks must be dropped, never queued into overlap.
	for i := 0; i < 10; i++ {
		mock.Add(500 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	eventually(t, func() bool { return s.Cycles() >= 1 }, "no cycle ever ran")
	s.Stop()

	if det.overlapped.Load() {
		t.Error("two cycles executed concurrently")
	}
	if sink.count() == 0 {
		t.Error("no results published")
	}
}

func TestScheduler_StopIdempotent(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})

	if _, err := s.Start(newFakeSource(), &fakeDetector{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Stop()
	if got := s.LiveHandles(); got != 0 {
		t.Fatalf("live handles after stop: got %d, want 0", got)
	}

	// Second stop must be a no-op with the same terminal state.
	s.Stop()
	if got := s.LiveHandles(); got != 0 {
		t.Fatalf("live handles after double stop: got %d, want 0", got)
	}
}

func TestScheduler_StartStopChurn(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})

	for i := 0; i < 5; i++ {
		if _, err := s.Start(newFakeSource(), &fakeDetector{}); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if got := s.LiveHandles(); got != 1 {
			t.Fatalf("after start %d: %d live handles, want 1", i, got)
		}
		s.Stop()
		if got := s.LiveHandles(); got != 0 {
			t.Fatalf("after stop %d: %d live handles, want 0", i, got)
		}
	}

	if _, err := s.Start(newFakeSource(), &fakeDetector{}); err != nil {
		t.Fatalf("final start: %v", err)
	}
	if got := s.LiveHandles(); got != 1 {
		t.Fatalf("after final start: %d live handles, want 1", got)
	}
	s.Stop()
}

func TestScheduler_StartCancelsPrior(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})

	first, err := s.Start(newFakeSource(), &fakeDetector{})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := s.Start(newFakeSource(), &fakeDetector{})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if first == second {
		t.Error("second start reused the prior handle")
	}
	if got := s.LiveHandles(); got != 1 {
		t.Errorf("live handles: got %d, want 1", got)
	}
	if s.HandleID() != second {
		t.Error("current handle is not the second one")
	}
	s.Stop()
}

func TestScheduler_StartRequiresDetector(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), &fakeRenderer{})
	if _, err := s.Start(newFakeSource(), nil); !errors.Is(err, ErrDetectorNotReady) {
		t.Fatalf("got %v, want ErrDetectorNotReady", err)
	}
}

func TestScheduler_StaleResultDiscard(t *testing.T) {
	det := &fakeDetector{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	det.SetRegions([]detect.Region{{Label: "cup", X: 10, Y: 10, Width: 100, Height: 100}})
	sink := &resultSink{}

	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})
	s.OnResult = sink.add

	if _, err := s.Start(newFakeSource(), det); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait for the first detection to be in flight, then stop while it
	// is still pending.
	select {
	case <-det.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detection never started")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Give Stop time to invalidate the liveness token, then let the
	// pending detection resolve.
	time.Sleep(50 * time.Millisecond)
	close(det.gate)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	if got := sink.count(); got != 0 {
		t.Errorf("stale detection result was published %d times", got)
	}
	if got := s.LiveHandles(); got != 0 {
		t.Errorf("live handles: got %d, want 0", got)
	}
}

func TestScheduler_IntervalEmptyDetectionIsNotAnError(t *testing.T) {
	mock := clock.NewMock()
	det := &fakeDetector{} // no regions
	sink := &resultSink{}
	var cycleErrs atomic.Int32

	s := NewScheduler(SchedulerConfig{
		Policy:   PolicyInterval,
		Interval: 500 * time.Millisecond,
		Scale:    1.5,
		Clock:    mock,
	}, &fakeRenderer{})
	s.OnResult = sink.add
	s.OnError = func(error) { cycleErrs.Add(1) }

	if _, err := s.Start(newFakeSource(), det); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	mock.Add(500 * time.Millisecond)
	eventually(t, func() bool { return sink.count() >= 1 }, "no result published")
	s.Stop()

	if cycleErrs.Load() != 0 {
		t.Error("empty detection reported as cycle error")
	}
	res := sink.results[0]
	if res.Region != nil || res.Measurement != nil {
		t.Error("empty detection produced a region or measurement")
	}
	if len(res.JPEG) == 0 {
		t.Error("bare frame was not rendered")
	}
}

func TestScheduler_CaptureErrorIsTransient(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{err: errors.New("device wedged")}
	var gotErr error
	var mu sync.Mutex

	s := NewScheduler(SchedulerConfig{
		Policy:   PolicyInterval,
		Interval: 500 * time.Millisecond,
		Scale:    1.5,
		Clock:    mock,
	}, &fakeRenderer{})
	s.OnError = func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	}

	if _, err := s.Start(src, &fakeDetector{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	mock.Add(500 * time.Millisecond)
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, "cycle error never reported")

	// The scheduler must still be running after a transient failure.
	if got := s.LiveHandles(); got != 1 {
		t.Errorf("live handles after cycle error: got %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var ce *CycleError
	if !errors.As(gotErr, &ce) {
		t.Fatalf("expected *CycleError, got %T", gotErr)
	}
	if ce.Stage != "capture" {
		t.Errorf("stage: got %q, want %q", ce.Stage, "capture")
	}
}

func TestScheduler_SingleShot(t *testing.T) {
	det := &fakeDetector{}
	sink := &resultSink{}

	s := NewScheduler(SchedulerConfig{
		Policy: PolicySingleShot,
		Scale:  1.5,
	}, &fakeRenderer{})
	s.OnResult = sink.add

	if _, err := s.Start(newFakeSource(), det); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// Nothing in frame: single-shot surfaces it, preview keeps going.
	if err := s.Trigger(); !errors.Is(err, ErrNoDetection) {
		t.Fatalf("got %v, want ErrNoDetection", err)
	}
	if got := s.LiveHandles(); got != 1 {
		t.Fatalf("preview stopped after empty capture: %d handles", got)
	}

	det.SetRegions([]detect.Region{{Label: "bottle", X: 100, Y: 100, Width: 320, Height: 240}})
	if err := s.Trigger(); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Successful capture is terminal: the schedule winds down on its own.
	eventually(t, func() bool { return s.LiveHandles() == 0 }, "schedule still live after capture")

	capres := sink.captured()
	if capres == nil {
		t.Fatal("no captured result published")
	}
	if capres.Measurement == nil {
		t.Fatal("captured result has no measurement")
	}
	if capres.Measurement.WidthMeters != 0.38 {
		t.Errorf("width: got %.2f, want 0.38", capres.Measurement.WidthMeters)
	}
	if capres.Measurement.HeightMeters != 0.28 {
		t.Errorf("height: got %.2f, want 0.28", capres.Measurement.HeightMeters)
	}

	// The handle is spent; another trigger needs a fresh schedule.
	if err := s.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
}

func TestScheduler_TriggerWrongPolicy(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})

	if err := s.Trigger(); !errors.Is(err, ErrWrongPolicy) {
		t.Fatalf("got %v, want ErrWrongPolicy", err)
	}
}

func TestScheduler_TriggerNotRunning(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Policy: PolicySingleShot,
		Scale:  1.5,
	}, &fakeRenderer{})

	if err := s.Trigger(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
}

func TestScheduler_ContinuousPublishesMeasurements(t *testing.T) {
	det := &fakeDetector{}
	det.SetRegions([]detect.Region{{Label: "laptop", X: 0, Y: 0, Width: 640, Height: 360}})
	sink := &resultSink{}

	s := NewScheduler(SchedulerConfig{
		Policy: PolicyContinuous,
		Scale:  1.5,
	}, &fakeRenderer{})
	s.OnResult = sink.add

	if _, err := s.Start(newFakeSource(), det); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	eventually(t, func() bool { return sink.lastMeasured() != nil }, "no measurement published")
	s.Stop()

	res := sink.lastMeasured()
	if res.Measurement.Label != "laptop" {
		t.Errorf("label: got %q, want %q", res.Measurement.Label, "laptop")
	}
	if res.Measurement.WidthMeters != 0.75 {
		t.Errorf("width: got %.2f, want 0.75", res.Measurement.WidthMeters)
	}
}
