package pipeline

import (
	"encoding/base64"
	"errors"
	"sync"

	"github.com/sizecam/sizecam/internal/log"
	"github.com/sizecam/sizecam/pkg/camera"
	"github.com/sizecam/sizecam/pkg/detect"
)

// Config holds the controller configuration.
type Config struct {
	Device    int           // Capture device index
	Camera    camera.Config // Capture hints
	Scheduler SchedulerConfig
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		Device:    0,
		Camera:    camera.DefaultConfig(),
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Opener abstracts camera session acquisition so the controller can be
// exercised without hardware. The default implementation wraps a
// camera.Manager, which enforces the single-open-session rule.
type Opener interface {
	Open() (FrameSource, error)
	Close() error
}

type cameraOpener struct {
	manager *camera.Manager
	device  int
	cfg     camera.Config
}

func (o *cameraOpener) Open() (FrameSource, error) {
	sess, err := o.manager.Open(o.device, o.cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (o *cameraOpener) Close() error {
	return o.manager.Close()
}

// Controller is the top-level pipeline state machine. It coordinates the
// camera opener, the detector loader and the scheduler, and publishes
// every state change to its observer.
//
// All failures are converted into the Error field of the published state;
// none propagate as faults, and a failed start always leaves the machine
// in a safe, restartable idle configuration.
type Controller struct {
	cfg    Config
	opener Opener
	loader *detect.Loader
	sched  *Scheduler

	// OnState receives a snapshot after every state change.
	OnState func(State)

	// OnFrame receives each rendered overlay frame as JPEG bytes.
	OnFrame func([]byte)

	// lifecycle serializes start/stop/capture transitions. It is never
	// held while publishing, so scheduler callbacks cannot deadlock
	// against it.
	lifecycle sync.Mutex

	mu    sync.Mutex
	state State
}

// NewController creates a controller around a detector loader and a
// renderer.
func NewController(cfg Config, loader *detect.Loader, renderer Renderer) *Controller {
	c := &Controller{
		cfg: cfg,
		opener: &cameraOpener{
			manager: camera.NewManager(),
			device:  cfg.Device,
			cfg:     cfg.Camera,
		},
		loader: loader,
		sched:  NewScheduler(cfg.Scheduler, renderer),
	}
	c.state.Policy = cfg.Scheduler.Policy.String()
	c.sched.OnResult = c.applyResult
	c.sched.OnError = c.applyCycleError
	return c
}

// SetOpener replaces the session opener. For tests and custom
// acquisition backends; call before Start.
func (c *Controller) SetOpener(o Opener) {
	c.opener = o
}

// LoadDetector kicks the one-time asynchronous model load. The state
// reports loading until it resolves; a load failure surfaces as an error
// distinct from runtime detection failures.
func (c *Controller) LoadDetector() {
	c.setState(func(st *State) {
		st.Loading = true
		st.Error = ""
	})
	c.loader.Load()

	go func() {
		<-c.loader.Done()
		c.setState(func(st *State) {
			st.Loading = false
			if err := c.loader.Err(); err != nil {
				st.Error = "failed to load detection model"
			}
		})
	}()
}

// Start opens a camera session and begins measuring. Any previous session
// is stopped first; a camera failure sets the error state and leaves the
// controller idle and restartable.
func (c *Controller) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	det := c.loader.Detector()
	if det == nil {
		if err := c.loader.Err(); err != nil {
			c.setError("failed to load detection model")
			return err
		}
		c.setError("detection model still loading")
		return ErrDetectorNotReady
	}

	// No leaked handles: tear down any prior run before opening anew.
	c.sched.Stop()

	src, err := c.opener.Open()
	if err != nil {
		c.setState(func(st *State) {
			st.VideoOn = false
			st.Measuring = false
			st.Error = "camera unavailable or permission denied"
		})
		return err
	}

	if _, err := c.sched.Start(src, det); err != nil {
		c.opener.Close()
		c.setError("could not start measuring")
		return err
	}

	c.setState(func(st *State) {
		st.VideoOn = true
		st.Measuring = true
		st.Error = ""
		st.LastMeasurement = nil
		st.Still = ""
	})
	return nil
}

// Stop halts the scheduler, then the camera session, then clears the
// measuring state. The last measurement is cleared with the session that
// produced it. Idempotent.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.sched.Stop()
	c.opener.Close()

	c.setState(func(st *State) {
		st.VideoOn = false
		st.Measuring = false
		st.LastMeasurement = nil
		st.Still = ""
	})
}

// Capture runs one single-shot measurement cycle. On success the session
// freezes on the captured still; with no detectable object the error
// state reports it and the live preview continues.
func (c *Controller) Capture() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	err := c.sched.Trigger()
	switch {
	case err == nil:
		// The capture result is already published; hold it and
		// release the camera.
		c.opener.Close()
		c.setState(func(st *State) {
			st.VideoOn = false
			st.Measuring = false
		})
		return nil
	case errors.Is(err, ErrNoDetection):
		c.setError("no object detected")
		return err
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrWrongPolicy):
		return err
	default:
		c.setError("capture failed")
		return err
	}
}

// NewMeasurement discards the held still and returns to a live session.
func (c *Controller) NewMeasurement() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.setState(func(st *State) {
		st.Still = ""
		st.LastMeasurement = nil
		st.Error = ""
	})
	return c.startLocked()
}

// State returns a snapshot of the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Scheduler exposes the scheduler for inspection.
func (c *Controller) Scheduler() *Scheduler {
	return c.sched
}

// Close stops everything and releases the detector.
func (c *Controller) Close() error {
	c.Stop()
	return c.loader.Close()
}

func (c *Controller) applyResult(res Result) {
	c.setState(func(st *State) {
		if res.Measurement != nil {
			st.LastMeasurement = res.Measurement
			st.Error = ""
		}
		// Empty detection keeps the prior measurement untouched.
		if res.Captured {
			st.Still = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(res.JPEG)
		}
	})

	if c.OnFrame != nil && len(res.JPEG) > 0 {
		c.OnFrame(res.JPEG)
	}
}

func (c *Controller) applyCycleError(err error) {
	var ce *CycleError
	if errors.As(err, &ce) {
		log.Debug("transient cycle error", "stage", ce.Stage, "error", ce.Err)
		c.setError("detection failed this cycle, retrying")
	}
}

func (c *Controller) setError(msg string) {
	c.setState(func(st *State) {
		st.Error = msg
	})
}

// setState mutates the state under lock and publishes a snapshot to the
// observer outside it.
func (c *Controller) setState(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snapshot := c.state
	c.mu.Unlock()

	if c.OnState != nil {
		c.OnState(snapshot)
	}
}
