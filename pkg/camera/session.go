package camera

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/sizecam/sizecam/internal/log"
)

// ErrClosed is returned when reading from a session that is not open.
var ErrClosed = errors.New("camera: session closed")

// AccessError indicates the capture device could not be opened.
// This covers missing hardware and denied permissions alike; the caller
// may retry after the user fixes the underlying condition.
type AccessError struct {
	Device int
	Err    error
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	return fmt.Sprintf("camera: cannot access device %d: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *AccessError) Unwrap() error {
	return e.Err
}

// Frame is one still image sampled from an open session. Width and Height
// are the actual pixel dimensions of the image, read back from the device
// rather than assumed from the requested configuration.
type Frame struct {
	Image  gocv.Mat
	Width  int
	Height int

	valid bool
}

// Close releases the frame's image buffer. Safe on the zero value.
func (f *Frame) Close() {
	if f.valid {
		f.Image.Close()
		f.valid = false
	}
}

// Session owns one open capture device.
type Session struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	device int
	width  int
	height int
	open   bool
}

// Open opens the capture device and applies cfg as a hint. The actual
// frame dimensions are read back from the driver after the hints are set.
func Open(deviceID int, cfg Config) (*Session, error) {
	cap, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, &AccessError{Device: deviceID, Err: err}
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, &AccessError{Device: deviceID, Err: errors.New("device not opened")}
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	if cfg.Framerate > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	}

	// Drivers are free to ignore the hints, so the session records what
	// the device actually delivers.
	w := int(cap.Get(gocv.VideoCaptureFrameWidth))
	h := int(cap.Get(gocv.VideoCaptureFrameHeight))

	log.Info("camera session opened",
		"device", deviceID,
		"requested", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"actual", fmt.Sprintf("%dx%d", w, h))

	return &Session{
		cap:    cap,
		device: deviceID,
		width:  w,
		height: h,
		open:   true,
	}, nil
}

// Read grabs the next frame from the device. The caller owns the returned
// frame and must Close it.
func (s *Session) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return Frame{}, ErrClosed
	}

	img := gocv.NewMat()
	if ok := s.cap.Read(&img); !ok {
		img.Close()
		return Frame{}, fmt.Errorf("camera: read failed on device %d", s.device)
	}
	if img.Empty() {
		img.Close()
		return Frame{}, fmt.Errorf("camera: empty frame from device %d", s.device)
	}

	// Dimensions come from the delivered image; they can differ from the
	// opening read-back if the device reconfigures mid-session.
	return Frame{
		Image:  img,
		Width:  img.Cols(),
		Height: img.Rows(),
		valid:  true,
	}, nil
}

// Dimensions returns the frame size read back when the session opened.
func (s *Session) Dimensions() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// IsOpen reports whether the session still holds the device.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close releases the capture device. Idempotent: closing a session that
// was never opened or is already closed is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	err := s.cap.Close()
	s.cap = nil
	log.Info("camera session closed", "device", s.device)
	return err
}
