package pipeline

import (
	"github.com/sizecam/sizecam/pkg/detect"
	"github.com/sizecam/sizecam/pkg/measure"
)

// State is the externally observable pipeline state. It is the single
// source of truth for observers and is reset to initial values whenever a
// new session starts.
type State struct {
	VideoOn         bool                 `json:"video_on"`
	Measuring       bool                 `json:"measuring"`
	Loading         bool                 `json:"loading"`
	Error           string               `json:"error,omitempty"`
	LastMeasurement *measure.Measurement `json:"last_measurement,omitempty"`

	// Still holds the captured frame as a JPEG data URL in single-shot
	// mode. In-memory only; never persisted.
	Still string `json:"still,omitempty"`

	Policy string `json:"policy"`
}

// Result is what one completed detect-render cycle publishes.
type Result struct {
	Cycle       uint64
	FrameWidth  int
	FrameHeight int

	// Region and Measurement are nil when nothing was detected this
	// cycle; observers keep their previous measurement in that case.
	Region      *detect.Region
	Measurement *measure.Measurement

	// JPEG is the rendered overlay surface, encoded for transport.
	JPEG []byte

	// Captured marks a single-shot capture result whose JPEG should be
	// held as the terminal still.
	Captured bool
}
