// Package detect provides object detection for the measurement pipeline.
package detect

import (
	"github.com/sizecam/sizecam/pkg/camera"
)

// Region is one detected object in frame pixel coordinates, origin at the
// top-left of the frame.
type Region struct {
	Label      string  // Human-readable class name
	X, Y       int     // Top-left corner in pixels
	Width      int     // Box width in pixels
	Height     int     // Box height in pixels
	Confidence float64 // Detection confidence (0-1)
}

// Center returns the center point of the region in pixels.
func (r Region) Center() (x, y int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the bounding box in square pixels.
func (r Region) Area() int {
	return r.Width * r.Height
}

// Detector is the interface for object detection backends.
// An empty result means nothing was recognized in the frame; it is not an
// error and callers must tolerate it on any cycle.
type Detector interface {
	// Detect finds objects in the frame and returns their regions,
	// ordered by descending confidence.
	Detect(frame camera.Frame) ([]Region, error)

	// Close releases resources.
	Close() error
}

// First returns the region the pipeline should measure: the first one the
// detector returned, or nil when there was no detection this cycle.
// Multiple simultaneous objects are not disambiguated.
func First(regions []Region) *Region {
	if len(regions) == 0 {
		return nil
	}
	return &regions[0]
}
