// Package measure converts detected pixel regions into approximate
// physical dimensions.
//
// The conversion rests on a single fixed scale constant: it assumes the
// frame width maps to a notional reference width of ScaleConstant meters.
// This is a heuristic, not a calibrated measurement; results are rough
// estimates and no lens or distance correction is applied.
package measure

import (
	"math"

	"github.com/sizecam/sizecam/pkg/detect"
)

// DefaultScaleConstant is the assumed physical width in meters spanned by
// the full frame. Uncalibrated; identical across every scheduling policy.
const DefaultScaleConstant = 1.5

// Measurement is the physical size estimate for one detected region.
// Values are rounded to two decimal places; formatting is left to the
// caller.
type Measurement struct {
	WidthMeters  float64 `json:"width_meters"`
	HeightMeters float64 `json:"height_meters"`
	Label        string  `json:"label"`
}

// Convert derives a measurement from one region and the raw pixel width of
// its originating frame. The denominator is always the frame pixel width,
// the same width the overlay surface uses.
//
//	meters = pixels / (frameWidthPx / scale)
//
// Deterministic and scale-linear: doubling frameWidthPx with the region
// fixed halves both output dimensions.
func Convert(region detect.Region, frameWidthPx int, scale float64) Measurement {
	if frameWidthPx <= 0 || scale <= 0 {
		return Measurement{Label: region.Label}
	}

	pixelsPerMeter := float64(frameWidthPx) / scale

	return Measurement{
		WidthMeters:  round2(float64(region.Width) / pixelsPerMeter),
		HeightMeters: round2(float64(region.Height) / pixelsPerMeter),
		Label:        region.Label,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
