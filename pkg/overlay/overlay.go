// Package overlay draws detection boxes and measurement labels onto
// captured frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/sizecam/sizecam/pkg/camera"
	"github.com/sizecam/sizecam/pkg/detect"
	"github.com/sizecam/sizecam/pkg/measure"
)

// Renderer paints the measurement overlay. It holds only drawing style;
// rendering is purely a function of its inputs, and the surface it returns
// is cloned from the current frame so its dimensions always match the
// frame exactly.
type Renderer struct {
	FillColor   color.RGBA
	FillAlpha   float64
	StrokeColor color.RGBA
	StrokeWidth int
	TextColor   color.RGBA
	LabelColor  color.RGBA
	FontScale   float64
	Thickness   int
	Padding     int
	JPEGQuality int
}

// NewRenderer returns a renderer with the default style.
func NewRenderer() *Renderer {
	return &Renderer{
		FillColor:   color.RGBA{R: 0, G: 180, B: 120, A: 255},
		FillAlpha:   0.25,
		StrokeColor: color.RGBA{R: 0, G: 220, B: 140, A: 255},
		StrokeWidth: 2,
		TextColor:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LabelColor:  color.RGBA{R: 20, G: 20, B: 20, A: 255},
		FontScale:   0.6,
		Thickness:   2,
		Padding:     4,
		JPEGQuality: 85,
	}
}

// RenderJPEG renders the overlay and encodes the surface as JPEG in one
// step, releasing the intermediate surface.
func (r *Renderer) RenderJPEG(frame camera.Frame, region *detect.Region, m *measure.Measurement) ([]byte, error) {
	surface := r.Render(frame, region, m)
	defer surface.Close()
	return EncodeJPEG(surface, r.JPEGQuality)
}

// Render returns a new surface cloned from the frame with the region box
// and measurement labels drawn on it. With a nil region it returns the
// bare frame clone, drawing nothing else. The caller owns the returned
// Mat and must Close it.
func (r *Renderer) Render(frame camera.Frame, region *detect.Region, m *measure.Measurement) gocv.Mat {
	surface := frame.Image.Clone()

	if region == nil {
		return surface
	}

	bounds := image.Rect(0, 0, surface.Cols(), surface.Rows())
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height).Intersect(bounds)
	if rect.Empty() {
		return surface
	}

	// Translucent fill over the region, then a solid stroke on top.
	fill := surface.Clone()
	gocv.Rectangle(&fill, rect, r.FillColor, -1)
	gocv.AddWeighted(fill, r.FillAlpha, surface, 1-r.FillAlpha, 0, &surface)
	fill.Close()

	gocv.Rectangle(&surface, rect, r.StrokeColor, r.StrokeWidth)

	if m != nil {
		widthText := fmt.Sprintf("%s %.2fm", m.Label, m.WidthMeters)
		heightText := fmt.Sprintf("%.2fm", m.HeightMeters)

		// Width label sits above the region, height label at its right
		// side, each on an opaque background sized from the rendered
		// text metrics.
		r.drawLabel(&surface, widthText, image.Pt(rect.Min.X, rect.Min.Y), bounds)
		r.drawLabel(&surface, heightText, image.Pt(rect.Max.X, rect.Min.Y+rect.Dy()/2), bounds)
	}

	return surface
}

// drawLabel draws text at the anchor on an opaque background box computed
// from the actual text metrics, clamped inside the surface bounds.
func (r *Renderer) drawLabel(surface *gocv.Mat, text string, anchor image.Point, bounds image.Rectangle) {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, r.FontScale, r.Thickness)

	boxW := size.X + 2*r.Padding
	boxH := size.Y + 2*r.Padding

	x := anchor.X
	y := anchor.Y - boxH
	if x+boxW > bounds.Max.X {
		x = bounds.Max.X - boxW
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = anchor.Y
	}
	if y+boxH > bounds.Max.Y {
		y = bounds.Max.Y - boxH
	}

	box := image.Rect(x, y, x+boxW, y+boxH)
	gocv.Rectangle(surface, box, r.LabelColor, -1)

	origin := image.Pt(x+r.Padding, y+boxH-r.Padding)
	gocv.PutText(surface, text, origin, gocv.FontHersheySimplex, r.FontScale, r.TextColor, r.Thickness)
}

// EncodeJPEG encodes a surface as JPEG at the given quality.
func EncodeJPEG(surface gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, surface, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("overlay: jpeg encode: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
