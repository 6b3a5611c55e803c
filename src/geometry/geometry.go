// Package geometry holds the pure coordinate conversions between the
// pixel spaces of the pipeline: monitor-local physical space, the
// downsampled capture space, the detector's input space, and the
// overlay window space. All conversions are stateless; rounding happens
// once per conversion step.
package geometry

import "math"

// Rect is an axis-aligned rectangle in integer pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// CenterX returns the horizontal center in floating point.
func (r Rect) CenterX() float64 { return float64(r.X) + float64(r.Width)/2 }

// CenterY returns the vertical center in floating point.
func (r Rect) CenterY() float64 { return float64(r.Y) + float64(r.Height)/2 }

// Scale multiplies all four coordinates by factor, rounding each to the
// nearest integer. Factors <= 0 return the rectangle unchanged.
func (r Rect) Scale(factor float64) Rect {
	if factor <= 0 || factor == 1.0 {
		return r
	}
	return Rect{
		X:      round(float64(r.X) * factor),
		Y:      round(float64(r.Y) * factor),
		Width:  round(float64(r.Width) * factor),
		Height: round(float64(r.Height) * factor),
	}
}

// Inflate grows (or shrinks) the rectangle about its own center by factor.
// The new size is round(size*factor); the origin shifts by half the growth
// so the center stays put.
func (r Rect) Inflate(factor float64) Rect {
	if factor <= 0 || factor == 1.0 {
		return r
	}
	w := float64(r.Width)
	h := float64(r.Height)
	newW := round(w * factor)
	newH := round(h * factor)
	dx := round((w*factor - w) / 2)
	dy := round((h*factor - h) / 2)
	return Rect{X: r.X - dx, Y: r.Y - dy, Width: newW, Height: newH}
}

// ClampTo limits the rectangle to the area [0,0)-(width,height). A
// rectangle entirely outside the bounds collapses to empty.
func (r Rect) ClampTo(width, height int) Rect {
	x0 := clampInt(r.X, 0, width)
	y0 := clampInt(r.Y, 0, height)
	x1 := clampInt(r.X+r.Width, 0, width)
	y1 := clampInt(r.Y+r.Height, 0, height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// PhysicalToCapture maps a monitor-local physical-space rectangle into the
// downsampled capture space. captureScale of 1.0 (or anything out of the
// (0,1] range) is an identity.
func PhysicalToCapture(r Rect, captureScale float64) Rect {
	if !validDownScale(captureScale) {
		return r
	}
	return r.Scale(captureScale)
}

// CaptureToDetection maps a capture-space rectangle into the detector's
// input space (the worker may resize its input a second time).
func CaptureToDetection(r Rect, imageScale float64) Rect {
	if !validDownScale(imageScale) {
		return r
	}
	return r.Scale(imageScale)
}

// DetectionToOverlay maps a detection-space rectangle back to overlay
// coordinates: inflate about its center by mosaicScale while still in
// detection space, invert the composed detectionScale to reach physical
// pixels, then divide by the monitor DPI scale to reach overlay space.
// Inflation happens before the inverse mapping so the margin stays
// proportional to the detected face, not the display.
func DetectionToOverlay(r Rect, detectionScale, mosaicScale, dpiScale float64) Rect {
	out := r.Inflate(mosaicScale)
	if detectionScale > 0 && detectionScale != 1.0 {
		out = out.Scale(1.0 / detectionScale)
	}
	if dpiScale > 0 && dpiScale != 1.0 {
		out = out.Scale(1.0 / dpiScale)
	}
	return out
}

// ComposedScale multiplies the per-stage scale factors into the single
// detection-time scale a result rectangle must be inverted by. Invalid
// stages count as 1.0.
func ComposedScale(captureScale, imageScale float64) float64 {
	s := 1.0
	if validDownScale(captureScale) {
		s *= captureScale
	}
	if validDownScale(imageScale) {
		s *= imageScale
	}
	return s
}

// validDownScale reports whether s is a meaningful downsample factor.
// Values at or above ~1.0 mean "no downsampling".
func validDownScale(s float64) bool {
	return s > 0 && s < 0.9999
}

func round(v float64) int {
	return int(math.Round(v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
