// Package capture grabs the selected monitor's framebuffer and prepares
// it for the detection worker: optional nearest-neighbor downsampling
// followed by conversion to the worker's B-G-R-A pixel layout.
package capture

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/nfnt/resize"

	"screen-ghost/src/monitor"
)

// Downsample factors at or above this are treated as "no downsampling".
const scaleSkipThreshold = 0.9999

// Factors below this are clamped up; capturing at under a tenth of the
// source resolution leaves nothing for the detector.
const scaleFloor = 0.1

// Frame is one captured framebuffer, 4 bytes per pixel in B-G-R-A order.
// Frames are immutable after creation.
type Frame struct {
	Width        int
	Height       int
	Data         []byte
	Monitor      monitor.Monitor
	CaptureScale float64
	CapturedAt   time.Time
}

// NormalizeScale maps a configured capture scale to the factor actually
// applied: values outside (0, 1) mean no downsampling, values below the
// floor are clamped up.
func NormalizeScale(s float64) float64 {
	if s <= 0 || s >= scaleSkipThreshold {
		return 1.0
	}
	return math.Max(s, scaleFloor)
}

// Grab captures the monitor's current framebuffer, downsamples it by
// captureScale and converts it to BGRA.
func Grab(m monitor.Monitor, captureScale float64) (Frame, error) {
	img, err := screenshot.CaptureRect(m.Bounds())
	if err != nil {
		return Frame{}, fmt.Errorf("capture monitor %d: %w", m.ID, err)
	}
	return frameFromImage(img, m, captureScale), nil
}

func frameFromImage(img *image.RGBA, m monitor.Monitor, captureScale float64) Frame {
	ratio := NormalizeScale(captureScale)
	out := img
	if ratio != 1.0 {
		w := maxInt(1, int(math.Round(float64(img.Bounds().Dx())*ratio)))
		h := maxInt(1, int(math.Round(float64(img.Bounds().Dy())*ratio)))
		out = toRGBA(resize.Resize(uint(w), uint(h), img, resize.NearestNeighbor))
	}

	return Frame{
		Width:        out.Bounds().Dx(),
		Height:       out.Bounds().Dy(),
		Data:         toBGRA(out),
		Monitor:      m,
		CaptureScale: ratio,
		CapturedAt:   time.Now(),
	}
}

// toBGRA flattens an RGBA image into a tightly packed BGRA buffer.
func toBGRA(img *image.RGBA) []byte {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	data := make([]byte, w*h*4)

	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := data[y*w*4 : (y+1)*w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2] // B
			dst[x+1] = src[x+1] // G
			dst[x+2] = src[x+0] // R
			dst[x+3] = src[x+3] // A
		}
	}
	return data
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return rgba
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
