package geometry

import (
	"math"
	"testing"
)

func TestInflateKeepsCenter(t *testing.T) {
	cases := []struct {
		name   string
		rect   Rect
		factor float64
	}{
		{"even square doubled", Rect{X: 100, Y: 100, Width: 40, Height: 40}, 2.0},
		{"odd square grown", Rect{X: 10, Y: 10, Width: 31, Height: 31}, 1.5},
		{"wide rect shrunk", Rect{X: 50, Y: 20, Width: 120, Height: 60}, 0.5},
	}

	for _, tc := range cases {
		got := tc.rect.Inflate(tc.factor)

		wantW := int(math.Round(float64(tc.rect.Width) * tc.factor))
		if got.Width != wantW {
			t.Errorf("%s: Expected width %d, got %d", tc.name, wantW, got.Width)
		}

		if dx := math.Abs(got.CenterX() - tc.rect.CenterX()); dx > 0.5 {
			t.Errorf("%s: Expected center x preserved within 0.5, drifted by %.2f", tc.name, dx)
		}
		if dy := math.Abs(got.CenterY() - tc.rect.CenterY()); dy > 0.5 {
			t.Errorf("%s: Expected center y preserved within 0.5, drifted by %.2f", tc.name, dy)
		}
	}
}

func TestInflateIdentity(t *testing.T) {
	r := Rect{X: 5, Y: 6, Width: 7, Height: 8}
	if got := r.Inflate(1.0); got != r {
		t.Errorf("Expected identity for factor 1.0, got %+v", got)
	}
	if got := r.Inflate(0); got != r {
		t.Errorf("Expected identity for factor 0, got %+v", got)
	}
}

// A frame captured at 0.5, detected at 0.7, with mosaic inflation 2.0:
// the detected rect (100,100,40,40) must land centered on the same
// relative position once mapped back to overlay space.
func TestDetectionToOverlayScenario(t *testing.T) {
	det := Rect{X: 100, Y: 100, Width: 40, Height: 40}
	composed := ComposedScale(0.5, 0.7)
	if math.Abs(composed-0.35) > 1e-9 {
		t.Fatalf("Expected composed scale 0.35, got %v", composed)
	}

	got := DetectionToOverlay(det, composed, 2.0, 1.0)

	// Center must land on the same relative position: det center / composed.
	wantCX := det.CenterX() / composed
	wantCY := det.CenterY() / composed
	if dx := math.Abs(got.CenterX() - wantCX); dx > 1.5 {
		t.Errorf("Expected overlay center x ~%.1f, got %.1f", wantCX, got.CenterX())
	}
	if dy := math.Abs(got.CenterY() - wantCY); dy > 1.5 {
		t.Errorf("Expected overlay center y ~%.1f, got %.1f", wantCY, got.CenterY())
	}

	// Size must be the detected size inflated by 2.0 and mapped by 1/0.35.
	wantW := int(math.Round(float64(det.Width) * 2.0 / composed))
	if diff := got.Width - wantW; diff < -1 || diff > 1 {
		t.Errorf("Expected overlay width ~%d, got %d", wantW, got.Width)
	}
	if diff := got.Height - wantW; diff < -1 || diff > 1 {
		t.Errorf("Expected overlay height ~%d, got %d", wantW, got.Height)
	}
}

// Physical -> capture -> detection -> back to overlay must agree with the
// direct composition of all factors within rounding tolerance.
func TestGeometryRoundTrip(t *testing.T) {
	rects := []Rect{
		{X: 400, Y: 300, Width: 200, Height: 160},
		{X: 0, Y: 0, Width: 64, Height: 48},
		{X: 1337, Y: 613, Width: 97, Height: 113},
	}
	scales := []struct {
		capture float64
		image   float64
	}{
		{0.5, 0.7},
		{0.25, 1.0},
		{1.0, 0.5},
		{0.8, 0.9},
	}

	for _, sc := range scales {
		composed := ComposedScale(sc.capture, sc.image)
		tolerance := int(math.Ceil(1.0/composed)) + 1

		for _, r := range rects {
			captureSpace := PhysicalToCapture(r, sc.capture)
			detSpace := CaptureToDetection(captureSpace, sc.image)
			back := DetectionToOverlay(detSpace, composed, 1.0, 1.0)

			checkClose := func(field string, got, want int) {
				if diff := got - want; diff < -tolerance || diff > tolerance {
					t.Errorf("capture=%.2f image=%.2f rect=%+v: Expected %s ~%d, got %d",
						sc.capture, sc.image, r, field, want, got)
				}
			}
			checkClose("x", back.X, r.X)
			checkClose("y", back.Y, r.Y)
			checkClose("width", back.Width, r.Width)
			checkClose("height", back.Height, r.Height)
		}
	}
}

func TestDetectionToOverlayAppliesDPI(t *testing.T) {
	r := Rect{X: 100, Y: 100, Width: 50, Height: 50}
	got := DetectionToOverlay(r, 1.0, 1.0, 1.25)
	want := Rect{X: 80, Y: 80, Width: 40, Height: 40}
	if got != want {
		t.Errorf("Expected %+v after DPI division, got %+v", want, got)
	}
}

func TestClampTo(t *testing.T) {
	cases := []struct {
		name string
		in   Rect
		want Rect
	}{
		{"inside untouched", Rect{X: 10, Y: 10, Width: 20, Height: 20}, Rect{X: 10, Y: 10, Width: 20, Height: 20}},
		{"overruns right edge", Rect{X: 90, Y: 10, Width: 30, Height: 20}, Rect{X: 90, Y: 10, Width: 10, Height: 20}},
		{"negative origin", Rect{X: -15, Y: -5, Width: 30, Height: 20}, Rect{X: 0, Y: 0, Width: 15, Height: 15}},
		{"fully outside", Rect{X: 200, Y: 200, Width: 10, Height: 10}, Rect{X: 100, Y: 100, Width: 0, Height: 0}},
	}
	for _, tc := range cases {
		if got := tc.in.ClampTo(100, 100); got != tc.want {
			t.Errorf("%s: Expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestEmptyRect(t *testing.T) {
	if !(Rect{Width: 0, Height: 10}).Empty() {
		t.Errorf("Expected zero-width rect to be empty")
	}
	if (Rect{Width: 3, Height: 10}).Empty() {
		t.Errorf("Expected 3x10 rect to not be empty")
	}
	// Degenerate input stays degenerate through the pipeline, never panics.
	got := DetectionToOverlay(Rect{}, 0.35, 2.0, 1.0)
	if !got.Empty() {
		t.Errorf("Expected empty rect to map to empty, got %+v", got)
	}
}
