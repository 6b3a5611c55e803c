package overlay

import (
	"testing"
	"time"

	"screen-ghost/src/bridge"
	"screen-ghost/src/config"
	"screen-ghost/src/geometry"
	"screen-ghost/src/monitor"
)

func testMonitor() monitor.Monitor {
	return monitor.Monitor{ID: 0, Width: 1920, Height: 1080, ScaleFactor: 1.0}
}

func newTestPublisher(style string, mosaic float64) *Publisher {
	cfg := config.MonitoringConfig{MosaicStyle: style, MosaicScale: mosaic}
	return NewPublisher(cfg, NewHub(nil), nil)
}

func TestPublishMapsDetectionToOverlaySpace(t *testing.T) {
	p := newTestPublisher("blur", 2.0)
	p.Publish(Result{
		Seq:            1,
		Monitor:        testMonitor(),
		DetectionScale: geometry.ComposedScale(0.5, 0.7),
		Faces:          []bridge.Face{{X: 100, Y: 100, W: 40, H: 40, Confidence: 0.9}},
		CapturedAt:     time.Now(),
	})

	got, ok := p.Latest()
	if !ok {
		t.Fatal("Expected a published payload")
	}
	if got.Seq != 1 || got.MonitorID != 0 || got.Style != "blur" {
		t.Errorf("Unexpected payload envelope: %+v", got)
	}
	if len(got.Rects) != 1 {
		t.Fatalf("Expected 1 rect, got %d", len(got.Rects))
	}
	// Inflate 2x around the center, then invert the composed 0.35 scale.
	want := geometry.Rect{X: 229, Y: 229, Width: 229, Height: 229}
	if got.Rects[0] != want {
		t.Errorf("Got rect %+v, want %+v", got.Rects[0], want)
	}
}

func TestPublishAppliesDpiScale(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	p.Publish(Result{
		Seq:            1,
		Monitor:        monitor.Monitor{ID: 2, Width: 1000, Height: 1000, ScaleFactor: 1.25},
		DetectionScale: 1.0,
		Faces:          []bridge.Face{{X: 100, Y: 100, W: 50, H: 50}},
	})

	got, _ := p.Latest()
	if len(got.Rects) != 1 {
		t.Fatalf("Expected 1 rect, got %d", len(got.Rects))
	}
	want := geometry.Rect{X: 80, Y: 80, Width: 40, Height: 40}
	if got.Rects[0] != want {
		t.Errorf("Got rect %+v, want %+v", got.Rects[0], want)
	}
}

func TestPublishOrdersBySeq(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	p.Publish(Result{Seq: 2, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 10, Y: 10, W: 20, H: 20}}})
	p.Publish(Result{Seq: 1, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 500, Y: 500, W: 20, H: 20}}})

	got, _ := p.Latest()
	if got.Seq != 2 {
		t.Errorf("Stale result overwrote newer state: seq %d", got.Seq)
	}
	if len(got.Rects) != 1 || got.Rects[0].X != 10 {
		t.Errorf("Latest rects belong to the stale result: %+v", got.Rects)
	}
}

func TestPublishEmptySetClearsScreen(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	p.Publish(Result{Seq: 1, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 10, Y: 10, W: 20, H: 20}}})
	p.Publish(Result{Seq: 2, Monitor: testMonitor(), DetectionScale: 1.0})

	got, _ := p.Latest()
	if got.Seq != 2 || len(got.Rects) != 0 {
		t.Errorf("Empty result must replace the set: %+v", got)
	}
}

func TestClearTakesNextSeqSlot(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	p.Publish(Result{Seq: 5, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 10, Y: 10, W: 20, H: 20}}})

	p.Clear()
	got, _ := p.Latest()
	if got.Seq != 6 || len(got.Rects) != 0 || got.MonitorID != -1 {
		t.Errorf("Unexpected cleared payload: %+v", got)
	}

	// An in-flight result for the claimed slot must not resurface.
	p.Publish(Result{Seq: 6, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 10, Y: 10, W: 20, H: 20}}})
	got, _ = p.Latest()
	if len(got.Rects) != 0 {
		t.Errorf("Result for the cleared slot was accepted: %+v", got)
	}

	p.Publish(Result{Seq: 7, Monitor: testMonitor(), DetectionScale: 1.0,
		Faces: []bridge.Face{{X: 10, Y: 10, W: 20, H: 20}}})
	got, _ = p.Latest()
	if got.Seq != 7 || len(got.Rects) != 1 {
		t.Errorf("Newer result after clear was rejected: %+v", got)
	}
}

func TestPublishClampsAndFiltersOffscreen(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	p.Publish(Result{
		Seq:            1,
		Monitor:        monitor.Monitor{ID: 0, Width: 100, Height: 100, ScaleFactor: 1.0},
		DetectionScale: 1.0,
		Faces: []bridge.Face{
			{X: 90, Y: 90, W: 20, H: 20},
			{X: 200, Y: 200, W: 10, H: 10},
		},
	})

	got, _ := p.Latest()
	if len(got.Rects) != 1 {
		t.Fatalf("Expected the offscreen rect filtered, got %d rects", len(got.Rects))
	}
	want := geometry.Rect{X: 90, Y: 90, Width: 10, Height: 10}
	if got.Rects[0] != want {
		t.Errorf("Got rect %+v, want %+v", got.Rects[0], want)
	}
}

func TestLatestEmptyBeforeFirstPublish(t *testing.T) {
	p := newTestPublisher("blur", 1.0)
	if _, ok := p.Latest(); ok {
		t.Error("Expected no payload before the first publish")
	}
}
