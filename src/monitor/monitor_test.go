package monitor

import (
	"errors"
	"testing"
)

func fakeDisplays() ([]Monitor, error) {
	return []Monitor{
		{ID: 0, X: 0, Y: 0, Width: 1920, Height: 1080, ScaleFactor: 1.0},
		{ID: 1, X: 1920, Y: 0, Width: 2560, Height: 1440, ScaleFactor: 1.25},
	}, nil
}

func TestSelectKnownMonitor(t *testing.T) {
	reg := NewRegistryWith(fakeDisplays)

	m, err := reg.Select(1)
	if err != nil {
		t.Fatalf("Failed to select monitor: %v", err)
	}
	if m.ID != 1 {
		t.Errorf("Expected monitor id 1, got %d", m.ID)
	}
	if m.ScaleFactor != 1.25 {
		t.Errorf("Expected scale factor 1.25, got %v", m.ScaleFactor)
	}

	cur, _, ok := reg.Current()
	if !ok {
		t.Fatalf("Expected a selected monitor")
	}
	if cur.ID != 1 {
		t.Errorf("Expected current monitor id 1, got %d", cur.ID)
	}
}

func TestSelectUnknownMonitor(t *testing.T) {
	reg := NewRegistryWith(fakeDisplays)

	if _, err := reg.Select(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, _, ok := reg.Current(); ok {
		t.Errorf("Expected no selection after failed select")
	}
}

func TestSelectionBumpsGeneration(t *testing.T) {
	reg := NewRegistryWith(fakeDisplays)

	gen0 := reg.Generation()
	if _, err := reg.Select(0); err != nil {
		t.Fatalf("Failed to select monitor: %v", err)
	}
	_, gen1, _ := reg.Current()
	if gen1 <= gen0 {
		t.Errorf("Expected generation to increase on select, got %d -> %d", gen0, gen1)
	}

	if _, err := reg.Select(1); err != nil {
		t.Fatalf("Failed to select monitor: %v", err)
	}
	_, gen2, _ := reg.Current()
	if gen2 <= gen1 {
		t.Errorf("Expected generation to increase on reselect, got %d -> %d", gen1, gen2)
	}

	reg.Deselect()
	if gen3 := reg.Generation(); gen3 <= gen2 {
		t.Errorf("Expected generation to increase on deselect, got %d -> %d", gen2, gen3)
	}
	if _, _, ok := reg.Current(); ok {
		t.Errorf("Expected no selection after deselect")
	}
}

func TestFailedSelectKeepsPrevious(t *testing.T) {
	reg := NewRegistryWith(fakeDisplays)
	if _, err := reg.Select(0); err != nil {
		t.Fatalf("Failed to select monitor: %v", err)
	}
	_, gen, _ := reg.Current()

	if _, err := reg.Select(99); err == nil {
		t.Fatalf("Expected error for unknown id")
	}

	cur, genAfter, ok := reg.Current()
	if !ok || cur.ID != 0 {
		t.Errorf("Expected previous selection retained, got ok=%v id=%d", ok, cur.ID)
	}
	if genAfter != gen {
		t.Errorf("Expected generation unchanged on failed select, got %d -> %d", gen, genAfter)
	}
}

func TestLogicalSize(t *testing.T) {
	m := Monitor{Width: 2560, Height: 1440, ScaleFactor: 1.25}
	if got := m.LogicalWidth(); got != 2048 {
		t.Errorf("Expected logical width 2048, got %d", got)
	}
	if got := m.LogicalHeight(); got != 1152 {
		t.Errorf("Expected logical height 1152, got %d", got)
	}

	unscaled := Monitor{Width: 1920, Height: 1080, ScaleFactor: 1.0}
	if got := unscaled.LogicalWidth(); got != 1920 {
		t.Errorf("Expected logical width 1920, got %d", got)
	}
}

func TestEnumerateLiveDisplays(t *testing.T) {
	monitors, err := Enumerate()
	if err != nil {
		// Headless CI has no displays; nothing to assert there.
		t.Skipf("Skipping live display enumeration: %v", err)
	}
	for i, m := range monitors {
		if m.ID != i {
			t.Errorf("Expected sequential display ids, got %d at index %d", m.ID, i)
		}
		if m.Width <= 0 || m.Height <= 0 {
			t.Errorf("Expected positive display size, got %dx%d", m.Width, m.Height)
		}
		t.Logf("Display %d: %s", i, m)
	}
}
