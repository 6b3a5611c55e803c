// Package monitor enumerates displays and owns the "selected monitor"
// cell the capture loop reads. Selection is single-writer: only the
// external selection command (CLI flag or tray click) mutates it, and
// every mutation bumps a generation counter so in-flight work tied to a
// previous selection can be recognized as stale.
package monitor

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/kbinani/screenshot"
)

// ErrNotFound rejects a selection of an unknown display id.
var ErrNotFound = errors.New("monitor not found")

// Monitor is an immutable snapshot of one display at enumeration time.
type Monitor struct {
	ID          int     `json:"id"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	ScaleFactor float64 `json:"scale_factor"`
}

// Bounds returns the display rectangle in virtual-desktop coordinates.
func (m Monitor) Bounds() image.Rectangle {
	return image.Rect(m.X, m.Y, m.X+m.Width, m.Y+m.Height)
}

// LogicalWidth is the display width in DPI-independent overlay pixels.
func (m Monitor) LogicalWidth() int {
	if m.ScaleFactor <= 0 || m.ScaleFactor == 1.0 {
		return m.Width
	}
	return int(math.Round(float64(m.Width) / m.ScaleFactor))
}

// LogicalHeight is the display height in DPI-independent overlay pixels.
func (m Monitor) LogicalHeight() int {
	if m.ScaleFactor <= 0 || m.ScaleFactor == 1.0 {
		return m.Height
	}
	return int(math.Round(float64(m.Height) / m.ScaleFactor))
}

func (m Monitor) String() string {
	return fmt.Sprintf("monitor %d (%dx%d at %d,%d, scale %.2f)", m.ID, m.Width, m.Height, m.X, m.Y, m.ScaleFactor)
}

// EnumerateFunc lists the currently attached displays.
type EnumerateFunc func() ([]Monitor, error)

// Enumerate queries the active displays. The result is a fresh snapshot
// per call; ids are stable display indices.
func Enumerate() ([]Monitor, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New("no active displays found")
	}

	monitors := make([]Monitor, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		monitors = append(monitors, Monitor{
			ID:          i,
			X:           b.Min.X,
			Y:           b.Min.Y,
			Width:       b.Dx(),
			Height:      b.Dy(),
			ScaleFactor: displayScaleFactor(b),
		})
	}
	return monitors, nil
}

// Registry tracks the selected monitor. Reads take a consistent snapshot;
// the generation counter changes on every Select/Deselect.
type Registry struct {
	mu         sync.RWMutex
	enumerate  EnumerateFunc
	selected   Monitor
	isSelected bool
	generation uint64
}

// NewRegistry creates a registry backed by live display enumeration.
func NewRegistry() *Registry {
	return NewRegistryWith(Enumerate)
}

// NewRegistryWith creates a registry with a custom enumerator.
func NewRegistryWith(enumerate EnumerateFunc) *Registry {
	return &Registry{enumerate: enumerate}
}

// Enumerate lists displays through the registry's enumerator.
func (r *Registry) Enumerate() ([]Monitor, error) {
	return r.enumerate()
}

// Select makes the display with the given id current. Unknown ids return
// ErrNotFound and leave the selection untouched.
func (r *Registry) Select(id int) (Monitor, error) {
	monitors, err := r.enumerate()
	if err != nil {
		return Monitor{}, fmt.Errorf("enumerate displays: %w", err)
	}

	for _, m := range monitors {
		if m.ID != id {
			continue
		}
		r.mu.Lock()
		r.selected = m
		r.isSelected = true
		r.generation++
		r.mu.Unlock()
		return m, nil
	}
	return Monitor{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
}

// Deselect clears the selection. In-flight work tied to the previous
// monitor becomes stale.
func (r *Registry) Deselect() {
	r.mu.Lock()
	r.isSelected = false
	r.generation++
	r.mu.Unlock()
}

// Current returns the selected monitor, the generation it was read at,
// and whether anything is selected at all.
func (r *Registry) Current() (Monitor, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected, r.generation, r.isSelected
}

// Generation returns the current selection generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
