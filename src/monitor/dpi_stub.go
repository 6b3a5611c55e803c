//go:build !windows

package monitor

import "image"

// EnableDPIAwareness is a no-op outside Windows.
func EnableDPIAwareness() {}

// displayScaleFactor reports 1.0 outside Windows; X11/Wayland capture
// already works in physical pixels here.
func displayScaleFactor(_ image.Rectangle) float64 {
	return 1.0
}
