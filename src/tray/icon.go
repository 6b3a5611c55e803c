package tray

import (
	_ "embed"
	"runtime"
)

// Embedded SVG icon data
//
//go:embed icon.svg
var IconSVG string

// platformIcon returns the icon bytes for systray.SetIcon, or nil when the
// platform cannot render the embedded SVG.
func platformIcon() []byte {
	if runtime.GOOS == "windows" {
		// TODO: package an .ico alongside the SVG; Shell_NotifyIcon rejects SVG data.
		return nil
	}
	return []byte(IconSVG)
}
