//go:build windows

package monitor

import (
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	shcore              = windows.NewLazySystemDLL("Shcore.dll")
	procMonitorFromRect = user32.NewProc("MonitorFromRect")
	procGetDpiForSystem = user32.NewProc("GetDpiForSystem")
	procSetDPIAware     = user32.NewProc("SetProcessDPIAware")
	procGetDpiForMon    = shcore.NewProc("GetDpiForMonitor")
	procSetDpiAwareness = shcore.NewProc("SetProcessDpiAwareness")
)

const (
	monitorDefaultToNearest = 2
	mdtEffectiveDPI         = 0
	processPerMonitorAware  = 2
	baselineDPI             = 96.0
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

// EnableDPIAwareness opts the process into per-monitor DPI awareness so
// display bounds and DPI queries report physical pixels. Must run before
// any display query.
func EnableDPIAwareness() {
	if procSetDpiAwareness.Find() == nil {
		_, _, _ = procSetDpiAwareness.Call(uintptr(processPerMonitorAware))
		return
	}
	if procSetDPIAware.Find() == nil {
		_, _, _ = procSetDPIAware.Call()
	}
}

// displayScaleFactor resolves the effective DPI scale of the display
// covering bounds, falling back to the system DPI and then to 1.0.
func displayScaleFactor(bounds image.Rectangle) float64 {
	if procMonitorFromRect.Find() == nil && procGetDpiForMon.Find() == nil {
		rect := winRect{
			Left:   int32(bounds.Min.X),
			Top:    int32(bounds.Min.Y),
			Right:  int32(bounds.Max.X),
			Bottom: int32(bounds.Max.Y),
		}
		hmon, _, _ := procMonitorFromRect.Call(uintptr(unsafe.Pointer(&rect)), uintptr(monitorDefaultToNearest))
		if hmon != 0 {
			var dpiX, dpiY uint32
			ret, _, _ := procGetDpiForMon.Call(hmon, uintptr(mdtEffectiveDPI),
				uintptr(unsafe.Pointer(&dpiX)), uintptr(unsafe.Pointer(&dpiY)))
			if ret == 0 && dpiX > 0 {
				return float64(dpiX) / baselineDPI
			}
		}
	}

	if procGetDpiForSystem.Find() == nil {
		dpi, _, _ := procGetDpiForSystem.Call()
		if dpi > 0 {
			return float64(dpi) / baselineDPI
		}
	}
	return 1.0
}
