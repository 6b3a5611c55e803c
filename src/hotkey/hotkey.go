// Package hotkey arms a global keyboard combination that toggles masking
// without reaching for the tray menu. Rawcode matching targets Windows
// virtual key codes, which is where the resident app runs.
package hotkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"

	"screen-ghost/src/logutil"
)

type key struct {
	name string
	// codes lists every rawcode that reports this key; modifiers carry
	// both their left and right variants.
	codes []uint16
}

// parseCombo splits a combination like "ctrl+alt+m" into resolvable keys.
// Aliases win/super normalize to cmd.
func parseCombo(s string) ([]key, error) {
	parts := strings.Split(strings.ToLower(s), "+")
	keys := make([]key, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if name == "" {
			return nil, fmt.Errorf("empty key in combo %q", s)
		}
		switch name {
		case "win", "super":
			name = "cmd"
		}
		codes := vkCodes(name)
		if len(codes) == 0 {
			return nil, fmt.Errorf("unknown key %q in combo %q", name, s)
		}
		keys = append(keys, key{name: name, codes: codes})
	}
	return keys, nil
}

// vkCodes maps a normalized key name to its Windows virtual key codes.
func vkCodes(name string) []uint16 {
	switch name {
	case "ctrl":
		return []uint16{0xA2, 0xA3} // VK_LCONTROL, VK_RCONTROL
	case "alt":
		return []uint16{0xA4, 0xA5} // VK_LMENU, VK_RMENU
	case "shift":
		return []uint16{0xA0, 0xA1} // VK_LSHIFT, VK_RSHIFT
	case "cmd":
		return []uint16{0x5B, 0x5C} // VK_LWIN, VK_RWIN
	case "space":
		return []uint16{0x20}
	case "enter", "return":
		return []uint16{0x0D}
	case "esc", "escape":
		return []uint16{0x1B}
	case "tab":
		return []uint16{0x09}
	case "backspace":
		return []uint16{0x08}
	case "delete", "del":
		return []uint16{0x2E}
	case "insert", "ins":
		return []uint16{0x2D}
	case "home":
		return []uint16{0x24}
	case "end":
		return []uint16{0x23}
	case "pageup", "pgup":
		return []uint16{0x21}
	case "pagedown", "pgdn":
		return []uint16{0x22}
	case "left":
		return []uint16{0x25}
	case "up":
		return []uint16{0x26}
	case "right":
		return []uint16{0x27}
	case "down":
		return []uint16{0x28}
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c) - 'a' + 0x41}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c) - '0' + 0x30}
		}
	}
	if rest, ok := strings.CutPrefix(name, "f"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= 24 {
			return []uint16{uint16(0x6F + n)} // VK_F1..VK_F24
		}
	}
	return nil
}

// Listen captures keyboard input globally and calls onPress once each time
// the whole combination goes down. Auto-repeat while the keys are held does
// not re-fire; a key must be released first. The returned stop function ends
// the capture hook and waits for the event goroutine to drain. Only one
// listener can be active per process.
func Listen(combo string, logger *zap.Logger, onPress func()) (func(), error) {
	logger = logutil.Or(logger)
	keys, err := parseCombo(combo)
	if err != nil {
		return nil, err
	}

	evs := gohook.Start()
	if evs == nil {
		return nil, errors.New("keyboard hook unavailable")
	}
	logger.Info("Global hotkey armed", zap.String("combo", combo))

	done := make(chan struct{})
	go func() {
		defer close(done)
		down := make([]bool, len(keys))
		fired := false
		for ev := range evs {
			switch ev.Kind {
			case gohook.KeyDown, gohook.KeyHold:
				i := matchKey(keys, ev.Rawcode)
				if i < 0 {
					continue
				}
				down[i] = true
				if !fired && allDown(down) {
					fired = true
					logger.Debug("Hotkey pressed", zap.String("combo", combo))
					onPress()
				}
			case gohook.KeyUp:
				if i := matchKey(keys, ev.Rawcode); i >= 0 {
					down[i] = false
					fired = false
				}
			}
		}
	}()

	return func() {
		gohook.End()
		<-done
	}, nil
}

func matchKey(keys []key, rawcode uint16) int {
	for i, k := range keys {
		for _, c := range k.codes {
			if c == rawcode {
				return i
			}
		}
	}
	return -1
}

func allDown(down []bool) bool {
	for _, d := range down {
		if !d {
			return false
		}
	}
	return true
}
