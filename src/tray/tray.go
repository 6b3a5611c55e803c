// Package tray runs the resident system tray menu: display selection,
// pause/resume, and quit. It is optional; the pipeline works headless
// without it.
package tray

import (
	"fmt"
	"sync"

	"screen-ghost/src/events"
	"screen-ghost/src/monitor"

	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

// Pauser gates the masking loop without tearing it down.
type Pauser interface {
	Pause()
	Resume()
	Paused() bool
}

// Options wires the tray to the running pipeline.
type Options struct {
	Registry *monitor.Registry
	Loop     Pauser
	Bus      *events.Bus
	Logger   *zap.Logger
	OnQuit   func()
}

type controller struct {
	reg    *monitor.Registry
	loop   Pauser
	bus    *events.Bus
	logger *zap.Logger
	onQuit func()

	mu    sync.Mutex
	mons  []monitor.Monitor
	picks []*systray.MenuItem
	idle  *systray.MenuItem

	busToken string
}

// Run starts the systray and blocks until Quit. Some platforms require this
// to be called from the main goroutine.
func Run(opts Options) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &controller{
		reg:    opts.Registry,
		loop:   opts.Loop,
		bus:    opts.Bus,
		logger: opts.Logger,
		onQuit: opts.OnQuit,
	}
	systray.Run(c.onReady, c.onExit)
}

// Quit tears down the tray from outside the menu, e.g. when the pipeline
// stops first.
func Quit() {
	systray.Quit()
}

func (c *controller) onReady() {
	systray.SetTitle("Screen Ghost")
	systray.SetTooltip("Screen Ghost")
	if ic := platformIcon(); len(ic) > 0 {
		systray.SetIcon(ic)
	}

	mons, err := c.reg.Enumerate()
	if err != nil {
		c.logger.Warn("Tray could not enumerate displays", zap.Error(err))
	}
	cur, _, selected := c.reg.Current()

	c.mu.Lock()
	c.mons = mons
	c.idle = systray.AddMenuItemCheckbox("No display (idle)",
		"Stop masking until a display is picked", !selected)
	for _, m := range mons {
		checked := selected && m.ID == cur.ID
		item := systray.AddMenuItemCheckbox(monitorLabel(m),
			"Mask faces on this display", checked)
		c.picks = append(c.picks, item)
	}
	c.mu.Unlock()

	systray.AddSeparator()
	pause := systray.AddMenuItemCheckbox("Pause masking",
		"Freeze detection and clear the overlay", c.loop != nil && c.loop.Paused())
	quit := systray.AddMenuItem("Quit", "Stop masking and exit")

	go c.watchIdle()
	for i := range c.picks {
		go c.watchPick(i)
	}

	// Handle menu item events
	go func() {
		for {
			select {
			case <-pause.ClickedCh:
				if c.loop == nil {
					continue
				}
				if c.loop.Paused() {
					c.loop.Resume()
					pause.Uncheck()
				} else {
					c.loop.Pause()
					pause.Check()
				}
			case <-quit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()

	if c.bus != nil {
		token, ch := c.bus.Subscribe(8)
		c.busToken = token
		go func() {
			for ev := range ch {
				systray.SetTooltip(tooltipFor(ev))
				// Pause can also be toggled by the global hotkey; keep the
				// checkbox truthful.
				if c.loop != nil {
					if c.loop.Paused() {
						pause.Check()
					} else {
						pause.Uncheck()
					}
				}
			}
		}()
	}
}

func (c *controller) watchPick(i int) {
	c.mu.Lock()
	item := c.picks[i]
	id := c.mons[i].ID
	c.mu.Unlock()

	for range item.ClickedCh {
		if _, err := c.reg.Select(id); err != nil {
			c.logger.Warn("Display selection failed", zap.Int("monitor", id), zap.Error(err))
			continue
		}
		c.logger.Info("Display selected from tray", zap.Int("monitor", id))
		c.syncChecks(i)
	}
}

func (c *controller) watchIdle() {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	for range idle.ClickedCh {
		c.reg.Deselect()
		c.logger.Info("Display deselected from tray")
		c.syncChecks(-1)
	}
}

// syncChecks marks the picked entry and clears the rest. picked == -1 means
// the idle entry.
func (c *controller) syncChecks(picked int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if picked == -1 {
		c.idle.Check()
	} else {
		c.idle.Uncheck()
	}
	for i, item := range c.picks {
		if i == picked {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func (c *controller) onExit() {
	if c.bus != nil && c.busToken != "" {
		c.bus.Unsubscribe(c.busToken)
	}
	if c.onQuit != nil {
		c.onQuit()
	}
}

// monitorLabel renders a menu entry like "Display 0 (1920x1080, 125%)".
func monitorLabel(m monitor.Monitor) string {
	if m.ScaleFactor > 0 && m.ScaleFactor != 1.0 {
		return fmt.Sprintf("Display %d (%dx%d, %d%%)", m.ID, m.Width, m.Height,
			int(m.ScaleFactor*100+0.5))
	}
	return fmt.Sprintf("Display %d (%dx%d)", m.ID, m.Width, m.Height)
}

// tooltipFor mirrors the latest status event into the tray tooltip.
func tooltipFor(ev events.Event) string {
	if ev.Message == "" {
		return "Screen Ghost"
	}
	return fmt.Sprintf("Screen Ghost: %s (%s)", ev.Message, ev.Stage)
}
