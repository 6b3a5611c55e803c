// Package overlay turns detection results into screen-space masking
// rectangles and serves them to the renderer process over a loopback
// WebSocket. Each message replaces the whole visible set; an empty set
// clears the screen.
package overlay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"screen-ghost/src/bridge"
	"screen-ghost/src/config"
	"screen-ghost/src/geometry"
	"screen-ghost/src/logutil"
	"screen-ghost/src/monitor"
)

// Result is one tick's detections plus the capture context needed to
// map them onto the screen.
type Result struct {
	Seq            uint64
	Monitor        monitor.Monitor
	DetectionScale float64
	Faces          []bridge.Face
	CapturedAt     time.Time
}

// Payload is the wire message the renderer consumes. Rects are in the
// monitor's logical (DPI-scaled) coordinate space; Style is an opaque
// hint the renderer interprets.
type Payload struct {
	Seq         uint64          `json:"seq"`
	MonitorID   int             `json:"monitor_id"`
	ScaleFactor float64         `json:"scale_factor"`
	Rects       []geometry.Rect `json:"rects"`
	Style       string          `json:"style"`
	Timestamp   int64           `json:"ts"`
}

// Publisher maps results to overlay space and enforces ordering:
// only results with a sequence number above the last accepted one are
// published, so late answers can never overwrite newer state.
type Publisher struct {
	style       string
	mosaicScale float64
	hub         *Hub
	logger      *zap.Logger

	mu      sync.Mutex
	lastSeq uint64
	latest  *Payload
}

func NewPublisher(mon config.MonitoringConfig, hub *Hub, logger *zap.Logger) *Publisher {
	return &Publisher{
		style:       mon.MosaicStyle,
		mosaicScale: mon.MosaicScale,
		hub:         hub,
		logger:      logutil.Or(logger),
	}
}

// Publish maps res into the monitor's logical space and broadcasts it
// as the new complete set. Rectangles that fall entirely off the
// monitor are dropped; a result with no visible faces still publishes,
// clearing whatever was shown before.
func (p *Publisher) Publish(res Result) {
	logicalW := res.Monitor.LogicalWidth()
	logicalH := res.Monitor.LogicalHeight()

	rects := make([]geometry.Rect, 0, len(res.Faces))
	for _, f := range res.Faces {
		r := geometry.Rect{X: f.X, Y: f.Y, Width: f.W, Height: f.H}
		r = geometry.DetectionToOverlay(r, res.DetectionScale, p.mosaicScale, res.Monitor.ScaleFactor)
		r = r.ClampTo(logicalW, logicalH)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
	}

	payload := Payload{
		Seq:         res.Seq,
		MonitorID:   res.Monitor.ID,
		ScaleFactor: res.Monitor.ScaleFactor,
		Rects:       rects,
		Style:       p.style,
		Timestamp:   res.CapturedAt.UnixMilli(),
	}

	p.mu.Lock()
	if res.Seq <= p.lastSeq {
		last := p.lastSeq
		p.mu.Unlock()
		p.logger.Debug("Dropping out-of-order result",
			zap.Uint64("seq", res.Seq), zap.Uint64("last", last))
		return
	}
	p.lastSeq = res.Seq
	p.latest = &payload
	p.mu.Unlock()

	p.hub.Broadcast(payload)
}

// Clear wipes the visible set. It takes the next sequence slot, so an
// already in-flight result cannot land on top of the cleared screen.
func (p *Publisher) Clear() {
	p.mu.Lock()
	p.lastSeq++
	payload := Payload{
		Seq:       p.lastSeq,
		MonitorID: -1,
		Rects:     []geometry.Rect{},
		Style:     p.style,
		Timestamp: time.Now().UnixMilli(),
	}
	p.latest = &payload
	p.mu.Unlock()

	p.hub.Broadcast(payload)
}

// Latest returns the most recent payload for late-joining clients.
func (p *Publisher) Latest() (Payload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Payload{}, false
	}
	return *p.latest, true
}

func (p *Publisher) Style() string {
	return p.style
}

func (p *Publisher) MosaicScale() float64 {
	return p.mosaicScale
}
