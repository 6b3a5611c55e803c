// Package scheduler drives the capture loop: every tick it grabs the
// selected monitor, hands the frame to the detection worker, and
// publishes the resulting rectangle set. Ticks are strictly serial, so
// at most one frame is ever in flight.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"screen-ghost/src/bridge"
	"screen-ghost/src/capture"
	"screen-ghost/src/events"
	"screen-ghost/src/geometry"
	"screen-ghost/src/logutil"
	"screen-ghost/src/monitor"
	"screen-ghost/src/overlay"
)

// Capturer grabs one frame of a monitor.
type Capturer interface {
	Grab(m monitor.Monitor, scale float64) (capture.Frame, error)
}

// CaptureFunc adapts a plain capture function to Capturer.
type CaptureFunc func(m monitor.Monitor, scale float64) (capture.Frame, error)

func (f CaptureFunc) Grab(m monitor.Monitor, scale float64) (capture.Frame, error) {
	return f(m, scale)
}

// Detector is the worker-facing side of the loop.
type Detector interface {
	Detect(ctx context.Context, frame capture.Frame) (uint64, []bridge.Face, error)
	Available() bool
	Failed() error
}

// Publisher receives each tick's complete result set.
type Publisher interface {
	Publish(res overlay.Result)
	Clear()
}

// Options tunes the loop. Zero values fall back to the same defaults
// the config package uses.
type Options struct {
	Interval      time.Duration
	DetectTimeout time.Duration
	CaptureScale  float64
	ImageScale    float64
	Bus           *events.Bus
	Logger        *zap.Logger
}

type Scheduler struct {
	registry     *monitor.Registry
	capturer     Capturer
	detector     Detector
	publisher    Publisher
	interval     time.Duration
	timeout      time.Duration
	captureScale float64
	imageScale   float64
	bus          *events.Bus
	logger       *zap.Logger

	paused atomic.Bool

	// lastGen tracks the selection generation the overlay state was
	// built against. Only the loop goroutine touches it.
	lastGen uint64
}

func New(reg *monitor.Registry, capturer Capturer, detector Detector, publisher Publisher, opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	timeout := opts.DetectTimeout
	if timeout <= 0 {
		timeout = 3 * interval
		if timeout < 1500*time.Millisecond {
			timeout = 1500 * time.Millisecond
		}
	}
	return &Scheduler{
		registry:     reg,
		capturer:     capturer,
		detector:     detector,
		publisher:    publisher,
		interval:     interval,
		timeout:      timeout,
		captureScale: opts.CaptureScale,
		imageScale:   opts.ImageScale,
		bus:          opts.Bus,
		logger:       logutil.Or(opts.Logger),
	}
}

// Run blocks until ctx is canceled or the worker fails permanently.
// A missed tick is simply dropped; the tick after it starts from a
// fresh capture.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Monitoring loop started",
		zap.Duration("interval", s.interval),
		zap.Duration("detect_timeout", s.timeout))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitoring loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.publisher.Clear()
				s.bus.Publish(events.Event{Stage: events.StageScheduler,
					Kind: events.KindError, Message: "monitoring loop halted", Err: err})
				return err
			}
		}
	}
}

// tick runs one capture-detect-publish pass. A nil return means the
// loop continues; an error is fatal and stops it.
func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.detector.Failed(); err != nil {
		return err
	}
	if s.paused.Load() {
		return nil
	}

	m, gen, selected := s.registry.Current()
	if gen != s.lastGen {
		// Selection changed since the published set was built.
		s.publisher.Clear()
		s.lastGen = gen
	}
	if !selected {
		return nil
	}
	if !s.detector.Available() {
		s.logger.Debug("Worker unavailable, skipping tick")
		return nil
	}

	frame, err := s.capturer.Grab(m, s.captureScale)
	if err != nil {
		s.logger.Debug("Capture failed, skipping tick", zap.Error(err))
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	seq, faces, err := s.detector.Detect(dctx, frame)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrWorkerFailed):
			return err
		case errors.Is(err, bridge.ErrTimeout):
			s.logger.Warn("Detection timed out, keeping previous set", zap.Uint64("seq", seq))
		case errors.Is(err, bridge.ErrBusy), errors.Is(err, bridge.ErrNotReady):
			s.logger.Debug("Worker not accepting frames, skipping tick")
		default:
			s.logger.Debug("Detection failed, skipping tick",
				zap.Uint64("seq", seq), zap.Error(err))
		}
		return nil
	}

	// The selection may have moved while the worker was busy; results
	// for the old monitor must not reach the screen.
	if _, nowGen, ok := s.registry.Current(); !ok || nowGen != gen {
		s.logger.Debug("Dropping result for stale selection", zap.Uint64("seq", seq))
		return nil
	}

	s.publisher.Publish(overlay.Result{
		Seq:            seq,
		Monitor:        m,
		DetectionScale: geometry.ComposedScale(frame.CaptureScale, s.imageScale),
		Faces:          faces,
		CapturedAt:     frame.CapturedAt,
	})
	return nil
}

// Pause suspends capturing and clears the screen. Masking with stale
// rectangles while paused would be worse than no masking at all.
func (s *Scheduler) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.publisher.Clear()
		s.logger.Info("Monitoring paused")
		s.bus.Publish(events.Event{Stage: events.StageScheduler,
			Kind: events.KindProgress, Message: "monitoring paused"})
	}
}

// Resume restarts capturing after Pause.
func (s *Scheduler) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		s.logger.Info("Monitoring resumed")
		s.bus.Publish(events.Event{Stage: events.StageScheduler,
			Kind: events.KindProgress, Message: "monitoring resumed"})
	}
}

func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}
