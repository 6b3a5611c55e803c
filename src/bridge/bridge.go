// Package bridge launches the Python detection worker and exchanges
// length-prefixed frames with it over stdin/stdout. At most one
// request is in flight at a time. Crashes trigger bounded relaunches
// with exponential backoff; the sequence counter lives in the bridge,
// so numbering keeps rising across worker instances.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"screen-ghost/src/bootstrap"
	"screen-ghost/src/capture"
	"screen-ghost/src/config"
	"screen-ghost/src/events"
	"screen-ghost/src/logutil"
)

// State tracks the worker lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateLaunching
	StateHandshaking
	StateReady
	StateBusy
	StateDegraded
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateLaunching:
		return "launching"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDegraded:
		return "degraded"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

var (
	// ErrTimeout means the worker did not answer within the deadline.
	// The worker may still be alive; the bridge degrades rather than
	// killing it.
	ErrTimeout = errors.New("detection timed out")
	// ErrBusy means a request is already in flight.
	ErrBusy = errors.New("detection already in flight")
	// ErrCrashed means the worker died while a request was pending.
	ErrCrashed = errors.New("worker crashed")
	// ErrNotReady means no worker instance is currently accepting work.
	ErrNotReady = errors.New("worker not ready")
	// ErrWorkerFailed is latched after the relaunch budget is spent.
	// Once Failed returns it, the bridge never recovers.
	ErrWorkerFailed = errors.New("worker failed permanently")
)

const (
	maxRelaunches     = 5
	relaunchBaseDelay = 500 * time.Millisecond
	relaunchMaxDelay  = 15 * time.Second

	// First run downloads the detection model, which can take minutes
	// on a slow link.
	defaultHandshakeTimeout = 3 * time.Minute
)

// workerHandle is one launched worker process. The launch function is
// swappable so tests can run against pipes instead of a real Python.
type workerHandle struct {
	in   io.WriteCloser
	out  io.Reader
	errs io.Reader
	wait func() error
	kill func()
}

type launchFunc func(python, script string) (*workerHandle, error)

func launchProcess(python, script string) (*workerHandle, error) {
	cmd := exec.Command(python, script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &workerHandle{
		in:   stdin,
		out:  bufio.NewReaderSize(stdout, 64*1024),
		errs: stderr,
		wait: cmd.Wait,
		kill: func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		},
	}, nil
}

type pendingCall struct {
	seq uint64
	ch  chan callResult
}

type callResult struct {
	faces []Face
	err   error
}

// Options configures a Bridge beyond the face config and runtime.
type Options struct {
	Bus    *events.Bus
	Logger *zap.Logger
	// TargetsDir overrides the configured targets path with a resolved
	// absolute location.
	TargetsDir       string
	HandshakeTimeout time.Duration
}

// Bridge owns the worker process. Safe for concurrent use, though the
// single-flight rule means concurrent Detect calls mostly see ErrBusy.
type Bridge struct {
	face       config.FaceConfig
	rt         bootstrap.Runtime
	targetsDir string
	bus        *events.Bus
	logger     *zap.Logger
	launch     launchFunc
	hsTimeout  time.Duration
	backoff    func(time.Duration)

	seq atomic.Uint64

	mu         sync.Mutex
	state      State
	handle     *workerHandle
	instance   string
	pending    *pendingCall
	relaunches int
	failure    error
	profiles   int
	mode       string
	stopped    bool
}

func New(face config.FaceConfig, rt bootstrap.Runtime, opts Options) *Bridge {
	hs := opts.HandshakeTimeout
	if hs <= 0 {
		hs = defaultHandshakeTimeout
	}
	targets := opts.TargetsDir
	if targets == "" {
		targets = face.Recognition.TargetsDir
	}
	return &Bridge{
		face:       face,
		rt:         rt,
		targetsDir: targets,
		bus:        opts.Bus,
		logger:     logutil.Or(opts.Logger),
		launch:     launchProcess,
		hsTimeout:  hs,
		backoff:    func(d time.Duration) { time.Sleep(d) },
		state:      StateNotStarted,
		mode:       ModeDetectAll,
	}
}

// Start launches the worker and waits for its ready reply. A failed
// initial handshake is fatal; there is nothing to relaunch into.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateNotStarted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("worker already started (state %s)", state)
	}
	b.state = StateLaunching
	b.mu.Unlock()

	if err := b.launchAndHandshake(ctx); err != nil {
		b.mu.Lock()
		b.state = StateDead
		b.failure = fmt.Errorf("%w: %v", ErrWorkerFailed, err)
		b.mu.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}
	return nil
}

// Detect submits one frame and waits for the matching response,
// returning the sequence number the frame was sent under. The ctx
// deadline is the per-frame detection timeout: on expiry the call
// returns ErrTimeout, the bridge degrades, and the late response (if
// any) is discarded by sequence number.
func (b *Bridge) Detect(ctx context.Context, frame capture.Frame) (uint64, []Face, error) {
	if want := frame.Width * frame.Height * 4; len(frame.Data) != want {
		return 0, nil, fmt.Errorf("malformed frame: %d bytes for %dx%d", len(frame.Data), frame.Width, frame.Height)
	}

	b.mu.Lock()
	if b.failure != nil {
		err := b.failure
		b.mu.Unlock()
		return 0, nil, err
	}
	if b.pending != nil {
		b.mu.Unlock()
		return 0, nil, ErrBusy
	}
	if b.state != StateReady && b.state != StateDegraded {
		state := b.state
		b.mu.Unlock()
		return 0, nil, fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}
	seq := b.seq.Add(1)
	call := &pendingCall{seq: seq, ch: make(chan callResult, 1)}
	b.pending = call
	handle := b.handle
	mode := b.mode
	if b.state == StateReady {
		b.state = StateBusy
	}
	b.mu.Unlock()

	h := header{
		Type:        frameDetect,
		Seq:         seq,
		Mode:        mode,
		Width:       frame.Width,
		Height:      frame.Height,
		PixelFormat: pixelFormatBGRA,
	}
	if err := writeFrame(handle.in, h, frame.Data); err != nil {
		// A failed write usually means the process died; the wait
		// goroutine handles the state change.
		b.clearPending(call)
		return seq, nil, fmt.Errorf("send frame %d: %w", seq, err)
	}

	select {
	case res := <-call.ch:
		b.settle(call)
		return seq, res.faces, res.err
	case <-ctx.Done():
		b.degrade(call)
		return seq, nil, fmt.Errorf("frame %d: %w", seq, ErrTimeout)
	}
}

// settle marks a responded call done. Any response, including a
// worker-reported error, proves the worker is alive, so Degraded
// recovers to Ready here.
func (b *Bridge) settle(call *pendingCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == call {
		b.pending = nil
	}
	if b.state == StateBusy || b.state == StateDegraded {
		b.state = StateReady
	}
}

// degrade abandons a timed-out call. The worker keeps running; its
// eventual response is dropped as stale.
func (b *Bridge) degrade(call *pendingCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == call {
		b.pending = nil
	}
	if b.state == StateBusy || b.state == StateReady {
		b.state = StateDegraded
		b.logger.Warn("Worker unresponsive, degrading", zap.Uint64("seq", call.seq))
	}
}

func (b *Bridge) clearPending(call *pendingCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == call {
		b.pending = nil
	}
}

func (b *Bridge) launchAndHandshake(ctx context.Context) error {
	handle, err := b.launch(b.rt.Python, b.rt.WorkerScript)
	if err != nil {
		return fmt.Errorf("launch worker: %w", err)
	}
	instance := uuid.NewString()

	b.mu.Lock()
	b.handle = handle
	b.instance = instance
	b.state = StateHandshaking
	b.mu.Unlock()

	go b.stderrLoop(handle)

	init := header{
		Type:        frameInit,
		Provider:    b.rt.Provider.String(),
		Detection:   &b.face.Detection,
		Recognition: &b.face.Recognition,
		TargetsDir:  b.targetsDir,
	}
	if err := writeFrame(handle.in, init, nil); err != nil {
		handle.kill()
		return fmt.Errorf("send init: %w", err)
	}

	type handshake struct {
		h   header
		err error
	}
	ch := make(chan handshake, 1)
	go func() {
		h, _, err := readFrame(handle.out)
		ch <- handshake{h, err}
	}()

	timer := time.NewTimer(b.hsTimeout)
	defer timer.Stop()
	select {
	case hs := <-ch:
		if hs.err != nil {
			handle.kill()
			return fmt.Errorf("read handshake: %w", hs.err)
		}
		if hs.h.Type == frameError {
			handle.kill()
			return fmt.Errorf("worker init: %s", hs.h.Message)
		}
		if hs.h.Type != frameReady {
			handle.kill()
			return fmt.Errorf("unexpected handshake frame %q", hs.h.Type)
		}

		mode := ModeDetectAll
		if hs.h.Profiles > 0 {
			mode = ModeDetectAndRecognize
		}
		b.mu.Lock()
		b.profiles = hs.h.Profiles
		b.mode = mode
		b.state = StateReady
		b.relaunches = 0
		b.mu.Unlock()

		b.logger.Info("Worker ready",
			zap.Int("profiles", hs.h.Profiles),
			zap.String("provider", hs.h.Provider),
			zap.String("mode", mode))
		b.bus.Publish(events.Event{Stage: events.StageWorker, Kind: events.KindSuccess,
			Message: fmt.Sprintf("worker ready, %d profiles", hs.h.Profiles)})

		go b.readLoop(handle)
		go b.waitLoop(handle, instance)
		return nil
	case <-ctx.Done():
		handle.kill()
		return ctx.Err()
	case <-timer.C:
		handle.kill()
		return fmt.Errorf("handshake: %w", ErrTimeout)
	}
}

// readLoop pumps responses from one worker instance until its stdout
// closes. Responses are matched to the pending call by sequence
// number; anything else is stale and dropped.
func (b *Bridge) readLoop(handle *workerHandle) {
	for {
		h, _, err := readFrame(handle.out)
		if err != nil {
			return
		}
		switch h.Type {
		case frameResult, frameError:
			b.deliver(h)
		default:
			b.logger.Debug("Unexpected frame from worker", zap.String("type", h.Type))
		}
	}
}

func (b *Bridge) deliver(h header) {
	b.mu.Lock()
	call := b.pending
	b.mu.Unlock()
	if call == nil || call.seq != h.Seq {
		b.logger.Debug("Dropping stale worker response", zap.Uint64("seq", h.Seq))
		return
	}

	res := callResult{faces: h.Faces}
	if h.Type == frameError {
		res.err = fmt.Errorf("worker error for frame %d: %s", h.Seq, h.Message)
	}
	call.ch <- res
}

// stderrLoop forwards worker stderr. Lines that parse as JSON events
// go to the bus; everything else is logged raw at debug.
func (b *Bridge) stderrLoop(handle *workerHandle) {
	scanner := bufio.NewScanner(handle.errs)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ev := gjson.Get(line, "event"); ev.Exists() {
			msg := gjson.Get(line, "message").String()
			b.logger.Debug("Worker event",
				zap.String("event", ev.String()), zap.String("message", msg))
			b.bus.Publish(events.Event{Stage: events.StageWorker, Kind: events.KindProgress,
				Message: strings.TrimSpace(ev.String() + " " + msg)})
			continue
		}
		b.logger.Debug("Worker stderr", zap.String("line", line))
	}
}

func (b *Bridge) waitLoop(handle *workerHandle, instance string) {
	err := handle.wait()
	b.onExit(instance, err)
}

// onExit handles an unexpected worker death: fail the pending call,
// mark the bridge dead, and kick off an async relaunch.
func (b *Bridge) onExit(instance string, waitErr error) {
	b.mu.Lock()
	if b.instance != instance || b.stopped {
		b.mu.Unlock()
		return
	}
	b.state = StateDead
	b.handle = nil
	call := b.pending
	b.pending = nil
	attempts := b.relaunches
	b.mu.Unlock()

	if call != nil {
		call.ch <- callResult{err: fmt.Errorf("frame %d: %w", call.seq, ErrCrashed)}
	}
	b.logger.Warn("Worker exited unexpectedly",
		zap.Error(waitErr), zap.Int("relaunches", attempts))
	b.bus.Publish(events.Event{Stage: events.StageWorker, Kind: events.KindError,
		Message: "worker exited", Err: waitErr})

	go b.relaunch()
}

func (b *Bridge) relaunch() {
	b.mu.Lock()
	if b.stopped || b.failure != nil {
		b.mu.Unlock()
		return
	}
	b.relaunches++
	attempt := b.relaunches
	if attempt > maxRelaunches {
		b.failure = fmt.Errorf("%w: gave up after %d relaunches", ErrWorkerFailed, maxRelaunches)
		b.state = StateDead
		b.mu.Unlock()
		b.logger.Error("Worker permanently failed", zap.Int("relaunches", maxRelaunches))
		b.bus.Publish(events.Event{Stage: events.StageWorker, Kind: events.KindError,
			Message: "worker permanently failed"})
		return
	}
	b.state = StateLaunching
	b.mu.Unlock()

	delay := relaunchDelay(attempt)
	b.logger.Info("Relaunching worker",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
	b.backoff(delay)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.hsTimeout)
	defer cancel()
	if err := b.launchAndHandshake(ctx); err != nil {
		b.logger.Warn("Relaunch failed", zap.Int("attempt", attempt), zap.Error(err))
		go b.relaunch()
	}
}

func relaunchDelay(attempt int) time.Duration {
	d := relaunchBaseDelay << (attempt - 1)
	if d > relaunchMaxDelay {
		d = relaunchMaxDelay
	}
	return d
}

// Stop shuts the worker down and suppresses relaunching. Closing
// stdin lets the worker exit on EOF; kill is the backstop.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	handle := b.handle
	b.handle = nil
	b.state = StateDead
	call := b.pending
	b.pending = nil
	b.mu.Unlock()

	if call != nil {
		call.ch <- callResult{err: fmt.Errorf("frame %d: worker stopped", call.seq)}
	}
	if handle != nil {
		_ = handle.in.Close()
		handle.kill()
	}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Available reports whether Detect can be attempted right now.
// Degraded still counts: the next frame may bring the worker back.
func (b *Bridge) Available() bool {
	s := b.State()
	return s == StateReady || s == StateDegraded
}

// Failed returns the latched fatal error, or nil while the bridge can
// still recover.
func (b *Bridge) Failed() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// ActiveMode is the detection mode negotiated at handshake.
func (b *Bridge) ActiveMode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Profiles is the number of recognition targets the worker loaded.
func (b *Bridge) Profiles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profiles
}

// Seq returns the last sequence number handed out.
func (b *Bridge) Seq() uint64 {
	return b.seq.Load()
}
