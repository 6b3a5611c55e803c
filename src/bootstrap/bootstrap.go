// Package bootstrap provisions and verifies the Python runtime the
// detection worker runs on: an isolated venv under the app data
// directory, the pinned dependency set, and an accelerator provider
// picked by probing CUDA, then DirectML, then CPU.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"screen-ghost/src/events"
	"screen-ghost/src/logutil"
)

// State tracks where the bootstrapper is in its lifecycle.
type State int

const (
	StateUnchecked State = iota
	StateVerifying
	StateInstalling
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateVerifying:
		return "verifying"
	case StateInstalling:
		return "installing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrFailed wraps any error that leaves the runtime unusable.
var ErrFailed = errors.New("bootstrap failed")

const (
	appDirName     = "screen-ghost"
	venvDirName    = "python_env"
	scriptsDirName = "python_files"
	lockFileName   = ".lock"
	getPipURL      = "https://bootstrap.pypa.io/get-pip.py"

	ortVersionPin      = ">=1.16.3"
	insightfacePackage = "insightface"
)

var (
	requiredImports  = []string{"cv2", "numpy", "onnxruntime", "insightface"}
	basePackages     = []string{"numpy", "opencv-python"}
	pythonCandidates = []string{"python", "python3", "python3.11", "python3.10", "python3.9", "python3.8"}
)

// Runtime describes a verified, usable worker environment.
type Runtime struct {
	Dir          string
	Python       string
	WorkerScript string
	Provider     Provider
}

// Options configures a Bootstrapper. Zero values pick sane defaults.
type Options struct {
	// Dir is the runtime root. Defaults to <user config dir>/screen-ghost.
	Dir string
	// ProviderPref is the configured provider ("auto", "cuda", "dml", "cpu").
	ProviderPref string
	Bus          *events.Bus
	Logger       *zap.Logger
}

// Bootstrapper owns the worker runtime directory. All methods are safe
// for concurrent use.
type Bootstrapper struct {
	dir         string
	pref        string
	bus         *events.Bus
	logger      *zap.Logger
	runner      commandRunner
	probes      []probe
	lookPath    func(string) (string, error)
	fetchGetPip func(ctx context.Context, dest string) error

	mu    sync.Mutex
	state State
	rt    Runtime
}

func New(opts Options) *Bootstrapper {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	return &Bootstrapper{
		dir:         dir,
		pref:        opts.ProviderPref,
		bus:         opts.Bus,
		logger:      logutil.Or(opts.Logger),
		runner:      execRunner{},
		probes:      defaultProbes(),
		lookPath:    exec.LookPath,
		fetchGetPip: downloadGetPip,
		state:       StateUnchecked,
	}
}

// DefaultDir returns the per-user runtime root.
func DefaultDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, appDirName)
	}
	return filepath.Join(".", appDirName)
}

func (b *Bootstrapper) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ensure makes the runtime usable, installing whatever verification
// finds missing. After a successful call the result is cached and
// later calls return immediately. An intact runtime verifies without
// emitting any install events.
func (b *Bootstrapper) Ensure(ctx context.Context) (Runtime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateReady {
		return b.rt, nil
	}

	unlock, err := acquireLock(b.dir)
	if err != nil {
		b.state = StateFailed
		return Runtime{}, fmt.Errorf("%w: lock runtime dir: %v", ErrFailed, err)
	}
	defer unlock()

	b.state = StateVerifying
	b.logger.Info("Verifying detection runtime", zap.String("dir", b.dir))
	if rt, ok := b.verify(ctx); ok {
		if err := b.writeWorkerScript(); err != nil {
			b.state = StateFailed
			return Runtime{}, fmt.Errorf("%w: write worker script: %v", ErrFailed, err)
		}
		rt.WorkerScript = workerScriptPath(b.dir)
		b.rt = rt
		b.state = StateReady
		b.logger.Info("Detection runtime verified",
			zap.String("python", rt.Python),
			zap.String("provider", rt.Provider.String()))
		return rt, nil
	}

	b.state = StateInstalling
	rt, err := b.install(ctx)
	if err != nil {
		b.state = StateFailed
		b.publishErr("installation failed", err)
		return Runtime{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	b.rt = rt
	b.state = StateReady
	b.publish(events.KindCompleted, "detection runtime ready ("+rt.Provider.String()+")")
	return rt, nil
}

// Verify checks the runtime without installing anything. A failed
// check leaves the bootstrapper in StateUnchecked so a later Ensure
// takes the full path.
func (b *Bootstrapper) Verify(ctx context.Context) (Runtime, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateReady {
		return b.rt, true
	}

	b.state = StateVerifying
	rt, ok := b.verify(ctx)
	if !ok {
		b.state = StateUnchecked
		return Runtime{}, false
	}
	rt.WorkerScript = workerScriptPath(b.dir)
	b.rt = rt
	b.state = StateReady
	return rt, true
}

// verify reports whether the venv exists, every required module
// imports, and the installed provider matches an explicit preference.
func (b *Bootstrapper) verify(ctx context.Context) (Runtime, bool) {
	python := venvPythonPath(b.dir)
	if _, err := os.Stat(python); err != nil {
		return Runtime{}, false
	}
	for _, mod := range requiredImports {
		if err := b.runner.run(ctx, python, "-c", "import "+mod); err != nil {
			b.logger.Debug("Runtime dependency missing",
				zap.String("module", mod), zap.Error(err))
			return Runtime{}, false
		}
	}

	installed, err := b.installedProvider(ctx, python)
	if err != nil {
		b.logger.Debug("Provider query failed", zap.Error(err))
		return Runtime{}, false
	}
	if want, pinned := ParseProvider(b.pref); pinned && installed != want {
		b.logger.Info("Installed provider differs from preference",
			zap.String("installed", installed.String()),
			zap.String("preferred", want.String()))
		return Runtime{}, false
	}

	return Runtime{Dir: b.dir, Python: python, Provider: installed}, true
}

func (b *Bootstrapper) install(ctx context.Context) (Runtime, error) {
	b.publish(events.KindStarted, "installing detection runtime")

	base, err := b.findSystemPython(ctx)
	if err != nil {
		return Runtime{}, fmt.Errorf("no usable Python interpreter: %w\n\n%s", err, InstallationGuide())
	}
	b.logger.Info("Using system Python", zap.String("path", base))

	python := venvPythonPath(b.dir)
	if _, err := os.Stat(python); err != nil {
		b.publish(events.KindProgress, "creating isolated environment")
		if err := b.runner.run(ctx, base, "-m", "venv", filepath.Join(b.dir, venvDirName)); err != nil {
			return Runtime{}, fmt.Errorf("create venv: %w", err)
		}
	}

	if err := b.ensurePip(ctx, python); err != nil {
		return Runtime{}, err
	}
	if err := b.runner.run(ctx, python, "-m", "pip", "install", "-U", "pip", "setuptools", "wheel"); err != nil {
		b.logger.Warn("Toolchain upgrade failed, continuing", zap.Error(err))
	}

	for _, pkg := range basePackages {
		b.publish(events.KindProgress, "installing "+pkg)
		if err := b.pipInstall(ctx, python, pkg); err != nil {
			return Runtime{}, fmt.Errorf("install %s: %w", pkg, err)
		}
		b.publish(events.KindSuccess, "installed "+pkg)
	}

	provider, err := b.installProvider(ctx, python)
	if err != nil {
		return Runtime{}, err
	}

	b.publish(events.KindProgress, "installing "+insightfacePackage)
	if err := b.pipInstall(ctx, python, insightfacePackage); err != nil {
		return Runtime{}, fmt.Errorf("install %s: %w", insightfacePackage, err)
	}
	b.publish(events.KindSuccess, "installed "+insightfacePackage)

	for _, mod := range requiredImports {
		if err := b.runner.run(ctx, python, "-c", "import "+mod); err != nil {
			return Runtime{}, fmt.Errorf("verify after install: %w", err)
		}
	}

	if err := b.writeWorkerScript(); err != nil {
		return Runtime{}, fmt.Errorf("write worker script: %w", err)
	}

	return Runtime{
		Dir:          b.dir,
		Python:       python,
		WorkerScript: workerScriptPath(b.dir),
		Provider:     provider,
	}, nil
}

// installProvider walks the candidate chain. A non-CPU candidate must
// actually expose its execution provider after install; if it does not,
// the package is removed and the next candidate is tried.
func (b *Bootstrapper) installProvider(ctx context.Context, python string) (Provider, error) {
	var lastErr error
	for _, prov := range providerCandidates(b.pref, b.probes) {
		b.publish(events.KindProgress, "installing "+prov.Package())
		if err := b.pipInstall(ctx, python, prov.Package()+ortVersionPin); err != nil {
			lastErr = err
			b.logger.Warn("Provider package install failed",
				zap.String("provider", prov.String()), zap.Error(err))
			continue
		}
		if prov != ProviderCPU {
			ok, err := b.hasExecutionProvider(ctx, python, prov)
			if err != nil || !ok {
				lastErr = fmt.Errorf("%s not exposed after install", prov.ExecutionProvider())
				b.logger.Warn("Provider unavailable after install, falling back",
					zap.String("provider", prov.String()))
				if err := b.runner.run(ctx, python, "-m", "pip", "uninstall", "-y", prov.Package()); err != nil {
					b.logger.Warn("Uninstall of rejected provider failed", zap.Error(err))
				}
				continue
			}
		}
		b.publish(events.KindSuccess, "selected provider "+prov.String())
		return prov, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no provider candidate")
	}
	return ProviderCPU, fmt.Errorf("install inference runtime: %w", lastErr)
}

func (b *Bootstrapper) hasExecutionProvider(ctx context.Context, python string, prov Provider) (bool, error) {
	out, err := b.runner.output(ctx, python, "-c",
		"import onnxruntime as ort; print('"+prov.ExecutionProvider()+"' in ort.get_available_providers())")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "True", nil
}

func (b *Bootstrapper) installedProvider(ctx context.Context, python string) (Provider, error) {
	out, err := b.runner.output(ctx, python, "-c",
		"import onnxruntime as ort; print(','.join(ort.get_available_providers()))")
	if err != nil {
		return ProviderCPU, err
	}
	switch {
	case strings.Contains(out, ProviderCUDA.ExecutionProvider()):
		return ProviderCUDA, nil
	case strings.Contains(out, ProviderDirectML.ExecutionProvider()):
		return ProviderDirectML, nil
	default:
		return ProviderCPU, nil
	}
}

// findSystemPython walks the candidate names and keeps the first one
// that runs and reports its own executable path.
func (b *Bootstrapper) findSystemPython(ctx context.Context) (string, error) {
	for _, name := range pythonCandidates {
		path, err := b.lookPath(name)
		if err != nil {
			continue
		}
		out, err := b.runner.output(ctx, path, "-c", "import sys; print(sys.executable)")
		if err != nil || strings.TrimSpace(out) == "" {
			continue
		}
		return strings.TrimSpace(out), nil
	}
	return "", errors.New("no python interpreter on PATH")
}

// ensurePip makes `python -m pip` work inside the venv, falling back
// to ensurepip and then to a downloaded get-pip.py.
func (b *Bootstrapper) ensurePip(ctx context.Context, python string) error {
	if err := b.runner.run(ctx, python, "-m", "pip", "--version"); err == nil {
		return nil
	}
	if err := b.runner.run(ctx, python, "-m", "ensurepip", "--upgrade"); err == nil {
		return nil
	}
	b.publish(events.KindProgress, "bootstrapping pip")
	dest := filepath.Join(b.dir, "get-pip.py")
	if err := b.fetchGetPip(ctx, dest); err != nil {
		return fmt.Errorf("fetch get-pip: %w", err)
	}
	defer os.Remove(dest)
	if err := b.runner.run(ctx, python, dest); err != nil {
		return fmt.Errorf("run get-pip: %w", err)
	}
	return nil
}

func (b *Bootstrapper) pipInstall(ctx context.Context, python, pkg string) error {
	return b.runner.run(ctx, python, "-m", "pip", "install", "-U", pkg)
}

func (b *Bootstrapper) publish(kind events.Kind, msg string) {
	b.bus.Publish(events.Event{Stage: events.StageBootstrap, Kind: kind, Message: msg})
}

func (b *Bootstrapper) publishErr(msg string, err error) {
	b.bus.Publish(events.Event{Stage: events.StageBootstrap, Kind: events.KindError, Message: msg, Err: err})
}

func venvPythonPath(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, venvDirName, "Scripts", "python.exe")
	}
	return filepath.Join(dir, venvDirName, "bin", "python")
}

func workerScriptPath(dir string) string {
	return filepath.Join(dir, scriptsDirName, "worker.py")
}

func downloadGetPip(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getPipURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// InstallationGuide returns per-platform instructions shown when no
// Python interpreter can be found. The installer never downloads an
// interpreter on its own.
func InstallationGuide() string {
	var sb strings.Builder
	sb.WriteString("Python 3.8 or newer is required but was not found.\n")
	switch runtime.GOOS {
	case "windows":
		sb.WriteString("Install it from https://www.python.org/downloads/ and check\n")
		sb.WriteString("\"Add Python to PATH\" in the installer.")
	case "darwin":
		sb.WriteString("Install it with Homebrew: brew install python3")
	default:
		sb.WriteString("Install it with your package manager, for example:\n")
		sb.WriteString("  sudo apt install python3 python3-venv")
	}
	return sb.String()
}
