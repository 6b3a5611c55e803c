package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"screen-ghost/src/events"
)

// fakeRunner records every command and answers from substring-keyed
// tables, so install flows can be exercised without a real Python.
type fakeRunner struct {
	calls   []string
	fail    map[string]error
	outputs map[string]string
}

func (f *fakeRunner) record(name string, args []string) string {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
	return cmd
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) error {
	cmd := f.record(name, args)
	for sub, err := range f.fail {
		if strings.Contains(cmd, sub) {
			return err
		}
	}
	return nil
}

func (f *fakeRunner) output(_ context.Context, name string, args ...string) (string, error) {
	cmd := f.record(name, args)
	for sub, err := range f.fail {
		if strings.Contains(cmd, sub) {
			return "", err
		}
	}
	for sub, out := range f.outputs {
		if strings.Contains(cmd, sub) {
			return out, nil
		}
	}
	return "", nil
}

func touchVenvPython(t *testing.T, dir string) {
	t.Helper()
	python := venvPythonPath(dir)
	if err := os.MkdirAll(filepath.Dir(python), 0o755); err != nil {
		t.Fatalf("mkdir venv: %v", err)
	}
	if err := os.WriteFile(python, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write python stub: %v", err)
	}
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestEnsureVerifiedRuntimeEmitsNoInstallEvents(t *testing.T) {
	dir := t.TempDir()
	touchVenvPython(t, dir)

	runner := &fakeRunner{outputs: map[string]string{
		"get_available_providers": "CPUExecutionProvider",
	}}
	bus := events.NewBus()
	_, ch := bus.Subscribe(64)

	b := New(Options{Dir: dir, Bus: bus})
	b.runner = runner

	rt, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if b.State() != StateReady {
		t.Errorf("Expected ready state, got %v", b.State())
	}
	if rt.Provider != ProviderCPU {
		t.Errorf("Expected cpu provider, got %v", rt.Provider)
	}
	if rt.WorkerScript != workerScriptPath(dir) {
		t.Errorf("Unexpected worker script path %q", rt.WorkerScript)
	}
	if _, err := os.Stat(rt.WorkerScript); err != nil {
		t.Errorf("Worker script not materialized: %v", err)
	}

	if evs := drainEvents(ch); len(evs) != 0 {
		t.Errorf("Expected zero events on verify path, got %d: %+v", len(evs), evs)
	}
	for _, call := range runner.calls {
		if strings.Contains(call, "pip install") {
			t.Errorf("Verify path ran installer command: %s", call)
		}
	}
}

func TestEnsureIsIdempotentAfterReady(t *testing.T) {
	dir := t.TempDir()
	touchVenvPython(t, dir)

	runner := &fakeRunner{outputs: map[string]string{
		"get_available_providers": "CPUExecutionProvider",
	}}
	b := New(Options{Dir: dir})
	b.runner = runner

	first, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("First ensure failed: %v", err)
	}
	before := len(runner.calls)

	second, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Second ensure failed: %v", err)
	}
	if len(runner.calls) != before {
		t.Errorf("Ready short-circuit ran %d extra commands", len(runner.calls)-before)
	}
	if second != first {
		t.Errorf("Cached runtime changed between calls: %+v vs %+v", first, second)
	}
}

func TestEnsureInstallsMissingRuntime(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{outputs: map[string]string{
		"sys.executable": "/usr/bin/python3",
	}}
	bus := events.NewBus()
	_, ch := bus.Subscribe(64)

	b := New(Options{Dir: dir, ProviderPref: "cpu", Bus: bus})
	b.runner = runner
	b.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	rt, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if b.State() != StateReady {
		t.Errorf("Expected ready state, got %v", b.State())
	}
	if rt.Provider != ProviderCPU {
		t.Errorf("Expected cpu provider, got %v", rt.Provider)
	}

	var sawVenv, sawInsight bool
	for _, call := range runner.calls {
		if strings.Contains(call, "-m venv") {
			sawVenv = true
		}
		if strings.Contains(call, "insightface") {
			sawInsight = true
		}
	}
	if !sawVenv {
		t.Error("Install never created the venv")
	}
	if !sawInsight {
		t.Error("Install never touched insightface")
	}
	if _, err := os.Stat(workerScriptPath(dir)); err != nil {
		t.Errorf("Worker script not materialized: %v", err)
	}

	evs := drainEvents(ch)
	if len(evs) == 0 {
		t.Fatal("Expected install events")
	}
	if evs[0].Kind != events.KindStarted {
		t.Errorf("Expected first event started, got %v", evs[0].Kind)
	}
	if last := evs[len(evs)-1]; last.Kind != events.KindCompleted {
		t.Errorf("Expected last event completed, got %v", last.Kind)
	}
}

func TestInstallFallsBackWhenProviderCheckFails(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{outputs: map[string]string{
		"sys.executable":            "/usr/bin/python3",
		"get_available_providers()": "False",
	}}

	b := New(Options{Dir: dir, ProviderPref: "auto"})
	b.runner = runner
	b.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	b.probes = []probe{
		{ProviderCUDA, func() bool { return true }},
		{ProviderCPU, func() bool { return true }},
	}

	rt, err := b.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if rt.Provider != ProviderCPU {
		t.Errorf("Expected fallback to cpu, got %v", rt.Provider)
	}

	var sawUninstall bool
	for _, call := range runner.calls {
		if strings.Contains(call, "pip uninstall -y onnxruntime-gpu") {
			sawUninstall = true
		}
	}
	if !sawUninstall {
		t.Error("Rejected provider package was not uninstalled")
	}
}

func TestEnsureFailsWhenInstallFails(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		outputs: map[string]string{"sys.executable": "/usr/bin/python3"},
		fail:    map[string]error{"pip install -U numpy": errors.New("no network")},
	}
	bus := events.NewBus()
	_, ch := bus.Subscribe(64)

	b := New(Options{Dir: dir, ProviderPref: "cpu", Bus: bus})
	b.runner = runner
	b.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	if _, err := b.Ensure(context.Background()); !errors.Is(err, ErrFailed) {
		t.Fatalf("Expected ErrFailed, got %v", err)
	}
	if b.State() != StateFailed {
		t.Errorf("Expected failed state, got %v", b.State())
	}

	var sawError bool
	for _, ev := range drainEvents(ch) {
		if ev.Kind == events.KindError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("Expected an error event")
	}
}

func TestEnsureFailsWithoutInterpreter(t *testing.T) {
	b := New(Options{Dir: t.TempDir()})
	b.runner = &fakeRunner{}
	b.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, err := b.Ensure(context.Background())
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("Expected ErrFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Python") {
		t.Errorf("Expected installation guide in error, got: %v", err)
	}
}

func TestVerifyDoesNotInstall(t *testing.T) {
	runner := &fakeRunner{}
	b := New(Options{Dir: t.TempDir()})
	b.runner = runner

	if _, ok := b.Verify(context.Background()); ok {
		t.Fatal("Expected verification to fail for an empty dir")
	}
	if b.State() != StateUnchecked {
		t.Errorf("Expected unchecked state after failed verify, got %v", b.State())
	}
	if len(runner.calls) != 0 {
		t.Errorf("Verify ran commands on a missing venv: %v", runner.calls)
	}
}

func TestVerifyRejectsProviderMismatch(t *testing.T) {
	dir := t.TempDir()
	touchVenvPython(t, dir)

	b := New(Options{Dir: dir, ProviderPref: "cuda"})
	b.runner = &fakeRunner{outputs: map[string]string{
		"get_available_providers": "CPUExecutionProvider",
	}}

	if _, ok := b.Verify(context.Background()); ok {
		t.Error("Expected pinned cuda preference to reject a cpu-only runtime")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUnchecked:  "unchecked",
		StateVerifying:  "verifying",
		StateInstalling: "installing",
		StateReady:      "ready",
		StateFailed:     "failed",
		State(99):       "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
