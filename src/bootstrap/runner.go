package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner runs external tools. Install steps go through it so
// tests can substitute a fake.
type commandRunner interface {
	run(ctx context.Context, name string, args ...string) error
	output(ctx context.Context, name string, args ...string) (string, error)
}

// maxStderrInError bounds how much of a tool's stderr is folded into
// the returned error. Pip failures put the useful part at the end.
const maxStderrInError = 400

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, err, stderr.String())
	}
	return nil
}

func (execRunner) output(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

func commandError(name string, err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if len(msg) > maxStderrInError {
		msg = msg[len(msg)-maxStderrInError:]
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
