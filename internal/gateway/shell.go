// Package gateway samples host telemetry and inventory and publishes
// the results onto the bus.
package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single host command.
const DefaultCommandTimeout = 10 * time.Second

// ShellRunner executes a host command and returns its stdout.
type ShellRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct {
	timeout time.Duration
}

// NewShellRunner returns a ShellRunner backed by exec.CommandContext
// with a per-command timeout.
func NewShellRunner(timeout time.Duration) ShellRunner {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return execRunner{timeout: timeout}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", name, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}
