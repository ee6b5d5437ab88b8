package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes one packet-filter command
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner runs the adapter binary (iptables by default) as a child process
type ExecRunner struct {
	Command string
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner for command
func NewExecRunner(command string) *ExecRunner {
	if command == "" {
		command = "iptables"
	}
	return &ExecRunner{Command: command, Timeout: 10 * time.Second}
}

// Run executes the command and returns its combined output on failure
func (r *ExecRunner) Run(ctx context.Context, args ...string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", r.Command, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return nil
}
