package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// defaultWaitDelay bounds how long Wait blocks on output pipes after the
// process has been signalled.
const defaultWaitDelay = 5 * time.Second

// Process is a started process whose output streams can be read.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits. It must only be called after both
	// streams have been read to EOF.
	Wait() error
}

// Starter starts processes.
type Starter interface {
	Start(ctx context.Context, name string, args []string) (Process, error)
}

// ExecStarter starts real processes. Each process leads its own process
// group; when ctx is cancelled the group is sent SIGTERM (the process is
// killed on Windows), and the process is killed after WaitDelay.
type ExecStarter struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// WaitDelay overrides the default grace given after cancellation.
	WaitDelay time.Duration
}

// Start implements Starter.
func (s ExecStarter) Start(ctx context.Context, name string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // Command comes from config
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
