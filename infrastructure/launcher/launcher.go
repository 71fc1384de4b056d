// Package launcher implements the process launcher port with os/exec.
// Extension processes get piped standard streams and are reaped through
// the returned handle, never through package-level state.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/gantry-dev/gantry/domain/ports"
)

// ExecLauncher starts real operating system processes.
type ExecLauncher struct{}

// NewExecLauncher returns a launcher backed by os/exec.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts the process described by spec with stdin, stdout and stderr
// piped. The context only bounds startup; the running process is controlled
// through the handle so an expired load deadline cannot tear down a healthy
// extension.
func (l *ExecLauncher) Launch(ctx context.Context, spec ports.ProcessSpec) (ports.ProcessHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Command == "" {
		return nil, errors.New("launcher: empty command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start %s: %w", spec.Command, err)
	}

	return &execHandle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (h *execHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *execHandle) Stdout() io.Reader     { return h.stdout }
func (h *execHandle) Stderr() io.Reader     { return h.stderr }

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	return h.signal(os.Kill)
}

// signal delivers sig, treating an already-exited process as success.
func (h *execHandle) signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
