package ports

import (
	"context"
	"io"
)

// ProcessLauncher starts long-running extension processes. Infrastructure
// adapters implement this so the stdio transport can be tested without
// spawning real binaries.
type ProcessLauncher interface {
	// Launch starts the process with piped standard streams.
	Launch(ctx context.Context, spec ProcessSpec) (ProcessHandle, error)
}

// ProcessSpec holds parameters for launching an extension process.
type ProcessSpec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// ProcessHandle is a running extension process.
type ProcessHandle interface {
	// Stdin is the process's input stream.
	Stdin() io.WriteCloser

	// Stdout is the process's output stream.
	Stdout() io.Reader

	// Stderr is the process's diagnostic stream.
	Stderr() io.Reader

	// PID returns the operating system process id.
	PID() int

	// Wait blocks until the process exits and returns its exit error.
	// It must be called exactly once.
	Wait() error

	// Terminate asks the process to exit (SIGTERM). Safe to call after
	// exit.
	Terminate() error

	// Kill terminates the process immediately. Safe to call after exit.
	Kill() error
}
