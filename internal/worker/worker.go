// Package worker launches and supervises the backend process the window talks to.
package worker

import (
	"context"
	"strconv"
)

// Spec describes one worker launch.
type Spec struct {
	Executable string
	Script     string
	Port       int
	Dir        string
	// Env is appended to the parent environment.
	Env []string
}

// Args returns the command line after the executable: <script> --port <N>.
func (s Spec) Args() []string {
	return []string{s.Script, "--port", strconv.Itoa(s.Port)}
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// Process is a running (or exited) worker.
type Process interface {
	PID() int
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
	// Err returns the exit error after Done is closed. A clean exit is nil.
	Err() error
	Running() bool
	// Stop asks the process to exit and kills it if ctx expires first.
	Stop(ctx context.Context) error
}
