package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExecSpawner starts workers as child processes and forwards their output to the log.
type ExecSpawner struct {
	logger zerolog.Logger
	output *Output
}

// NewExecSpawner creates a spawner. output may be nil when no tail is kept.
func NewExecSpawner(logger zerolog.Logger, output *Output) *ExecSpawner {
	return &ExecSpawner{
		logger: logger.With().Str("component", "worker").Logger(),
		output: output,
	}
}

// Output returns the shared output buffer.
func (s *ExecSpawner) Output() *Output {
	return s.output
}

// Spawn starts the worker. The process is not bound to ctx: it runs until
// Stop is called or it exits on its own.
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Executable, spec.Args()...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	prepare(cmd)

	// The child writes straight into os pipes. Wait then returns when the
	// worker exits even if processes it started still hold the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return nil, fmt.Errorf("start %s: %w", spec.Executable, err)
	}

	p := &execProcess{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	p.tree, err = newProcessTree(cmd.Process)
	if err != nil {
		s.logger.Warn().Err(err).Int("pid", p.pid).Msg("Child processes will not be tracked")
	}

	s.logger.Info().
		Int("pid", p.pid).
		Str("executable", spec.Executable).
		Strs("args", spec.Args()).
		Msg("Worker started")

	go func() {
		defer stdoutR.Close()
		forward(stdoutR, StreamStdout, p.pid, s.logger, s.output)
	}()
	go func() {
		defer stderrR.Close()
		forward(stderrR, StreamStderr, p.pid, s.logger, s.output)
	}()

	go func() {
		waitErr := cmd.Wait()

		// Anything the worker left behind goes with it.
		if p.tree != nil {
			if err := p.tree.kill(); err != nil {
				s.logger.Warn().Err(err).Int("pid", p.pid).Msg("Failed to kill worker children")
			}
			p.tree.release()
		}
		p.finish(waitErr)

		event := s.logger.Info()
		if waitErr != nil && !p.stopRequested() {
			event = s.logger.Error().Err(waitErr)
		}
		event.Int("pid", p.pid).Int("exitCode", cmd.ProcessState.ExitCode()).Msg("Worker exited")
	}()

	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// processTree is the worker together with the processes it starts.
type processTree interface {
	terminate() error
	kill() error
	release()
}

type execProcess struct {
	cmd  *exec.Cmd
	pid  int
	tree processTree
	done chan struct{}

	mu       sync.Mutex
	err      error
	stopping bool
}

func (p *execProcess) PID() int { return p.pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *execProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *execProcess) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// killWait bounds how long Stop waits for the process to be reaped after
// a kill.
const killWait = 5 * time.Second

// Stop sends the termination signal to the worker and its children and
// waits for exit. When ctx ends first they are killed. Stopping an exited
// process is a no-op.
func (p *execProcess) Stop(ctx context.Context) error {
	if !p.Running() {
		return nil
	}

	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	if err := p.terminate(); err != nil {
		if killErr := p.kill(); killErr != nil {
			return fmt.Errorf("kill worker %d: %w", p.pid, killErr)
		}
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	if err := p.kill(); err != nil {
		return fmt.Errorf("kill worker %d: %w", p.pid, err)
	}

	timer := time.NewTimer(killWait)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("worker %d did not exit within %s of kill", p.pid, killWait)
	}
}

func (p *execProcess) terminate() error {
	var err error
	if p.tree != nil {
		err = p.tree.terminate()
	} else {
		err = terminate(p.cmd.Process)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) kill() error {
	var err error
	if p.tree != nil {
		err = p.tree.kill()
	}
	if killErr := p.cmd.Process.Kill(); err == nil && !errors.Is(killErr, os.ErrProcessDone) {
		err = killErr
	}
	return err
}
