//go:build !windows

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// prepare starts the worker as the leader of a new process group.
func prepare(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processGroup signals every process in the worker's group.
type processGroup struct {
	pgid int
}

func newProcessTree(p *os.Process) (processTree, error) {
	return processGroup{pgid: p.Pid}, nil
}

func (g processGroup) terminate() error { return g.signal(syscall.SIGTERM) }

func (g processGroup) kill() error { return g.signal(syscall.SIGKILL) }

func (g processGroup) release() {}

func (g processGroup) signal(sig syscall.Signal) error {
	err := syscall.Kill(-g.pgid, sig)
	// macOS reports EPERM for a group left with only zombies.
	if err == nil || errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		return nil
	}
	return err
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
