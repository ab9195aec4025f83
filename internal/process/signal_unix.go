//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group for group signaling.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends sig to the process group of pid. Records written by other tools
// may point at a process that is not a group leader, so a missing group retries the pid.
func Terminate(pid int, sig Signal) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return ErrNoProcess
	}
	return err
}
