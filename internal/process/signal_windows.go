//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// Terminate ends the process. Windows has no signals, so every sig terminates.
func Terminate(pid int, _ Signal) error {
	if pid <= 0 {
		return ErrNoProcess
	}
	h, _, _ := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(pid))
	if h == 0 {
		return ErrNoProcess
	}
	defer func() { _, _, _ = procCloseHandle.Call(h) }()
	if ret, _, err := procTerminateProcess.Call(h, 1); ret == 0 {
		return err
	}
	return nil
}
