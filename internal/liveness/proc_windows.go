//go:build windows

package liveness

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

func pidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// Windows has no zombie state.
func isZombie(int) bool { return false }

// StartTime returns the process creation time as Unix seconds, 0 when unavailable.
func StartTime(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
