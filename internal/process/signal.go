package process

import (
	"fmt"
	"strings"
	"syscall"
)

// Signal is the termination signal sent on stop.
type Signal = syscall.Signal

// ParseSignal accepts INT, TERM, KILL, HUP and QUIT, with or without the SIG prefix.
// An empty name yields SIGINT.
func ParseSignal(name string) (Signal, error) {
	n := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	switch n {
	case "", "INT":
		return syscall.SIGINT, nil
	case "TERM":
		return syscall.SIGTERM, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "HUP":
		return syscall.SIGHUP, nil
	case "QUIT":
		return syscall.SIGQUIT, nil
	}
	return 0, fmt.Errorf("unsupported signal %q", name)
}
