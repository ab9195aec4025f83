package supervisor

import "errors"

var (
	ErrSpawn          = errors.New("spawn failed")
	ErrStartupTimeout = errors.New("server did not become alive within the start grace period")
	ErrAlreadyStopped = errors.New("server already stopped")
	ErrAlreadyRunning = errors.New("server already running")
	ErrStopTimeout    = errors.New("server still alive after stop timeout")
)

// Restart phases.
const (
	PhaseStop  = "stop"
	PhaseStart = "start"
)

// RestartError tells which half of a restart failed.
type RestartError struct {
	Phase string
	Err   error
}

func (e *RestartError) Error() string {
	return "failed to " + e.Phase + ": " + e.Err.Error()
}

func (e *RestartError) Unwrap() error { return e.Err }
