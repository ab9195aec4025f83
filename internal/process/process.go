package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loykin/xchainctl/internal/env"
	"github.com/loykin/xchainctl/internal/liveness"
)

// ErrNoProcess is returned by Terminate when the pid does not exist.
var ErrNoProcess = errors.New("no such process")

// Spec is what a node needs to be launched.
type Spec struct {
	Name    string
	Exe     string
	Config  string
	LogPath string
	Env     []string // extra K=V pairs for this node only
}

// Handle identifies a launched process.
type Handle struct {
	PID       int
	StartedAt int64
	// Done is closed once the child has been reaped; nil when the spawner does not reap.
	Done <-chan struct{}
}

// Spawner launches node processes as `exe --conf config` in their own process group.
type Spawner struct {
	Env *env.Env
	// Reap makes the spawner wait on children. Long-running hosts set it so exited
	// nodes do not linger as zombies; a short-lived CLI leaves them to init.
	Reap   bool
	Logger *slog.Logger
}

// Spawn starts the node with stdout and stderr appended to spec.LogPath.
// The child is never killed by the spawner, whatever happens to the caller.
func (s *Spawner) Spawn(spec Spec) (Handle, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Exe == "" {
		return Handle{}, fmt.Errorf("%s: empty executable", spec.Name)
	}
	if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o750); err != nil {
		return Handle{}, fmt.Errorf("log dir: %w", err)
	}
	// The child keeps its own descriptor; ours is closed once it has started.
	out, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return Handle{}, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = out.Close() }()

	cmd := exec.Command(spec.Exe, "--conf", spec.Config)
	cmd.Stdout = out
	cmd.Stderr = out
	if s.Env != nil {
		cmd.Env = s.Env.Merge(spec.Env)
	} else if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return Handle{}, err
	}
	h := Handle{PID: cmd.Process.Pid, StartedAt: liveness.StartTime(cmd.Process.Pid)}
	if s.Reap {
		done := make(chan struct{})
		h.Done = done
		go func() {
			err := cmd.Wait()
			logger.Debug("node exited", "name", spec.Name, "pid", h.PID, "error", err)
			close(done)
		}()
	} else {
		_ = cmd.Process.Release()
	}
	logger.Debug("node spawned", "name", spec.Name, "pid", h.PID, "log", spec.LogPath)
	return h, nil
}

// Terminate delivers sig to the process group led by pid, falling back to the pid alone.
func (s *Spawner) Terminate(pid int, sig Signal) error {
	return Terminate(pid, sig)
}
