package supervisor

import (
	"errors"
	"sync"

	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
)

// fakeOS is an in-memory process table acting as both Launcher and Prober.
type fakeOS struct {
	mu       sync.Mutex
	next     int
	states   map[int]liveness.State
	ignored  map[process.Signal]bool
	spawnErr error
	// spawnState is the state new processes report; Alive when unset.
	spawnState liveness.State
	signals    []process.Signal
	spawned    []process.Spec
}

func newFakeOS() *fakeOS {
	return &fakeOS{next: 1000, states: map[int]liveness.State{}, ignored: map[process.Signal]bool{}, spawnState: liveness.Alive}
}

func (f *fakeOS) Spawn(spec process.Spec) (process.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return process.Handle{}, f.spawnErr
	}
	f.next++
	f.states[f.next] = f.spawnState
	f.spawned = append(f.spawned, spec)
	return process.Handle{PID: f.next}, nil
}

func (f *fakeOS) Terminate(pid int, sig process.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	if f.states[pid] == liveness.Dead {
		return process.ErrNoProcess
	}
	if !f.ignored[sig] {
		f.states[pid] = liveness.Dead
	}
	return nil
}

func (f *fakeOS) Probe(rec record.ServerRecord) liveness.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[rec.PID]
}

func (f *fakeOS) set(pid int, st liveness.State) {
	f.mu.Lock()
	f.states[pid] = st
	f.mu.Unlock()
}

func (f *fakeOS) failSpawns(err error) {
	f.mu.Lock()
	f.spawnErr = err
	f.mu.Unlock()
}

var errNoExe = errors.New("exec: no such file")
