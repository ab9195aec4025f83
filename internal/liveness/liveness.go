package liveness

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/xchainctl/internal/record"
)

// State is what the OS says about a record's pid.
type State int

const (
	Dead State = iota
	Zombie
	Alive
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Zombie:
		return "zombie"
	default:
		return "dead"
	}
}

// Terminated reports whether the process will never serve again.
func (s State) Terminated() bool { return s != Alive }

// Prober inspects the process table. Probing never mutates the registry.
// It must be safe for concurrent use.
type Prober interface {
	Probe(rec record.ServerRecord) State
}

// OSProber probes the local process table.
type OSProber struct {
	// NoFencing disables the start-time comparison against StartedAt.
	NoFencing bool
}

var _ Prober = OSProber{}

// Probe never fails: any race with the process exiting resolves to Zombie or Dead.
func (p OSProber) Probe(rec record.ServerRecord) State {
	return probePID(rec.PID, rec.StartedAt, !p.NoFencing)
}

func probePID(pid int, startedAt int64, fence bool) State {
	if pid <= 0 || !pidExists(pid) {
		return Dead
	}
	if isZombie(pid) {
		return Zombie
	}
	if fence && startedAt > 0 {
		// pid reused by an unrelated process
		if cur := StartTime(pid); cur > 0 && !sameStart(cur, startedAt) {
			return Dead
		}
	}
	return Alive
}

// startSlack is the start-time difference, in seconds, still treated as the same process.
const startSlack = 2

func sameStart(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= startSlack
}

// Result pairs a record with its probed state.
type Result struct {
	Record record.ServerRecord
	State  State
}

// ProbeAll probes recs with at most workers concurrent probes. Result order matches recs.
func ProbeAll(ctx context.Context, p Prober, recs []record.ServerRecord, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]Result, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = Result{Record: recs[i], State: p.Probe(recs[i])}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
