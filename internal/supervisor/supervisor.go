// Package supervisor starts, stops, restarts and prunes registered node processes.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/loykin/xchainctl/internal/history"
	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
)

const (
	DefaultStartGrace   = 2 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
	DefaultProbeWorkers = 8
)

// Launcher spawns and signals OS processes.
type Launcher interface {
	Spawn(spec process.Spec) (process.Handle, error)
	Terminate(pid int, sig process.Signal) error
}

var _ Launcher = (*process.Spawner)(nil)

// Options tune a Supervisor. Zero values take the package defaults.
type Options struct {
	// Home is where <name>.out logs go for records without an explicit log path.
	Home             string
	StartGrace       time.Duration
	StopTimeout      time.Duration
	PollInterval     time.Duration
	KillAfterTimeout bool
	ProbeWorkers     int
	Logger           *slog.Logger
	History          *history.Recorder
}

type Supervisor struct {
	store    registry.Store
	prober   liveness.Prober
	launcher Launcher
	opts     Options
	logger   *slog.Logger
}

func New(store registry.Store, prober liveness.Prober, launcher Launcher, opts Options) *Supervisor {
	if opts.StartGrace <= 0 {
		opts.StartGrace = DefaultStartGrace
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = DefaultProbeWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{store: store, prober: prober, launcher: launcher, opts: opts, logger: opts.Logger}
}

// Store exposes the registry the supervisor mutates.
func (s *Supervisor) Store() registry.Store { return s.store }

// Prober exposes the liveness prober in use.
func (s *Supervisor) Prober() liveness.Prober { return s.prober }

// Start spawns spec's executable, waits for it to come alive and records the new pid.
// Any pid in spec is ignored. A process that does not come alive in time is left running and not recorded.
func (s *Supervisor) Start(ctx context.Context, spec record.ServerRecord) (record.ServerRecord, error) {
	rec, err := s.start(ctx, spec)
	s.opts.History.Record(ctx, history.NewEvent(history.EventStart, rec, err))
	return rec, record.WrapOp("start", spec.Name, err)
}

func (s *Supervisor) start(ctx context.Context, spec record.ServerRecord) (record.ServerRecord, error) {
	spec = spec.Clone().WithRun(0, 0)
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	if cur, err := s.store.Get(ctx, spec.Name); err == nil {
		if s.prober.Probe(cur) == liveness.Alive {
			return cur, fmt.Errorf("%w: pid %d", ErrAlreadyRunning, cur.PID)
		}
	} else if !errors.Is(err, registry.ErrNotFound) {
		return spec, err
	}
	rec, err := s.launch(ctx, spec)
	if err != nil {
		return rec, err
	}
	// the node runs now; record it even if the caller gave up meanwhile
	if err := s.store.Upsert(context.WithoutCancel(ctx), rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// launch spawns the node and waits up to StartGrace for it to be Alive.
func (s *Supervisor) launch(ctx context.Context, spec record.ServerRecord) (record.ServerRecord, error) {
	h, err := s.launcher.Spawn(process.Spec{
		Name:    spec.Name,
		Exe:     spec.Exe,
		Config:  spec.Config,
		LogPath: spec.LogFile(s.opts.Home),
	})
	if err != nil {
		return spec, fmt.Errorf("%w: %s: %w", ErrSpawn, spec.Exe, err)
	}
	rec := spec.WithRun(h.PID, h.StartedAt)
	began := time.Now()
	st, err := s.waitFor(ctx, rec, s.opts.StartGrace, func(st liveness.State) bool { return st == liveness.Alive })
	if err != nil {
		return rec, err
	}
	metrics.ObserveStartWait(rec.Kind.String(), time.Since(began))
	if st != liveness.Alive {
		s.logger.Warn("node not alive after start grace", "name", rec.Name, "pid", rec.PID, "state", st)
		return rec, fmt.Errorf("%w: pid %d is %s after %s", ErrStartupTimeout, rec.PID, st, s.opts.StartGrace)
	}
	metrics.IncStart(rec.Name, rec.Kind.String())
	s.logger.Info("node started", "name", rec.Name, "kind", rec.Kind, "pid", rec.PID)
	return rec, nil
}

// Stop signals the named node, waits for it to terminate and removes its record.
// A node that was already gone is pruned and reported with ErrAlreadyStopped.
func (s *Supervisor) Stop(ctx context.Context, name string, sig process.Signal) error {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return record.WrapOp("stop", name, err)
	}
	err = s.terminate(ctx, rec, sig)
	if err == nil || errors.Is(err, ErrAlreadyStopped) {
		if rerr := s.removeRun(ctx, rec); rerr != nil {
			err = rerr
		}
	}
	s.opts.History.Record(ctx, history.NewEvent(history.EventStop, rec, err))
	return record.WrapOp("stop", name, err)
}

// terminate signals rec's process and polls until it is Dead or Zombie.
// The record is not touched.
func (s *Supervisor) terminate(ctx context.Context, rec record.ServerRecord, sig process.Signal) error {
	if s.prober.Probe(rec).Terminated() {
		s.logger.Warn("node already stopped", "name", rec.Name, "pid", rec.PID)
		return fmt.Errorf("%w: pid %d", ErrAlreadyStopped, rec.PID)
	}
	if err := s.launcher.Terminate(rec.PID, sig); err != nil {
		if errors.Is(err, process.ErrNoProcess) {
			return fmt.Errorf("%w: pid %d", ErrAlreadyStopped, rec.PID)
		}
		return err
	}
	done := func(st liveness.State) bool { return st.Terminated() }
	st, err := s.waitFor(ctx, rec, s.opts.StopTimeout, done)
	if err != nil {
		return err
	}
	if !done(st) && s.opts.KillAfterTimeout {
		s.logger.Warn("node ignored signal, killing", "name", rec.Name, "pid", rec.PID, "signal", sig)
		if err := s.launcher.Terminate(rec.PID, syscall.SIGKILL); err != nil && !errors.Is(err, process.ErrNoProcess) {
			return err
		}
		if st, err = s.waitFor(ctx, rec, s.opts.StopTimeout, done); err != nil {
			return err
		}
	}
	if !done(st) {
		return fmt.Errorf("%w: pid %d after %s", ErrStopTimeout, rec.PID, s.opts.StopTimeout)
	}
	metrics.IncStop(rec.Name, rec.Kind.String())
	s.logger.Info("node stopped", "name", rec.Name, "pid", rec.PID, "state", st)
	return nil
}

// removeRun drops rec unless another invocation already replaced its run.
// Termination is confirmed at this point, so the write ignores cancellation.
func (s *Supervisor) removeRun(ctx context.Context, rec record.ServerRecord) error {
	return s.store.Update(context.WithoutCancel(ctx), func(reg *registry.Registry) error {
		reg.RemoveRun(rec.Name, rec.PID)
		return nil
	})
}

// Restart stops the named node and starts it again from the same record.
// The new run replaces the record in place. Unknown names fail with registry.ErrNotFound
// and leave the registry untouched; other failures are *RestartError.
func (s *Supervisor) Restart(ctx context.Context, name string) (record.ServerRecord, error) {
	old, err := s.store.Get(ctx, name)
	if err != nil {
		return record.ServerRecord{}, record.WrapOp("restart", name, err)
	}
	rec, err := s.restart(ctx, old)
	metrics.IncRestart(name, old.Kind.String(), err == nil)
	ev := old
	if err == nil {
		ev = rec
	}
	s.opts.History.Record(ctx, history.NewEvent(history.EventRestart, ev, err))
	return rec, record.WrapOp("restart", name, err)
}

func (s *Supervisor) restart(ctx context.Context, old record.ServerRecord) (record.ServerRecord, error) {
	if err := s.terminate(ctx, old, syscall.SIGINT); err != nil && !errors.Is(err, ErrAlreadyStopped) {
		return old, &RestartError{Phase: PhaseStop, Err: err}
	}
	rec, err := s.launch(ctx, old.Clone().WithRun(0, 0))
	if err != nil {
		// the old run is confirmed gone
		if rerr := s.removeRun(ctx, old); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return old, &RestartError{Phase: PhaseStart, Err: err}
	}
	err = s.store.Update(context.WithoutCancel(ctx), func(reg *registry.Registry) error {
		return reg.Upsert(rec)
	})
	if err != nil {
		return rec, &RestartError{Phase: PhaseStart, Err: err}
	}
	return rec, nil
}

// PruneDead removes every record whose process is Dead or a Zombie and returns the removed names.
// Records rewritten by another invocation since probing are kept.
func (s *Supervisor) PruneDead(ctx context.Context) ([]string, error) {
	recs, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, record.WrapOp("prune", "", err)
	}
	results, err := liveness.ProbeAll(ctx, s.prober, recs, s.opts.ProbeWorkers)
	if err != nil {
		return nil, record.WrapOp("prune", "", err)
	}
	var dead []liveness.Result
	for _, r := range results {
		if r.State.Terminated() {
			dead = append(dead, r)
		}
	}
	if len(dead) == 0 {
		return nil, nil
	}
	var removed []liveness.Result
	err = s.store.Update(ctx, func(reg *registry.Registry) error {
		removed = removed[:0]
		for _, r := range dead {
			if reg.RemoveRun(r.Record.Name, r.Record.PID) {
				removed = append(removed, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, record.WrapOp("prune", "", err)
	}
	names := make([]string, 0, len(removed))
	for _, r := range removed {
		names = append(names, r.Record.Name)
		metrics.IncPrune(r.Record.Kind.String(), r.State.String())
		s.logger.Info("pruned node", "name", r.Record.Name, "pid", r.Record.PID, "state", r.State)
		s.opts.History.Record(ctx, history.NewEvent(history.EventPrune, r.Record, nil))
	}
	return names, nil
}

// waitFor polls rec until done reports true or d elapses, returning the last state seen.
// Only cancellation of ctx is an error.
func (s *Supervisor) waitFor(ctx context.Context, rec record.ServerRecord, d time.Duration, done func(liveness.State) bool) (liveness.State, error) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(s.opts.PollInterval)
	defer tick.Stop()
	for {
		st := s.prober.Probe(rec)
		if done(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-deadline.C:
			return s.prober.Probe(rec), nil
		case <-tick.C:
		}
	}
}
