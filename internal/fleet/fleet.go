// Package fleet is the single entry point the CLI, the HTTP API and the embedding
// facade use to query and drive the registered servers.
package fleet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/xchainctl/internal/adminrpc"
	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	"github.com/loykin/xchainctl/internal/supervisor"
)

// Entry is a listed server with the state observed while listing.
type Entry struct {
	Record record.ServerRecord
	State  liveness.State
}

type Options struct {
	Home         string
	ProbeWorkers int
	Logger       *slog.Logger
}

type Service struct {
	sup    *supervisor.Supervisor
	rpc    *adminrpc.Client
	opts   Options
	logger *slog.Logger
}

func New(sup *supervisor.Supervisor, rpc *adminrpc.Client, opts Options) *Service {
	if opts.ProbeWorkers <= 0 {
		opts.ProbeWorkers = supervisor.DefaultProbeWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if rpc == nil {
		rpc = adminrpc.New(adminrpc.Options{Logger: opts.Logger})
	}
	return &Service{sup: sup, rpc: rpc, opts: opts, logger: opts.Logger}
}

// ListServers prunes terminated servers and returns the rest, chains first,
// each kind in insertion order.
func (s *Service) ListServers(ctx context.Context, kinds ...record.Kind) ([]Entry, error) {
	if _, err := s.sup.PruneDead(ctx); err != nil {
		return nil, err
	}
	recs, err := s.sup.Store().GetAll(ctx, kinds...)
	if err != nil {
		return nil, record.WrapOp("list", "", err)
	}
	results, err := liveness.ProbeAll(ctx, s.sup.Prober(), recs, s.opts.ProbeWorkers)
	if err != nil {
		return nil, record.WrapOp("list", "", err)
	}
	out := make([]Entry, 0, len(results))
	counts := map[[2]string]int{}
	var alive []metrics.NodeRef
	for _, r := range results {
		counts[[2]string{r.Record.Kind.String(), r.State.String()}]++
		// died after pruning; the next store-touching call removes it
		if r.State == liveness.Dead {
			continue
		}
		out = append(out, Entry{Record: r.Record, State: r.State})
		if r.State == liveness.Alive {
			alive = append(alive, metrics.NodeRef{Name: r.Record.Name, Kind: r.Record.Kind.String(), PID: r.Record.PID})
		}
	}
	metrics.SetFleet(counts)
	metrics.CollectNodes(alive)
	return out, nil
}

// Get returns the registered record for name.
func (s *Service) Get(ctx context.Context, name string) (record.ServerRecord, error) {
	rec, err := s.sup.Store().Get(ctx, name)
	return rec, record.WrapOp("get", name, err)
}

// CaptureOutput returns the server's captured output, or its last tail lines when tail > 0.
// A log that does not exist yet reads as empty.
func (s *Service) CaptureOutput(ctx context.Context, name string, tail int) (string, error) {
	rec, err := s.sup.Store().Get(ctx, name)
	if err != nil {
		return "", record.WrapOp("print", name, err)
	}
	out, err := ReadTail(rec.LogFile(s.opts.Home), tail)
	return out, record.WrapOp("print", name, err)
}

// Request relays an admin call to the named server over HTTP.
func (s *Service) Request(ctx context.Context, name, method string, params any) (adminrpc.Response, error) {
	rec, err := s.sup.Store().Get(ctx, name)
	if err != nil {
		return adminrpc.Response{}, record.WrapOp("request", name, err)
	}
	return s.rpc.Request(ctx, rec, method, params)
}

// RequestWS relays an admin call over a chain server's WebSocket endpoint.
func (s *Service) RequestWS(ctx context.Context, name, method string, params any) (adminrpc.Response, error) {
	rec, err := s.sup.Store().Get(ctx, name)
	if err != nil {
		return adminrpc.Response{}, record.WrapOp("request", name, err)
	}
	return s.rpc.RequestWS(ctx, rec, method, params)
}

func (s *Service) Start(ctx context.Context, spec record.ServerRecord) (record.ServerRecord, error) {
	return s.sup.Start(ctx, spec)
}

func (s *Service) Stop(ctx context.Context, name string, sig process.Signal) error {
	return s.sup.Stop(ctx, name, sig)
}

func (s *Service) Restart(ctx context.Context, name string) (record.ServerRecord, error) {
	return s.sup.Restart(ctx, name)
}

func (s *Service) Prune(ctx context.Context) ([]string, error) {
	return s.sup.PruneDead(ctx)
}

// StopAll stops every registered server in listing order. Already stopped servers
// are not failures. It keeps going after an error and returns all of them joined.
func (s *Service) StopAll(ctx context.Context, sig process.Signal) ([]string, error) {
	recs, err := s.sup.Store().GetAll(ctx)
	if err != nil {
		return nil, record.WrapOp("stop", "", err)
	}
	var stopped []string
	var errs []error
	for _, rec := range recs {
		err := s.sup.Stop(ctx, rec.Name, sig)
		switch {
		case err == nil, errors.Is(err, supervisor.ErrAlreadyStopped):
			stopped = append(stopped, rec.Name)
		case errors.Is(err, registry.ErrNotFound):
			// removed concurrently
		default:
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return stopped, errors.Join(errs...)
}

// RestartAll restarts every registered server in listing order, continuing past failures.
func (s *Service) RestartAll(ctx context.Context) ([]record.ServerRecord, error) {
	recs, err := s.sup.Store().GetAll(ctx)
	if err != nil {
		return nil, record.WrapOp("restart", "", err)
	}
	var out []record.ServerRecord
	var errs []error
	for _, rec := range recs {
		nr, err := s.sup.Restart(ctx, rec.Name)
		if err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				errs = append(errs, err)
			}
		} else {
			out = append(out, nr)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return out, errors.Join(errs...)
}
