// Package xchainctl supervises the processes of a local sidechain network:
// chain nodes and witness nodes tracked in one registry.
package xchainctl

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/xchainctl/internal/adminrpc"
	cfg "github.com/loykin/xchainctl/internal/config"
	"github.com/loykin/xchainctl/internal/env"
	"github.com/loykin/xchainctl/internal/fleet"
	"github.com/loykin/xchainctl/internal/history"
	"github.com/loykin/xchainctl/internal/history/factory"
	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	iapi "github.com/loykin/xchainctl/internal/server"
	"github.com/loykin/xchainctl/internal/supervisor"
	tlsutil "github.com/loykin/xchainctl/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ServerRecord = record.ServerRecord

type Kind = record.Kind

type ChainEndpoints = record.ChainEndpoints

type WitnessEndpoints = record.WitnessEndpoints

type Entry = fleet.Entry

type State = liveness.State

type Response = adminrpc.Response

type Signal = process.Signal

type RestartError = supervisor.RestartError

type OpError = record.OpError

const (
	KindChain   = record.KindChain
	KindWitness = record.KindWitness

	Alive  = liveness.Alive
	Zombie = liveness.Zombie
	Dead   = liveness.Dead
)

var (
	ErrNotFound          = registry.ErrNotFound
	ErrCorrupt           = registry.ErrCorrupt
	ErrWrite             = registry.ErrWrite
	ErrLocked            = registry.ErrLocked
	ErrSpawn             = supervisor.ErrSpawn
	ErrStartupTimeout    = supervisor.ErrStartupTimeout
	ErrAlreadyStopped    = supervisor.ErrAlreadyStopped
	ErrAlreadyRunning    = supervisor.ErrAlreadyRunning
	ErrStopTimeout       = supervisor.ErrStopTimeout
	ErrUnreachable       = adminrpc.ErrUnreachable
	ErrMalformedResponse = adminrpc.ErrMalformedResponse
)

func DefaultConfig() *Config                  { return cfg.Default() }
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func NewChain(name, exe, config string, ep ChainEndpoints) (ServerRecord, error) {
	return record.NewChain(name, exe, config, ep)
}

func NewWitness(name, exe, config string, ep WitnessEndpoints) (ServerRecord, error) {
	return record.NewWitness(name, exe, config, ep)
}

func ParseKind(s string) (Kind, error)     { return record.ParseKind(s) }
func ParseSignal(s string) (Signal, error) { return process.ParseSignal(s) }

// Option customises New.
type Option func(*options)

type options struct {
	logger *slog.Logger
	reap   bool
	prober liveness.Prober
}

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithReaping makes the fleet wait on the nodes it spawns. Long-running hosts
// (the HTTP API) want this; a short-lived CLI does not.
func WithReaping() Option { return func(o *options) { o.reap = true } }

// WithProber replaces the OS liveness prober.
func WithProber(p liveness.Prober) Option { return func(o *options) { o.prober = p } }

// Fleet is a thin facade over the fleet service for embedding.
type Fleet struct {
	svc     *fleet.Service
	store   *registry.FileStore
	history *history.Recorder
	cfg     *Config
	logger  *slog.Logger
}

// New wires the registry, prober, spawner, RPC client and history sinks described by c.
// A nil c uses DefaultConfig. Close releases the history sinks.
func New(c *Config, opts ...Option) (*Fleet, error) {
	if c == nil {
		c = DefaultConfig()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), prober: liveness.OSProber{}}
	for _, opt := range opts {
		opt(&o)
	}

	var rpcTLS *tls.Config
	if c.RPC.TLS.Enabled {
		t, err := tlsutil.ClientConfig(c.RPC.TLS)
		if err != nil {
			return nil, err
		}
		rpcTLS = t
	}
	sinks, err := factory.NewSinks(c.History.Sinks)
	if err != nil {
		return nil, err
	}
	rec := history.NewRecorder(o.logger, sinks...)

	store := registry.NewFileStore(filepath.Join(c.Home, registry.FileName), registry.Options{
		LockTimeout: c.LockTimeout,
		Logger:      o.logger,
	})
	spawner := &process.Spawner{Env: env.FromList(c.Env, c.UseOSEnv), Reap: o.reap, Logger: o.logger}
	sup := supervisor.New(store, o.prober, spawner, supervisor.Options{
		Home:             c.Home,
		StartGrace:       c.StartGrace,
		StopTimeout:      c.StopTimeout,
		PollInterval:     c.PollInterval,
		KillAfterTimeout: c.KillAfterTimeout,
		ProbeWorkers:     c.ProbeWorkers,
		Logger:           o.logger,
		History:          rec,
	})
	rpc := adminrpc.New(adminrpc.Options{Timeout: c.RPC.Timeout, TLS: rpcTLS, Logger: o.logger})
	svc := fleet.New(sup, rpc, fleet.Options{Home: c.Home, ProbeWorkers: c.ProbeWorkers, Logger: o.logger})
	return &Fleet{svc: svc, store: store, history: rec, cfg: c, logger: o.logger}, nil
}

// Close releases history sink connections.
func (f *Fleet) Close() error { return f.history.Close() }

// RegistryPath is the registry document location.
func (f *Fleet) RegistryPath() string { return f.store.Path() }

// Home is the directory holding the registry and node output logs.
func (f *Fleet) Home() string { return f.cfg.Home }

func (f *Fleet) ListServers(ctx context.Context, kinds ...Kind) ([]Entry, error) {
	return f.svc.ListServers(ctx, kinds...)
}
func (f *Fleet) Get(ctx context.Context, name string) (ServerRecord, error) {
	return f.svc.Get(ctx, name)
}
func (f *Fleet) CaptureOutput(ctx context.Context, name string, tail int) (string, error) {
	return f.svc.CaptureOutput(ctx, name, tail)
}
func (f *Fleet) Start(ctx context.Context, spec ServerRecord) (ServerRecord, error) {
	return f.svc.Start(ctx, spec)
}
func (f *Fleet) Stop(ctx context.Context, name string, sig Signal) error {
	return f.svc.Stop(ctx, name, sig)
}
func (f *Fleet) StopAll(ctx context.Context, sig Signal) ([]string, error) {
	return f.svc.StopAll(ctx, sig)
}
func (f *Fleet) Restart(ctx context.Context, name string) (ServerRecord, error) {
	return f.svc.Restart(ctx, name)
}
func (f *Fleet) RestartAll(ctx context.Context) ([]ServerRecord, error) {
	return f.svc.RestartAll(ctx)
}
func (f *Fleet) Prune(ctx context.Context) ([]string, error) { return f.svc.Prune(ctx) }
func (f *Fleet) Request(ctx context.Context, name, method string, params any) (Response, error) {
	return f.svc.Request(ctx, name, method, params)
}
func (f *Fleet) RequestWS(ctx context.Context, name, method string, params any) (Response, error) {
	return f.svc.RequestWS(ctx, name, method, params)
}

// NewHTTPServer builds the HTTP API server for f from the [server] section.
// A nil gatherer serves the default prometheus registry.
func NewHTTPServer(f *Fleet, sc cfg.ServerConfig, gatherer prometheus.Gatherer) (*http.Server, error) {
	if f == nil {
		return nil, errors.New("nil fleet")
	}
	return iapi.NewServer(sc, f.svc, gatherer, f.logger)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// WriteMetricsTextfile dumps the default registry in node-exporter textfile format.
func WriteMetricsTextfile(path string) error { return metrics.WriteTextfile(path, nil) }
