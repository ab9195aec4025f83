package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xchainctl"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	nodeStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "starts_total",
			Help:      "Number of successful node starts.",
		}, []string{"name", "kind"},
	)
	nodeStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "stops_total",
			Help:      "Number of confirmed node stops.",
		}, []string{"name", "kind"},
	)
	nodeRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "restarts_total",
			Help:      "Number of restarts by outcome.",
		}, []string{"name", "kind", "outcome"},
	)
	nodePrunes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "prunes_total",
			Help:      "Registry entries removed because their process had terminated.",
		}, []string{"kind", "state"},
	)
	nodeStartWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "start_wait_seconds",
			Help:      "Time from spawn until the node was observed alive.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"kind"},
	)
	fleetServers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "servers",
			Help:      "Registered servers seen by the last listing, by kind and liveness state.",
		}, []string{"kind", "state"},
	)
	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Admin RPC requests by node kind and outcome.",
		}, []string{"kind", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Admin RPC round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	cs := []prometheus.Collector{nodeStarts, nodeStops, nodeRestarts, nodePrunes, nodeStartWait, fleetServers, rpcRequests, rpcDuration}
	return append(cs, resourceCollectors()...)
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves metrics from g, or from the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteTextfile dumps g in the node-exporter textfile format. The file is
// replaced atomically so a scraping collector never reads a partial write.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name, kind string) {
	if regOK.Load() {
		nodeStarts.WithLabelValues(name, kind).Inc()
	}
}

func IncStop(name, kind string) {
	if regOK.Load() {
		nodeStops.WithLabelValues(name, kind).Inc()
	}
}

func IncRestart(name, kind string, ok bool) {
	if regOK.Load() {
		nodeRestarts.WithLabelValues(name, kind, outcome(ok)).Inc()
	}
}

func IncPrune(kind, state string) {
	if regOK.Load() {
		nodePrunes.WithLabelValues(kind, state).Inc()
	}
}

func ObserveStartWait(kind string, d time.Duration) {
	if regOK.Load() {
		nodeStartWait.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetFleet replaces the per kind/state gauge with counts.
func SetFleet(counts map[[2]string]int) {
	if !regOK.Load() {
		return
	}
	fleetServers.Reset()
	for k, n := range counts {
		fleetServers.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}

func ObserveRPC(kind string, d time.Duration, ok bool) {
	if regOK.Load() {
		rpcRequests.WithLabelValues(kind, outcome(ok)).Inc()
		rpcDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
