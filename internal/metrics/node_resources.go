package metrics

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// NodeResources is one sample of a node process's resource usage.
type NodeResources struct {
	PID        int32
	CPUPercent float64
	MemoryRSS  uint64
	MemoryVMS  uint64
	NumThreads int32
	NumFDs     int32 // unix only
}

// NodeRef names a live node process to sample.
type NodeRef struct {
	Name string
	Kind string
	PID  int
}

var (
	nodeCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "cpu_percent",
			Help:      "CPU usage of the node process over its lifetime, in percent.",
		}, []string{"name", "kind"},
	)
	nodeMemoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the node process.",
		}, []string{"name", "kind"},
	)
	nodeMemoryVMS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "memory_vms_bytes",
			Help:      "Virtual memory size of the node process.",
		}, []string{"name", "kind"},
	)
	nodeThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "threads",
			Help:      "Number of threads of the node process.",
		}, []string{"name", "kind"},
	)
	nodeFDs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "open_fds",
			Help:      "Open file descriptors of the node process (unix only).",
		}, []string{"name", "kind"},
	)
)

func resourceCollectors() []prometheus.Collector {
	return []prometheus.Collector{nodeCPUPercent, nodeMemoryRSS, nodeMemoryVMS, nodeThreads, nodeFDs}
}

// SampleProcess reads the current resource usage of pid from the OS.
// Only a missing memory reading is an error; other counters fall back to zero.
func SampleProcess(pid int32) (NodeResources, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return NodeResources{}, fmt.Errorf("process %d: %w", pid, err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return NodeResources{}, fmt.Errorf("memory info of %d: %w", pid, err)
	}
	out := NodeResources{PID: pid, MemoryRSS: mem.RSS, MemoryVMS: mem.VMS}
	if cpu, err := proc.CPUPercent(); err == nil {
		out.CPUPercent = cpu
	}
	if n, err := proc.NumThreads(); err == nil {
		out.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			out.NumFDs = n
		}
	}
	return out, nil
}

// CollectNodes replaces the per-node resource gauges with a fresh sample of
// nodes. Nodes missing from nodes lose their series. It no-ops before Register.
func CollectNodes(nodes []NodeRef) {
	if !regOK.Load() {
		return
	}
	for _, g := range []*prometheus.GaugeVec{nodeCPUPercent, nodeMemoryRSS, nodeMemoryVMS, nodeThreads, nodeFDs} {
		g.Reset()
	}
	for _, n := range nodes {
		if n.PID <= 0 {
			continue
		}
		r, err := SampleProcess(int32(n.PID))
		if err != nil {
			// exited since the liveness check
			slog.Debug("node resources unavailable", "name", n.Name, "pid", n.PID, "error", err)
			continue
		}
		nodeCPUPercent.WithLabelValues(n.Name, n.Kind).Set(r.CPUPercent)
		nodeMemoryRSS.WithLabelValues(n.Name, n.Kind).Set(float64(r.MemoryRSS))
		nodeMemoryVMS.WithLabelValues(n.Name, n.Kind).Set(float64(r.MemoryVMS))
		nodeThreads.WithLabelValues(n.Name, n.Kind).Set(float64(r.NumThreads))
		if runtime.GOOS != "windows" {
			nodeFDs.WithLabelValues(n.Name, n.Kind).Set(float64(r.NumFDs))
		}
	}
}
