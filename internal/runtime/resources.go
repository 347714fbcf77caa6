package runtime

import (
	"context"
	"net/http"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

// Resources bundles the collaborators a service needs to speak busflow:
// configuration, logger, and the broker client. Built once at startup and
// threaded explicitly; there are no ambient globals.
type Resources struct {
	Broker *Broker
	Logger loggingpkg.ServiceLogger
	Config *configpkg.Config

	gatherer prometheus.Gatherer
	tracker  *resourceTracker
}

// NewResources validates cfg and constructs the broker. Backend plugin
// resolution happens here.
func NewResources(ctx context.Context, cfg *configpkg.Config, logger loggingpkg.ServiceLogger, deps Deps) (*Resources, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	broker, err := New(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}

	gatherer := prometheus.Gatherer(prometheus.DefaultGatherer)
	if g, ok := deps.Registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Resources{
		Broker:   broker,
		Logger:   logger,
		Config:   cfg,
		gatherer: gatherer,
		tracker:  newResourceTracker(),
	}, nil
}

// Start connects the broker and starts all registered subscriptions.
func (r *Resources) Start(ctx context.Context) error {
	return r.Broker.Start(ctx)
}

// Close shuts the broker down.
func (r *Resources) Close(ctx context.Context) error {
	return r.Broker.Close(ctx)
}

// MetricsHandler exposes the metric registry in use over HTTP. When the
// broker was built with a custom Registerer that can gather, that registry
// is served; otherwise the global one.
func (r *Resources) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Usage samples the process's current resource consumption.
func (r *Resources) Usage() ResourceUsage {
	return r.tracker.Snapshot()
}

// ResourceUsage is a coarse point-in-time sample of process consumption.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker samples coarse CPU/memory usage. CPU percent is computed
// from the delta between consecutive snapshots, so the first call reports
// zero.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: "/sched/cpu:seconds"}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: "/sched/cpu:seconds"}}
	}

	metrics.Read(r.samples)
	sample := r.samples[0]
	haveCPU := sample.Value.Kind() == metrics.KindFloat64
	var cpuSeconds float64
	if haveCPU {
		cpuSeconds = sample.Value.Float64()
	}
	now := time.Now()

	var cpuPercent float64
	if haveCPU && !r.lastSample.IsZero() {
		deltaCPU := cpuSeconds - r.lastCPUSeconds
		deltaWall := now.Sub(r.lastSample).Seconds()
		if deltaWall > 0 && r.numCPU > 0 {
			cpuPercent = (deltaCPU / deltaWall) / r.numCPU * 100
		}
	}

	if haveCPU {
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
