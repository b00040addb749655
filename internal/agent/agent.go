// Package agent contains the fact agent orchestrator. It wires together the
// configuration reloader, the eBPF probe loader, the host scanner, the
// container-id resolver, the fan-out bus, and the output sinks, managing
// their lifecycle through a shared context.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stackrox/fact/internal/bus"
	"github.com/stackrox/fact/internal/config"
	"github.com/stackrox/fact/internal/containerid"
	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/hostscan"
	"github.com/stackrox/fact/internal/metrics"
	"github.com/stackrox/fact/internal/mountinfo"
	"github.com/stackrox/fact/internal/preflight"
	"github.com/stackrox/fact/internal/probe"
)

// scanInterval is how often the host scanner re-scans the configured paths
// and prunes what fell outside them, per SPEC_FULL.md §4.4.
const scanInterval = 30 * time.Second

// Sink is the common interface implemented by every output sink: given a
// context and an independent bus subscription, run until one of them ends.
type Sink interface {
	Run(ctx context.Context, sub *bus.Subscription[*event.Event])
}

// Agent is the central orchestrator of the fact agent. It starts and
// supervises the probe loader, host scanner, container-id resolver,
// config reloader, and every attached sink.
//
// Use New to construct an Agent, WithSinks to register output sinks, and
// Start/Stop to manage its lifecycle. It is safe to call Stop more than
// once.
type Agent struct {
	cfg      config.Config
	logger   *slog.Logger
	loader   *probe.Loader
	scanner  *hostscan.Scanner
	resolver *containerid.Resolver
	reloader *config.Reloader
	mounts   *mountinfo.MountInfo
	bus      *bus.Bus[*event.Event]
	metrics  *metrics.Registry
	sinks    []Sink

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithSinks registers one or more output sinks with the agent.
func WithSinks(sinks ...Sink) Option {
	return func(a *Agent) { a.sinks = append(a.sinks, sinks...) }
}

// New creates an Agent from an already-resolved configuration. loader,
// scanner, resolver, reloader, and metricsReg must be non-nil; the event bus
// is always created with bus.DefaultCapacity. mounts may be nil, in which
// case host paths are used as resolved by scanner without bind-mount
// translation.
func New(cfg config.Config, logger *slog.Logger, loader *probe.Loader, scanner *hostscan.Scanner, resolver *containerid.Resolver, reloader *config.Reloader, mounts *mountinfo.MountInfo, metricsReg *metrics.Registry, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		loader:   loader,
		scanner:  scanner,
		resolver: resolver,
		reloader: reloader,
		mounts:   mounts,
		metrics:  metricsReg,
		bus:      bus.New[*event.Event](logger, bus.DefaultCapacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs preflight, loads the probe, performs the initial host scan,
// and launches every long-lived goroutine (reloader, drain loop, path
// reload loop, periodic rescan loop, container-id prune loop, sinks); hook
// metrics are read on demand by ScrapeHookMetrics, not by a goroutine. It returns a
// non-nil error if preflight or the probe load fails; those are the only
// fatal initialization failures per SPEC_FULL.md §7.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := preflight.Check(a.cfg.SkipPreFlight); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("agent: preflight failed: %w", err)
	}

	if err := a.loader.Load(); err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("agent: probe load failed: %w", err)
	}

	if err := a.scanner.ApplyPaths(a.cfg.Paths); err != nil {
		a.logger.Warn("agent: initial host scan encountered errors", slog.Any("error", err))
	}
	if err := a.loader.ApplyPaths(a.cfg.Paths); err != nil {
		a.logger.Warn("agent: initial prefix-trie load encountered errors", slog.Any("error", err))
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.ctx = ctx
	a.cancel = cancel
	a.mu.Unlock()

	a.loader.Run(ctx)

	a.startGoroutine(a.reloader.Run)
	a.startGoroutine(a.drainLoop)
	a.startGoroutine(a.pathReloadLoop)
	a.startGoroutine(a.cleanupLoop)
	a.startGoroutine(func(ctx context.Context) {
		a.resolver.RunPruneLoop(ctx.Done())
	})

	for _, s := range a.sinks {
		sub := a.bus.Subscribe()
		s := s
		a.startGoroutine(func(ctx context.Context) {
			defer sub.Close()
			s.Run(ctx, sub)
		})
	}

	a.logger.Info("fact agent started",
		slog.Int("num_paths", len(a.cfg.Paths)),
		slog.Int("num_sinks", len(a.sinks)),
		slog.String("endpoint_address", a.cfg.Endpoint.Address),
	)
	return nil
}

// startGoroutine launches f in a new goroutine tracked by the agent's
// WaitGroup so Stop can block until every component has exited.
func (a *Agent) startGoroutine(f func(ctx context.Context)) {
	a.mu.RLock()
	ctx := a.ctx
	a.mu.RUnlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		f(ctx)
	}()
}

// Stop signals every component to shut down and waits for internal
// goroutines to exit. It is safe to call more than once.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()

	if err := a.loader.Close(); err != nil {
		a.logger.Warn("agent: error closing probe loader", slog.Any("error", err))
	}

	a.logger.Info("fact agent stopped")
}

// drainLoop decodes every raw frame the probe loader produces, enriches it
// with host-path and container-id context, and publishes it to the bus. It
// exits when the loader's frame channel closes.
func (a *Agent) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-a.loader.Frames():
			if !ok {
				return
			}
			a.handleFrame(raw)
		}
	}
}

// handleFrame decodes one raw ring-buffer record, enriches it, and
// publishes it to the bus. A decode error drops the record and bumps the
// decoder error metric, per SPEC_FULL.md §7.
func (a *Agent) handleFrame(raw []byte) {
	evt, err := event.DecodeRecord(raw)
	if err != nil {
		a.logger.Warn("agent: failed to decode event record", slog.Any("error", err))
		if a.metrics != nil {
			a.metrics.IncDecodeError()
		}
		return
	}

	a.enrich(evt)
	a.bus.Publish(evt)
}

// enrich fills in the fields the decoder deliberately leaves zero-valued:
// HostFile (from the host scanner, translated through any bind mount on
// its device via mountinfo) and ContainerID (from the cgroup resolver),
// and runs the host scanner's creation-time registration rule.
func (a *Agent) enrich(evt *event.Event) {
	if hostFile, ok := a.scanner.GetHostPath(evt.File.Base.Inode, event.InodeKey{}, evt.File.Base.Filename); ok {
		if a.mounts != nil {
			dev := mountinfo.PackRawDev(evt.File.Base.Inode.Dev)
			hostFile = mountinfo.Translate(hostFile, a.mounts.Get(dev))
		}
		evt.File.Base.HostFile = hostFile
	}

	if evt.File.Kind == event.KindCreation {
		a.scanner.HandleCreation(evt.File.Base.Inode, evt.File.Base.HostFile)
	}

	if id, ok := a.resolver.LookupPath(evt.Process.MemoryCgroup); ok {
		evt.Process.ContainerID = id
		evt.Process.HasContainerID = true
	}
}

// pathReloadLoop re-applies the configured path prefixes to the scanner and
// probe loader every time the reloader publishes a changed Paths snapshot.
func (a *Agent) pathReloadLoop(ctx context.Context) {
	for {
		changed := a.reloader.Paths.Changed()
		select {
		case <-ctx.Done():
			return
		case <-changed:
			paths := a.reloader.Paths.Get()
			if a.mounts != nil {
				if err := a.mounts.Refresh(); err != nil {
					a.logger.Warn("agent: mountinfo refresh encountered errors", slog.Any("error", err))
				}
			}
			if err := a.scanner.ApplyPaths(paths); err != nil {
				a.logger.Warn("agent: host scan after path change encountered errors", slog.Any("error", err))
			}
			if err := a.loader.ApplyPaths(paths); err != nil {
				a.logger.Warn("agent: prefix-trie update encountered errors", slog.Any("error", err))
			}
		}
	}
}

// cleanupLoop periodically re-scans the current path prefixes and prunes
// the host scanner's inodes that no longer fall under them, per
// SPEC_FULL.md §4.4.
func (a *Agent) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.scanner.ApplyPaths(a.reloader.Paths.Get()); err != nil {
				a.logger.Warn("agent: periodic host scan encountered errors", slog.Any("error", err))
			}
		}
	}
}

// ScrapeHookMetrics reads the loader's per-CPU hook counters into the
// metrics registry. Intended to be called from the /metrics handler just
// before serving, so every scrape reflects the latest kernel-side counts.
func (a *Agent) ScrapeHookMetrics() {
	if err := a.loader.ReadHookMetrics(); err != nil {
		a.logger.Warn("agent: failed to read hook metrics", slog.Any("error", err))
	}
}

// HealthStatus is the payload returned by GET /health_check.
type HealthStatus struct {
	Status         string  `json:"status"`
	UptimeS        float64 `json:"uptime_s"`
	NumSinks       int     `json:"num_sinks"`
	NumSubscribers int     `json:"num_subscribers"`
}

// Health returns a snapshot of the current agent health state.
func (a *Agent) Health() HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return HealthStatus{
		Status:         "ok",
		UptimeS:        time.Since(a.startTime).Seconds(),
		NumSinks:       len(a.sinks),
		NumSubscribers: a.bus.Len(),
	}
}

// HealthzHandler is an http.HandlerFunc that responds 200 with the agent's
// health status as JSON when health checks are enabled, or 503 otherwise,
// per SPEC_FULL.md §6.
func (a *Agent) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.Endpoint.HealthCheck {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	h := a.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		a.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
