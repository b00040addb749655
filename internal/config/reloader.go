package config

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stackrox/fact/internal/snapshot"
)

// pollInterval is how often the reloader re-stats the known config files,
// independent of any fsnotify or SIGHUP trigger, per SPEC_FULL.md §4.6.
const pollInterval = 10 * time.Second

// Reloader re-merges DefaultConfigPaths plus a fixed CLI/env layer on
// SIGHUP and, when hot-reload was enabled at startup, on a timer and on
// fsnotify events, publishing changed slices of
// the result through dedicated snapshot channels. The reloader never
// restarts the process; Hotreload itself only takes effect at the next
// startup, which is logged as a warning if it differs from the running
// value.
type Reloader struct {
	logger   *slog.Logger
	cliLayer Layer

	Paths    *snapshot.Snapshot[[]string]
	GRPC     *snapshot.Snapshot[GRPCConfig]
	Endpoint *snapshot.Snapshot[EndpointConfig]

	hotreload bool
	mtimes    map[string]time.Time
}

// NewReloader creates a Reloader seeded with an already-resolved initial
// Config, so snapshot readers always have a value even before the first
// reload tick.
func NewReloader(logger *slog.Logger, cliLayer Layer, initial Config) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		logger:    logger,
		cliLayer:  cliLayer,
		Paths:     snapshot.New(initial.Paths),
		GRPC:      snapshot.New(initial.GRPC),
		Endpoint:  snapshot.New(initial.Endpoint),
		hotreload: initial.Hotreload,
		mtimes:    make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, reloading on every SIGHUP and, only
// when hot-reload was enabled at startup, on every tick and fsnotify event
// on the well-known config paths.
func (r *Reloader) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("config: fsnotify unavailable, falling back to polling only",
			slog.Any("error", err))
	} else {
		defer watcher.Close()
		for _, p := range DefaultConfigPaths {
			if err := watcher.Add(p); err != nil {
				r.logger.Debug("config: not watching path", slog.String("path", p), slog.Any("error", err))
			}
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	if watcher != nil {
		fsEvents = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.hotreload {
				r.reloadIfChanged()
			}
		case <-sigCh:
			r.logger.Info("config: SIGHUP received, forcing reload")
			r.reload()
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			r.logger.Debug("config: fsnotify event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			if r.hotreload {
				r.reloadIfChanged()
			}
		}
	}
}

// reloadIfChanged re-merges only if any known config file's mtime changed
// since the last reload.
func (r *Reloader) reloadIfChanged() {
	changed := false
	for _, path := range DefaultConfigPaths {
		info, err := os.Stat(path)
		if err != nil {
			if _, existed := r.mtimes[path]; existed {
				delete(r.mtimes, path)
				changed = true
			}
			continue
		}
		if prev, ok := r.mtimes[path]; !ok || !prev.Equal(info.ModTime()) {
			r.mtimes[path] = info.ModTime()
			changed = true
		}
	}
	if changed {
		r.reload()
	}
}

// reload performs one unconditional re-merge and publishes the result. A
// parse or validation error is a warning: the previous snapshot remains in
// effect, per SPEC_FULL.md §7.
func (r *Reloader) reload() {
	cfg, err := Load(r.cliLayer)
	if err != nil {
		r.logger.Warn("config: reload failed, keeping previous configuration", slog.Any("error", err))
		return
	}

	if cfg.Hotreload != r.Hotreload() {
		r.logger.Warn("config: hotreload flag changed but only takes effect on restart")
	}

	if r.Paths.Publish(cfg.Paths) {
		r.logger.Info("config: paths changed", slog.Int("count", len(cfg.Paths)))
	}
	if r.GRPC.Publish(cfg.GRPC) {
		r.logger.Info("config: grpc configuration changed")
	}
	if r.Endpoint.Publish(cfg.Endpoint) {
		r.logger.Info("config: endpoint configuration changed")
	}
}

// Hotreload reports whether hot-reload was enabled at startup. It is not
// itself reloadable: a later change to the hotreload flag only takes effect
// on the next process restart.
func (r *Reloader) Hotreload() bool {
	return r.hotreload
}
