// Command fact is the file-activity-collection agent binary. It loads a
// layered YAML+CLI configuration, preflights the host kernel, loads the
// eBPF LSM probes, starts the configured output sinks, exposes /metrics and
// /health_check, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackrox/fact/internal/agent"
	"github.com/stackrox/fact/internal/config"
	"github.com/stackrox/fact/internal/containerid"
	"github.com/stackrox/fact/internal/hostscan"
	"github.com/stackrox/fact/internal/metrics"
	"github.com/stackrox/fact/internal/mountinfo"
	"github.com/stackrox/fact/internal/probe"
	"github.com/stackrox/fact/internal/sink"
)

// objPath is the location the compiled eBPF LSM object is expected at,
// baked in by the (out-of-scope) build toolchain that produces it.
const objPath = "/opt/fact/probe.o"

func main() {
	root := &cobra.Command{
		Use:           "fact",
		Short:         "File activity collection agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	config.RegisterFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fact: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cliLayer, err := config.LayerFromFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(cliLayer)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.JSON)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.Int("num_paths", len(cfg.Paths)),
		slog.String("endpoint_address", cfg.Endpoint.Address),
		slog.Bool("hotreload", cfg.Hotreload),
	)

	metricsReg := metrics.NewRegistry(nil)

	features := probe.DetectFeatures(objPath, logger)
	logger.Info("feature detection complete",
		slog.Uint64("host_mount_ns", features.HostMountNS),
		slog.Bool("path_hooks_support_bpf_d_path", features.PathHooksSupportBPFDPath),
	)
	loader := probe.New(logger, objPath, cfg.RingbufSizeKB, features, metricsReg)

	scanner := hostscan.New(logger, loader)
	resolver := containerid.New(logger)
	reloader := config.NewReloader(logger, cliLayer, cfg)

	mounts, err := mountinfo.New()
	if err != nil {
		logger.Warn("mountinfo: initial parse failed, bind-mount-aware host path resolution disabled", slog.Any("error", err))
		mounts = nil
	}

	// Per SPEC_FULL.md §4.7: stdout is active whenever gRPC wasn't enabled at
	// startup, or json was explicitly requested; that decision is fixed for
	// the process's lifetime. The gRPC sink always runs but idles itself
	// until grpc.url becomes non-empty, so a later hot-reload can switch it
	// on without a restart.
	var sinks []agent.Sink
	if cfg.JSON || cfg.GRPC.URL == "" {
		sinks = append(sinks, sink.NewStdoutSink(logger, metricsReg))
	}
	sinks = append(sinks, sink.NewGRPCSink(logger, metricsReg, reloader.GRPC))

	ag := agent.New(cfg, logger, loader, scanner, resolver, reloader, mounts, metricsReg, agent.WithSinks(sinks...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ag.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	var httpServer *http.Server
	if cfg.Endpoint.ExposeMetrics || cfg.Endpoint.HealthCheck {
		mux := http.NewServeMux()
		if cfg.Endpoint.ExposeMetrics {
			mux.Handle("/metrics", scrapeBeforeServe(ag, metricsReg.Handler()))
		}
		if cfg.Endpoint.HealthCheck {
			mux.HandleFunc("/health_check", ag.HealthzHandler)
		}
		httpServer = &http.Server{
			Addr:         cfg.Endpoint.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics/health server listening", slog.String("addr", cfg.Endpoint.Address))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics/health server error", slog.Any("error", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	ag.Stop()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics/health server shutdown error", slog.Any("error", err))
		}
	}

	logger.Info("fact agent exited cleanly")
	return nil
}

// scrapeBeforeServe wraps next so every /metrics scrape first pulls the
// latest per-CPU hook counters out of the kernel maps, keeping the exported
// series current without a separate polling goroutine.
func scrapeBeforeServe(ag *agent.Agent, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ag.ScrapeHookMetrics()
		next.ServeHTTP(w, r)
	})
}

// newLogger builds the process-wide structured logger on stderr, so agent
// logs don't interleave with event lines on stdout: JSON when json is set in
// the configuration, text otherwise.
func newLogger(jsonSink bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonSink {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
