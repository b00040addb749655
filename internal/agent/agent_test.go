package agent

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stackrox/fact/internal/bus"
	"github.com/stackrox/fact/internal/config"
	"github.com/stackrox/fact/internal/containerid"
	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/hostscan"
	"github.com/stackrox/fact/internal/metrics"
	"github.com/stackrox/fact/internal/probe"
)

func newTestAgent(t *testing.T, cfg config.Config) *Agent {
	t.Helper()
	logger := slog.Default()
	reg := metrics.NewRegistry(nil)
	loader := probe.New(logger, "", cfg.RingbufSizeKB, probe.Features{}, reg)
	scanner := hostscan.New(logger, nil)
	resolver := containerid.New(logger)
	reloader := config.NewReloader(logger, config.Layer{}, cfg)

	return New(cfg, logger, loader, scanner, resolver, reloader, nil, reg)
}

func TestHealthzHandlerDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint.HealthCheck = false
	a := newTestAgent(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health_check", nil)
	a.HealthzHandler(rec, req)

	if rec.Code != 503 {
		t.Errorf("HealthzHandler() status = %d, want 503", rec.Code)
	}
}

func TestHealthzHandlerEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint.HealthCheck = true
	a := newTestAgent(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health_check", nil)
	a.HealthzHandler(rec, req)

	if rec.Code != 200 {
		t.Errorf("HealthzHandler() status = %d, want 200", rec.Code)
	}
}

func TestHealthReflectsSinkCount(t *testing.T) {
	cfg := config.Default()
	a := newTestAgent(t, cfg)
	a.sinks = append(a.sinks, stubSink{})

	h := a.Health()
	if h.NumSinks != 1 {
		t.Errorf("Health().NumSinks = %d, want 1", h.NumSinks)
	}
	if h.Status != "ok" {
		t.Errorf("Health().Status = %q, want ok", h.Status)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	a := newTestAgent(t, config.Default())
	a.Stop()
}

type stubSink struct{}

func (stubSink) Run(ctx context.Context, sub *bus.Subscription[*event.Event]) {}
