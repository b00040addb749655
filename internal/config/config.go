// Package config loads, merges, validates, and hot-reloads the agent's
// configuration: layered YAML files topped by a CLI/env layer, resolved
// into a single immutable snapshot per SPEC_FULL.md §4.6.
package config

import (
	"errors"
	"fmt"
	"math"
)

// DefaultRingbufSizeKB is the ring buffer size, in KiB, used when no layer
// sets one explicitly.
const DefaultRingbufSizeKB = 8192

// DefaultEndpointAddress is the metrics/health listen address used when no
// layer sets one explicitly.
const DefaultEndpointAddress = "0.0.0.0:9000"

// minRingbufSizeKB and maxRingbufSizeKB bound ringbuf_size per SPEC_FULL.md
// §4.6: a power of two, 64 <= n <= u32::MAX/1024.
const (
	minRingbufSizeKB = 64
	maxRingbufSizeKB = math.MaxUint32 / 1024
)

// GRPCConfig configures the optional gRPC sink.
type GRPCConfig struct {
	URL      string
	CertsDir string
}

// EndpointConfig configures the metrics/health HTTP server.
type EndpointConfig struct {
	Address       string
	ExposeMetrics bool
	HealthCheck   bool
}

// Config is the fully-resolved, concrete configuration snapshot the agent
// runs with. It is immutable once built; a changed configuration produces a
// new Config rather than mutating an existing one.
type Config struct {
	Paths           []string
	GRPC            GRPCConfig
	Endpoint        EndpointConfig
	SkipPreFlight   bool
	JSON            bool
	RingbufSizeKB   uint32
	Hotreload       bool
}

// Default returns the built-in baseline Config that the first merge layer
// starts from.
func Default() Config {
	return Config{
		Paths: nil,
		Endpoint: EndpointConfig{
			Address:       DefaultEndpointAddress,
			ExposeMetrics: true,
			HealthCheck:   true,
		},
		RingbufSizeKB: DefaultRingbufSizeKB,
	}
}

// Validate checks paths (no empty entry), ringbuf_size (a power of two in
// range) and endpoint.address (non-empty) from the field catalogue in
// SPEC_FULL.md §4.6, returning a joined error describing every violation
// found, not just the first. The gRPC URL and certs directory are not
// checked here.
func (c Config) Validate() error {
	var errs []error

	for _, p := range c.Paths {
		if p == "" {
			errs = append(errs, errors.New("paths: entries must not be empty"))
			break
		}
	}

	if err := validateRingbufSize(c.RingbufSizeKB); err != nil {
		errs = append(errs, err)
	}

	if c.Endpoint.Address == "" {
		errs = append(errs, errors.New("endpoint.address must not be empty"))
	}

	return errors.Join(errs...)
}

func validateRingbufSize(kb uint32) error {
	if kb < minRingbufSizeKB || kb > maxRingbufSizeKB {
		return fmt.Errorf("ringbuf_size must be between %d and %d KiB, got %d",
			minRingbufSizeKB, maxRingbufSizeKB, kb)
	}
	if kb&(kb-1) != 0 {
		return fmt.Errorf("ringbuf_size is not a power of 2: %d", kb)
	}
	return nil
}
