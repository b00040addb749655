package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envPrefix is prepended to every field name to form its environment
// variable, per SPEC_FULL.md §4.6/§6: FACT_PATHS, FACT_URL, FACT_CERTS,
// FACT_ADDRESS, FACT_RINGBUF_SIZE, FACT_JSON/FACT_NO_JSON,
// FACT_HEALTH_CHECK/FACT_NO_HEALTH_CHECK,
// FACT_EXPOSE_METRICS/FACT_NO_EXPOSE_METRICS, FACT_SKIP_PRE_FLIGHT,
// FACT_HOTRELOAD/FACT_NO_HOTRELOAD — one variable per flag registered in
// RegisterFlags, with the same paired --no-* override resolved the same
// way as LayerFromFlags.
const envPrefix = "FACT_"

// LayerFromEnv builds a Layer from whichever FACT_* environment variables
// are set, applying the same paired positive/negative override rule as
// LayerFromFlags: when both the positive and negative form are set, the
// negative form wins.
func LayerFromEnv() (Layer, error) {
	var l Layer

	if v, ok := lookupEnv("PATHS"); ok {
		paths := splitNonEmpty(v, ",")
		l.Paths = &paths
	}

	url, hasURL := lookupEnv("URL")
	certs, hasCerts := lookupEnv("CERTS")
	if hasURL || hasCerts {
		grpc := &GRPCLayer{}
		if hasURL {
			grpc.URL = &url
		}
		if hasCerts {
			grpc.CertsDir = &certs
		}
		l.GRPC = grpc
	}

	address, hasAddress := lookupEnv("ADDRESS")
	healthCheck, hasHealthCheck := resolvePairEnv("HEALTH_CHECK", "NO_HEALTH_CHECK")
	exposeMetrics, hasExposeMetrics := resolvePairEnv("EXPOSE_METRICS", "NO_EXPOSE_METRICS")
	if hasAddress || hasHealthCheck || hasExposeMetrics {
		ep := &EndpointLayer{}
		if hasAddress {
			ep.Address = &address
		}
		if hasHealthCheck {
			ep.HealthCheck = &healthCheck
		}
		if hasExposeMetrics {
			ep.ExposeMetrics = &exposeMetrics
		}
		l.Endpoint = ep
	}

	if v, ok := lookupEnv("SKIP_PRE_FLIGHT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Layer{}, fmt.Errorf("config: %sSKIP_PRE_FLIGHT: %w", envPrefix, err)
		}
		l.SkipPreFlight = &b
	}

	if b, ok := resolvePairEnv("JSON", "NO_JSON"); ok {
		l.JSON = &b
	}

	if v, ok := lookupEnv("RINGBUF_SIZE"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Layer{}, fmt.Errorf("config: %sRINGBUF_SIZE: %w", envPrefix, err)
		}
		kb := uint32(n)
		l.RingbufSizeKB = &kb
	}

	if b, ok := resolvePairEnv("HOTRELOAD", "NO_HOTRELOAD"); ok {
		l.Hotreload = &b
	}

	return l, nil
}

// lookupEnv reads FACT_<name>, reporting ok=false when unset so a caller
// can tell "not set" apart from "set to empty string".
func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(envPrefix + name)
}

// resolvePairEnv implements the paired FACT_X/FACT_NO_X override rule. A
// set FACT_NO_X decides on its own: the inverse of its boolean value, or
// false when the value is not a boolean, so a misspelt negative still
// selects the negative form instead of failing startup. Otherwise a set
// FACT_X with a boolean value decides. ok is false when neither is set, or
// when only FACT_X is set and its value is not a boolean.
func resolvePairEnv(positive, negative string) (value bool, ok bool) {
	if v, set := lookupEnv(negative); set {
		if b, err := strconv.ParseBool(v); err == nil {
			return !b, true
		}
		return false, true
	}
	if v, set := lookupEnv(positive); set {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

// splitNonEmpty splits s on sep, trimming whitespace and dropping empty
// fields, mirroring pflag's StringSlice parsing so FACT_PATHS and --paths
// behave the same way.
func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
