package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds every config-mirroring flag described in SPEC_FULL.md
// §6 to fs, including the paired --no-* override for each boolean. Flags
// default to their zero value; LayerFromFlags below only looks at flags the
// caller actually set (fs.Changed), so an untouched flag expresses no
// opinion rather than forcing its zero value onto the merge.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSlice("paths", nil, "filesystem paths to monitor")
	fs.String("url", "", "gRPC sink URL")
	fs.String("certs", "", "directory containing ca.pem, cert.pem, key.pem for the gRPC sink")
	fs.String("address", "", "metrics/health listen address")
	fs.Uint32("ringbuf-size", 0, "ring buffer size in KiB (power of two)")

	fs.Bool("json", false, "emit events as JSON to stdout")
	fs.Bool("no-json", false, "disable the JSON stdout sink")

	fs.Bool("health-check", false, "enable the /health_check endpoint")
	fs.Bool("no-health-check", false, "disable the /health_check endpoint")

	fs.Bool("expose-metrics", false, "enable the /metrics endpoint")
	fs.Bool("no-expose-metrics", false, "disable the /metrics endpoint")

	fs.Bool("skip-pre-flight", false, "skip the BPF LSM capability pre-flight check")

	fs.Bool("hotreload", false, "enable configuration hot-reload")
	fs.Bool("no-hotreload", false, "disable configuration hot-reload")
}

// LayerFromFlags builds a Layer from the flags in fs that were explicitly
// set, applying the --no-* / positive pairing rule from SPEC_FULL.md §6:
// when both are unset the field expresses no opinion; when only one is set
// it wins; setting both is treated as the negative form taking precedence,
// since --no-* is the more specific override.
func LayerFromFlags(fs *pflag.FlagSet) (Layer, error) {
	var l Layer

	if fs.Changed("paths") {
		v, err := fs.GetStringSlice("paths")
		if err != nil {
			return Layer{}, err
		}
		l.Paths = &v
	}

	if fs.Changed("url") || fs.Changed("certs") {
		grpc := &GRPCLayer{}
		if fs.Changed("url") {
			v, _ := fs.GetString("url")
			grpc.URL = &v
		}
		if fs.Changed("certs") {
			v, _ := fs.GetString("certs")
			grpc.CertsDir = &v
		}
		l.GRPC = grpc
	}

	if fs.Changed("address") || fs.Changed("health-check") || fs.Changed("no-health-check") ||
		fs.Changed("expose-metrics") || fs.Changed("no-expose-metrics") {
		ep := &EndpointLayer{}
		if fs.Changed("address") {
			v, _ := fs.GetString("address")
			ep.Address = &v
		}
		if b, ok := resolvePair(fs, "health-check", "no-health-check"); ok {
			ep.HealthCheck = &b
		}
		if b, ok := resolvePair(fs, "expose-metrics", "no-expose-metrics"); ok {
			ep.ExposeMetrics = &b
		}
		l.Endpoint = ep
	}

	if fs.Changed("skip-pre-flight") {
		v, _ := fs.GetBool("skip-pre-flight")
		l.SkipPreFlight = &v
	}

	if b, ok := resolvePair(fs, "json", "no-json"); ok {
		l.JSON = &b
	}

	if fs.Changed("ringbuf-size") {
		v, _ := fs.GetUint32("ringbuf-size")
		l.RingbufSizeKB = &v
	}

	if b, ok := resolvePair(fs, "hotreload", "no-hotreload"); ok {
		l.Hotreload = &b
	}

	return l, nil
}

// resolvePair implements the paired --flag/--no-flag override rule: ok is
// false iff neither was set.
func resolvePair(fs *pflag.FlagSet, positive, negative string) (value bool, ok bool) {
	negSet := fs.Changed(negative)
	posSet := fs.Changed(positive)
	switch {
	case negSet:
		return false, true
	case posSet:
		v, _ := fs.GetBool(positive)
		return v, true
	default:
		return false, false
	}
}
