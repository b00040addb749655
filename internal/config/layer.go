package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPaths are the well-known YAML file locations merged, in
// order, before the CLI/env layer. Missing files are skipped, not errors.
var DefaultConfigPaths = []string{
	"/etc/stackrox/fact.yml",
	"/etc/stackrox/fact.yaml",
	"./fact.yml",
	"./fact.yaml",
}

// GRPCLayer is the pointer-shaped counterpart of GRPCConfig: a nil field
// means "this layer expressed no opinion".
type GRPCLayer struct {
	URL      *string `yaml:"url"`
	CertsDir *string `yaml:"certs"`
}

// EndpointLayer is the pointer-shaped counterpart of EndpointConfig.
type EndpointLayer struct {
	Address       *string `yaml:"address"`
	ExposeMetrics *bool   `yaml:"expose_metrics"`
	HealthCheck   *bool   `yaml:"health_check"`
}

// Layer is one merge input: a YAML file's contents, or the flattened
// CLI/env layer. Every field is a pointer so that mergo.WithOverride only
// overwrites what a layer actually set, per SPEC_FULL.md §4.6.
type Layer struct {
	Paths         *[]string   `yaml:"paths"`
	GRPC          *GRPCLayer  `yaml:"grpc"`
	Endpoint      *EndpointLayer `yaml:"endpoint"`
	SkipPreFlight *bool       `yaml:"skip_pre_flight"`
	JSON          *bool       `yaml:"json"`
	RingbufSizeKB *uint32     `yaml:"ringbuf_size"`
	Hotreload     *bool       `yaml:"hotreload"`
}

// LoadLayerFile reads and parses a single YAML configuration file. A
// missing file is not an error: it returns a zero Layer and ok=false so the
// caller can skip it silently, per §4.6's "missing files are skipped" rule.
func LoadLayerFile(path string) (layer Layer, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layer{}, false, nil
		}
		return Layer{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}

	var strict map[string]yaml.Node
	if err := yaml.Unmarshal(data, &strict); err != nil {
		return Layer{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := rejectUnknownKeys(strict); err != nil {
		return Layer{}, false, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &layer); err != nil {
		return Layer{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return layer, true, nil
}

var knownTopLevelKeys = map[string]bool{
	"paths": true, "grpc": true, "endpoint": true,
	"skip_pre_flight": true, "json": true, "ringbuf_size": true, "hotreload": true,
}

func rejectUnknownKeys(doc map[string]yaml.Node) error {
	for k := range doc {
		if !knownTopLevelKeys[k] {
			return fmt.Errorf("unknown configuration key %q", k)
		}
	}
	return nil
}

// MergeLayers folds each layer onto an empty accumulator, in order, using
// mergo.WithOverride so a later layer's explicitly-set fields win while its
// unset (nil) fields leave earlier layers untouched.
func MergeLayers(layers ...Layer) (Layer, error) {
	var acc Layer
	for i, l := range layers {
		if err := mergo.Merge(&acc, l, mergo.WithOverride); err != nil {
			return Layer{}, fmt.Errorf("config: merge layer %d: %w", i, err)
		}
	}
	return acc, nil
}

// Resolve folds a merged Layer onto Default() to produce a concrete,
// runtime-ready Config, filling every field a layer left unset with its
// default value.
func Resolve(merged Layer) Config {
	cfg := Default()

	if merged.Paths != nil {
		cfg.Paths = *merged.Paths
	}
	if merged.GRPC != nil {
		if merged.GRPC.URL != nil {
			cfg.GRPC.URL = *merged.GRPC.URL
		}
		if merged.GRPC.CertsDir != nil {
			cfg.GRPC.CertsDir = *merged.GRPC.CertsDir
		}
	}
	if merged.Endpoint != nil {
		if merged.Endpoint.Address != nil {
			cfg.Endpoint.Address = *merged.Endpoint.Address
		}
		if merged.Endpoint.ExposeMetrics != nil {
			cfg.Endpoint.ExposeMetrics = *merged.Endpoint.ExposeMetrics
		}
		if merged.Endpoint.HealthCheck != nil {
			cfg.Endpoint.HealthCheck = *merged.Endpoint.HealthCheck
		}
	}
	if merged.SkipPreFlight != nil {
		cfg.SkipPreFlight = *merged.SkipPreFlight
	}
	if merged.JSON != nil {
		cfg.JSON = *merged.JSON
	}
	if merged.RingbufSizeKB != nil {
		cfg.RingbufSizeKB = *merged.RingbufSizeKB
	}
	if merged.Hotreload != nil {
		cfg.Hotreload = *merged.Hotreload
	}

	return cfg
}

// Load merges DefaultConfigPaths (skipping any that don't exist), then the
// FACT_* environment layer, then cliLayer, in that precedence order, and
// resolves and validates the result.
func Load(cliLayer Layer) (Config, error) {
	layers := make([]Layer, 0, len(DefaultConfigPaths)+2)
	for _, path := range DefaultConfigPaths {
		l, ok, err := LoadLayerFile(path)
		if err != nil {
			return Config{}, err
		}
		if ok {
			layers = append(layers, l)
		}
	}

	envLayer, err := LayerFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	layers = append(layers, envLayer, cliLayer)

	merged, err := MergeLayers(layers...)
	if err != nil {
		return Config{}, err
	}

	cfg := Resolve(merged)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}
