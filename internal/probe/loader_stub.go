//go:build !linux

package probe

import (
	"context"
	"log/slog"

	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/metrics"
)

// Features is declared here too so callers don't need a build-tagged import
// just to construct one.
type Features struct {
	HostMountNS              uint64
	PathHooksSupportBPFDPath bool
}

// Loader is a stub on non-Linux platforms: the eBPF LSM programs this
// package loads only exist for Linux kernels.
type Loader struct{}

func New(*slog.Logger, string, uint32, Features, *metrics.Registry) *Loader {
	return &Loader{}
}

// DetectFeatures always returns the zero Features on a non-Linux build.
func DetectFeatures(string, *slog.Logger) Features {
	return Features{}
}

func (l *Loader) Load() error {
	return ErrNotSupported
}

func (l *Loader) Frames() <-chan []byte {
	return nil
}

func (l *Loader) Run(ctx context.Context) {}

func (l *Loader) ApplyPaths(paths []string) error {
	return ErrNotSupported
}

func (l *Loader) Insert(key event.InodeKey) error {
	return ErrNotSupported
}

func (l *Loader) Remove(key event.InodeKey) error {
	return ErrNotSupported
}

func (l *Loader) ReadHookMetrics() error {
	return ErrNotSupported
}

func (l *Loader) Close() error {
	return nil
}
