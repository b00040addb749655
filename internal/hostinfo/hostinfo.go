// Package hostinfo exposes process-wide host facts that are expensive or
// impossible to recompute per event: the local hostname, the path under
// which the host filesystem is mounted (when the agent runs containerized),
// and the offset between the kernel's monotonic clock and wall-clock time.
//
// Each fact is resolved once, lazily, on first access and never invalidated
// for the lifetime of the process — they are pure functions of host state
// captured at agent start.
package hostinfo

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const hostMountEnv = "FACT_HOST_MOUNT"

var (
	hostnameOnce sync.Once
	hostnameVal  string

	hostMountOnce sync.Once
	hostMountVal  string
)

// hostnamePaths are tried, in order, under HostMount() to resolve the
// hostname without shelling out.
var hostnamePaths = []string{"/etc/hostname", "/proc/sys/kernel/hostname"}

// Hostname returns the local hostname as seen from the host's own
// filesystem (read through HostMount, so a containerized agent reports the
// node's hostname rather than its own container ID). Falls back to
// os.Hostname, then "unknown".
func Hostname() string {
	hostnameOnce.Do(func() {
		for _, p := range hostnamePaths {
			full := filepath.Join(HostMount(), p)
			b, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			if h := strings.TrimSpace(string(b)); h != "" {
				hostnameVal = h
				return
			}
		}
		if h, err := os.Hostname(); err == nil && h != "" {
			hostnameVal = h
			return
		}
		hostnameVal = "unknown"
	})
	return hostnameVal
}

// HostMount returns the path prefix under which the host's root filesystem
// is mounted inside the agent's own mount namespace. It is read from the
// FACT_HOST_MOUNT environment variable and is "" (equivalent to "/") when
// unset, meaning the agent runs directly on the host (bare metal).
func HostMount() string {
	hostMountOnce.Do(func() {
		hostMountVal = os.Getenv(hostMountEnv)
	})
	return hostMountVal
}

// PrependHostMount joins HostMount() onto path, unless HostMount is empty.
func PrependHostMount(path string) string {
	mount := HostMount()
	if mount == "" {
		return path
	}
	return filepath.Join(mount, path)
}

// RemoveHostMount strips the HostMount() prefix from path, if present.
func RemoveHostMount(path string) string {
	mount := HostMount()
	if mount == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, mount); ok {
		if rest == "" {
			return "/"
		}
		return rest
	}
	return path
}
