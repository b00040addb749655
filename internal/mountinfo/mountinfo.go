// Package mountinfo parses /proc/self/mountinfo into a cache keyed by
// packed device number, used by the agent's event enrichment to resolve
// bind-mount roots back to their host-visible mount points.
package mountinfo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/stackrox/fact/internal/hostinfo"
	"golang.org/x/sys/unix"
)

// Entry is one non-trivial mount discovered under a given device number:
// a bind mount or overlay root whose Root differs from its MountPoint.
type Entry struct {
	Root       string
	MountPoint string
}

// MountInfo caches /proc/self/mountinfo, keyed by packed device number
// ((major<<20)|(minor&0xFFFFF), matching the encoding used by mountinfo's
// "major:minor" device field).
type MountInfo struct {
	mu    sync.RWMutex
	byDev map[uint32][]Entry
}

// New builds a MountInfo by parsing /proc/self/mountinfo once.
func New() (*MountInfo, error) {
	cache, err := buildCache()
	if err != nil {
		return nil, err
	}
	return &MountInfo{byDev: cache}, nil
}

// Refresh re-parses /proc/self/mountinfo and replaces the cache atomically.
func (m *MountInfo) Refresh() error {
	cache, err := buildCache()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.byDev = cache
	m.mu.Unlock()
	return nil
}

// Get returns the mount entries recorded for the packed device number dev.
func (m *MountInfo) Get(dev uint32) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byDev[dev]
}

// PackRawDev packs a raw stat(2)/event dev_t into the same uint32 encoding
// as PackDev, so a device number read off an event or an inode key can be
// used directly as a Get lookup key.
func PackRawDev(dev uint64) uint32 {
	major := uint32(unix.Major(dev))
	minor := uint32(unix.Minor(dev))
	return (major << 20) + (minor & 0xFFFFF)
}

// Translate rewrites hostPath through the first matching entry whose Root
// is a prefix of it, replacing that root with the entry's MountPoint. This
// is original_source/fact/src/event/parser.rs's bind-mount-aware
// resolution: a path resolved under a device's underlying root is
// rewritten to the path as seen at the mount point the device is actually
// exposed through. hostPath is returned unchanged if no entry matches.
func Translate(hostPath string, entries []Entry) string {
	for _, e := range entries {
		if rel, ok := cutPathPrefix(hostPath, e.Root); ok {
			return filepath.Join(e.MountPoint, rel)
		}
	}
	return hostPath
}

func cutPathPrefix(path, prefix string) (string, bool) {
	if prefix == "" || prefix == "/" {
		return "", false
	}
	if path == prefix {
		return "", true
	}
	if rel, ok := strings.CutPrefix(path, strings.TrimSuffix(prefix, "/")+"/"); ok {
		return rel, true
	}
	return "", false
}

// PackDev packs a "major:minor" mountinfo device field into a single
// uint32, matching original_source/fact/src/mount_info.rs's parse_dev.
func PackDev(s string) (uint32, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("mountinfo: invalid device %q", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("mountinfo: parse major %q: %w", parts[0], err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("mountinfo: parse minor %q: %w", parts[1], err)
	}
	return (uint32(major) << 20) + (uint32(minor) & 0xFFFFF), nil
}

func buildCache() (map[uint32][]Entry, error) {
	path := "/proc/self/mountinfo"
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mountinfo: open %s: %w", path, err)
	}
	defer f.Close()

	hostMount := hostinfo.HostMount()
	cache := make(map[uint32][]Entry)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), " ")
		if len(fields) < 5 {
			continue
		}
		dev, err := PackDev(fields[2])
		if err != nil {
			continue
		}
		root := fields[3]
		mountPoint := fields[4]
		if hostMount != "" {
			if rel, ok := strings.CutPrefix(mountPoint, hostMount); ok {
				mountPoint = rel
			}
		}
		mountPoint = filepath.Join("/", mountPoint)

		if root != "/" && root != mountPoint {
			cache[dev] = append(cache[dev], Entry{Root: root, MountPoint: mountPoint})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("mountinfo: read %s: %w", path, err)
	}
	return cache, nil
}
