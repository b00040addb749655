// Package containerid resolves a cgroup inode number to the 12-character
// container identifier of the container that owns it, by walking the host
// cgroup filesystem hierarchy and caching the result keyed by inode.
package containerid

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stackrox/fact/internal/hostinfo"
	"golang.org/x/sys/unix"
)

const entryTTL = 30 * time.Second

// cgroupRoots are the well-known cgroup v1/v2 mount points, searched under
// hostinfo.HostMount.
var cgroupRoots = []string{
	"/sys/fs/cgroup",
	"/sys/fs/cgroup/memory",
}

type entry struct {
	containerID string
	hasID       bool
	lastSeen    time.Time
}

// Resolver maintains the cgroup-inode -> container-id cache described in
// SPEC_FULL.md §4.3. A Resolver is safe for concurrent use.
type Resolver struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[uint64]*entry
}

// New creates a Resolver and performs an initial synchronous walk of the
// cgroup hierarchy so the cache is warm before the first lookup.
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		logger:  logger,
		entries: make(map[uint64]*entry),
	}
	r.updateLocked()
	return r
}

// Lookup returns the container id associated with cgroupInode, if any. On a
// cache miss it performs a synchronous re-walk of the cgroup hierarchy
// before giving a final answer, since a newly-created container's cgroup
// directory may not yet have been observed.
func (r *Resolver) Lookup(cgroupInode uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[cgroupInode]; ok {
		return e.containerID, e.hasID
	}

	r.updateLocked()

	if e, ok := r.entries[cgroupInode]; ok {
		return e.containerID, e.hasID
	}
	return "", false
}

// RunPruneLoop blocks, re-walking the cgroup tree and evicting entries not
// seen in the last 30 seconds every 30 seconds, until stop is closed.
func (r *Resolver) RunPruneLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(entryTTL)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.updateLocked()
			r.pruneLocked()
			r.mu.Unlock()
		}
	}
}

func (r *Resolver) pruneLocked() {
	now := time.Now()
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= entryTTL {
			delete(r.entries, k)
		}
	}
}

// updateLocked re-walks every cgroup root. Caller must hold r.mu.
func (r *Resolver) updateLocked() {
	for _, root := range cgroupRoots {
		root = hostinfo.PrependHostMount(root)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		r.walk(root, "", false)
	}
}

// walk recursively walks a cgroup directory tree, inserting one entry per
// directory keyed by its inode number, with the container id inherited from
// parentID when the directory's own name does not encode one.
func (r *Resolver) walk(path string, parentID string, parentHasID bool) {
	entries, err := os.ReadDir(path)
	if err != nil {
		r.logger.Warn("containerid: failed to read cgroup directory",
			slog.String("path", path), slog.Any("error", err))
		return
	}

	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		p := filepath.Join(path, de.Name())

		info, err := de.Info()
		if err != nil {
			continue
		}
		stat, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			continue
		}
		ino := stat.Ino

		var containerID string
		var hasID bool

		if e, exists := r.entries[ino]; exists {
			e.lastSeen = time.Now()
			containerID, hasID = e.containerID, e.hasID
		} else {
			containerID, hasID = ExtractContainerID(de.Name())
			if !hasID {
				containerID, hasID = parentID, parentHasID
			}
			r.entries[ino] = &entry{containerID: containerID, hasID: hasID, lastSeen: time.Now()}
		}

		r.walk(p, containerID, hasID)
	}
}

// ExtractContainerID derives a 12-character container id from a single
// cgroup path component, per SPEC_FULL.md §4.3:
//
//  1. Strip a trailing ".scope" suffix if present.
//  2. Require length >= 64 after step 1.
//  3. Split off the last 64 bytes as the candidate id.
//  4. The prefix of the remaining head must be empty or end with '-'.
//  5. The 64-byte candidate must be all ASCII hex digits.
//  6. Return the first 12 characters.
func ExtractContainerID(component string) (string, bool) {
	if component == "" {
		return "", false
	}

	component = trimScopeSuffix(component)
	if len(component) < 64 {
		return "", false
	}

	prefix := component[:len(component)-64]
	id := component[len(component)-64:]

	if prefix != "" && prefix[len(prefix)-1] != '-' {
		return "", false
	}

	if !isAllHex(id) {
		return "", false
	}

	return id[:12], true
}

// LookupPath resolves a cgroup path, as carried on the wire in
// Process.MemoryCgroup, to a container id. It stats the path under each
// configured cgroup root to recover the directory's inode and resolves that
// through the TTL cache built by New/RunPruneLoop, per SPEC_FULL.md §4.3's
// inode-keyed contract. If every stat fails — the cgroup directory may
// already be gone by the time the event reaches this resolver — it falls
// back to FromCgroupPath's pure string-based extraction.
func (r *Resolver) LookupPath(cgroupPath string) (string, bool) {
	for _, root := range cgroupRoots {
		full := filepath.Join(hostinfo.PrependHostMount(root), cgroupPath)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		stat, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			continue
		}
		if id, hasID := r.Lookup(stat.Ino); hasID {
			return id, true
		}
	}
	return FromCgroupPath(cgroupPath)
}

// FromCgroupPath derives a container id directly from a full cgroup path
// (as carried in Process.MemoryCgroup), without touching the filesystem. It
// tries each path component from the leaf upward, inheriting the first
// component that yields an id, mirroring the parent-inheritance rule of
// walk without requiring a prior directory scan.
func FromCgroupPath(cgroupPath string) (string, bool) {
	components := strings.Split(strings.Trim(cgroupPath, "/"), "/")
	for i := len(components) - 1; i >= 0; i-- {
		if id, ok := ExtractContainerID(components[i]); ok {
			return id, true
		}
	}
	return "", false
}

func trimScopeSuffix(s string) string {
	const suffix = ".scope"
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func isAllHex(s string) bool {
	for _, c := range s {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}
