// Package hostscan walks the configured monitored-path prefixes and
// maintains the kernel inode-marker map and its richer userspace
// counterpart, resolving event inodes back to host-namespace paths per
// SPEC_FULL.md §4.4.
package hostscan

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/hostinfo"
	"golang.org/x/sys/unix"
)

// KernelInodeMarker is the subset of the loaded eBPF inode-marker map the
// scanner needs: insert a key so matching events are no longer filtered
// out, and remove one once no configured path resolves to it any more.
type KernelInodeMarker interface {
	Insert(key event.InodeKey) error
	Remove(key event.InodeKey) error
}

// nopMarker is used when the scanner runs without a live kernel map (tests,
// or non-Linux builds where the probe loader is a stub).
type nopMarker struct{}

func (nopMarker) Insert(event.InodeKey) error { return nil }
func (nopMarker) Remove(event.InodeKey) error { return nil }

// entry is the userspace-side record for one inode: every host-namespace
// path currently known to resolve to it, in insertion order. Per
// SPEC_FULL.md §9, hard-link tie-breaks keep the first path inserted,
// which is entry.paths[0] here — not sorted, and not stable across a
// restart, matching the reference's documented nondeterminism.
type entry struct {
	paths []string
}

// Scanner owns the inode ↔ host-path mapping described in SPEC_FULL.md
// §4.4. A Scanner is safe for concurrent use; all mutation happens under
// mu, and per SPEC_FULL.md's single-owning-goroutine design, callers should
// still route scans and lookups through the one Scanner instance to avoid
// interleaving a scan with a Creation/cleanup cycle.
type Scanner struct {
	logger *slog.Logger
	kernel KernelInodeMarker

	mu      sync.Mutex
	byInode map[event.InodeKey]*entry
	prefixes []string
}

// New creates a Scanner. If kernel is nil, inserts and removes are no-ops,
// which is useful for tests and for the non-Linux build where no probe is
// loaded.
func New(logger *slog.Logger, kernel KernelInodeMarker) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if kernel == nil {
		kernel = nopMarker{}
	}
	return &Scanner{
		logger:  logger,
		kernel:  kernel,
		byInode: make(map[event.InodeKey]*entry),
	}
}

// ApplyPaths re-scans under the given configured prefixes (host-namespace
// paths, resolved under hostinfo.HostMount), inserting any newly-discovered
// inode, then runs Cleanup to retire anything no longer reachable from any
// prefix. Called once at startup and again on every path-config change.
func (s *Scanner) ApplyPaths(prefixes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefixes = append([]string(nil), prefixes...)

	var errs []error
	for _, prefix := range s.prefixes {
		if err := s.scanPrefix(prefix); err != nil {
			errs = append(errs, err)
		}
	}
	s.cleanupLocked()
	return errors.Join(errs...)
}

// scanPrefix walks one configured prefix, inserting (inode,dev) -> host
// path for every regular file and every ancestor directory, per
// SPEC_FULL.md §4.4 step 1. Stat errors on individual files are logged and
// skipped, not fatal to the scan.
func (s *Scanner) scanPrefix(prefix string) error {
	root := hostinfo.PrependHostMount(prefix)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("hostscan: walk error", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		info, err := d.Info()
		if err != nil {
			s.logger.Warn("hostscan: stat error", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		stat, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			return nil
		}
		key := event.InodeKey{Inode: stat.Ino, Dev: uint64(stat.Dev)}
		hostPath := hostinfo.RemoveHostMount(path)
		s.insertLocked(key, hostPath)
		return nil
	})
}

// insertLocked records hostPath as resolving to key, inserting into the
// kernel map the first time key is seen. Caller must hold s.mu.
func (s *Scanner) insertLocked(key event.InodeKey, hostPath string) {
	e, exists := s.byInode[key]
	if !exists {
		e = &entry{}
		s.byInode[key] = e
		if err := s.kernel.Insert(key); err != nil {
			s.logger.Warn("hostscan: kernel map insert failed",
				slog.Any("key", key), slog.Any("error", err))
		}
	}
	for _, p := range e.paths {
		if p == hostPath {
			return
		}
	}
	e.paths = append(e.paths, hostPath)
}

// GetHostPath resolves key to a host-namespace path, per SPEC_FULL.md §4.4
// step 2: the first path recorded for key, or — if key itself is unknown
// but parent is known — parent's path joined with the basename of
// filename.
func (s *Scanner) GetHostPath(key event.InodeKey, parent event.InodeKey, filename string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byInode[key]; ok && len(e.paths) > 0 {
		return e.paths[0], true
	}
	if e, ok := s.byInode[parent]; ok && len(e.paths) > 0 {
		return filepath.Join(e.paths[0], filepath.Base(filename)), true
	}
	return "", false
}

// HandleCreation implements SPEC_FULL.md §4.4 step 3: a Creation event's
// new inode is registered as monitored (and its userspace path recorded)
// only when it lies under one of the currently-configured prefixes;
// otherwise any marker the kernel inserted eagerly on creation is revoked.
func (s *Scanner) HandleCreation(key event.InodeKey, hostPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.underAnyPrefixLocked(hostPath) {
		s.insertLocked(key, hostPath)
		return
	}

	if _, exists := s.byInode[key]; !exists {
		if err := s.kernel.Remove(key); err != nil {
			s.logger.Warn("hostscan: kernel map revoke failed",
				slog.Any("key", key), slog.Any("error", err))
		}
	}
}

func (s *Scanner) underAnyPrefixLocked(hostPath string) bool {
	for _, prefix := range s.prefixes {
		if hostPath == prefix || strings.HasPrefix(hostPath, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// Cleanup re-evaluates every known inode against the current prefixes,
// dropping any path no longer covered and removing from the kernel map any
// inode whose path set became empty. ApplyPaths runs the same cleanup after
// every scan.
func (s *Scanner) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Scanner) cleanupLocked() {
	for key, e := range s.byInode {
		kept := e.paths[:0]
		for _, p := range e.paths {
			if s.underAnyPrefixLocked(p) {
				kept = append(kept, p)
			}
		}
		e.paths = kept

		if len(e.paths) == 0 {
			delete(s.byInode, key)
			if err := s.kernel.Remove(key); err != nil {
				s.logger.Warn("hostscan: kernel map remove failed",
					slog.Any("key", key), slog.Any("error", err))
			}
		}
	}
}

