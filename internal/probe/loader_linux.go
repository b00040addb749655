//go:build linux

package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"

	"github.com/stackrox/fact/internal/event"
	"github.com/stackrox/fact/internal/hostinfo"
	"github.com/stackrox/fact/internal/metrics"
)

// Features are the read-mostly globals the loader publishes into the
// program before loading it, per SPEC_FULL.md §4.1's feature-detection
// paragraph.
type Features struct {
	// HostMountNS is the host's mount namespace inode, used by the kernel
	// side to annotate in_root_mount_ns.
	HostMountNS uint64
	// PathHooksSupportBPFDPath toggles whether the path hooks use
	// bpf_d_path (preferred) or a dentry-walk fallback.
	PathHooksSupportBPFDPath bool
}

// DetectFeatures resolves the host mount-namespace inode and probes whether
// the kernel will load a program calling bpf_d_path, per SPEC_FULL.md §4.1.
// A failure to load the companion program only degrades
// PathHooksSupportBPFDPath to false; it is never a fatal error, since the
// dentry-walk fallback the object uses instead is always correct, just
// slower.
func DetectFeatures(objPath string, logger *slog.Logger) Features {
	if logger == nil {
		logger = slog.Default()
	}

	var f Features

	if ns, err := hostMountNamespaceInode(); err != nil {
		logger.Warn("probe: failed to resolve host mount namespace inode", slog.Any("error", err))
	} else {
		f.HostMountNS = ns
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		logger.Warn("probe: failed to load collection spec for feature detection", slog.Any("error", err))
		return f
	}
	progSpec, ok := spec.Programs[ProgDPathProbe]
	if !ok {
		return f
	}
	prog, err := ebpf.NewProgram(progSpec)
	if err != nil {
		logger.Debug("probe: bpf_d_path companion program rejected by kernel, falling back to dentry walk",
			slog.Any("error", err))
		return f
	}
	prog.Close()
	f.PathHooksSupportBPFDPath = true
	return f
}

// hostMountNamespaceInode returns the inode of the host's mount namespace,
// read through /proc/1/ns/mnt under hostinfo.HostMount so a containerized
// agent reports the node's namespace rather than its own.
func hostMountNamespaceInode() (uint64, error) {
	path := filepath.Join(hostinfo.HostMount(), "/proc/1/ns/mnt")
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return stat.Ino, nil
}

// Loader owns a loaded eBPF LSM collection: its attached links, ring buffer
// reader, and the maps the rest of the agent needs direct access to.
type Loader struct {
	objPath       string
	logger        *slog.Logger
	ringbufSizeKB uint32
	features      Features
	metricsReg    *metrics.Registry

	coll   *ebpf.Collection
	links  []link.Link
	reader *ringbuf.Reader

	frames chan []byte

	mu           sync.Mutex
	appliedPaths map[string]struct{}
}

// New creates a Loader. objPath is the path to the compiled LSM object
// file; Load must be called before the loader does anything useful.
func New(logger *slog.Logger, objPath string, ringbufSizeKB uint32, features Features, metricsReg *metrics.Registry) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		objPath:       objPath,
		logger:        logger,
		ringbufSizeKB: ringbufSizeKB,
		features:      features,
		metricsReg:    metricsReg,
		appliedPaths:  make(map[string]struct{}),
	}
}

// Load bumps RLIMIT_MEMLOCK, loads the collection, rewrites its ring-buffer
// size and feature-detection globals, attaches every configured LSM hook,
// and opens the ring-buffer reader. It does not start draining; call Run
// for that.
func (l *Loader) Load() error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("probe: remove memlock rlimit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(l.objPath)
	if err != nil {
		return fmt.Errorf("probe: load collection spec %s: %w", l.objPath, err)
	}

	if rb, ok := spec.Maps[MapEvents]; ok {
		rb.MaxEntries = l.ringbufSizeKB * 1024
	}

	if err := spec.RewriteConstants(map[string]interface{}{
		"host_mount_ns":                    l.features.HostMountNS,
		"path_hooks_support_bpf_d_path":    l.features.PathHooksSupportBPFDPath,
	}); err != nil {
		l.logger.Warn("probe: one or more feature globals not present in object, continuing", slog.Any("error", err))
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("probe: load collection: %w", err)
	}
	l.coll = coll

	for hook, progName := range HookPrograms {
		prog, ok := coll.Programs[progName]
		if !ok {
			l.Close()
			return fmt.Errorf("probe: object missing program %q for hook %q", progName, hook)
		}
		lnk, err := link.AttachLSM(link.LSMOptions{Program: prog})
		if err != nil {
			l.Close()
			return fmt.Errorf("probe: attach LSM hook %q: %w", hook, err)
		}
		l.links = append(l.links, lnk)
	}

	rbMap, ok := coll.Maps[MapEvents]
	if !ok {
		l.Close()
		return fmt.Errorf("probe: object missing ring buffer map %q", MapEvents)
	}
	rd, err := ringbuf.NewReader(rbMap)
	if err != nil {
		l.Close()
		return fmt.Errorf("probe: open ring buffer reader: %w", err)
	}
	l.reader = rd
	l.frames = make(chan []byte, 4096)

	return nil
}

// Frames returns the channel of raw ring-buffer payloads. Closed once the
// drain loop exits.
func (l *Loader) Frames() <-chan []byte {
	return l.frames
}

// Run starts the drain loop in a new goroutine and returns immediately. The
// loop exits once ctx is cancelled or the ring buffer reader is closed.
func (l *Loader) Run(ctx context.Context) {
	go l.drainLoop(ctx)
}

func (l *Loader) drainLoop(ctx context.Context) {
	defer close(l.frames)

	for {
		record, err := l.reader.Read()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err == ringbuf.ErrClosed {
				return
			}
			l.logger.Warn("probe: ring buffer read error", slog.Any("error", err))
			return
		}

		select {
		case l.frames <- record.RawSample:
		case <-ctx.Done():
			return
		}
	}
}

// ApplyPaths diffs paths against the currently-applied prefix set, inserts
// newly-added prefixes into the LPM trie, removes deleted ones, and flips
// the prefix-filter-enabled flag if emptiness changed, per SPEC_FULL.md
// §4.5's hot-reload paragraph.
func (l *Loader) ApplyPaths(paths []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trie, ok := l.coll.Maps[MapPrefixTrie]
	if !ok {
		return fmt.Errorf("probe: object missing LPM trie map %q", MapPrefixTrie)
	}
	flag, ok := l.coll.Maps[MapPrefixFilterEnabled]
	if !ok {
		return fmt.Errorf("probe: object missing prefix-filter flag map %q", MapPrefixFilterEnabled)
	}

	next := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		next[p] = struct{}{}
	}

	var errs []error
	for p := range next {
		if _, already := l.appliedPaths[p]; already {
			continue
		}
		key := newLPMKey(p)
		if err := trie.Put(&key, uint8(0)); err != nil {
			errs = append(errs, fmt.Errorf("insert prefix %q: %w", p, err))
			continue
		}
		l.appliedPaths[p] = struct{}{}
	}
	for p := range l.appliedPaths {
		if _, keep := next[p]; keep {
			continue
		}
		key := newLPMKey(p)
		if err := trie.Delete(&key); err != nil {
			errs = append(errs, fmt.Errorf("remove prefix %q: %w", p, err))
			continue
		}
		delete(l.appliedPaths, p)
	}

	var enabled uint8
	if len(l.appliedPaths) > 0 {
		enabled = 1
	}
	var zero uint32
	if err := flag.Update(&zero, &enabled, ebpf.UpdateAny); err != nil {
		errs = append(errs, fmt.Errorf("update prefix-filter flag: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "probe: one or more path-apply operations failed"
	for _, e := range errs {
		l.logger.Warn(msg, slog.Any("error", e))
	}
	return errs[0]
}

// inodeMarkerKey mirrors the kernel's inode_markers map key: the same
// (inode, dev) pair as event.InodeKey, in field order.
type inodeMarkerKey struct {
	Inode uint64
	Dev   uint64
}

// Insert implements hostscan.KernelInodeMarker: it adds key to the kernel's
// inode-marker map so matching events are no longer filtered out.
func (l *Loader) Insert(key event.InodeKey) error {
	m, ok := l.coll.Maps[MapInodeMarkers]
	if !ok {
		return fmt.Errorf("probe: object missing inode marker map %q", MapInodeMarkers)
	}
	k := inodeMarkerKey{Inode: key.Inode, Dev: key.Dev}
	return m.Update(&k, uint8(1), ebpf.UpdateAny)
}

// Remove implements hostscan.KernelInodeMarker: it deletes key from the
// kernel's inode-marker map once no configured prefix resolves to it.
func (l *Loader) Remove(key event.InodeKey) error {
	m, ok := l.coll.Maps[MapInodeMarkers]
	if !ok {
		return fmt.Errorf("probe: object missing inode marker map %q", MapInodeMarkers)
	}
	k := inodeMarkerKey{Inode: key.Inode, Dev: key.Dev}
	err := m.Delete(&k)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return nil
	}
	return err
}

// ReadHookMetrics accumulates the per-CPU hook counters map into the
// metrics registry. Intended to be called on every Prometheus scrape.
func (l *Loader) ReadHookMetrics() error {
	if l.metricsReg == nil {
		return nil
	}
	m, ok := l.coll.Maps[MapHookMetrics]
	if !ok {
		return nil
	}

	var key uint32
	var perCPU []metrics.HookCounters
	iter := m.Iterate()
	for iter.Next(&key, &perCPU) {
		hook := hookNameForIndex(key)
		var total metrics.HookCounters
		for _, c := range perCPU {
			total.Total += c.Total
			total.Added += c.Added
			total.Error += c.Error
			total.Ignored += c.Ignored
			total.RingbufferFull += c.RingbufferFull
		}
		l.metricsReg.Add(hook, total)
	}
	return iter.Err()
}

// Close detaches every link, closes the ring buffer reader, and releases
// the collection's maps and programs, causing the kernel to free them.
func (l *Loader) Close() error {
	for _, lnk := range l.links {
		lnk.Close()
	}
	l.links = nil

	if l.reader != nil {
		l.reader.Close()
		l.reader = nil
	}
	if l.coll != nil {
		l.coll.Close()
		l.coll = nil
	}
	return nil
}
