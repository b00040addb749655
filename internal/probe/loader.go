// Package probe loads the compiled eBPF LSM object, attaches its programs,
// and drains the resulting ring buffer into a Go channel of raw frames, per
// SPEC_FULL.md §4.1 and §4.5.
//
// The compiled .o is built by a separate toolchain (out of scope here, per
// SPEC_FULL.md §1); this package only ever treats it as an opaque asset
// loaded through github.com/cilium/ebpf.
package probe

import (
	"errors"

	"github.com/stackrox/fact/internal/event"
)

// ErrNotSupported is returned by Load, ApplyPaths, Insert, Remove and
// ReadHookMetrics on a platform without an LSM-eBPF loader (anything but
// Linux); New itself succeeds there.
var ErrNotSupported = errors.New("probe: eBPF LSM loader is only supported on Linux")

// Map and program names the loaded collection is expected to expose. These
// must match the (out-of-scope) compiled object's ELF section/map names.
const (
	MapEvents               = "events"
	MapInodeMarkers          = "inode_markers"
	MapPrefixTrie            = "prefix_trie"
	MapPrefixFilterEnabled   = "prefix_filter_enabled"
	MapHookMetrics           = "hook_metrics"

	ProgTraceFileOpen    = "trace_file_open"
	ProgTracePathUnlink  = "trace_path_unlink"
	ProgTracePathChmod   = "trace_path_chmod"
	ProgTracePathChown   = "trace_path_chown"
	ProgTraceBprmCheck   = "trace_bprm_check"

	// ProgDPathProbe is the minimal companion program described in
	// SPEC_FULL.md §4.1's feature-detection paragraph: it does nothing but
	// call bpf_d_path from a path_unlink context. Whether the kernel agrees
	// to load it determines PathHooksSupportBPFDPath.
	ProgDPathProbe = "probe_bpf_d_path_support"
)

// HookPrograms maps each LSM hook name to the ELF section of the program
// that should be attached to it.
var HookPrograms = map[string]string{
	"file_open":             ProgTraceFileOpen,
	"path_unlink":            ProgTracePathUnlink,
	"path_chmod":             ProgTracePathChmod,
	"path_chown":             ProgTracePathChown,
	"bprm_check_security":   ProgTraceBprmCheck,
}

// lpmKey mirrors the kernel's BPF_MAP_TYPE_LPM_TRIE key layout: a 4-byte
// prefix length in bits, followed by the (fixed-size, zero-padded) key
// bytes. See event.PathPrefixKey for how bitLen and the byte payload are
// derived from a path.
type lpmKey struct {
	PrefixLen uint32
	Data      [event.LPMSizeMax]byte
}

func newLPMKey(path string) lpmKey {
	var k lpmKey
	key, bitLen := event.PathPrefixKey(path)
	k.PrefixLen = uint32(bitLen)
	copy(k.Data[:], key)
	return k
}

// hookIndexNames gives the hook name for each index of the per-CPU
// hook_metrics array map, in the order the compiled object populates it.
var hookIndexNames = []string{"file_open", "path_unlink", "path_chmod", "path_chown", "bprm_check_security"}

func hookNameForIndex(i uint32) string {
	if int(i) < len(hookIndexNames) {
		return hookIndexNames[i]
	}
	return "unknown"
}
