// Package preflight verifies that the host kernel supports the LSM-based
// eBPF probes before any probe is loaded, so that an unsupported host fails
// fast with a clear message rather than failing deep inside the loader.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackrox/fact/internal/hostinfo"
)

const lsmConfigPath = "/sys/kernel/security/lsm"

// HaveBPFLSM reports whether "bpf" appears as one of the comma-separated
// capabilities in lsmConfig, the contents of /sys/kernel/security/lsm.
func HaveBPFLSM(lsmConfig string) bool {
	for _, cap := range strings.Split(lsmConfig, ",") {
		if strings.TrimSpace(cap) == "bpf" {
			return true
		}
	}
	return false
}

// Check reads the host's configured LSMs and returns an error if "bpf" is
// not among them. If skip is true, Check always returns nil without
// touching the filesystem.
func Check(skip bool) error {
	if skip {
		return nil
	}

	path := filepath.Join(hostinfo.HostMount(), lsmConfigPath)
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("preflight: read LSM configuration at %s: %w", path, err)
	}

	if !HaveBPFLSM(string(b)) {
		return fmt.Errorf("preflight: BPF capability for LSM is not configured (read %q from %s)",
			strings.TrimSpace(string(b)), path)
	}
	return nil
}
