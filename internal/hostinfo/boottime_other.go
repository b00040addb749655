//go:build !linux

package hostinfo

import "time"

// BootOffset is unsupported outside Linux, which has no equivalent of
// CLOCK_BOOTTIME event records to offset. It always returns zero.
func BootOffset() time.Duration {
	return 0
}
