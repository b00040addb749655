//go:build linux

package hostinfo

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	bootOffsetOnce sync.Once
	bootOffsetVal  time.Duration
)

// BootOffset returns the offset to add to a bpf_ktime_ns() (CLOCK_BOOTTIME)
// reading to obtain an absolute UNIX nanosecond timestamp: wall-clock time
// minus monotonic boot time, sampled once at first use.
func BootOffset() time.Duration {
	bootOffsetOnce.Do(func() {
		var real, boot unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_REALTIME, &real); err != nil {
			return
		}
		if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &boot); err != nil {
			return
		}
		bootOffsetVal = time.Duration(real.Nano()) - time.Duration(boot.Nano())
	})
	return bootOffsetVal
}
