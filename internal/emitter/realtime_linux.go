//go:build linux

package emitter

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/ogcode-dev/ogcode/internal/monitoring"
)

// elevateScheduling pins the consumer goroutine to its OS thread and asks
// the kernel for SCHED_FIFO. A missed sample period glitches the mirrors, so
// the consumer wants to preempt ordinary load; refusal (typically missing
// CAP_SYS_NICE) leaves the thread at normal priority and streaming degrades
// gracefully.
func elevateScheduling() {
	runtime.LockOSThread()
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: 50,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		monitoring.Debugf("[emitter] realtime scheduling unavailable: %v", err)
		return
	}
	monitoring.Logf("[emitter] consumer thread elevated to SCHED_FIFO")
}
