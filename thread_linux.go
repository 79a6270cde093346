//go:build linux

package phasedtick

import (
	"golang.org/x/sys/unix"
)

// osThreadID returns the kernel thread id of the caller, which is only stable
// while the goroutine is locked to its thread.
func osThreadID() int {
	return unix.Gettid()
}
