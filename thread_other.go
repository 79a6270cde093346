//go:build !linux

package phasedtick

func osThreadID() int {
	return 0
}
