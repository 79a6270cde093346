// Package goroutineid extracts the runtime's identifier for the calling
// goroutine, from the header line of its stack trace.
//
// It exists so that ownership of a goroutine (the affinity goroutine, or a
// supervised worker) can be checked without threading a handle through every
// call, which the callers of the scheduler don't have.
package goroutineid

import (
	"runtime"
)

const prefix = `goroutine `

// Get returns the current goroutine's ID, or 0 if it could not be parsed.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(b []byte) (id uint64) {
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	for i := len(prefix); i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			break
		}
		id = id*10 + uint64(b[i]-'0')
	}
	return id
}
