package phasedtick

import (
	"bytes"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// checkNumGoroutines records the current number of goroutines, returning a
// function that fails the test if the count hasn't returned to (at most)
// that, within timeout
func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			after := runtime.NumGoroutine()
			if after <= before {
				return
			}
			if time.Now().After(deadline) {
				buf := make([]byte, 1<<16)
				buf = buf[:runtime.Stack(buf, true)]
				t.Errorf("goroutine leak: before=%d after=%d\n%s", before, after, buf)
				return
			}
			time.Sleep(time.Millisecond * 10)
		}
	}
}

func testConfig(workers int, timeout time.Duration) Config {
	cfg := DefaultConfig()
	cfg.WorkerCount = workers
	cfg.WorkerTimeoutMs = int(timeout / time.Millisecond)
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, options ...Option) *Scheduler {
	t.Helper()
	s, err := New(cfg, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// syncBuffer is written to by workers, concurrently
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func newTestLogger(w *syncBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}
