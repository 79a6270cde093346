package phasedtick

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// cycle latencies are recorded in microseconds, up to an hour
const (
	latencyMin     = 1
	latencyMax     = int64(time.Hour / time.Microsecond)
	latencySigFigs = 3
)

// Metrics is a point-in-time snapshot of scheduler counters, see
// Scheduler.Metrics.
type Metrics struct {
	// CycleLatency summarizes the wall time of completed cycles, including
	// finalizers.
	CycleLatency LatencyMetrics

	// Cycles is the number of completed cycles.
	Cycles uint64

	// WorkerAborts counts workers abandoned after exceeding the worker
	// timeout.
	WorkerAborts uint64

	// WorkerReplacements counts the subset of WorkerAborts that were
	// replaced, i.e. those not aborted after Close.
	WorkerReplacements uint64

	// StageFailures counts prepare and tick callbacks that returned an error
	// or panicked.
	StageFailures uint64

	// DroppedStages counts stages left unconsumed at the end of a cycle,
	// because their claimant was aborted.
	DroppedStages uint64

	// AffinityCalls counts worker requests executed by the affinity
	// goroutine.
	AffinityCalls uint64

	// FinalizerFailures counts finalizers that returned an error or
	// panicked.
	FinalizerFailures uint64
}

// LatencyMetrics summarizes a latency distribution.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int64
}

type metrics struct {
	latency            *hdrhistogram.Histogram
	cycles             atomic.Uint64
	workerAborts       atomic.Uint64
	workerReplacements atomic.Uint64
	stageFailures      atomic.Uint64
	droppedStages      atomic.Uint64
	affinityCalls      atomic.Uint64
	finalizerFailures  atomic.Uint64
	latencyMu          sync.Mutex
}

func newMetrics() *metrics {
	return &metrics{latency: hdrhistogram.New(latencyMin, latencyMax, latencySigFigs)}
}

func (x *metrics) recordCycle(d time.Duration) {
	v := int64(d / time.Microsecond)
	if v < latencyMin {
		v = latencyMin
	} else if v > latencyMax {
		v = latencyMax
	}
	x.latencyMu.Lock()
	_ = x.latency.RecordValue(v)
	x.latencyMu.Unlock()
	x.cycles.Add(1)
}

func (x *metrics) snapshot() Metrics {
	m := Metrics{
		Cycles:             x.cycles.Load(),
		WorkerAborts:       x.workerAborts.Load(),
		WorkerReplacements: x.workerReplacements.Load(),
		StageFailures:      x.stageFailures.Load(),
		DroppedStages:      x.droppedStages.Load(),
		AffinityCalls:      x.affinityCalls.Load(),
		FinalizerFailures:  x.finalizerFailures.Load(),
	}
	x.latencyMu.Lock()
	defer x.latencyMu.Unlock()
	if n := x.latency.TotalCount(); n != 0 {
		m.CycleLatency = LatencyMetrics{
			P50:   microseconds(x.latency.ValueAtQuantile(50)),
			P90:   microseconds(x.latency.ValueAtQuantile(90)),
			P99:   microseconds(x.latency.ValueAtQuantile(99)),
			Max:   microseconds(x.latency.Max()),
			Mean:  time.Duration(x.latency.Mean() * float64(time.Microsecond)),
			Count: n,
		}
	}
	return m
}

func microseconds(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
