package phasedtick

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_snapshot(t *testing.T) {
	m := newMetrics()
	assert.Equal(t, Metrics{}, m.snapshot())

	for i := 1; i <= 100; i++ {
		m.recordCycle(time.Duration(i) * time.Millisecond)
	}
	m.recordCycle(0)
	m.recordCycle(time.Hour * 2)
	m.droppedStages.Add(2)

	s := m.snapshot()
	assert.Equal(t, uint64(102), s.Cycles)
	assert.Equal(t, uint64(2), s.DroppedStages)
	assert.Equal(t, int64(102), s.CycleLatency.Count)
	assert.InDelta(t, float64(50*time.Millisecond), float64(s.CycleLatency.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(s.CycleLatency.P99), float64(2*time.Millisecond))
	assert.InDelta(t, float64(time.Hour), float64(s.CycleLatency.Max), float64(time.Hour/100))
	assert.Greater(t, s.CycleLatency.Mean, 50*time.Millisecond)
}
