package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-phasedtick"
	"github.com/joeycumines/go-phasedtick/resultcache"
)

// simulation is a stand-in for a host loop, with six independent regions,
// one of which is slow, plus a memoized path finder
type simulation struct {
	scheduler *phasedtick.Scheduler
	opts      *options
	hang      time.Duration
	cycle     atomic.Int64
	hung      atomic.Bool

	// owned by the affinity goroutine
	frame     []string
	lastFrame int
}

func newSimulation(scheduler *phasedtick.Scheduler, opts *options, timeout time.Duration) *simulation {
	return &simulation{
		scheduler: scheduler,
		opts:      opts,
		hang:      timeout * 2,
	}
}

func (x *simulation) register() error {
	work := x.opts.slow / 12
	for _, name := range []string{`A`, `B`, `C`, `D`, `E`, `F`} {
		delay := work
		if name == `C` {
			delay = x.opts.slow
		}
		var population atomic.Int64
		if _, err := x.scheduler.AddStage(
			name,
			func() error {
				population.Store(x.cycle.Load() * 100)
				return nil
			},
			func() error {
				label := fmt.Sprintf(`%s:%d`, name, population.Load())
				if name == `B` && x.opts.hangCycle > 0 &&
					x.cycle.Load() == int64(x.opts.hangCycle) &&
					x.hung.CompareAndSwap(false, true) {
					time.Sleep(x.hang)
				}
				time.Sleep(delay)
				return x.draw(label)
			},
		); err != nil {
			return err
		}
	}

	var key resultcache.Key
	if _, err := x.scheduler.AddStage(
		`pathing`,
		func() error {
			// routes repeat every few cycles, so most lookups hit
			key = resultcache.Identity(pathRoutine, x.cycle.Load()%3)
			return nil
		},
		func() error {
			route, err := x.scheduler.Cache().GetOrCompute(pathRoutine, key, func() (any, error) {
				time.Sleep(x.opts.slow / 60)
				return fmt.Sprintf(`route-%x`, uint64(key)&0xff), nil
			})
			if err != nil {
				return err
			}
			return x.draw(route.(string))
		},
	); err != nil {
		return err
	}

	return x.scheduler.RegisterFinalizer(x.present)
}

// draw hands a draw call to the affinity goroutine, which owns the frame
func (x *simulation) draw(cmd string) error {
	_, err := x.scheduler.CallOnAffinityThread(func(args ...any) (any, error) {
		x.frame = append(x.frame, args[0].(string))
		return nil, nil
	}, cmd)
	return err
}

func (x *simulation) present() error {
	x.lastFrame = len(x.frame)
	x.frame = x.frame[:0]
	return nil
}
