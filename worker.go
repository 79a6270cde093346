package phasedtick

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-phasedtick/internal/goroutineid"
)

type (
	// cycle is the unit of work the supervisor hands to every worker
	cycle struct {
		started    time.Time
		stages     []*Stage
		generation uint64
	}

	cycleOutcome struct {
		elapsed time.Duration
		stages  int
		aborted int
		dropped int
	}

	// worker is a pool goroutine, locked to its OS thread, created and
	// destroyed exclusively by the supervisor
	worker struct {
		sched   *Scheduler
		start   chan *cycle
		done    chan uint64 // carries the generation of the finished cycle
		quit    chan struct{}
		exited  chan struct{}
		mailbox atomic.Pointer[affinityRequest]
		id      int
		tid     atomic.Int64
		aborted atomic.Bool
		stop    sync.Once
	}
)

func newWorker(sched *Scheduler, id int) *worker {
	return &worker{
		sched:  sched,
		id:     id,
		start:  make(chan *cycle, 1),
		done:   make(chan uint64, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (x *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(x.exited)

	x.tid.Store(int64(osThreadID()))

	gid := goroutineid.Get()
	x.sched.sup.byGoroutine.Store(gid, x)
	defer x.sched.sup.byGoroutine.Delete(gid)

	if hook := x.sched.workerInit; hook != nil {
		if err := safeCall(func() error {
			hook(x.id)
			return nil
		}); err != nil {
			x.sched.logger.Err().
				Err(err).
				Int(`worker`, x.id).
				Int(`tid`, x.threadID()).
				Log(`worker init failed`)
		}
	}

	x.sched.logger.Debug().
		Int(`worker`, x.id).
		Int(`tid`, x.threadID()).
		Log(`worker started`)

	for {
		select {
		case <-x.quit:
			return
		case c := <-x.start:
			x.runCycle(c)
			if x.aborted.Load() {
				return
			}
			select {
			case x.done <- c.generation:
			default:
				// only full if the supervisor has given up on this worker
				select {
				case x.done <- c.generation:
				case <-x.quit:
					return
				}
			}
		}
	}
}

// runCycle claims and runs stages until nothing is claimable, preferring
// prepares, so ticks overlap with as little waiting as possible
func (x *worker) runCycle(c *cycle) {
	var prepareFrom, tickFrom int
	for !x.aborted.Load() {
		if stage := c.claimPrepare(&prepareFrom); stage != nil {
			x.prepare(c.generation, stage)
			continue
		}
		if stage := c.claimTick(&tickFrom); stage != nil {
			x.tick(c.generation, stage)
			continue
		}
		return
	}
}

func (x *worker) prepare(generation uint64, stage *Stage) {
	if err := safeCall(stage.prepare); err != nil {
		x.sched.logStageFailure(x, generation, stage, PhasePrepare, err)
		stage.skipTick(generation)
		return
	}
	stage.markReady(generation)
}

func (x *worker) tick(generation uint64, stage *Stage) {
	err := safeCall(stage.tick)
	stage.markConsumed(generation)
	if err != nil {
		x.sched.logStageFailure(x, generation, stage, PhaseTick, err)
	}
}

// shutdown stops the worker once it is idle, it is safe to call more than
// once
func (x *worker) shutdown() {
	x.stop.Do(func() { close(x.quit) })
}

// cancelRequest resolves the pending affinity request, if any, with err
func (x *worker) cancelRequest(err error) {
	req := x.mailbox.Load()
	if req == nil || !req.state.CompareAndSwap(requestPending, requestResolved) {
		return
	}
	req.err = err
	x.mailbox.CompareAndSwap(req, nil)
	close(req.done)
}

func (x *worker) threadID() int {
	return int(x.tid.Load())
}

// claimPrepare claims the first stage with an unclaimed prepare, from is the
// caller's scan position, as prepare claims are never released
func (x *cycle) claimPrepare(from *int) *Stage {
	for *from < len(x.stages) {
		stage := x.stages[*from]
		*from++
		if stage.tryClaimPrepare(x.generation) {
			return stage
		}
	}
	return nil
}

// claimTick claims the first ready stage with an unclaimed tick, advancing
// from past the leading stages whose tick is already taken
func (x *cycle) claimTick(from *int) *Stage {
	for i := *from; i < len(x.stages); i++ {
		stage := x.stages[i]
		if stage.tryClaimTick(x.generation) {
			return stage
		}
		if i == *from && stage.tickTaken(x.generation) {
			*from++
		}
	}
	return nil
}
