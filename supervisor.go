package phasedtick

import (
	"slices"
	"sync"
	"time"
)

// supervisor owns the worker pool, driving it through cycles, and replacing
// any worker that fails to finish a cycle within the worker timeout
type supervisor struct {
	sched *Scheduler

	// goroutine id -> *worker, includes aborted workers until they exit
	byGoroutine sync.Map

	mu      sync.Mutex
	workers []*worker
	nextID  int
}

func newSupervisor(sched *Scheduler) *supervisor {
	return &supervisor{sched: sched}
}

func (x *supervisor) start(n int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for range n {
		x.spawnLocked()
	}
}

func (x *supervisor) spawnLocked() *worker {
	w := newWorker(x.sched, x.nextID)
	x.nextID++
	x.workers = append(x.workers, w)
	go w.run()
	return w
}

// snapshot appends the current pool to buf
func (x *supervisor) snapshot(buf []*worker) []*worker {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append(buf, x.workers...)
}

func (x *supervisor) size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.workers)
}

// lookup returns the worker running on the goroutine with the given id
func (x *supervisor) lookup(gid uint64) *worker {
	if v, ok := x.byGoroutine.Load(gid); ok {
		return v.(*worker)
	}
	return nil
}

// runCycle starts every worker on c, then waits for each to finish, against
// a single deadline relative to the start of the cycle
func (x *supervisor) runCycle(c *cycle) *cycleOutcome {
	workers := x.snapshot(nil)

	for _, w := range workers {
		select {
		case <-w.done:
		default:
		}
		w.start <- c
	}

	timer := time.NewTimer(time.Until(c.started.Add(x.sched.cfg.WorkerTimeout())))
	defer timer.Stop()

	var (
		expired bool
		hung    []*worker
	)
	for _, w := range workers {
		if !awaitWorker(w, c.generation, timer, &expired) {
			hung = append(hung, w)
		}
	}

	for _, w := range hung {
		x.abort(w, c.generation)
	}

	outcome := cycleOutcome{
		stages:  len(c.stages),
		aborted: len(hung),
	}
	for _, stage := range c.stages {
		if !stage.isConsumed(c.generation) {
			outcome.dropped++
		}
	}
	if outcome.dropped != 0 {
		x.sched.metrics.droppedStages.Add(uint64(outcome.dropped))
	}

	return &outcome
}

// awaitWorker waits for w to report generation done, once the timer has
// fired only signals that are already available count
func awaitWorker(w *worker, generation uint64, timer *time.Timer, expired *bool) bool {
	for {
		if *expired {
			select {
			case v := <-w.done:
				if v == generation {
					return true
				}
				continue
			default:
				return false
			}
		}
		select {
		case v := <-w.done:
			if v == generation {
				return true
			}
		case <-timer.C:
			*expired = true
		}
	}
}

// abort gives up on w, which is left to exit on its own, if it ever returns
// from the callback it is stuck in
func (x *supervisor) abort(w *worker, generation uint64) {
	w.aborted.Store(true)
	w.shutdown()
	w.cancelRequest(ErrWorkerAborted)

	var replacement *worker
	x.mu.Lock()
	if i := slices.Index(x.workers, w); i >= 0 {
		x.workers = slices.Delete(x.workers, i, i+1)
	}
	if !x.sched.closed.Load() {
		replacement = x.spawnLocked()
	}
	x.mu.Unlock()

	x.sched.logWorkerAborted(w, replacement, generation)
}

// stop shuts down every worker, resolving pending requests with err, and
// returns the workers that were in the pool
func (x *supervisor) stop(err error) []*worker {
	x.mu.Lock()
	workers := x.workers
	x.workers = nil
	x.mu.Unlock()
	for _, w := range workers {
		w.shutdown()
		w.cancelRequest(err)
	}
	return workers
}
