package phasedtick

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-phasedtick/internal/goroutineid"
	"github.com/joeycumines/go-phasedtick/resultcache"
	"github.com/joeycumines/logiface"
)

// Scheduler runs registered stages in parallel, on a fixed pool of workers,
// one barrier synchronized cycle per call to RunOneCycle. Instances must be
// initialized using the New factory.
//
// The goroutine that binds the scheduler (see BindAffinityThread) is the
// affinity goroutine. It is locked to its OS thread, it alone runs cycles,
// and it services the affinity calls of workers (see CallOnAffinityThread)
// while it waits.
type Scheduler struct {
	_ [0]func()

	logger         *logiface.Logger[logiface.Event]
	cache          *resultcache.Cache
	failureLimiter *catrate.Limiter
	workerInit     func(workerID int)
	metrics        *metrics
	sup            *supervisor
	wake           chan struct{}

	// only accessed by the affinity goroutine, during a cycle
	drainBuf []*worker

	stages     []*Stage
	finalizers []func() error

	cfg        Config
	generation uint64 // guarded by inCycle
	stagesMu   sync.Mutex

	affinityID  atomic.Uint64
	affinityTID atomic.Int64
	tick        atomic.Uint64

	inCycle     atomic.Bool
	closed      atomic.Bool
	autoAdvance bool
}

// New initializes a Scheduler, starting cfg.WorkerCount workers, which run
// until Close is called.
func New(cfg Config, options ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := resolveSchedulerOptions(options)
	if err != nil {
		return nil, err
	}

	x := &Scheduler{
		cfg:            cfg,
		logger:         opts.logger,
		cache:          opts.cache,
		failureLimiter: opts.failureLimiter,
		workerInit:     opts.workerInit,
		autoAdvance:    opts.autoAdvance,
		metrics:        newMetrics(),
		wake:           make(chan struct{}, 1),
	}

	if x.cache == nil {
		x.cache, err = resultcache.New(
			resultcache.WithDefaultFrequency(cfg.DefaultCacheFrequency),
			resultcache.WithTickSource(x.Tick),
			resultcache.WithLogger(x.logger),
		)
		if err != nil {
			return nil, err
		}
	}

	x.sup = newSupervisor(x)
	x.sup.start(cfg.WorkerCount)

	return x, nil
}

// AddStage initializes a Stage, and registers it, see Register.
func (x *Scheduler) AddStage(name string, prepare, tick StageFunc) (*Stage, error) {
	if tick == nil {
		return nil, ErrNilFunc
	}
	stage := NewStage(name, prepare, tick)
	if err := x.Register(stage); err != nil {
		return nil, err
	}
	return stage, nil
}

// Register adds stages to every subsequent cycle. A cycle already in
// progress is unaffected. Each stage may only ever be registered once,
// ErrStageRegistered is returned otherwise, and none of the stages are
// registered.
func (x *Scheduler) Register(stages ...*Stage) error {
	if x.closed.Load() {
		return ErrSchedulerClosed
	}

	for i, stage := range stages {
		if stage == nil || stage.tick == nil {
			x.unregister(stages[:i])
			return fmt.Errorf(`%w: stage %d`, ErrNilFunc, i)
		}
		if !stage.registered.CompareAndSwap(false, true) {
			x.unregister(stages[:i])
			return fmt.Errorf(`%w: %q`, ErrStageRegistered, stage.name)
		}
	}

	x.stagesMu.Lock()
	x.stages = append(x.stages, stages...)
	x.stagesMu.Unlock()

	return nil
}

func (x *Scheduler) unregister(stages []*Stage) {
	for _, stage := range stages {
		stage.registered.Store(false)
	}
}

// Stages returns the number of registered stages.
func (x *Scheduler) Stages() int {
	x.stagesMu.Lock()
	defer x.stagesMu.Unlock()
	return len(x.stages)
}

// RegisterFinalizer adds a function that is run by the affinity goroutine at
// the end of every cycle, after all stages, in registration order. Errors
// and panics are logged.
func (x *Scheduler) RegisterFinalizer(fn func() error) error {
	if fn == nil {
		return ErrNilFunc
	}
	if x.closed.Load() {
		return ErrSchedulerClosed
	}
	x.stagesMu.Lock()
	x.finalizers = append(x.finalizers, fn)
	x.stagesMu.Unlock()
	return nil
}

// BindAffinityThread makes the calling goroutine the affinity goroutine,
// locking it to its current OS thread (see runtime.LockOSThread), so every
// affinity call runs on the same thread. The lock is held until Close is
// called from the bound goroutine, or the goroutine exits.
//
// It is optional, the first call to RunOneCycle binds its caller. Calling it
// from the bound goroutine is a no-op.
func (x *Scheduler) BindAffinityThread() error {
	if x.closed.Load() {
		return ErrSchedulerClosed
	}
	gid := goroutineid.Get()
	if x.sup.lookup(gid) != nil {
		return ErrCycleFromWorker
	}
	if x.affinityID.Load() == gid {
		return nil
	}
	if !x.affinityID.CompareAndSwap(0, gid) {
		return ErrNotAffinityThread
	}
	runtime.LockOSThread()
	x.affinityTID.Store(int64(osThreadID()))
	x.logger.Debug().
		Uint64(`goroutine`, gid).
		Int(`tid`, x.affinityThreadID()).
		Log(`affinity thread bound`)
	return nil
}

func (x *Scheduler) affinityThreadID() int {
	return int(x.affinityTID.Load())
}

// IsAffinityThread reports whether the caller is the bound affinity
// goroutine.
func (x *Scheduler) IsAffinityThread() bool {
	id := x.affinityID.Load()
	return id != 0 && id == goroutineid.Get()
}

// RunOneCycle prepares and ticks every registered stage, in parallel, then
// runs finalizers, returning once all of it is done. Stage failures are
// logged, and do not fail the cycle. Workers that exceed the worker timeout
// are abandoned, and replaced, so a cycle takes at most about that long,
// plus the finalizers.
//
// It must be called by the affinity goroutine, and is bound as such on first
// use, which locks the caller to its OS thread, see BindAffinityThread. Errors satisfying errors.Is(err, ErrAffinityMisuse) are returned for
// calls that would otherwise deadlock.
func (x *Scheduler) RunOneCycle() error {
	if err := x.enterCycle(); err != nil {
		return err
	}
	defer x.inCycle.Store(false)

	started := time.Now()

	x.stagesMu.Lock()
	stages := slices.Clone(x.stages)
	finalizers := slices.Clone(x.finalizers)
	x.stagesMu.Unlock()

	x.generation++
	generation := x.generation
	for _, stage := range stages {
		stage.reset(generation)
	}

	result := make(chan *cycleOutcome, 1)
	go func() {
		result <- x.sup.runCycle(&cycle{
			started:    started,
			stages:     stages,
			generation: generation,
		})
	}()

	outcome := x.await(result)

	for i, fn := range finalizers {
		if err := safeCall(fn); err != nil {
			x.logFinalizerFailure(generation, i, err)
		}
	}

	outcome.elapsed = time.Since(started)
	x.metrics.recordCycle(outcome.elapsed)
	x.logCycleComplete(generation, outcome)

	if x.autoAdvance {
		x.AdvanceTick()
	}

	return nil
}

func (x *Scheduler) enterCycle() error {
	if x.closed.Load() {
		return ErrSchedulerClosed
	}
	if err := x.BindAffinityThread(); err != nil {
		return err
	}
	if !x.inCycle.CompareAndSwap(false, true) {
		return ErrReentrantCycle
	}
	return nil
}

// await services affinity requests until the outcome is available, polling
// in case a wake signal is consumed before its request is visible
func (x *Scheduler) await(result <-chan *cycleOutcome) *cycleOutcome {
	ticker := time.NewTicker(x.cfg.pollInterval())
	defer ticker.Stop()
	for {
		x.drainMailboxes()
		select {
		case outcome := <-result:
			x.drainMailboxes()
			return outcome
		case <-x.wake:
		case <-ticker.C:
		}
	}
}

// Tick returns the current value of the tick counter.
func (x *Scheduler) Tick() uint64 {
	return x.tick.Load()
}

// AdvanceTick increments the tick counter, then sweeps the cache, evicting
// the entries of every routine whose frequency divides the new tick.
func (x *Scheduler) AdvanceTick() uint64 {
	tick := x.tick.Add(1)
	x.cache.Sweep(tick)
	return tick
}

// Cache returns the result cache, which is swept by AdvanceTick.
func (x *Scheduler) Cache() *resultcache.Cache {
	return x.cache
}

// Workers returns the current size of the worker pool, which is
// Config.WorkerCount until Close.
func (x *Scheduler) Workers() int {
	return x.sup.size()
}

// Metrics returns a snapshot of the scheduler's counters.
func (x *Scheduler) Metrics() Metrics {
	return x.metrics.snapshot()
}

// Close stops the workers, and waits (up to the worker timeout) for them to
// exit. Workers in the middle of a cycle finish it first. Pending affinity
// requests are resolved with ErrSchedulerClosed. Returns ErrSchedulerClosed
// if already closed.
//
// Called from the affinity goroutine, Close releases its OS thread lock.
// Called from a stage, Close doesn't wait for the calling worker.
func (x *Scheduler) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return ErrSchedulerClosed
	}

	gid := goroutineid.Get()
	if id := x.affinityID.Load(); id != 0 && id == gid {
		runtime.UnlockOSThread()
	}
	self := x.sup.lookup(gid)

	workers := x.sup.stop(ErrSchedulerClosed)

	timer := time.NewTimer(x.cfg.WorkerTimeout())
	defer timer.Stop()
	for _, w := range workers {
		if w == self {
			continue
		}
		select {
		case <-w.exited:
		case <-timer.C:
			x.logger.Warning().
				Int(`worker`, w.id).
				Log(`worker did not exit before close timeout`)
			return nil
		}
	}

	return nil
}
