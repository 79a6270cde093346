// Package phasedtick runs the independent update routines of a simulation
// loop in parallel, on a fixed pool of OS thread locked workers, while
// preserving the loop's single-threaded contract for anything that needs it.
//
// # Architecture
//
// A [Scheduler] runs one cycle per call to [Scheduler.RunOneCycle]. Each
// registered [Stage] has two phases, prepare and tick. Within a cycle, every
// stage is prepared at most once, then ticked at most once, by whichever
// worker claims it first. Claims are lock-free, and there is no ordering
// between stages. The cycle ends once every worker has run out of claimable
// work, at which point finalizers (see [Scheduler.RegisterFinalizer]) run on
// the calling goroutine.
//
// # Affinity
//
// The goroutine that runs cycles is the affinity goroutine, which is locked
// to its OS thread once bound (see [Scheduler.BindAffinityThread]), until it
// calls [Scheduler.Close]. Stage callbacks
// that need to touch a resource owned by it use
// [Scheduler.CallOnAffinityThread] (or the generic [CallOnAffinityThread]),
// which blocks the worker until the affinity goroutine, which services
// requests while it waits for the cycle, has run the call. Calls made from
// the affinity goroutine (or any goroutine other than a worker) run directly.
//
// # Hung workers
//
// Workers that fail to finish a cycle within [Config.WorkerTimeoutMs] of its
// start are aborted, and replaced, unless the scheduler has been closed. Aborted workers are never killed, but
// nothing they do after the fact has any effect, as every claim is scoped to
// the generation of the cycle it was made in. Stages left unconsumed are
// dropped, for that cycle, and counted in [Metrics].
//
// # Result cache
//
// Each scheduler has a [resultcache.Cache], swept whenever the tick counter
// is advanced (see [Scheduler.AdvanceTick]), which stages may use to memoize
// expensive calls.
package phasedtick
