package phasedtick

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSchedulerClosed is returned when operations are attempted on a
	// closed Scheduler.
	ErrSchedulerClosed = errors.New(`phasedtick: scheduler closed`)

	// ErrInvalidConfig is returned (wrapped) by Config.Validate and New.
	ErrInvalidConfig = errors.New(`phasedtick: invalid config`)

	// ErrStageRegistered is returned when a Stage is registered more than
	// once, with any Scheduler.
	ErrStageRegistered = errors.New(`phasedtick: stage already registered`)

	// ErrWorkerAborted is returned to affinity calls made by a worker that
	// the supervisor has given up on, see Config.WorkerTimeoutMs.
	ErrWorkerAborted = errors.New(`phasedtick: worker aborted`)

	// ErrAffinityMisuse is the parent of errors returned for call patterns
	// that are invalid, or would deadlock, use [errors.Is] to check for it.
	ErrAffinityMisuse = errors.New(`phasedtick: affinity misuse`)

	// ErrAffinityRequestPending is returned if a worker issues an affinity
	// call while its previous call is still outstanding.
	ErrAffinityRequestPending = fmt.Errorf(`%w: request already pending`, ErrAffinityMisuse)

	// ErrCycleFromWorker is returned if RunOneCycle is called from a worker,
	// which would deadlock.
	ErrCycleFromWorker = fmt.Errorf(`%w: cycle run from a worker`, ErrAffinityMisuse)

	// ErrNotAffinityThread is returned if RunOneCycle or BindAffinityThread
	// is called from a goroutine other than the bound affinity goroutine.
	ErrNotAffinityThread = fmt.Errorf(`%w: not the affinity goroutine`, ErrAffinityMisuse)

	// ErrReentrantCycle is returned if RunOneCycle is called from within a
	// cycle, e.g. by a finalizer, or an affinity call.
	ErrReentrantCycle = fmt.Errorf(`%w: cycle run from within a cycle`, ErrAffinityMisuse)

	// ErrNilFunc is returned when a required function is nil.
	ErrNilFunc = fmt.Errorf(`%w: nil function`, ErrAffinityMisuse)
)

// Phase identifies the part of a cycle a callback ran in.
type Phase int

const (
	// PhasePrepare is a Stage's prepare callback.
	PhasePrepare Phase = iota + 1
	// PhaseTick is a Stage's tick callback.
	PhaseTick
	// PhaseFinalize is a finalizer, run on the affinity goroutine.
	PhaseFinalize
)

func (x Phase) String() string {
	switch x {
	case PhasePrepare:
		return `prepare`
	case PhaseTick:
		return `tick`
	case PhaseFinalize:
		return `finalize`
	default:
		return fmt.Sprintf(`Phase(%d)`, int(x))
	}
}

// StageError models a failed stage callback (or finalizer). These are
// logged, not returned, as a failing stage never stalls the cycle.
type StageError struct {
	Err   error
	Stage string
	Phase Phase
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf(`phasedtick: stage %q: %s: %v`, e.Stage, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf(`phasedtick: panic: %v`, e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// safeCall runs fn, converting any panic into a *PanicError.
func safeCall(fn func() error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
