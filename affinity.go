package phasedtick

import (
	"sync/atomic"

	"github.com/joeycumines/go-phasedtick/internal/goroutineid"
)

// affinity request states
const (
	requestPending int32 = iota
	requestRunning
	requestResolved
)

type (
	// AffinityFunc is a call that must run on the affinity goroutine, see
	// Scheduler.CallOnAffinityThread.
	AffinityFunc func(args ...any) (any, error)

	// affinityRequest sits in a worker's mailbox until the affinity goroutine
	// runs it, or it is cancelled, it is resolved exactly once
	affinityRequest struct {
		fn     AffinityFunc
		result any
		err    error
		done   chan struct{}
		args   []any
		state  atomic.Int32
	}
)

// CallOnAffinityThread runs fn(args...) on the scheduler's affinity
// goroutine, and returns its result.
//
// Called by a worker, the request is handed to the affinity goroutine, which
// services it while it waits for the current cycle, and the caller blocks
// until it has run. Each worker may have at most one outstanding request,
// ErrAffinityRequestPending is returned otherwise. Workers that have been
// aborted receive ErrWorkerAborted, including while blocked.
//
// Called by the affinity goroutine, or any goroutine that is not a worker,
// fn is run directly.
//
// Panics within fn are recovered, and returned as a *PanicError.
func (x *Scheduler) CallOnAffinityThread(fn AffinityFunc, args ...any) (any, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}

	w := x.sup.lookup(goroutineid.Get())
	if w == nil {
		return invokeAffinity(fn, args)
	}

	if w.aborted.Load() {
		return nil, ErrWorkerAborted
	}
	if x.closed.Load() {
		return nil, ErrSchedulerClosed
	}

	req := &affinityRequest{
		fn:   fn,
		args: args,
		done: make(chan struct{}),
	}
	if !w.mailbox.CompareAndSwap(nil, req) {
		return nil, ErrAffinityRequestPending
	}

	// the supervisor (or Close) may have already swept the mailbox
	if w.aborted.Load() {
		w.cancelRequest(ErrWorkerAborted)
	} else if x.closed.Load() {
		w.cancelRequest(ErrSchedulerClosed)
	}

	x.signalWake()

	<-req.done

	return req.result, req.err
}

// CallOnAffinityThread is a typed wrapper around Scheduler.CallOnAffinityThread.
func CallOnAffinityThread[T any](s *Scheduler, fn func() (T, error)) (T, error) {
	if fn == nil {
		var zero T
		return zero, ErrNilFunc
	}
	v, err := s.CallOnAffinityThread(func(...any) (any, error) {
		return fn()
	})
	result, _ := v.(T)
	return result, err
}

func (x *Scheduler) signalWake() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// drainMailboxes runs every pending request, it must only be called by the
// affinity goroutine
func (x *Scheduler) drainMailboxes() {
	x.drainBuf = x.sup.snapshot(x.drainBuf[:0])
	for i, w := range x.drainBuf {
		x.drainBuf[i] = nil
		req := w.mailbox.Load()
		if req == nil || !req.state.CompareAndSwap(requestPending, requestRunning) {
			continue
		}
		req.result, req.err = invokeAffinity(req.fn, req.args)
		w.mailbox.CompareAndSwap(req, nil)
		req.state.Store(requestResolved)
		close(req.done)
		x.metrics.affinityCalls.Add(1)
	}
}

func invokeAffinity(fn AffinityFunc, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r}
		}
	}()
	return fn(args...)
}
