package phasedtick

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-phasedtick/internal/goroutineid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_CallOnAffinityThread_fromWorker(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	s, err := New(testConfig(4, time.Second*5))
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	affinity := goroutineid.Get()

	const stages = 16
	var (
		calls   atomic.Int32
		results = make([]any, stages)
		errs    = make([]error, stages)
		onWrong atomic.Int32
	)
	for i := range stages {
		_, err := s.AddStage(``, nil, func() error {
			if s.IsAffinityThread() {
				onWrong.Add(1)
			}
			results[i], errs[i] = s.CallOnAffinityThread(func(args ...any) (any, error) {
				if goroutineid.Get() != affinity || !s.IsAffinityThread() {
					onWrong.Add(1)
				}
				calls.Add(1)
				return args[0].(int) * 2, nil
			}, i)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.RunOneCycle())

	assert.Zero(t, onWrong.Load())
	assert.Equal(t, int32(stages), calls.Load())
	for i := range stages {
		assert.NoError(t, errs[i])
		assert.Equal(t, i*2, results[i])
	}
	assert.Equal(t, uint64(stages), s.Metrics().AffinityCalls)
}

func TestCallOnAffinityThread_generic(t *testing.T) {
	s := newTestScheduler(t, testConfig(2, time.Second*5))

	var (
		value string
		err   error
		zero  int
		nilFn error
	)
	_, e := s.AddStage(`render`, nil, func() error {
		value, err = CallOnAffinityThread(s, func() (string, error) {
			if !s.IsAffinityThread() {
				return ``, errors.New(`wrong goroutine`)
			}
			return `rendered`, nil
		})
		zero, nilFn = CallOnAffinityThread[int](s, nil)
		return nil
	})
	require.NoError(t, e)

	require.NoError(t, s.RunOneCycle())
	assert.NoError(t, err)
	assert.Equal(t, `rendered`, value)
	assert.Zero(t, zero)
	assert.ErrorIs(t, nilFn, ErrNilFunc)
}

func TestScheduler_CallOnAffinityThread_direct(t *testing.T) {
	s := newTestScheduler(t, testConfig(1, time.Second))
	require.NoError(t, s.BindAffinityThread())

	v, err := s.CallOnAffinityThread(func(args ...any) (any, error) {
		return len(args), nil
	}, 1, 2, 3)
	assert.NoError(t, err)
	assert.Equal(t, 3, v)

	// goroutines that aren't workers aren't tracked, so run directly too
	done := make(chan any)
	go func() {
		v, _ := s.CallOnAffinityThread(func(...any) (any, error) {
			return goroutineid.Get(), nil
		})
		done <- v
	}()
	assert.NotEqual(t, goroutineid.Get(), <-done)

	_, err = s.CallOnAffinityThread(nil)
	assert.ErrorIs(t, err, ErrNilFunc)
	assert.ErrorIs(t, err, ErrAffinityMisuse)

	assert.Zero(t, s.Metrics().AffinityCalls)
}

func TestScheduler_CallOnAffinityThread_panic(t *testing.T) {
	s := newTestScheduler(t, testConfig(1, time.Second*5))

	someErr := errors.New(`some error`)
	var fromWorker error
	_, err := s.AddStage(``, nil, func() error {
		_, fromWorker = s.CallOnAffinityThread(func(...any) (any, error) { panic(someErr) })
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.RunOneCycle())

	var panicErr *PanicError
	require.ErrorAs(t, fromWorker, &panicErr)
	assert.Equal(t, someErr, panicErr.Value)
	assert.ErrorIs(t, fromWorker, someErr)

	_, err = s.CallOnAffinityThread(func(...any) (any, error) { panic(`direct`) })
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, `direct`, panicErr.Value)
}

func TestScheduler_CallOnAffinityThread_requestPending(t *testing.T) {
	s := newTestScheduler(t, testConfig(1, time.Second*5))

	var (
		pending error
		after   any
	)
	_, err := s.AddStage(``, nil, func() error {
		w := s.sup.lookup(goroutineid.Get())
		if w == nil {
			return errors.New(`not a worker`)
		}
		// stands in for a request issued by the same worker, still in flight
		outstanding := &affinityRequest{done: make(chan struct{})}
		outstanding.state.Store(requestRunning)
		w.mailbox.Store(outstanding)
		_, pending = s.CallOnAffinityThread(func(...any) (any, error) { return nil, nil })
		w.mailbox.Store(nil)
		after, _ = s.CallOnAffinityThread(func(...any) (any, error) { return `ok`, nil })
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.RunOneCycle())
	assert.Zero(t, s.Metrics().StageFailures)
	assert.ErrorIs(t, pending, ErrAffinityRequestPending)
	assert.ErrorIs(t, pending, ErrAffinityMisuse)
	assert.Equal(t, `ok`, after)
}

func TestWorker_cancelRequest(t *testing.T) {
	w := newWorker(nil, 0)

	w.cancelRequest(ErrWorkerAborted) // no request

	req := &affinityRequest{done: make(chan struct{})}
	w.mailbox.Store(req)
	w.cancelRequest(ErrWorkerAborted)
	w.cancelRequest(ErrSchedulerClosed)

	select {
	case <-req.done:
	default:
		t.Fatal(`expected the request to be resolved`)
	}
	assert.Equal(t, ErrWorkerAborted, req.err)
	assert.Nil(t, w.mailbox.Load())
	assert.Equal(t, requestResolved, req.state.Load())

	// already running requests are left to the affinity goroutine
	running := &affinityRequest{done: make(chan struct{})}
	running.state.Store(requestRunning)
	w.mailbox.Store(running)
	w.cancelRequest(ErrWorkerAborted)
	assert.Same(t, running, w.mailbox.Load())
	assert.NoError(t, running.err)
}

func TestScheduler_Close_cancelsPendingRequest(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var (
		ready  = make(chan struct{})
		result = make(chan error, 1)
		s      *Scheduler
	)
	// workers run the init hook outside of any cycle, so nothing services
	// the request until one is run
	s, err := New(testConfig(1, time.Second), WithWorkerInit(func(int) {
		<-ready
		_, err := s.CallOnAffinityThread(func(...any) (any, error) { return nil, nil })
		result <- err
	}))
	require.NoError(t, err)
	close(ready)

	w := s.sup.snapshot(nil)[0]
	require.Eventually(t, func() bool { return w.mailbox.Load() != nil }, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrSchedulerClosed)
	case <-time.After(time.Second):
		t.Fatal(`expected the request to be resolved`)
	}
	assert.Zero(t, s.Metrics().AffinityCalls)
}
