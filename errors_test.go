package phasedtick

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAffinityMisuseErrors(t *testing.T) {
	for _, err := range []error{
		ErrAffinityRequestPending,
		ErrCycleFromWorker,
		ErrNotAffinityThread,
		ErrReentrantCycle,
		ErrNilFunc,
	} {
		assert.ErrorIs(t, err, ErrAffinityMisuse, err.Error())
	}
	assert.NotErrorIs(t, ErrWorkerAborted, ErrAffinityMisuse)
	assert.NotErrorIs(t, ErrSchedulerClosed, ErrAffinityMisuse)
}

func TestStageError(t *testing.T) {
	err := error(&StageError{Stage: `physics`, Phase: PhaseTick, Err: io.EOF})
	assert.Equal(t, `phasedtick: stage "physics": tick: EOF`, err.Error())
	assert.ErrorIs(t, err, io.EOF)

	var stageErr *StageError
	assert.True(t, errors.As(err, &stageErr))
	assert.Equal(t, PhaseTick, stageErr.Phase)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, `prepare`, PhasePrepare.String())
	assert.Equal(t, `tick`, PhaseTick.String())
	assert.Equal(t, `finalize`, PhaseFinalize.String())
	assert.Equal(t, `Phase(9)`, Phase(9).String())
}

func TestSafeCall(t *testing.T) {
	assert.NoError(t, safeCall(nil))
	assert.NoError(t, safeCall(func() error { return nil }))
	assert.Equal(t, io.EOF, safeCall(func() error { return io.EOF }))

	err := safeCall(func() error { panic(io.ErrUnexpectedEOF) })
	var panicErr *PanicError
	if assert.ErrorAs(t, err, &panicErr) {
		assert.Equal(t, io.ErrUnexpectedEOF, panicErr.Value)
	}
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, `phasedtick: panic: unexpected EOF`, err.Error())

	err = safeCall(func() error { panic(`not an error`) })
	assert.ErrorAs(t, err, &panicErr)
	assert.Nil(t, errors.Unwrap(err))
}
