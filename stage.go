package phasedtick

import (
	"sync/atomic"
)

// claim states, stored in the low bits of each claim word, under the cycle
// generation
const (
	stateUnclaimed uint64 = iota
	stateClaimed
	stateDone // ready (prepare), or consumed (tick)

	stateBits = 2
	stateMask = 1<<stateBits - 1
)

type (
	// StageFunc is one phase of a Stage. Returned errors and panics are
	// logged, and never stall the cycle.
	StageFunc func() error

	// Stage wraps one independent unit of work, as a two phase operation,
	// prepare (snapshot/gather) then tick (mutate/advance), run at most once
	// each per cycle, by any worker. Instances must be initialized using the
	// NewStage factory.
	//
	// Stages must not depend on the output of other stages, within the same
	// cycle. There is no ordering between stages, so any shared state must be
	// synchronized by the stages themselves.
	Stage struct {
		_ [0]func()

		prepare StageFunc
		tick    StageFunc
		name    string

		// generation<<stateBits | state
		prepareWord atomic.Uint64
		tickWord    atomic.Uint64
		generation  atomic.Uint64

		registered atomic.Bool
	}
)

// NewStage initializes a new Stage. The prepare function may be nil, but a
// nil tick function will cause a panic.
func NewStage(name string, prepare, tick StageFunc) *Stage {
	if tick == nil {
		panic(`phasedtick: nil tick function`)
	}
	return &Stage{
		name:    name,
		prepare: prepare,
		tick:    tick,
	}
}

// Name returns the name the stage was created with.
func (x *Stage) Name() string {
	return x.name
}

// TryClaimPrepare attempts to claim the prepare phase, for the current
// cycle, returning true at most once per cycle.
func (x *Stage) TryClaimPrepare() bool {
	return x.tryClaimPrepare(x.generation.Load())
}

// MarkReady records the completion of the prepare phase, allowing the tick
// to be claimed. It has no effect unless the prepare phase is claimed.
func (x *Stage) MarkReady() {
	x.markReady(x.generation.Load())
}

// TryClaimTick attempts to claim the tick phase, for the current cycle,
// returning true at most once per cycle, and only after MarkReady.
func (x *Stage) TryClaimTick() bool {
	return x.tryClaimTick(x.generation.Load())
}

// MarkConsumed records the completion of the tick phase. It has no effect
// unless the tick phase is claimed.
func (x *Stage) MarkConsumed() {
	x.markConsumed(x.generation.Load())
}

// IsReady indicates the prepare phase has completed, for the current cycle.
func (x *Stage) IsReady() bool {
	return x.isReady(x.generation.Load())
}

// IsConsumed indicates the tick phase has completed (or was skipped, due to
// a failed prepare), for the current cycle.
func (x *Stage) IsConsumed() bool {
	return x.isConsumed(x.generation.Load())
}

// reset starts a new cycle, any in-flight transitions for earlier
// generations become no-ops
func (x *Stage) reset(generation uint64) {
	x.prepareWord.Store(claimWord(generation, stateUnclaimed))
	x.tickWord.Store(claimWord(generation, stateUnclaimed))
	x.generation.Store(generation)
}

func (x *Stage) tryClaimPrepare(generation uint64) bool {
	return x.prepareWord.CompareAndSwap(claimWord(generation, stateUnclaimed), claimWord(generation, stateClaimed))
}

func (x *Stage) markReady(generation uint64) {
	x.prepareWord.CompareAndSwap(claimWord(generation, stateClaimed), claimWord(generation, stateDone))
}

func (x *Stage) tryClaimTick(generation uint64) bool {
	return x.isReady(generation) &&
		x.tickWord.CompareAndSwap(claimWord(generation, stateUnclaimed), claimWord(generation, stateClaimed))
}

func (x *Stage) markConsumed(generation uint64) {
	x.tickWord.CompareAndSwap(claimWord(generation, stateClaimed), claimWord(generation, stateDone))
}

// skipTick consumes the stage without ticking, after a failed prepare, the
// tick word goes first so the tick can't be claimed in between
func (x *Stage) skipTick(generation uint64) {
	if x.tickWord.CompareAndSwap(claimWord(generation, stateUnclaimed), claimWord(generation, stateDone)) {
		x.markReady(generation)
	}
}

func (x *Stage) isReady(generation uint64) bool {
	return x.prepareWord.Load() == claimWord(generation, stateDone)
}

func (x *Stage) isConsumed(generation uint64) bool {
	return x.tickWord.Load() == claimWord(generation, stateDone)
}

// tickTaken indicates the tick has been claimed, consumed, or skipped
func (x *Stage) tickTaken(generation uint64) bool {
	return x.tickWord.Load() != claimWord(generation, stateUnclaimed)
}

func claimWord(generation, state uint64) uint64 {
	return generation<<stateBits | state&stateMask
}
