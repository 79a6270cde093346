package phasedtick

import (
	"strconv"
)

// logStageFailure counts the failure, and logs it unless the stage's failure
// log rate has been exceeded
func (x *Scheduler) logStageFailure(w *worker, generation uint64, stage *Stage, phase Phase, err error) {
	x.metrics.stageFailures.Add(1)
	if x.failureLimiter != nil {
		if _, ok := x.failureLimiter.Allow(stage.name); !ok {
			return
		}
	}
	x.logger.Err().
		Err(&StageError{Stage: stage.name, Phase: phase, Err: err}).
		Int(`worker`, w.id).
		Int(`tid`, w.threadID()).
		Uint64(`cycle`, generation).
		Str(`stage`, stage.name).
		Str(`phase`, phase.String()).
		Log(`stage failed`)
}

func (x *Scheduler) logFinalizerFailure(generation uint64, index int, err error) {
	x.metrics.finalizerFailures.Add(1)
	x.logger.Err().
		Err(&StageError{Stage: finalizerName(index), Phase: PhaseFinalize, Err: err}).
		Uint64(`cycle`, generation).
		Int(`finalizer`, index).
		Log(`finalizer failed`)
}

// logWorkerAborted counts and logs a timed out worker, replacement is nil
// if the scheduler was closed
func (x *Scheduler) logWorkerAborted(old, replacement *worker, generation uint64) {
	x.metrics.workerAborts.Add(1)
	if replacement == nil {
		x.logger.Warning().
			Int(`worker`, old.id).
			Int(`tid`, old.threadID()).
			Uint64(`cycle`, generation).
			Dur(`timeout`, x.cfg.WorkerTimeout()).
			Log(`worker timed out, not replaced`)
		return
	}
	x.metrics.workerReplacements.Add(1)
	x.logger.Warning().
		Int(`worker`, old.id).
		Int(`tid`, old.threadID()).
		Int(`replacement`, replacement.id).
		Uint64(`cycle`, generation).
		Dur(`timeout`, x.cfg.WorkerTimeout()).
		Log(`worker timed out, replaced`)
}

func (x *Scheduler) logCycleComplete(generation uint64, o *cycleOutcome) {
	x.logger.Trace().
		Uint64(`cycle`, generation).
		Int(`tid`, x.affinityThreadID()).
		Int(`stages`, o.stages).
		Int(`aborted`, o.aborted).
		Int(`dropped`, o.dropped).
		Dur(`elapsed`, o.elapsed).
		Log(`cycle complete`)
}

func finalizerName(index int) string {
	return `finalizer#` + strconv.Itoa(index)
}
