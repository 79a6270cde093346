package phasedtick

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-phasedtick/resultcache"
	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger         *logiface.Logger[logiface.Event]
	cache          *resultcache.Cache
	failureLimiter *catrate.Limiter
	workerInit     func(workerID int)
	autoAdvance    bool
}

// Option configures a Scheduler instance, see New.
type Option interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements Option.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (x *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return x.applySchedulerFunc(opts)
}

// WithLogger attaches a logger. Stage failures, worker replacements, and
// finalizer failures are logged. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithCache provides the result cache swept by Scheduler.AdvanceTick, instead
// of the default, which is configured using Config.DefaultCacheFrequency and
// the scheduler's tick counter.
func WithCache(cache *resultcache.Cache) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.cache = cache
		return nil
	}}
}

// WithWorkerInit sets a hook, run on each worker's goroutine (locked to its
// OS thread) before it joins its first cycle. Replacement workers run it too,
// making it the place to (re)initialize thread-local state.
func WithWorkerInit(fn func(workerID int)) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.workerInit = fn
		return nil
	}}
}

// WithAutoAdvanceTick causes RunOneCycle to call AdvanceTick, after running
// finalizers. By default, the host advances the tick.
func WithAutoAdvanceTick(enabled bool) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.autoAdvance = enabled
		return nil
	}}
}

// WithStageFailureLogRates limits how often failures are logged, per stage,
// using sliding windows (see catrate.NewLimiter). Failures are always
// counted in Metrics. By default, every failure is logged.
func WithStageFailureLogRates(rates map[time.Duration]int) Option {
	return &schedulerOptionImpl{func(opts *schedulerOptions) (err error) {
		if len(rates) == 0 {
			opts.failureLimiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf(`%w: stage failure log rates: %v`, ErrInvalidConfig, r)
			}
		}()
		opts.failureLimiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveSchedulerOptions applies Option instances to schedulerOptions.
func resolveSchedulerOptions(options []Option) (*schedulerOptions, error) {
	var opts schedulerOptions
	for _, o := range options {
		if o == nil {
			continue
		}
		if err := o.applyScheduler(&opts); err != nil {
			return nil, err
		}
	}
	return &opts, nil
}
