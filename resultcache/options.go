package resultcache

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

type (
	// Option configures a Cache, see New.
	Option func(opts *cacheOptions) error

	cacheOptions struct {
		tickSource       func() uint64
		logger           *logiface.Logger[logiface.Event]
		defaultFrequency int
	}
)

// WithDefaultFrequency sets the frequency used by Cache.RegisterDefault.
// Defaults to 1, i.e. entries only survive until the next sweep.
func WithDefaultFrequency(frequency int) Option {
	return func(opts *cacheOptions) error {
		if frequency <= 0 {
			return fmt.Errorf(`%w: default frequency: %d`, ErrInvalidFrequency, frequency)
		}
		opts.defaultFrequency = frequency
		return nil
	}
}

// WithTickSource provides the current tick, recorded as Entry.CreatedTick.
func WithTickSource(tick func() uint64) Option {
	return func(opts *cacheOptions) error {
		opts.tickSource = tick
		return nil
	}
}

// WithLogger attaches a logger, used for debug output. May be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(opts *cacheOptions) error {
		opts.logger = logger
		return nil
	}
}

func resolveOptions(options []Option) (*cacheOptions, error) {
	opts := cacheOptions{defaultFrequency: 1}
	for _, o := range options {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return nil, err
		}
	}
	return &opts, nil
}
