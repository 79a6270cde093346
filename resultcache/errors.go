package resultcache

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrationConflict is the parent of all errors returned when
	// registering a routine fails, use [errors.Is] to check for it.
	ErrRegistrationConflict = errors.New(`resultcache: registration conflict`)

	// ErrRoutineRegistered is returned when a routine is registered twice.
	ErrRoutineRegistered = fmt.Errorf(`%w: routine already registered`, ErrRegistrationConflict)

	// ErrInvalidFrequency is returned when an eviction frequency is not a
	// positive integer.
	ErrInvalidFrequency = fmt.Errorf(`%w: frequency must be positive`, ErrRegistrationConflict)

	// ErrRoutineNotRegistered is returned by Put (etc) for routines that were
	// never registered.
	ErrRoutineNotRegistered = errors.New(`resultcache: routine not registered`)
)
