package compensation

import "errors"

var (
	// ErrInvalidReading marks a missing, non-finite or physically
	// implausible sensor value. The evaluation cycle that hit it is
	// skipped and the prior compensated target stays untouched.
	ErrInvalidReading = errors.New("invalid sensor reading")

	// ErrInvalidSchedule is returned by SetPreheat when the target time is
	// not strictly in the future. A previously armed deadline is left
	// untouched.
	ErrInvalidSchedule = errors.New("preheat target time not in the future")

	// ErrInsufficientData signals that the heating-rate learner has not
	// accepted enough cycles to produce an estimate.
	ErrInsufficientData = errors.New("insufficient learning data")

	// ErrUnknownRoom is returned by the Manager for rooms it does not own.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrCoordinatorBusy is returned when a room's request queue is full.
	ErrCoordinatorBusy = errors.New("room coordinator queue full")
)
