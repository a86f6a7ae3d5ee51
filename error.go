package xlcan

import (
	"errors"
	"fmt"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var u unrecoverableError
	return !errors.As(err, &u)
}

var (
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidTiming = errors.New("invalid bit timing")
	ErrNilDriver     = errors.New("driver is nil")
	ErrNoChannels    = errors.New("no channels configured")
	ErrBusClosed     = errors.New("bus closed")
	ErrTransmit      = errors.New("transmit queue did not accept any frame")
)

// FrameError describes why a frame was rejected at construction.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "invalid frame: " + e.Reason
}

func (e *FrameError) Unwrap() error {
	return ErrInvalidFrame
}

func frameErrorf(format string, a ...interface{}) error {
	return &FrameError{Reason: fmt.Sprintf(format, a...)}
}

// TimingError describes bit timing input or output that cannot be used.
type TimingError struct {
	Reason string
}

func (e *TimingError) Error() string {
	return "invalid bit timing: " + e.Reason
}

func (e *TimingError) Unwrap() error {
	return ErrInvalidTiming
}

func timingErrorf(format string, a ...interface{}) error {
	return &TimingError{Reason: fmt.Sprintf(format, a...)}
}
