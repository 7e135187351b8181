package acquisition

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyMeasuring is returned by Start while a worker is running.
var ErrAlreadyMeasuring = errors.New("a measurement is already running")

// ErrShortFrame reports a frame that stopped arriving before it was complete.
var ErrShortFrame = errors.New("short frame")

// OpenError is returned by Start when the serial port can not be opened.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open serial port %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadFailure ends a worker: the port failed or a frame was cut short.
type ReadFailure struct {
	// bytes of the current frame received before the failure
	Received int
	Err      error
	// when the worker observed the failure
	At time.Time
}

func (e *ReadFailure) Error() string {
	return fmt.Sprintf("read failed after %d bytes: %v", e.Received, e.Err)
}

func (e *ReadFailure) Unwrap() error {
	return e.Err
}
