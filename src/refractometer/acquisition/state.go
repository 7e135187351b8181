package acquisition

import (
	"time"
)

// State of a measurement session
type State int

const (
	Idle State = iota
	Measuring
	// Stopped by the operator, history of the last run is kept
	Stopped
	// The worker ended on its own after a read failure
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Measuring:
		return "Measuring"
	case Stopped:
		return "Stopped"
	case Faulted:
		return "Faulted"
	}
	return "Unknown"
}

// Sample is a decoded reading, timed in seconds since the session started.
type Sample struct {
	Time  float64 `json:"t"`
	Value float64 `json:"v"`
}

// Reading is what the worker hands over: a value and the instant its frame was read.
type Reading struct {
	Value float64
	At    time.Time
}

// Clock is the time source of a session. Tests substitute it to simulate time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Snapshot is the read-only view of a session handed to renderers.
type Snapshot struct {
	State   State
	Port    string
	Elapsed time.Duration
	Latest  *Sample
	History []Sample
	Fault   error
}
