// Package acquisition runs measurement sessions against a serial instrument.
//
// A Session is driven by a single UI loop: Start and Stop are called on user
// input, Poll once per tick. Each Start spawns one FrameReader goroutine which
// takes ownership of the opened port and hands readings back over a channel,
// so no state is shared between the loop and the worker.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// default capacity of the reading channel between worker and UI loop
const defaultBufferSize = 64

// Opener opens the named serial port with a bounded read timeout.
type Opener func(name string) (Port, error)

type Option func(*Session)

// WithClock replaces the wall clock used to time samples.
func WithClock(clock Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithNotify sets the callback the worker invokes after every sample, e.g. to
// request a redraw. It is called from the worker goroutine.
func WithNotify(notify func()) Option {
	return func(s *Session) {
		s.notify = notify
	}
}

func WithBufferSize(size int) Option {
	return func(s *Session) {
		s.bufferSize = size
	}
}

type Session struct {
	ctx    context.Context
	log    *logrus.Entry
	open   Opener
	clock  Clock
	notify func()

	bufferSize int

	state     State
	port      string
	origin    time.Time
	stoppedAt time.Time
	history   []Sample
	fault     error

	// channels of the current worker, replaced on every Start
	samples <-chan Reading
	status  <-chan error
	exited  <-chan struct{}
	cancel  context.CancelFunc
}

// NewSession returns an idle session. Workers are bound to ctx, cancelling it
// stops any running measurement.
func NewSession(ctx context.Context, log *logrus.Entry, open Opener, options ...Option) *Session {
	session := &Session{
		ctx:        ctx,
		log:        log,
		open:       open,
		clock:      systemClock{},
		bufferSize: defaultBufferSize,
		state:      Idle,
	}
	for _, option := range options {
		option(session)
	}
	return session
}

// Start opens port and spawns a worker reading frames of frameSize bytes.
// It fails with ErrAlreadyMeasuring while a measurement runs and with an
// *OpenError if the port is unavailable, leaving the session untouched.
func (s *Session) Start(port string, frameSize int, decoder Decoder) error {
	if s.state == Measuring {
		return ErrAlreadyMeasuring
	}
	if frameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", frameSize)
	}
	if decoder == nil {
		return errors.New("no decoder given")
	}

	// the previous worker may still hold the port
	s.awaitWorker()

	log := s.log.WithField("port", port)
	log.Info("Attempting to open serial port.")
	handle, err := s.open(port)
	if err != nil {
		log.WithError(err).Info("Failed to open connection to serial port.")
		return &OpenError{Port: port, Err: err}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	samples := make(chan Reading, s.bufferSize)
	status := make(chan error, 1)
	exited := make(chan struct{})

	reader := NewFrameReader(log, handle, frameSize, decoder, s.clock, s.notify)

	s.origin = s.clock.Now()
	s.stoppedAt = time.Time{}
	s.history = nil
	s.fault = nil
	s.port = port
	s.samples = samples
	s.status = status
	s.exited = exited
	s.cancel = cancel

	go func() {
		defer close(exited)
		status <- reader.Run(ctx, samples)
	}()

	s.state = Measuring
	log.WithField("frameSize", frameSize).Info("Measurement started.")
	return nil
}

// Stop signals the worker and returns without waiting for it. Samples that
// are still in flight are picked up by later polls.
func (s *Session) Stop() {
	if s.state != Measuring {
		return
	}
	s.log.WithField("port", s.port).Info("Stopping measurement.")
	s.cancel()
	s.state = Stopped
	s.stoppedAt = s.clock.Now()
}

// Poll drains every reading the worker has produced so far without blocking,
// appends them to the history and returns them.
func (s *Session) Poll() []Sample {
	// a worker that has reported its exit has already queued all its readings
	exitErr, exited := s.takeStatus()

	drained := []Sample{}
	if s.samples != nil {
	drain:
		for {
			select {
			case reading := <-s.samples:
				sample := s.toSample(reading)
				s.history = append(s.history, sample)
				drained = append(drained, sample)
			default:
				break drain
			}
		}
	}

	if exited {
		s.handleExit(exitErr)
	}
	return drained
}

func (s *Session) takeStatus() (error, bool) {
	if s.status == nil {
		return nil, false
	}
	select {
	case err := <-s.status:
		s.status = nil
		return err, true
	default:
		return nil, false
	}
}

func (s *Session) handleExit(err error) {
	s.cancel()
	if s.state != Measuring {
		return
	}
	log := s.log.WithField("port", s.port)
	if err == nil {
		// the parent context was cancelled underneath the measurement
		log.Info("Measurement ended by shutdown.")
		s.state = Stopped
		s.stoppedAt = s.clock.Now()
		return
	}
	log.WithError(err).Warn("Measurement ended by read failure.")
	s.state = Faulted
	s.fault = err
	s.stoppedAt = s.clock.Now()
	var failure *ReadFailure
	if errors.As(err, &failure) && !failure.At.IsZero() {
		s.stoppedAt = failure.At
	}
}

// toSample times a reading relative to the session origin, never earlier than
// the previous sample.
func (s *Session) toSample(reading Reading) Sample {
	t := reading.At.Sub(s.origin).Seconds()
	if t < 0 {
		t = 0
	}
	if n := len(s.history); n > 0 && t < s.history[n-1].Time {
		t = s.history[n-1].Time
	}
	return Sample{Time: t, Value: reading.Value}
}

func (s *Session) awaitWorker() {
	if s.exited == nil {
		return
	}
	s.log.Debug("Waiting for previous reader to release the port")
	<-s.exited
	s.exited = nil
}

// Close stops a running measurement and waits until the port is released.
func (s *Session) Close() {
	s.Stop()
	s.awaitWorker()
}

func (s *Session) State() State {
	return s.state
}

// Port returns the port of the current or last measurement.
func (s *Session) Port() string {
	return s.port
}

// Fault returns the read failure that moved the session to Faulted.
func (s *Session) Fault() error {
	return s.fault
}

// History returns a copy of all samples of the current or last measurement.
func (s *Session) History() []Sample {
	return append([]Sample(nil), s.history...)
}

func (s *Session) Elapsed() time.Duration {
	switch s.state {
	case Measuring:
		return s.clock.Now().Sub(s.origin)
	case Stopped, Faulted:
		return s.stoppedAt.Sub(s.origin)
	}
	return 0
}

func (s *Session) Snapshot() Snapshot {
	snapshot := Snapshot{
		State:   s.state,
		Port:    s.port,
		Elapsed: s.Elapsed(),
		History: s.History(),
		Fault:   s.fault,
	}
	if latest, ok := s.Latest(); ok {
		snapshot.Latest = &latest
	}
	return snapshot
}

// Latest returns the most recent sample, if any.
func (s *Session) Latest() (Sample, bool) {
	if n := len(s.history); n > 0 {
		return s.history[n-1], true
	}
	return Sample{}, false
}
