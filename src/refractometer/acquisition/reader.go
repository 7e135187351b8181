package acquisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Port is the part of a serial connection the reader needs. Read must return
// (0, nil) once the port's read timeout elapses without data.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Decoder turns one frame into a measurement value. The frame buffer is reused
// between calls and must not be retained.
type Decoder interface {
	Decode(frame []byte) (float64, error)
}

// DecoderFunc adapts a plain function to the Decoder interface.
type DecoderFunc func(frame []byte) (float64, error)

func (f DecoderFunc) Decode(frame []byte) (float64, error) {
	return f(frame)
}

// a read timeout elapsed on a frame boundary, nothing was lost
var errIdle = errors.New("no data within read timeout")

// FrameReader reads fixed-size frames from a port it exclusively owns.
type FrameReader struct {
	log       *logrus.Entry
	port      Port
	frameSize int
	decoder   Decoder
	clock     Clock
	notify    func()
}

func NewFrameReader(log *logrus.Entry, port Port, frameSize int, decoder Decoder, clock Clock, notify func()) *FrameReader {
	if clock == nil {
		clock = systemClock{}
	}
	if notify == nil {
		notify = func() {}
	}
	return &FrameReader{
		log:       log,
		port:      port,
		frameSize: frameSize,
		decoder:   decoder,
		clock:     clock,
		notify:    notify,
	}
}

// Run reads frames and sends the decoded readings on out until ctx is
// cancelled (returns nil) or the port fails (returns a *ReadFailure).
// Cancellation is only observed between reads. The port is closed on return.
func (r *FrameReader) Run(ctx context.Context, out chan<- Reading) error {
	defer func() {
		r.log.Info("Disconnecting from serial port.")
		if err := r.port.Close(); err != nil {
			r.log.WithError(err).Debug("Error while closing serial port.")
		}
	}()

	frame := make([]byte, r.frameSize)
	for {
		// Terminate if we were cancelled
		if ctx.Err() != nil {
			r.log.Debug("Stopping reader: context cancelled")
			return nil
		}

		err := r.readFrame(frame)
		if err == errIdle {
			continue
		}
		if err != nil {
			r.log.WithError(err).Error("Error reading from serial port")
			return err
		}

		value, err := r.decoder.Decode(frame)
		if err != nil {
			r.log.WithError(err).WithField("frame", fmt.Sprintf("% X", frame)).Warn("Dropping frame that could not be decoded.")
			continue
		}

		// a frame read before the stop is still delivered unless the buffer is full
		reading := Reading{Value: value, At: r.clock.Now()}
		select {
		case out <- reading:
		default:
			select {
			case out <- reading:
			case <-ctx.Done():
				r.log.Debug("Stopping reader: context cancelled while sending")
				return nil
			}
		}
		r.notify()
	}
}

// readFrame fills frame completely. A timeout before the first byte is
// errIdle, a timeout after it means the frame was cut short.
func (r *FrameReader) readFrame(frame []byte) error {
	received := 0
	for received < len(frame) {
		n, err := r.port.Read(frame[received:])
		if err != nil {
			return &ReadFailure{Received: received + n, Err: err, At: r.clock.Now()}
		}
		if n == 0 {
			if received == 0 {
				return errIdle
			}
			return &ReadFailure{Received: received, Err: ErrShortFrame, At: r.clock.Now()}
		}
		received += n
	}
	return nil
}
