// Package device opens and lists the serial ports an instrument can sit on.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
)

// Config of the serial line. The refractometer talks 8N1.
type Config struct {
	BaudRate    int
	ReadTimeout time.Duration
	// extra attempts when the port is busy, e.g. still being released
	OpenRetries   uint64
	RetryInterval time.Duration
}

// Open opens serialName with a bounded read timeout, so that reads return
// (0, nil) when the instrument is silent. A busy port is retried, a missing
// one is not.
func Open(log *logrus.Entry, serialName string, config Config) (serial.Port, error) {
	if config.ReadTimeout <= 0 {
		return nil, fmt.Errorf("read timeout must be positive, got %v", config.ReadTimeout)
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	var port serial.Port
	attempt := func() error {
		p, err := serial.Open(serialName, mode)
		if err != nil {
			if !isBusy(err) {
				return backoff.Permanent(err)
			}
			log.WithField("path", serialName).WithError(err).Debug("Serial port busy, retrying.")
			return err
		}
		port = p
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(config.RetryInterval), config.OpenRetries)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// flush any unread data buffered by the OS
	if err := port.ResetInputBuffer(); err != nil {
		log.WithField("path", serialName).WithError(err).Debug("Could not flush serial input buffer.")
	}

	return port, nil
}

// Opener binds Open to a configuration for use by acquisition sessions.
func Opener(log *logrus.Entry, config Config) acquisition.Opener {
	return func(name string) (acquisition.Port, error) {
		port, err := Open(log, name, config)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

func isBusy(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortBusy
	}
	return false
}
