package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"
)

const checksumSize = 2

var ErrChecksum = errors.New("frame checksum mismatch")

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// ASCII decodes frames made of a space or NUL padded decimal reading,
// optionally followed by a unit ("  24.3 BRIX"), and a big-endian
// CRC-16/MODBUS of everything before it.
type ASCII struct{}

func (ASCII) Decode(frame []byte) (float64, error) {
	if len(frame) <= checksumSize {
		return 0, fmt.Errorf("frame of %d bytes has no payload", len(frame))
	}
	payload := frame[:len(frame)-checksumSize]
	received := binary.BigEndian.Uint16(frame[len(frame)-checksumSize:])
	if calculated := crc16.Checksum(payload, modbusTable); calculated != received {
		return 0, fmt.Errorf("%w: calculated 0x%04X, received 0x%04X", ErrChecksum, calculated, received)
	}

	fields := strings.Fields(strings.Trim(string(payload), "\x00"))
	if len(fields) == 0 {
		return 0, errors.New("empty reading")
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q: %w", fields[0], err)
	}
	return value, nil
}

// EncodeASCII builds a frame of size bytes holding reading, the inverse of
// ASCII.Decode. Used by simulators and tests.
func EncodeASCII(reading string, size int) ([]byte, error) {
	if len(reading)+checksumSize > size {
		return nil, fmt.Errorf("reading %q does not fit a %d byte frame", reading, size)
	}
	frame := make([]byte, size)
	payload := frame[:size-checksumSize]
	copy(payload, strings.Repeat(" ", len(payload)-len(reading))+reading)
	binary.BigEndian.PutUint16(frame[size-checksumSize:], crc16.Checksum(payload, modbusTable))
	return frame, nil
}
