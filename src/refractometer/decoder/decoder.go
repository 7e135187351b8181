// Package decoder holds the frame decoders a measurement can be started with.
package decoder

import (
	"fmt"
	"strings"

	"github.com/dividat/refractometer/src/refractometer/acquisition"
)

const (
	NameConstant = "constant"
	NameASCII    = "ascii"
)

// Constant ignores the frame content and always yields the same value.
// Stands in for instruments whose protocol is not decoded yet.
type Constant float64

func (c Constant) Decode(frame []byte) (float64, error) {
	return float64(c), nil
}

// ByName returns the decoder configured under name. constant is the value
// used by the constant decoder.
func ByName(name string, constant float64) (acquisition.Decoder, error) {
	switch strings.ToLower(name) {
	case NameConstant:
		return Constant(constant), nil
	case NameASCII:
		return ASCII{}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q", name)
}

// Names lists the decoders known to ByName.
func Names() []string {
	return []string{NameConstant, NameASCII}
}
