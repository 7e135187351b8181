package decoder

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sigurn/crc16"
)

func TestASCII_Decode(t *testing.T) {
	valid := func(reading string) []byte {
		frame, err := EncodeASCII(reading, 32)
		if err != nil {
			t.Fatalf("could not encode %q: %v", reading, err)
		}
		return frame
	}

	corrupted := valid("24.3")
	corrupted[10] ^= 0x01

	payload := make([]byte, 14)
	copy(payload, "1.3330")
	nulPadded := seal(payload)

	tests := []struct {
		name    string
		frame   []byte
		want    float64
		wantErr error
	}{
		{name: "plain reading", frame: valid("24.3"), want: 24.3},
		{name: "reading with unit", frame: valid("11.4 BRIX"), want: 11.4},
		{name: "negative reading", frame: valid("-0.25"), want: -0.25},
		{name: "nul padded", frame: nulPadded, want: 1.333},
		{name: "corrupted payload", frame: corrupted, wantErr: ErrChecksum},
		{name: "blank payload", frame: valid("")},
		{name: "not a number", frame: valid("ERR")},
		{name: "too short", frame: []byte{0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ASCII{}.Decode(tt.frame)
			if tt.want == 0 {
				if err == nil {
					t.Fatalf("expected an error, got %v", got)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// seal appends the checksum to a raw payload.
func seal(payload []byte) []byte {
	frame := make([]byte, len(payload)+checksumSize)
	copy(frame, payload)
	binary.BigEndian.PutUint16(frame[len(payload):], crc16.Checksum(payload, modbusTable))
	return frame
}

func TestEncodeASCII(t *testing.T) {
	if _, err := EncodeASCII("123456789", 10); err == nil {
		t.Error("expected an error for a reading that does not fit")
	}
}

func TestByName(t *testing.T) {
	decoder, err := ByName("constant", 11.4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, err := decoder.Decode(make([]byte, 32))
	if err != nil || value != 11.4 {
		t.Errorf("expected 11.4, got %v (%v)", value, err)
	}

	if _, err := ByName("ASCII", 0); err != nil {
		t.Errorf("expected case-insensitive lookup, got %v", err)
	}
	if _, err := ByName("hex", 0); err == nil {
		t.Error("expected an error for an unknown decoder")
	}
}
