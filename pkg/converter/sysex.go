package converter

import (
	"errors"
	"fmt"

	"github.com/ValleyBell/MidiConverters-sub001/pkg/units"
)

// SysEx constants
const (
	SysExStart = 0xF0
	SysExEnd   = 0xF7

	RolandID  = 0x41
	RolandDT1 = 0x12 // Data Set 1 command
)

// RolandDataSet builds the body of a Roland DT1 message (everything after
// F0, including the checksum and F7) for a 3-byte address plus data.
func RolandDataSet(device, model uint8, addrData []byte) []byte {
	msg := make([]byte, 0, len(addrData)+6)
	msg = append(msg, RolandID, device&0x7F, model&0x7F, RolandDT1)
	msg = append(msg, addrData...)
	msg = append(msg, units.GSChecksum(addrData), SysExEnd)
	return msg
}

// ValidateSysEx checks that a SysEx body (without the leading F0) ends with
// F7 and carries only 7-bit data.
func ValidateSysEx(body []byte) error {
	if len(body) < 2 {
		return errors.New("sysex data too short")
	}

	if body[len(body)-1] != SysExEnd {
		return fmt.Errorf("invalid SysEx: expected end byte 0x%02X, got 0x%02X", SysExEnd, body[len(body)-1])
	}

	// Check all data bytes are 7-bit (valid MIDI data)
	for i := 0; i < len(body)-1; i++ {
		if body[i] > 127 {
			return fmt.Errorf("invalid SysEx: byte at position %d is > 127 (0x%02X)", i, body[i])
		}
	}

	return nil
}

// ExtractManufacturerID extracts the manufacturer ID from a SysEx body
func ExtractManufacturerID(body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, errors.New("sysex data too short for manufacturer ID")
	}

	// Check if extended manufacturer ID (starts with 0x00)
	if body[0] == 0x00 {
		if len(body) < 3 {
			return nil, errors.New("sysex data too short for extended manufacturer ID")
		}
		return body[0:3], nil
	}

	// Single byte manufacturer ID
	return body[0:1], nil
}

// IsRolandSysEx checks if the SysEx body is addressed to a Roland device
func IsRolandSysEx(body []byte) bool {
	id, err := ExtractManufacturerID(body)
	return err == nil && len(id) == 1 && id[0] == RolandID
}
