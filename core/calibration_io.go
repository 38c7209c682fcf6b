package core

import (
	"encoding/binary"
	"fmt"
)

// CalibrationSize is the length of the binary calibration record:
// two arrays of eight 16-bit values, little endian, no padding.
const CalibrationSize = 2 * Channels * 2

// MarshalBinary encodes the calibration as a 32-byte record that can be
// persisted verbatim.
func (c CalibrationData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, CalibrationSize)
	for _, v := range c.Min {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	for _, v := range c.Range {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. It does
// not validate ranges; feed the result to SetCalibration.
func (c *CalibrationData) UnmarshalBinary(data []byte) error {
	if len(data) != CalibrationSize {
		return fmt.Errorf("mcp3008: calibration record is %d bytes, want %d", len(data), CalibrationSize)
	}
	for i := range c.Min {
		c.Min[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	off := 2 * Channels
	for i := range c.Range {
		c.Range[i] = binary.LittleEndian.Uint16(data[off+2*i:])
	}
	return nil
}
