// Package telemetry frames line-sensor readings for streaming over a
// byte pipe, typically the serial link to a robot controller.
//
// Frame layout:
//
//	0x7E          sync byte
//	len           payload length in bytes
//	payload       position (float32 LE bits), count, count samples (uint16 LE)
//	crc16         over the payload, little endian
//
// The sync byte re-synchronizes a reader that joins mid-stream; a frame
// whose checksum fails is dropped, not repaired.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// SyncByte marks the start of every frame.
const SyncByte = 0x7E

// maxSamples bounds the payload so len always fits one byte.
const maxSamples = 16

var (
	// ErrBadFrame is returned when a frame fails structural checks.
	ErrBadFrame = errors.New("telemetry: malformed frame")

	// ErrBadChecksum is returned when the payload CRC does not match.
	ErrBadChecksum = errors.New("telemetry: checksum mismatch")
)

// Record is one reading: the estimated line position (NaN when the line
// was not found) and the samples that produced it, in ascending channel
// order. Samples may be empty.
type Record struct {
	Position float32
	Samples  []uint16
}

// AppendFrame appends the framed record to dst and returns the extended
// slice.
func AppendFrame(dst []byte, r Record) ([]byte, error) {
	if len(r.Samples) > maxSamples {
		return dst, fmt.Errorf("telemetry: %d samples exceed frame capacity", len(r.Samples))
	}

	payload := make([]byte, 0, 5+2*len(r.Samples))
	payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(r.Position))
	payload = append(payload, byte(len(r.Samples)))
	for _, s := range r.Samples {
		payload = binary.LittleEndian.AppendUint16(payload, s)
	}

	dst = append(dst, SyncByte, byte(len(payload)))
	dst = append(dst, payload...)
	dst = binary.LittleEndian.AppendUint16(dst, CRC16(payload))
	return dst, nil
}

// DecodeFrame parses one frame from the front of buf and returns the
// record plus the number of bytes consumed. A partial frame yields
// (zero, 0, nil) so stream readers can wait for more bytes.
func DecodeFrame(buf []byte) (Record, int, error) {
	if len(buf) < 2 {
		return Record{}, 0, nil
	}
	if buf[0] != SyncByte {
		return Record{}, 0, ErrBadFrame
	}
	plen := int(buf[1])
	if plen < 5 {
		return Record{}, 0, ErrBadFrame
	}
	total := 2 + plen + 2
	if len(buf) < total {
		return Record{}, 0, nil
	}

	payload := buf[2 : 2+plen]
	if got := binary.LittleEndian.Uint16(buf[2+plen:]); got != CRC16(payload) {
		return Record{}, 0, ErrBadChecksum
	}

	var r Record
	r.Position = math.Float32frombits(binary.LittleEndian.Uint32(payload))
	count := int(payload[4])
	if plen != 5+2*count {
		return Record{}, 0, ErrBadFrame
	}
	if count > 0 {
		r.Samples = make([]uint16, count)
		for i := range r.Samples {
			r.Samples[i] = binary.LittleEndian.Uint16(payload[5+2*i:])
		}
	}
	return r, total, nil
}

// Writer streams framed records to a byte pipe.
type Writer struct {
	w   io.Writer
	buf []byte
}

// NewWriter returns a Writer streaming to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord frames and writes one record.
func (w *Writer) WriteRecord(r Record) error {
	frame, err := AppendFrame(w.buf[:0], r)
	if err != nil {
		return err
	}
	w.buf = frame
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("telemetry: write: %w", err)
	}
	return nil
}
