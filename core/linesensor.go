package core

import (
	"math"
	"math/bits"

	"mcp3008/logging"
)

// CalibrationData is the per-channel linear remap used by calibrated
// reads: raw values at or below Min map to 0, Min+Range and above map to
// MaxValue. The zero ranges of an uninitialized struct reject every
// sample; use IdentityCalibration or a Calibrator session instead.
//
// The struct is a plain 32-byte record, see MarshalBinary.
type CalibrationData struct {
	Min   [Channels]uint16
	Range [Channels]uint16
}

// IdentityCalibration returns calibration data that leaves raw samples
// untouched.
func IdentityCalibration() CalibrationData {
	var c CalibrationData
	for i := range c.Range {
		c.Range[i] = MaxValue
	}
	return c
}

// LineConfig tunes the line-position estimator.
type LineConfig struct {
	// WhiteLine flips the contrast: a white line on a black background
	// instead of the default black on white.
	WhiteLine bool

	// NoiseLimit is the fraction of full scale below which a sample is
	// ignored entirely. 0.05 == 5% == values under ~51 are noise.
	NoiseLimit float32

	// LineThreshold is the fraction of full scale a sample must reach
	// for the line to count as detected at all. 0.20 == 20% == 204.
	LineThreshold float32

	// UseCalibration selects calibrated samples for the estimate.
	UseCalibration bool
}

// DefaultLineConfig returns the stock estimator tuning.
func DefaultLineConfig() LineConfig {
	return LineConfig{
		NoiseLimit:     0.05,
		LineThreshold:  0.20,
		UseCalibration: true,
	}
}

// LineSensor is a row of reflectance sensors read through one MCP3008.
// It owns a Driver for raw acquisition and layers per-channel
// calibration and line-position estimation on top.
//
// Like the Driver, a LineSensor is single-threaded per instance.
type LineSensor struct {
	Driver
	cal CalibrationData
}

// NewLineSensor returns an uninstalled sensor with identity calibration
// and all channels enabled. Install it like a Driver.
func NewLineSensor() *LineSensor {
	return &LineSensor{
		Driver: Driver{cfg: Config{Mask: 0xFF}},
		cal:    IdentityCalibration(),
	}
}

// Calibration returns the calibration currently in use. The value can be
// persisted with MarshalBinary and restored through SetCalibration.
func (s *LineSensor) Calibration() CalibrationData { return s.cal }

// SetCalibration installs new calibration data after validating every
// enabled channel: Min and Range must each fit in the sample range and
// Min+Range must not exceed MaxValue. On the first offending channel the
// data is rejected as a whole, the failure is logged and the previous
// calibration stays in effect.
func (s *LineSensor) SetCalibration(data CalibrationData) bool {
	mask := s.Mask()
	for ch := 0; ch < Channels; ch++ {
		if mask&(1<<ch) == 0 {
			continue
		}
		if data.Min[ch] > MaxValue || data.Range[ch] > MaxValue ||
			data.Min[ch]+data.Range[ch] > MaxValue {
			logging.Log.Errorf("invalid calibration at channel %d: min=%d range=%d, ignoring",
				ch, data.Min[ch], data.Range[ch])
			return false
		}
	}
	s.cal = data
	return true
}

// calibrateValue remaps one raw sample for channel ch. The intermediate
// product needs 32 bits: (1023-0)*1023 overflows uint16.
func (s *LineSensor) calibrateValue(ch int, v uint16) uint16 {
	if v <= s.cal.Min[ch] {
		return 0
	}
	if s.cal.Range[ch] == 0 {
		// Unreachable through SetCalibration; clamp instead of dividing.
		return MaxValue
	}
	scaled := int32(v-s.cal.Min[ch]) * MaxValue / int32(s.cal.Range[ch])
	if scaled > MaxValue {
		return MaxValue
	}
	return uint16(scaled)
}

// calibrateResults remaps a raw result buffer in place, walking enabled
// channels in ascending order. Results are indexed by request index,
// calibration by channel index.
func (s *LineSensor) calibrateResults(dest []uint16) {
	mask := s.Mask()
	idx := 0
	for ch := 0; ch < Channels; ch++ {
		if mask&(1<<ch) == 0 {
			continue
		}
		dest[idx] = s.calibrateValue(ch, dest[idx])
		idx++
	}
}

// CalibratedRead is Read followed by the calibration remap, single-ended.
func (s *LineSensor) CalibratedRead(dest []uint16) error {
	if err := s.Read(dest, false); err != nil {
		return err
	}
	s.calibrateResults(dest)
	return nil
}

// CalibratedReadAppend is ReadAppend followed by the calibration remap
// of the appended region. On error dst is returned with its length
// unchanged.
func (s *LineSensor) CalibratedReadAppend(dst []uint16) ([]uint16, error) {
	out, err := s.ReadAppend(dst, false)
	if err != nil {
		return dst, err
	}
	s.calibrateResults(out[len(dst):])
	return out, nil
}

// CalibratedReadChannel reads a single channel and remaps it. On error
// it returns InvalidSample alongside the error.
func (s *LineSensor) CalibratedReadChannel(ch uint8) (uint16, error) {
	v, err := s.ReadChannel(ch, false)
	if err != nil {
		return InvalidSample, err
	}
	return s.calibrateValue(int(ch), v), nil
}

// ReadLine estimates the position of a line under the sensor row.
//
// The result is in [-1, 1]: -1 means the line sits under the enabled
// channel with the lowest index, 0 under the middle of the row, +1 under
// the highest. When no sample reaches LineThreshold, or every sample
// falls below NoiseLimit, the line is not found and a quiet NaN is
// returned; a missing line is not an error. A read failure also yields
// NaN, after logging.
//
// With a single enabled channel there is no horizontal extent to
// estimate over, so the result is always NaN.
func (s *LineSensor) ReadLine(cfg LineConfig) float32 {
	var buf [Channels]uint16
	n := bits.OnesCount8(s.Mask())

	var err error
	if cfg.UseCalibration {
		err = s.CalibratedRead(buf[:n])
	} else {
		err = s.Read(buf[:n], false)
	}
	if err != nil {
		logging.Log.Errorf("line read failed: %v", err)
		return nan32()
	}

	noise := uint16(cfg.NoiseLimit * MaxValue)
	threshold := uint16(cfg.LineThreshold * MaxValue)

	var weighted uint32
	var sum uint16
	onLine := false
	for i, v := range buf[:n] {
		if cfg.WhiteLine {
			v = MaxValue - v
		}
		if v < noise {
			continue
		}
		if v >= threshold {
			onLine = true
		}
		weighted += uint32(v) * uint32(i) * MaxValue
		sum += v
	}

	if sum == 0 || !onLine {
		return nan32()
	}

	middle := int16(float32(n-1) / 2 * MaxValue)
	if middle == 0 {
		return nan32()
	}
	result := int16(weighted/uint32(sum)) - middle

	pos := float32(result) / float32(middle)
	if pos > 1 {
		pos = 1
	} else if pos < -1 {
		pos = -1
	}
	return pos
}

func nan32() float32 { return float32(math.NaN()) }
