package core

import "math/bits"

// Calibrator accumulates per-channel extremes over one calibration
// session. Move the sensor row across the line while calling Record
// repeatedly, then commit with Save. Reset starts a fresh session on the
// same instance.
//
// A Calibrator holds a non-owning reference to its parent sensor and
// must not outlive it. The parent is only written by Save, and only
// through SetCalibration.
type Calibrator struct {
	sensor *LineSensor
	min    [Channels]uint16
	max    [Channels]uint16
}

// StartCalibration begins a calibration session for this sensor.
func (s *LineSensor) StartCalibration() *Calibrator {
	c := &Calibrator{sensor: s}
	c.Reset()
	return c
}

// Reset restores the inverted sentinels so the next Record tightens both
// bounds unconditionally.
func (c *Calibrator) Reset() {
	for i := 0; i < Channels; i++ {
		c.min[i] = MaxValue
		c.max[i] = 0
	}
}

// Record takes one raw reading and widens the observed min/max of every
// enabled channel. Read errors are returned and leave the session
// untouched.
func (c *Calibrator) Record() error {
	var buf [Channels]uint16
	mask := c.sensor.Mask()
	n := bits.OnesCount8(mask)

	if err := c.sensor.Read(buf[:n], false); err != nil {
		return err
	}

	idx := 0
	for ch := 0; ch < Channels; ch++ {
		if mask&(1<<ch) == 0 {
			continue
		}
		if buf[idx] < c.min[ch] {
			c.min[ch] = buf[idx]
		}
		if buf[idx] > c.max[ch] {
			c.max[ch] = buf[idx]
		}
		idx++
	}
	return nil
}

// Save derives Range = max - min for every channel and commits the
// session to the parent sensor. The result is SetCalibration's verdict:
// a degenerate session (for instance one with no recorded samples) fails
// validation and leaves the sensor's calibration unchanged.
func (c *Calibrator) Save() bool {
	data := CalibrationData{Min: c.min}
	for i := 0; i < Channels; i++ {
		data.Range[i] = c.max[i] - c.min[i]
	}
	return c.sensor.SetCalibration(data)
}
