// Package serial opens the telemetry link used to stream line-position
// records to a robot controller or logger.
package serial

import (
	"io"
)

// Port is the serial link abstraction. Keeping it an interface allows
// mock ports in tests and alternative transports on targets without a
// tty.
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered but unsent data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path, e.g. "/dev/ttyUSB0" or "COM3".
	Device string

	// Baud rate. USB CDC links ignore it.
	Baud int

	// Read timeout in milliseconds; 0 blocks.
	ReadTimeout int
}

// DefaultConfig returns the stock telemetry link settings.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
