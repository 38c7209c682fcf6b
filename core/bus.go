// Queued SPI bus contract consumed by the MCP3008 driver.
//
// The driver never talks to hardware directly. It is written against a
// small submit/collect transaction queue so that hosts with a DMA-backed
// SPI controller can keep several channel reads in flight, while simple
// synchronous buses can be adapted with SyncHost. Platform code registers
// a concrete Host implementation (see host/spidev, host/bitbang and the
// TinyGo adapter in syncbus.go).
package core

import (
	"errors"
	"time"
)

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// Pin identifies a pin in the host platform's numbering scheme.
type Pin int

// NoTimeout makes Submit or Collect wait indefinitely.
const NoTimeout time.Duration = -1

// BusPins names the three shared SPI lines. The chip select line belongs
// to the attached device, not the bus.
type BusPins struct {
	SCK  Pin
	MOSI Pin
	MISO Pin
}

// DeviceConfig describes one chip attached to a bus.
type DeviceConfig struct {
	Freq       uint32  // clock rate in Hz
	Mode       SPIMode // only mode 0 is meaningful for the MCP3008
	CS         Pin     // chip select, asserted low for the whole transaction
	QueueDepth int     // max transactions in flight
}

// Transaction is a single full-duplex exchange. Tx holds the outbound
// bytes, Rx receives the reply; Bits is the transfer length and decides
// how many of the 4 buffer bytes are clocked out. Tag is an opaque
// small non-negative integer that travels with the transaction and comes
// back unchanged from Collect.
type Transaction struct {
	Tag  int
	Bits int
	Tx   [4]byte
	Rx   [4]byte
}

// Host is a queued SPI bus controller. Initialize claims the bus pins,
// AddDevice attaches a chip, Free releases the bus. A Host is exclusively
// owned by one installed driver at a time.
type Host interface {
	Initialize(pins BusPins) error
	AddDevice(cfg DeviceConfig) (Device, error)
	Free() error
}

// Device is one attached chip on a Host.
//
// Submit queues a transaction and may block up to timeout when the queue
// is full. Collect blocks until the next completed transaction and
// returns it; completion order is arbitrary and in particular need not be
// submission order. For every submitted transaction exactly one Collect
// call returns it.
type Device interface {
	Submit(t *Transaction, timeout time.Duration) error
	Collect(timeout time.Duration) (*Transaction, error)
	Close() error
}

var (
	// ErrQueueFull is returned by Submit when the transaction queue is
	// full and the timeout expired.
	ErrQueueFull = errors.New("mcp3008: transaction queue full")

	// ErrNoPending is returned by Collect when nothing is in flight.
	ErrNoPending = errors.New("mcp3008: no pending transaction")

	// ErrUnsupportedMode is returned by AddDevice for modes other than 0.
	ErrUnsupportedMode = errors.New("mcp3008: unsupported SPI mode")
)
