package core

import (
	"errors"
	"math/bits"
	"time"
)

const (
	// Channels is the number of input channels on the chip.
	Channels = 8

	// MaxValue is the largest sample the 10-bit converter can return.
	MaxValue = 1023

	// InvalidSample is returned by ReadChannel and
	// CalibratedReadChannel when the read failed.
	InvalidSample uint16 = 0xFFFF
)

// submitTimeout bounds the wait for queue space; collection waits
// indefinitely, mirroring the submit/collect contract.
const submitTimeout = 100 * time.Millisecond

var (
	// ErrNotInstalled is returned by acquisition operations before a
	// successful Install or after Uninstall.
	ErrNotInstalled = errors.New("mcp3008: driver not installed")

	// ErrNoHost is returned by Install when the config names no bus host.
	ErrNoHost = errors.New("mcp3008: no bus host configured")

	// ErrShortBuffer is returned by Read when dest cannot hold one
	// sample per enabled channel.
	ErrShortBuffer = errors.New("mcp3008: destination buffer too short")

	// ErrInvalidChannel is returned by ReadChannel for channels >= Channels.
	ErrInvalidChannel = errors.New("mcp3008: invalid channel")
)

// Config holds the SPI wiring and the active channel mask.
// Pin defaults follow the representative ESP32 wiring of the reference
// hardware; hosts with their own pin numbering override them.
type Config struct {
	Freq uint32 // SPI clock in Hz
	Host Host   // bus controller the driver installs onto

	CS   Pin
	MOSI Pin
	MISO Pin
	SCK  Pin

	// Mask enables channels: bit i selects channel i. An empty mask is
	// legal and makes every read a zero-sample success.
	Mask uint8
}

// DefaultConfig returns the stock configuration: 1.35 MHz clock, all
// eight channels enabled.
func DefaultConfig(host Host) Config {
	return Config{
		Freq: 1_350_000,
		Host: host,
		CS:   25,
		MOSI: 33,
		MISO: 32,
		SCK:  26,
		Mask: 0xFF,
	}
}

// Driver is the low-level acquisition engine for one MCP3008. It owns
// the bus host and chip select exclusively while installed.
//
// A Driver is single-threaded: at most one caller may invoke its methods
// at a time. There is no internal locking.
type Driver struct {
	cfg       Config
	dev       Device
	installed bool
}

// NewDriver returns an uninstalled driver with the default channel mask.
func NewDriver() *Driver {
	return &Driver{cfg: Config{Mask: 0xFF}}
}

// Installed reports whether Install has succeeded.
func (d *Driver) Installed() bool { return d.installed }

// Mask returns the active channel mask.
func (d *Driver) Mask() uint8 { return d.cfg.Mask }

// Install claims the bus, attaches the chip and makes the driver
// operational. Calling Install on an installed driver is a no-op success.
func (d *Driver) Install(cfg Config) error {
	if d.installed {
		return nil
	}
	if cfg.Host == nil {
		return ErrNoHost
	}

	err := cfg.Host.Initialize(BusPins{SCK: cfg.SCK, MOSI: cfg.MOSI, MISO: cfg.MISO})
	if err != nil {
		return err
	}

	dev, err := cfg.Host.AddDevice(DeviceConfig{
		Freq:       cfg.Freq,
		Mode:       0,
		CS:         cfg.CS,
		QueueDepth: Channels,
	})
	if err != nil {
		cfg.Host.Free()
		return err
	}

	d.cfg = cfg
	d.dev = dev
	d.installed = true
	return nil
}

// Uninstall detaches the chip and releases the bus. It is idempotent:
// on an uninstalled driver it returns nil immediately. The bus is freed
// even when the device detach fails; the first error is reported.
func (d *Driver) Uninstall() error {
	if !d.installed {
		return nil
	}

	first := d.dev.Close()
	if err := d.cfg.Host.Free(); err != nil && first == nil {
		first = err
	}

	d.dev = nil
	d.installed = false
	return first
}

// Close releases the driver's resources. Defer it after a successful
// Install so teardown runs on every exit path.
func (d *Driver) Close() error { return d.Uninstall() }

// commandByte packs the mode/channel byte of the command word. The high
// bit is SGL/DIFF: the wire wants 1 for single-ended, so the public
// differential flag is inverted here.
func commandByte(ch uint8, differential bool) byte {
	sgl := byte(1)
	if differential {
		sgl = 0
	}
	return sgl<<7 | (ch&0x07)<<4
}

// decodeSample reconstructs the 10-bit sample from a reply. The first
// reply byte carries no data.
func decodeSample(rx [4]byte) uint16 {
	return uint16(rx[1]&0x03)<<8 | uint16(rx[2])
}

// Read fills dest with one sample per enabled channel, in ascending
// channel order. dest must hold at least popcount(Mask()) samples.
//
// One transaction is submitted per enabled channel; replies may complete
// in any order and are stored by their request-index tag, so dest is
// always channel-ordered. Any bus error aborts the read and is returned
// unchanged.
func (d *Driver) Read(dest []uint16, differential bool) error {
	if !d.installed {
		return ErrNotInstalled
	}
	if len(dest) < bits.OnesCount8(d.cfg.Mask) {
		return ErrShortBuffer
	}

	var txs [Channels]Transaction
	submitted := 0
	for ch := 0; ch < Channels; ch++ {
		if d.cfg.Mask&(1<<ch) == 0 {
			continue
		}
		t := &txs[ch]
		t.Tag = submitted
		t.Bits = 3 * 8
		t.Tx[0] = 0x01 // start bit
		t.Tx[1] = commandByte(uint8(ch), differential)
		t.Tx[2] = 0x00

		if err := d.dev.Submit(t, submitTimeout); err != nil {
			return err
		}
		submitted++
	}

	if submitted == 0 {
		return nil
	}

	for i := 0; i < submitted; i++ {
		t, err := d.dev.Collect(NoTimeout)
		if err != nil {
			return err
		}
		dest[t.Tag] = decodeSample(t.Rx)
	}
	return nil
}

// ReadAppend appends one sample per enabled channel to dst and returns
// the extended slice. On error the returned slice is dst unchanged in
// length (its capacity may have grown).
func (d *Driver) ReadAppend(dst []uint16, differential bool) ([]uint16, error) {
	var buf [Channels]uint16
	n := bits.OnesCount8(d.cfg.Mask)
	if err := d.Read(buf[:n], differential); err != nil {
		return dst, err
	}
	return append(dst, buf[:n]...), nil
}

// ReadChannel reads a single channel regardless of the channel mask.
// On error it returns InvalidSample alongside the error, so callers may
// check either.
func (d *Driver) ReadChannel(ch uint8, differential bool) (uint16, error) {
	if !d.installed {
		return InvalidSample, ErrNotInstalled
	}
	if ch >= Channels {
		return InvalidSample, ErrInvalidChannel
	}

	t := Transaction{Bits: 3 * 8}
	t.Tx[0] = 0x01
	t.Tx[1] = commandByte(ch, differential)

	if err := d.dev.Submit(&t, submitTimeout); err != nil {
		return InvalidSample, err
	}
	r, err := d.dev.Collect(NoTimeout)
	if err != nil {
		return InvalidSample, err
	}
	return decodeSample(r.Rx), nil
}
