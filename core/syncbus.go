package core

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// PinOut drives a single output line; true is the high level. On TinyGo
// targets wrap a machine.Pin:
//
//	cs := machine.GPIO17
//	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	host := core.NewSyncHost(machine.SPI0, cs.Set)
type PinOut func(bool)

// SyncHost adapts a synchronous full-duplex SPI bus to the queued Host
// contract. Submit performs the transfer immediately under chip select;
// Collect hands completed transactions back in submission order, which
// satisfies the arbitrary-order contract.
//
// The underlying bus must already be configured for mode 0 at the
// desired clock; pin muxing belongs to that configuration, so Initialize
// is a no-op.
type SyncHost struct {
	bus drivers.SPI
	cs  PinOut
	dev *syncDevice
}

// NewSyncHost wraps a configured SPI bus and an optional chip select
// line. Pass a nil cs when the hardware manages chip select itself.
func NewSyncHost(bus drivers.SPI, cs PinOut) *SyncHost {
	return &SyncHost{bus: bus, cs: cs}
}

func (h *SyncHost) Initialize(pins BusPins) error { return nil }

func (h *SyncHost) AddDevice(cfg DeviceConfig) (Device, error) {
	if cfg.Mode != 0 {
		return nil, ErrUnsupportedMode
	}
	if h.dev != nil {
		return nil, errors.New("mcp3008: device already attached")
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = Channels
	}
	h.dev = &syncDevice{host: h, depth: depth}
	return h.dev, nil
}

func (h *SyncHost) Free() error {
	h.dev = nil
	return nil
}

type syncDevice struct {
	host  *SyncHost
	depth int
	done  []*Transaction
}

func (d *syncDevice) Submit(t *Transaction, timeout time.Duration) error {
	if len(d.done) >= d.depth {
		// The transfer already ran, so waiting cannot free a slot; the
		// caller has to collect first.
		return ErrQueueFull
	}
	n := (t.Bits + 7) / 8
	if n > len(t.Tx) {
		return errors.New("mcp3008: transaction longer than buffer")
	}

	if d.host.cs != nil {
		d.host.cs(false)
	}
	err := d.host.bus.Tx(t.Tx[:n], t.Rx[:n])
	if d.host.cs != nil {
		d.host.cs(true)
	}
	if err != nil {
		return err
	}

	d.done = append(d.done, t)
	return nil
}

func (d *syncDevice) Collect(timeout time.Duration) (*Transaction, error) {
	if len(d.done) == 0 {
		return nil, ErrNoPending
	}
	t := d.done[0]
	d.done = d.done[1:]
	return t, nil
}

func (d *syncDevice) Close() error {
	if d.host.dev == d {
		d.host.dev = nil
	}
	return nil
}
