// Package spidev attaches the MCP3008 to a Linux spidev node.
//
// The kernel owns pin muxing and chip select, so the bus-pin and CS
// configuration of the core contract is carried by the device path
// (/dev/spidevB.C) instead. Transfers run synchronously on Submit;
// Collect returns completed transactions in submission order.
package spidev

import (
	"fmt"
	"time"

	"golang.org/x/exp/io/spi"

	"mcp3008/core"
)

// Host opens one MCP3008 on a spidev device node.
type Host struct {
	path string
	dev  *device
}

// New returns a Host for a device node such as "/dev/spidev0.0".
func New(path string) *Host {
	return &Host{path: path}
}

// Initialize is a no-op: the kernel driver claimed the pins when the
// spidev node was bound.
func (h *Host) Initialize(pins core.BusPins) error { return nil }

func (h *Host) AddDevice(cfg core.DeviceConfig) (core.Device, error) {
	if cfg.Mode != 0 {
		return nil, core.ErrUnsupportedMode
	}
	if h.dev != nil {
		return nil, fmt.Errorf("spidev: device already attached on %s", h.path)
	}

	conn, err := spi.Open(&spi.Devfs{
		Dev:      h.path,
		Mode:     spi.Mode0,
		MaxSpeed: int64(cfg.Freq),
	})
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", h.path, err)
	}

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = core.Channels
	}
	h.dev = &device{host: h, conn: conn, depth: depth}
	return h.dev, nil
}

func (h *Host) Free() error {
	if h.dev != nil && h.dev.conn != nil {
		// AddDevice's Close was skipped; release the node anyway.
		h.dev.close()
	}
	h.dev = nil
	return nil
}

type device struct {
	host  *Host
	conn  *spi.Device
	depth int
	done  []*core.Transaction
}

func (d *device) Submit(t *core.Transaction, timeout time.Duration) error {
	if d.conn == nil {
		return fmt.Errorf("spidev: device detached")
	}
	if len(d.done) >= d.depth {
		return core.ErrQueueFull
	}
	n := (t.Bits + 7) / 8
	if n > len(t.Tx) {
		return fmt.Errorf("spidev: %d-bit transaction exceeds buffer", t.Bits)
	}
	if err := d.conn.Tx(t.Tx[:n], t.Rx[:n]); err != nil {
		return fmt.Errorf("spidev: transfer: %w", err)
	}
	d.done = append(d.done, t)
	return nil
}

func (d *device) Collect(timeout time.Duration) (*core.Transaction, error) {
	if len(d.done) == 0 {
		return nil, core.ErrNoPending
	}
	t := d.done[0]
	d.done = d.done[1:]
	return t, nil
}

func (d *device) Close() error {
	err := d.close()
	if d.host.dev == d {
		d.host.dev = nil
	}
	return err
}

func (d *device) close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("spidev: close: %w", err)
	}
	return nil
}
