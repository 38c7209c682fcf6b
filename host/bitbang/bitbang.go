// Package bitbang drives the MCP3008 over plain GPIO lines for hosts
// without a spidev node, such as a Raspberry Pi with the SPI overlay
// disabled. The clock is software generated, so keep the configured
// frequency modest (the chip itself is happy down to 10 kHz).
package bitbang

import (
	"fmt"
	"time"

	"github.com/warthog618/gpio"
	"github.com/warthog618/gpio/spi"

	"mcp3008/core"
)

// Host bit-bangs one MCP3008 on four GPIO lines. Initialize claims the
// GPIO memory range; AddDevice sets up the pins.
type Host struct {
	pins core.BusPins
	dev  *device
}

func New() *Host { return &Host{} }

func (h *Host) Initialize(pins core.BusPins) error {
	if err := gpio.Open(); err != nil {
		return fmt.Errorf("bitbang: open gpio: %w", err)
	}
	h.pins = pins
	return nil
}

func (h *Host) AddDevice(cfg core.DeviceConfig) (core.Device, error) {
	if cfg.Mode != 0 {
		return nil, core.ErrUnsupportedMode
	}
	if h.dev != nil {
		return nil, fmt.Errorf("bitbang: device already attached")
	}

	freq := cfg.Freq
	if freq == 0 {
		freq = 100_000
	}
	// Half clock period; the transfer loop sleeps it twice per bit.
	tclk := time.Second / time.Duration(2*freq)

	bus := spi.New(tclk, int(h.pins.SCK), int(cfg.CS), int(h.pins.MOSI), int(h.pins.MISO))

	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = core.Channels
	}
	h.dev = &device{host: h, bus: bus, depth: depth}
	return h.dev, nil
}

func (h *Host) Free() error {
	if h.dev != nil {
		h.dev.release()
		h.dev = nil
	}
	return gpio.Close()
}

type device struct {
	host  *Host
	bus   *spi.SPI
	depth int
	done  []*core.Transaction
}

func (d *device) Submit(t *core.Transaction, timeout time.Duration) error {
	if d.bus == nil {
		return fmt.Errorf("bitbang: device detached")
	}
	if len(d.done) >= d.depth {
		return core.ErrQueueFull
	}
	n := (t.Bits + 7) / 8
	if n > len(t.Tx) {
		return fmt.Errorf("bitbang: %d-bit transaction exceeds buffer", t.Bits)
	}

	d.transfer(t.Tx[:n], t.Rx[:n])
	d.done = append(d.done, t)
	return nil
}

// transfer clocks the bytes out and in, full duplex, mode 0: data is
// set up on the falling edge and sampled on the rising edge.
func (d *device) transfer(tx, rx []byte) {
	s := d.bus
	s.Mu.Lock()
	defer s.Mu.Unlock()

	s.Sclk.Low()
	s.Mosi.Output()
	time.Sleep(s.Tclk)
	s.Ssz.Low()

	for i := range tx {
		var in byte
		for bit := 7; bit >= 0; bit-- {
			if tx[i]&(1<<uint(bit)) != 0 {
				s.Mosi.High()
			} else {
				s.Mosi.Low()
			}
			time.Sleep(s.Tclk)
			s.Sclk.High()
			if s.Miso.Read() == gpio.High {
				in |= 1 << uint(bit)
			}
			time.Sleep(s.Tclk)
			s.Sclk.Low()
		}
		rx[i] = in
	}

	s.Ssz.High()
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
	d.release()
	if d.host.dev == d {
		d.host.dev = nil
	}
	return nil
}

func (d *device) release() {
	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}
}
