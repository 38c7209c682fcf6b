package core

import (
	"errors"
	"testing"
)

// fakeSPI records transfers and plays back canned replies.
type fakeSPI struct {
	writes [][]byte
	reply  []byte
	err    error
}

func (f *fakeSPI) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	copy(r, f.reply)
	return nil
}

func (f *fakeSPI) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := f.Tx([]byte{b}, r[:])
	return r[0], err
}

func TestSyncHostTransfersUnderChipSelect(t *testing.T) {
	bus := &fakeSPI{reply: []byte{0xFF, 0x02, 0xFF}}
	var csLog []bool
	host := NewSyncHost(bus, func(level bool) { csLog = append(csLog, level) })

	dev, err := host.AddDevice(DeviceConfig{Mode: 0, QueueDepth: 2})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	tx := Transaction{Tag: 3, Bits: 24}
	tx.Tx = [4]byte{0x01, 0x80, 0x00, 0x00}
	if err := dev.Submit(&tx, NoTimeout); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(bus.writes) != 1 || len(bus.writes[0]) != 3 {
		t.Fatalf("writes = %v, want one 3-byte transfer", bus.writes)
	}
	// Chip select dips low for exactly the transfer.
	if len(csLog) != 2 || csLog[0] != false || csLog[1] != true {
		t.Errorf("cs transitions = %v, want [false true]", csLog)
	}

	got, err := dev.Collect(NoTimeout)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got.Tag != 3 {
		t.Errorf("tag = %d, want 3", got.Tag)
	}
	if s := decodeSample(got.Rx); s != 0x2FF {
		t.Errorf("decoded sample %#x, want 0x2ff", s)
	}
}

func TestSyncHostQueueDepth(t *testing.T) {
	bus := &fakeSPI{reply: []byte{0, 0, 0}}
	host := NewSyncHost(bus, nil)
	dev, err := host.AddDevice(DeviceConfig{Mode: 0, QueueDepth: 2})
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	txs := [3]Transaction{{Bits: 24}, {Bits: 24}, {Bits: 24}}
	for i := 0; i < 2; i++ {
		if err := dev.Submit(&txs[i], NoTimeout); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := dev.Submit(&txs[2], NoTimeout); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit past depth = %v, want ErrQueueFull", err)
	}

	if _, err := dev.Collect(NoTimeout); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if err := dev.Submit(&txs[2], NoTimeout); err != nil {
		t.Errorf("Submit after Collect: %v", err)
	}
}

func TestSyncHostCollectEmpty(t *testing.T) {
	host := NewSyncHost(&fakeSPI{}, nil)
	dev, _ := host.AddDevice(DeviceConfig{Mode: 0})
	if _, err := dev.Collect(NoTimeout); !errors.Is(err, ErrNoPending) {
		t.Errorf("Collect on empty queue = %v, want ErrNoPending", err)
	}
}

func TestSyncHostRejectsOtherModes(t *testing.T) {
	host := NewSyncHost(&fakeSPI{}, nil)
	if _, err := host.AddDevice(DeviceConfig{Mode: 3}); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("AddDevice(mode 3) = %v, want ErrUnsupportedMode", err)
	}
}

func TestSyncHostSingleDevice(t *testing.T) {
	host := NewSyncHost(&fakeSPI{}, nil)
	if _, err := host.AddDevice(DeviceConfig{Mode: 0}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if _, err := host.AddDevice(DeviceConfig{Mode: 0}); err == nil {
		t.Error("second AddDevice succeeded, want error")
	}
	if err := host.Free(); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := host.AddDevice(DeviceConfig{Mode: 0}); err != nil {
		t.Errorf("AddDevice after Free: %v", err)
	}
}

// The driver runs unmodified over the synchronous adapter.
func TestDriverOverSyncHost(t *testing.T) {
	bus := &fakeSPI{reply: []byte{0xFF, 0x02, 0xFF}}
	host := NewSyncHost(bus, nil)

	d := NewDriver()
	if err := d.Install(DefaultConfig(host)); err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer d.Close()

	var buf [Channels]uint16
	if err := d.Read(buf[:], false); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range buf {
		if v != 767 {
			t.Errorf("buf[%d] = %d, want 767", i, v)
		}
	}
	if len(bus.writes) != Channels {
		t.Errorf("%d transfers, want %d", len(bus.writes), Channels)
	}
}
