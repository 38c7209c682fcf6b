package core

import (
	"errors"
	"testing"
	"time"
)

var errTestBus = errors.New("test bus failure")

// mockDevice implements Device in memory. Replies are synthesized from
// the channel encoded in the submitted command byte, with junk in the
// don't-care reply bits so decoding has to mask them. With reverse set,
// Collect completes transactions in reverse submission order.
type mockDevice struct {
	samples  map[uint8]uint16                // fixed per-channel replies
	sampleFn func(ch uint8, n int) uint16    // per-call replies, n counts reads of ch
	reverse  bool

	submitErr  error
	collectErr error
	collectOKs int // successful collects before collectErr applies

	pending  []*Transaction
	log      []Transaction // submitted transactions, for wire assertions
	collects int
	reads    map[uint8]int
	closed   bool
	closeErr error
}

func (m *mockDevice) Submit(t *Transaction, _ time.Duration) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.log = append(m.log, *t)
	m.pending = append(m.pending, t)
	return nil
}

func (m *mockDevice) Collect(_ time.Duration) (*Transaction, error) {
	if m.collectErr != nil && m.collects >= m.collectOKs {
		return nil, m.collectErr
	}
	if len(m.pending) == 0 {
		return nil, ErrNoPending
	}
	m.collects++

	var t *Transaction
	if m.reverse {
		t = m.pending[len(m.pending)-1]
		m.pending = m.pending[:len(m.pending)-1]
	} else {
		t = m.pending[0]
		m.pending = m.pending[1:]
	}

	ch := (t.Tx[1] >> 4) & 0x07
	var v uint16
	if m.sampleFn != nil {
		if m.reads == nil {
			m.reads = make(map[uint8]int)
		}
		v = m.sampleFn(ch, m.reads[ch])
		m.reads[ch]++
	} else {
		v = m.samples[ch]
	}

	t.Rx[0] = 0xA5
	t.Rx[1] = byte(v>>8)&0x03 | 0xA4
	t.Rx[2] = byte(v)
	return t, nil
}

func (m *mockDevice) Close() error {
	m.closed = true
	return m.closeErr
}

type mockHost struct {
	dev     *mockDevice
	initErr error
	addErr  error
	freeErr error

	inits   int
	frees   int
	lastDev DeviceConfig
}

func (h *mockHost) Initialize(p BusPins) error {
	h.inits++
	return h.initErr
}

func (h *mockHost) AddDevice(c DeviceConfig) (Device, error) {
	h.lastDev = c
	if h.addErr != nil {
		return nil, h.addErr
	}
	return h.dev, nil
}

func (h *mockHost) Free() error {
	h.frees++
	return h.freeErr
}

// installDriver installs a fresh driver on a mock bus with the given mask.
func installDriver(t *testing.T, dev *mockDevice, mask uint8) (*Driver, *mockHost) {
	t.Helper()
	host := &mockHost{dev: dev}
	d := NewDriver()
	cfg := DefaultConfig(host)
	cfg.Mask = mask
	if err := d.Install(cfg); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	return d, host
}

func TestInstallLifecycle(t *testing.T) {
	dev := &mockDevice{}
	d, host := installDriver(t, dev, 0xFF)

	if !d.Installed() {
		t.Fatal("driver not installed after Install")
	}
	if host.lastDev.Mode != 0 {
		t.Errorf("attached with mode %d, want 0", host.lastDev.Mode)
	}
	if host.lastDev.QueueDepth != Channels {
		t.Errorf("queue depth %d, want %d", host.lastDev.QueueDepth, Channels)
	}

	// Second install is a no-op success.
	if err := d.Install(DefaultConfig(host)); err != nil {
		t.Errorf("repeated Install: %v", err)
	}
	if host.inits != 1 {
		t.Errorf("bus initialized %d times, want 1", host.inits)
	}

	if err := d.Uninstall(); err != nil {
		t.Errorf("Uninstall: %v", err)
	}
	if !dev.closed {
		t.Error("device not detached on Uninstall")
	}
	if host.frees != 1 {
		t.Errorf("bus freed %d times, want 1", host.frees)
	}

	// Idempotent: already torn down.
	if err := d.Uninstall(); err != nil {
		t.Errorf("second Uninstall: %v", err)
	}
	if host.frees != 1 {
		t.Errorf("second Uninstall freed the bus again")
	}
}

func TestInstallAddDeviceFailureFreesBus(t *testing.T) {
	host := &mockHost{dev: &mockDevice{}, addErr: errTestBus}
	d := NewDriver()
	if err := d.Install(DefaultConfig(host)); !errors.Is(err, errTestBus) {
		t.Fatalf("Install error = %v, want %v", err, errTestBus)
	}
	if host.frees != 1 {
		t.Error("bus not freed after AddDevice failure")
	}
	if d.Installed() {
		t.Error("driver claims installed after failed Install")
	}
}

func TestUninstallFreesBusOnDetachError(t *testing.T) {
	dev := &mockDevice{closeErr: errTestBus}
	d, host := installDriver(t, dev, 0xFF)

	if err := d.Uninstall(); !errors.Is(err, errTestBus) {
		t.Errorf("Uninstall error = %v, want detach error", err)
	}
	if host.frees != 1 {
		t.Error("bus not freed after detach failure")
	}
}

func TestReadNotInstalled(t *testing.T) {
	d := NewDriver()
	var buf [Channels]uint16
	if err := d.Read(buf[:], false); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Read error = %v, want ErrNotInstalled", err)
	}
	if v, err := d.ReadChannel(0, false); !errors.Is(err, ErrNotInstalled) || v != InvalidSample {
		t.Errorf("ReadChannel = (%#x, %v), want (0xFFFF, ErrNotInstalled)", v, err)
	}
}

// All channels enabled, every reply 0x2FF: eight samples of 767 and the
// expected command byte per channel.
func TestReadAllChannels(t *testing.T) {
	samples := map[uint8]uint16{}
	for ch := uint8(0); ch < Channels; ch++ {
		samples[ch] = 0x2FF
	}
	dev := &mockDevice{samples: samples}
	d, _ := installDriver(t, dev, 0xFF)

	var buf [Channels]uint16
	if err := d.Read(buf[:], false); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range buf {
		if v != 767 {
			t.Errorf("buf[%d] = %d, want 767", i, v)
		}
	}

	if len(dev.log) != Channels {
		t.Fatalf("%d transactions submitted, want %d", len(dev.log), Channels)
	}
	wantCmd := []byte{0x80, 0x90, 0xA0, 0xB0, 0xC0, 0xD0, 0xE0, 0xF0}
	for i, tx := range dev.log {
		if tx.Bits != 24 {
			t.Errorf("tx %d: %d bits, want 24", i, tx.Bits)
		}
		if tx.Tx[0] != 0x01 || tx.Tx[1] != wantCmd[i] || tx.Tx[2] != 0x00 {
			t.Errorf("tx %d: bytes [%#02x %#02x %#02x], want [0x01 %#02x 0x00]",
				i, tx.Tx[0], tx.Tx[1], tx.Tx[2], wantCmd[i])
		}
		if tx.Tag != i {
			t.Errorf("tx %d: tag %d, want %d", i, tx.Tag, i)
		}
	}
}

func TestReadDifferentialCommand(t *testing.T) {
	dev := &mockDevice{}
	d, _ := installDriver(t, dev, 1<<3)

	var buf [1]uint16
	if err := d.Read(buf[:], true); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := dev.log[0].Tx[1]; got != 0x30 {
		t.Errorf("differential command byte %#02x, want 0x30", got)
	}
}

// Sparse mask with out-of-order completion: results still land in
// ascending channel order.
func TestReadSparseMaskOutOfOrder(t *testing.T) {
	dev := &mockDevice{
		samples: map[uint8]uint16{0: 100, 2: 500, 7: 900},
		reverse: true,
	}
	d, _ := installDriver(t, dev, 1<<0|1<<2|1<<7)

	var buf [3]uint16
	if err := d.Read(buf[:], false); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := [3]uint16{100, 500, 900}
	if buf != want {
		t.Errorf("buf = %v, want %v", buf, want)
	}
	if len(dev.log) != 3 {
		t.Errorf("%d transactions submitted, want 3", len(dev.log))
	}
}

func TestReadEmptyMask(t *testing.T) {
	dev := &mockDevice{}
	d, _ := installDriver(t, dev, 0x00)

	if err := d.Read(nil, false); err != nil {
		t.Fatalf("Read with empty mask: %v", err)
	}
	if len(dev.log) != 0 {
		t.Errorf("%d transactions submitted for empty mask, want 0", len(dev.log))
	}
}

func TestReadShortBuffer(t *testing.T) {
	d, _ := installDriver(t, &mockDevice{}, 0xFF)
	var buf [3]uint16
	if err := d.Read(buf[:], false); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Read error = %v, want ErrShortBuffer", err)
	}
}

func TestReadPropagatesBusErrors(t *testing.T) {
	dev := &mockDevice{submitErr: errTestBus}
	d, _ := installDriver(t, dev, 0xFF)
	var buf [Channels]uint16
	if err := d.Read(buf[:], false); !errors.Is(err, errTestBus) {
		t.Errorf("submit error = %v, want %v", err, errTestBus)
	}

	dev = &mockDevice{collectErr: errTestBus, collectOKs: 2}
	d, _ = installDriver(t, dev, 0xFF)
	if err := d.Read(buf[:], false); !errors.Is(err, errTestBus) {
		t.Errorf("collect error = %v, want %v", err, errTestBus)
	}
}

func TestReadAppendTransactional(t *testing.T) {
	dev := &mockDevice{collectErr: errTestBus, collectOKs: 3}
	d, _ := installDriver(t, dev, 0xFF)

	dst := []uint16{7, 8}
	out, err := d.ReadAppend(dst, false)
	if !errors.Is(err, errTestBus) {
		t.Fatalf("ReadAppend error = %v, want %v", err, errTestBus)
	}
	if len(out) != 2 || out[0] != 7 || out[1] != 8 {
		t.Errorf("vector changed on error: %v", out)
	}
}

func TestReadAppendSuccess(t *testing.T) {
	dev := &mockDevice{samples: map[uint8]uint16{1: 42, 6: 1000}}
	d, _ := installDriver(t, dev, 1<<1|1<<6)

	out, err := d.ReadAppend([]uint16{5}, false)
	if err != nil {
		t.Fatalf("ReadAppend: %v", err)
	}
	want := []uint16{5, 42, 1000}
	if len(out) != len(want) {
		t.Fatalf("out = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestReadChannel(t *testing.T) {
	dev := &mockDevice{samples: map[uint8]uint16{5: 321}}
	d, _ := installDriver(t, dev, 0x00) // mask does not gate single reads

	v, err := d.ReadChannel(5, false)
	if err != nil || v != 321 {
		t.Errorf("ReadChannel(5) = (%d, %v), want (321, nil)", v, err)
	}

	if v, err = d.ReadChannel(Channels, false); !errors.Is(err, ErrInvalidChannel) || v != InvalidSample {
		t.Errorf("ReadChannel(8) = (%#x, %v), want (0xFFFF, ErrInvalidChannel)", v, err)
	}

	dev.submitErr = errTestBus
	if v, err = d.ReadChannel(1, false); !errors.Is(err, errTestBus) || v != InvalidSample {
		t.Errorf("ReadChannel on bus error = (%#x, %v), want (0xFFFF, %v)", v, err, errTestBus)
	}
}
