package radio

import (
	"errors"
	"testing"

	"groundstation/internal/spi"
)

// busRegs serves spidev transfers from a fakeRegs register file.
type busRegs struct {
	regs   *fakeRegs
	closed int
	txErr  error
}

func (b *busRegs) Tx(w, r []byte) error {
	if b.txErr != nil {
		return b.txErr
	}
	addr := w[0] & 0x7F
	if w[0]&0x80 != 0 {
		if len(w) == 2 {
			return b.regs.WriteReg(addr, w[1])
		}
		return b.regs.WriteBurst(addr, w[1:])
	}
	if len(w) == 2 {
		v, err := b.regs.ReadReg(addr)
		r[1] = v
		return err
	}
	return b.regs.ReadBurst(addr, r[1:])
}

func (b *busRegs) Close() error {
	b.closed++
	return nil
}

type fakeResetLine struct {
	resets, closes int
	resetErr       error
}

func (l *fakeResetLine) Reset() error {
	l.resets++
	return l.resetErr
}

func (l *fakeResetLine) Close() error {
	l.closes++
	return nil
}

func stubHardware(t *testing.T, bus *busRegs, line *fakeResetLine) *string {
	t.Helper()
	oldSPI, oldLine := openSPIFn, openResetLineFn
	var openedPath string
	openSPIFn = func(path string, cfg spi.Config) (spiBus, error) {
		openedPath = path
		return bus, nil
	}
	openResetLineFn = func(pin int) (resetLine, error) { return line, nil }
	t.Cleanup(func() { openSPIFn, openResetLineFn = oldSPI, oldLine })
	return &openedPath
}

func TestOpenRFM9x_ResetsAndInitializes(t *testing.T) {
	stubClock(t)
	bus := &busRegs{regs: newFakeRegs()}
	line := &fakeResetLine{}
	path := stubHardware(t, bus, line)

	tr, err := OpenRFM9x(HardwareConfig{ResetPin: 25})(Config{FrequencyMHz: 433, TxPowerDBm: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if *path != "/dev/spidev0.1" {
		t.Fatalf("path=%q want default", *path)
	}
	if line.resets != 1 {
		t.Fatalf("resets=%d want 1", line.resets)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if bus.closed != 1 || line.closes != 1 {
		t.Fatalf("bus closed=%d line closed=%d", bus.closed, line.closes)
	}
}

func TestOpenRFM9x_ReleasesOnInitFailure(t *testing.T) {
	stubClock(t)
	bus := &busRegs{regs: newFakeRegs(), txErr: errors.New("no chip")}
	line := &fakeResetLine{}
	stubHardware(t, bus, line)

	if _, err := OpenRFM9x(HardwareConfig{ResetPin: 25})(Config{FrequencyMHz: 433, TxPowerDBm: 2}); err == nil {
		t.Fatalf("expected init error")
	}
	if bus.closed != 1 || line.closes != 1 {
		t.Fatalf("bus closed=%d line closed=%d", bus.closed, line.closes)
	}
}

func TestOpenRFM9x_ResetFailure(t *testing.T) {
	stubClock(t)
	bus := &busRegs{regs: newFakeRegs()}
	line := &fakeResetLine{resetErr: errors.New("gpio busy")}
	stubHardware(t, bus, line)

	if _, err := OpenRFM9x(HardwareConfig{ResetPin: 25})(Config{FrequencyMHz: 433}); err == nil {
		t.Fatalf("expected reset error")
	}
	if line.closes != 1 {
		t.Fatalf("line closed=%d want 1", line.closes)
	}
}

func TestOpenRFM9x_NoResetPin(t *testing.T) {
	stubClock(t)
	bus := &busRegs{regs: newFakeRegs()}
	line := &fakeResetLine{}
	path := stubHardware(t, bus, line)

	tr, err := OpenRFM9x(HardwareConfig{SPIDevice: " /dev/spidev0.0 "})(Config{FrequencyMHz: 433, TxPowerDBm: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()
	if line.resets != 0 {
		t.Fatalf("reset pulsed without a pin")
	}
	if *path != "/dev/spidev0.0" {
		t.Fatalf("path=%q", *path)
	}
}

func TestSPIRegs_AddressBit(t *testing.T) {
	f := newFakeRegs()
	b := &busRegs{regs: f}
	r := spiRegs{bus: b}
	if err := r.WriteReg(regPaConfig, 0x8F); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := r.ReadReg(regPaConfig)
	if err != nil || got != 0x8F {
		t.Fatalf("read=0x%02X err=%v", got, err)
	}
	f.fifo = []byte("abc")
	dst := make([]byte, 3)
	if err := r.ReadBurst(regFifo, dst); err != nil || string(dst) != "abc" {
		t.Fatalf("burst=%q err=%v", dst, err)
	}
}
