package radio

import (
	"errors"
	"fmt"
	"strings"

	"groundstation/internal/spi"
)

// HardwareConfig describes how the RFM9x module is wired to the host.
type HardwareConfig struct {
	// SPIDevice is the spidev node, e.g. /dev/spidev0.1 for CE1.
	SPIDevice  string
	SPISpeedHz int
	// ResetPin is the BCM GPIO wired to RST. Zero skips the hardware reset.
	ResetPin int
	// RadioHeadHeader strips/prepends the 4-byte to/from/id/flags header
	// used by the Adafruit and RadioHead libraries.
	RadioHeadHeader bool
}

// resetLine pulses the module's RST pin.
type resetLine interface {
	Reset() error
	Close() error
}

var (
	openResetLineFn = openResetLine
	openSPIFn       = func(path string, cfg spi.Config) (spiBus, error) { return spi.Open(path, cfg) }
)

type spiBus interface {
	Tx(w, r []byte) error
	Close() error
}

// OpenRFM9x returns an OpenFunc that brings up a fresh RFM9x session on
// every call: reset pulse, SPI open, chip init. Partial failures release
// whatever was acquired.
func OpenRFM9x(hw HardwareConfig) OpenFunc {
	return func(cfg Config) (Transceiver, error) {
		var line resetLine
		if hw.ResetPin > 0 {
			l, err := openResetLineFn(hw.ResetPin)
			if err != nil {
				return nil, fmt.Errorf("rfm9x: reset line: %w", err)
			}
			if err := l.Reset(); err != nil {
				_ = l.Close()
				return nil, fmt.Errorf("rfm9x: reset: %w", err)
			}
			line = l
		}

		path := strings.TrimSpace(hw.SPIDevice)
		if path == "" {
			path = "/dev/spidev0.1"
		}
		bus, err := openSPIFn(path, spi.Config{Mode: 0, SpeedHz: hw.SPISpeedHz})
		if err != nil {
			if line != nil {
				_ = line.Close()
			}
			return nil, fmt.Errorf("rfm9x: open %s: %w", path, err)
		}

		release := func() error {
			errBus := bus.Close()
			var errLine error
			if line != nil {
				errLine = line.Close()
			}
			return errors.Join(errBus, errLine)
		}

		r, err := newRFM9x(spiRegs{bus: bus}, release, cfg, hw.RadioHeadHeader)
		if err != nil {
			_ = release()
			return nil, err
		}
		return r, nil
	}
}

// spiRegs maps SX127x register access onto full-duplex SPI transfers.
// Bit 7 of the address byte selects write.
type spiRegs struct {
	bus spiBus
}

func (s spiRegs) ReadReg(reg byte) (byte, error) {
	w := []byte{reg & 0x7F, 0x00}
	r := make([]byte, 2)
	if err := s.bus.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (s spiRegs) WriteReg(reg, value byte) error {
	return s.bus.Tx([]byte{reg | 0x80, value}, make([]byte, 2))
}

func (s spiRegs) ReadBurst(reg byte, dst []byte) error {
	w := make([]byte, len(dst)+1)
	w[0] = reg & 0x7F
	r := make([]byte, len(w))
	if err := s.bus.Tx(w, r); err != nil {
		return err
	}
	copy(dst, r[1:])
	return nil
}

func (s spiRegs) WriteBurst(reg byte, src []byte) error {
	w := append([]byte{reg | 0x80}, src...)
	return s.bus.Tx(w, make([]byte, len(w)))
}
