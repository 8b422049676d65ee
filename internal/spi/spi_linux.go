//go:build linux

package spi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Minimal Linux spidev implementation backed by /dev/spidevB.C.
//
// Every transfer is a single full-duplex SPI_IOC_MESSAGE(1) so chip select
// stays asserted for the register address and its data bytes.

const (
	spiIocWrMode        = 0x40016B01
	spiIocWrBitsPerWord = 0x40016B03
	spiIocWrMaxSpeedHz  = 0x40046B04
	spiIocMessage1      = 0x40206B00
)

// spi_ioc_transfer from linux/spi/spidev.h (32 bytes).
type iocTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// Dev is an opened spidev node. It is not safe for concurrent transfers;
// callers serialize access.
type Dev struct {
	f       *os.File
	path    string
	speedHz uint32
}

func Open(path string, cfg Config) (*Dev, error) {
	path = filepath.Clean(path)
	if cfg.SpeedHz <= 0 {
		cfg.SpeedHz = DefaultSpeedHz
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	d := &Dev{f: f, path: path, speedHz: uint32(cfg.SpeedHz)}

	mode := uint8(cfg.Mode)
	bits := uint8(8)
	speed := uint32(cfg.SpeedHz)
	if err := d.ioctl(spiIocWrMode, unsafe.Pointer(&mode)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set mode %d: %w", cfg.Mode, err)
	}
	if err := d.ioctl(spiIocWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set bits per word: %w", err)
	}
	if err := d.ioctl(spiIocWrMaxSpeedHz, unsafe.Pointer(&speed)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("spi: set speed %d: %w", cfg.SpeedHz, err)
	}
	return d, nil
}

func (d *Dev) Close() error {
	if d == nil || d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Tx clocks w out while reading the same number of bytes into r.
// len(r) must equal len(w).
func (d *Dev) Tx(w, r []byte) error {
	if d == nil || d.f == nil {
		return errors.New("spi device is closed")
	}
	if len(w) == 0 {
		return nil
	}
	if len(r) != len(w) {
		return fmt.Errorf("spi: rx len %d != tx len %d", len(r), len(w))
	}
	xfer := iocTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&w[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&r[0]))),
		length:      uint32(len(w)),
		speedHz:     d.speedHz,
		bitsPerWord: 8,
	}
	return d.ioctl(spiIocMessage1, unsafe.Pointer(&xfer))
}

func (d *Dev) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
