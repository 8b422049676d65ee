//go:build !linux

package spi

import "fmt"

type Dev struct{}

func Open(path string, cfg Config) (*Dev, error) {
	return nil, fmt.Errorf("spi: unsupported OS (need linux)")
}

func (d *Dev) Close() error { return nil }

func (d *Dev) Tx(w, r []byte) error { return fmt.Errorf("spi: unsupported OS") }
