//go:build !linux

package gps

import (
	"fmt"
	"os"
)

func SupportedBaud(baud int) bool {
	switch baud {
	case 4800, 9600, 19200, 38400, 57600, 115200, 230400:
		return true
	}
	return false
}

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("gps serial not supported on this platform")
}
