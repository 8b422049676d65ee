//go:build !linux

package radio

import "fmt"

func openResetLine(pin int) (resetLine, error) {
	return nil, fmt.Errorf("radio: gpio unsupported on this platform")
}
