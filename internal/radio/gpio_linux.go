//go:build linux

package radio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// openResetLine requests the given BCM GPIO as an output held high (RST is
// active low) using the GPIO character device.
func openResetLine(pin int) (resetLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("radio: invalid reset pin %d", pin)
	}

	// On Pi, line names are commonly "GPIO25", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("groundstation-rfm9x"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodReset{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("radio: gpio line %q not found (or busy)", lineName)
}

type gpiodReset struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodReset) Reset() error {
	if g == nil || g.line == nil {
		return fmt.Errorf("radio: reset line not initialized")
	}
	if err := g.line.SetValue(0); err != nil {
		return err
	}
	sleep(100 * time.Microsecond)
	if err := g.line.SetValue(1); err != nil {
		return err
	}
	sleep(5 * time.Millisecond)
	return nil
}

func (g *gpiodReset) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
