// Package radio owns the LoRa transceiver: the SX127x (RFM9x) driver, a
// simulated transceiver for bench runs, and the Manager that hot-swaps the
// active session when the operator changes frequency or power.
package radio

import (
	"fmt"
	"time"
)

// Config selects the RF parameters of a session.
type Config struct {
	FrequencyMHz float64
	TxPowerDBm   int
}

func (c Config) String() string {
	return fmt.Sprintf("freq=%.3fMHz tx_power=%ddBm", c.FrequencyMHz, c.TxPowerDBm)
}

// Frame is one received radio packet. A nil Payload means the receive
// timed out without a packet.
type Frame struct {
	Payload []byte
	RSSI    int
	SNR     float64
}

// Transceiver is a live binding to radio hardware.
//
// Receive must return within timeout (plus a small bus overhead). Close
// releases the hardware and must tolerate being called on an already
// closed transceiver.
type Transceiver interface {
	Receive(timeout time.Duration) (Frame, error)
	Send(payload []byte) error
	SetTxPower(dBm int) error
	Close() error
}

// OpenFunc constructs a new transceiver bound to cfg.
type OpenFunc func(cfg Config) (Transceiver, error)
