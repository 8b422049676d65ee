package radio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	sleep = time.Sleep
	now   = time.Now
)

// SX127x LoRa-mode register map (subset).
const (
	regFifo              = 0x00
	regOpMode            = 0x01
	regFrfMsb            = 0x06
	regFrfMid            = 0x07
	regFrfLsb            = 0x08
	regPaConfig          = 0x09
	regFifoAddrPtr       = 0x0D
	regFifoTxBaseAddr    = 0x0E
	regFifoRxBaseAddr    = 0x0F
	regFifoRxCurrentAddr = 0x10
	regIrqFlags          = 0x12
	regRxNbBytes         = 0x13
	regPktSnrValue       = 0x19
	regPktRssiValue      = 0x1A
	regModemConfig1      = 0x1D
	regModemConfig2      = 0x1E
	regPreambleMsb       = 0x20
	regPreambleLsb       = 0x21
	regPayloadLength     = 0x22
	regModemConfig3      = 0x26
	regDioMapping1       = 0x40
	regVersion           = 0x42
	regPaDac             = 0x4D

	chipVersion = 0x12

	modeLongRange = 0x80
	modeSleep     = 0x00
	modeStandby   = 0x01
	modeTx        = 0x03
	modeRxCont    = 0x05

	irqRxDone     = 0x40
	irqCRCError   = 0x20
	irqTxDone     = 0x08
	irqClearAll   = 0xFF
	paSelectBoost = 0x80
	paDacDefault  = 0x84
	paDacHigh     = 0x87

	// Fxosc / 2^19.
	fStepHz = 32000000.0 / 524288.0

	// RadioHead-compatible header: to, from, id, flags.
	headerLen        = 4
	broadcastAddress = 0xFF
	maxPayload       = 255 - headerLen

	pollInterval = 5 * time.Millisecond
	txTimeout    = 2 * time.Second
)

// TxPowerRange is the PA_BOOST output range the driver accepts, in dBm.
const (
	MinTxPowerDBm = 2
	MaxTxPowerDBm = 20
)

var ErrPayloadTooLarge = errors.New("radio: payload too large")

type regIO interface {
	ReadReg(reg byte) (byte, error)
	WriteReg(reg, value byte) error
	ReadBurst(reg byte, dst []byte) error
	WriteBurst(reg byte, src []byte) error
}

// RFM9x drives an SX1276/7/8 based module in LoRa mode with the modem
// settings used by the Adafruit/RadioHead libraries (125 kHz, 4/5, SF7).
type RFM9x struct {
	regs    regIO
	release func() error

	freqMHz   float64
	header    bool
	listening bool
	closed    bool
}

func newRFM9x(regs regIO, release func() error, cfg Config, radioHeadHeader bool) (*RFM9x, error) {
	if regs == nil {
		return nil, errors.New("rfm9x: register bus is nil")
	}
	r := &RFM9x{regs: regs, release: release, header: radioHeadHeader}
	if err := r.init(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RFM9x) init(cfg Config) error {
	v, err := r.regs.ReadReg(regVersion)
	if err != nil {
		return fmt.Errorf("rfm9x: version read failed: %w", err)
	}
	if v != chipVersion {
		return fmt.Errorf("rfm9x: version=0x%02X want 0x%02X (check wiring)", v, chipVersion)
	}

	// LoRa mode can only be selected while asleep.
	if err := r.regs.WriteReg(regOpMode, modeSleep); err != nil {
		return fmt.Errorf("rfm9x: sleep: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := r.regs.WriteReg(regOpMode, modeLongRange|modeSleep); err != nil {
		return fmt.Errorf("rfm9x: lora mode: %w", err)
	}
	mode, err := r.regs.ReadReg(regOpMode)
	if err != nil {
		return fmt.Errorf("rfm9x: op mode read failed: %w", err)
	}
	if mode&modeLongRange == 0 {
		return fmt.Errorf("rfm9x: failed to enter lora mode (op_mode=0x%02X)", mode)
	}

	writes := []struct {
		reg, val byte
	}{
		{regFifoTxBaseAddr, 0x00},
		{regFifoRxBaseAddr, 0x00},
		{regOpMode, modeLongRange | modeStandby},
		{regPreambleMsb, 0x00},
		{regPreambleLsb, 0x08},
		// BW 125 kHz, CR 4/5, explicit header.
		{regModemConfig1, 0x72},
		// SF7, CRC off.
		{regModemConfig2, 0x70},
		// LNA AGC on.
		{regModemConfig3, 0x04},
	}
	for _, w := range writes {
		if err := r.regs.WriteReg(w.reg, w.val); err != nil {
			return fmt.Errorf("rfm9x: write reg 0x%02X: %w", w.reg, err)
		}
	}
	if err := r.setFrequency(cfg.FrequencyMHz); err != nil {
		return err
	}
	return r.SetTxPower(cfg.TxPowerDBm)
}

func (r *RFM9x) setFrequency(mhz float64) error {
	if mhz <= 0 || math.IsNaN(mhz) {
		return fmt.Errorf("rfm9x: invalid frequency %v", mhz)
	}
	frf := uint32(math.Round(mhz * 1e6 / fStepHz))
	if err := r.regs.WriteReg(regFrfMsb, byte(frf>>16)); err != nil {
		return fmt.Errorf("rfm9x: frequency: %w", err)
	}
	if err := r.regs.WriteReg(regFrfMid, byte(frf>>8)); err != nil {
		return fmt.Errorf("rfm9x: frequency: %w", err)
	}
	if err := r.regs.WriteReg(regFrfLsb, byte(frf)); err != nil {
		return fmt.Errorf("rfm9x: frequency: %w", err)
	}
	r.freqMHz = mhz
	return nil
}

// SetTxPower programs the PA_BOOST output. Values outside [2,20] dBm are
// clamped; above 17 dBm the high-power DAC is enabled.
func (r *RFM9x) SetTxPower(dBm int) error {
	if r.closed {
		return errors.New("rfm9x: closed")
	}
	if dBm < MinTxPowerDBm {
		dBm = MinTxPowerDBm
	}
	if dBm > MaxTxPowerDBm {
		dBm = MaxTxPowerDBm
	}
	dac := byte(paDacDefault)
	if dBm > 17 {
		dac = paDacHigh
		dBm -= 3
	}
	if err := r.regs.WriteReg(regPaDac, dac); err != nil {
		return fmt.Errorf("rfm9x: pa dac: %w", err)
	}
	if err := r.regs.WriteReg(regPaConfig, paSelectBoost|byte(dBm-2)); err != nil {
		return fmt.Errorf("rfm9x: pa config: %w", err)
	}
	return nil
}

func (r *RFM9x) setMode(mode byte) error {
	return r.regs.WriteReg(regOpMode, modeLongRange|mode)
}

func (r *RFM9x) startListening() error {
	if r.listening {
		return nil
	}
	// DIO0 = RxDone.
	if err := r.regs.WriteReg(regDioMapping1, 0x00); err != nil {
		return err
	}
	if err := r.setMode(modeRxCont); err != nil {
		return err
	}
	r.listening = true
	return nil
}

// Receive waits up to timeout for a packet. CRC failures and frames too
// short to carry the RadioHead header are dropped and reported as no packet.
func (r *RFM9x) Receive(timeout time.Duration) (Frame, error) {
	if r.closed {
		return Frame{}, errors.New("rfm9x: closed")
	}
	if err := r.startListening(); err != nil {
		r.listening = false
		return Frame{}, fmt.Errorf("rfm9x: listen: %w", err)
	}

	deadline := now().Add(timeout)
	var flags byte
	for {
		var err error
		flags, err = r.regs.ReadReg(regIrqFlags)
		if err != nil {
			return Frame{}, fmt.Errorf("rfm9x: irq flags: %w", err)
		}
		if flags&irqRxDone != 0 {
			break
		}
		if !now().Before(deadline) {
			return Frame{}, nil
		}
		sleep(pollInterval)
	}

	frame, err := r.readFrame(flags)
	if cerr := r.regs.WriteReg(regIrqFlags, irqClearAll); cerr != nil && err == nil {
		err = fmt.Errorf("rfm9x: clear irq: %w", cerr)
	}
	return frame, err
}

func (r *RFM9x) readFrame(flags byte) (Frame, error) {
	if flags&irqCRCError != 0 {
		return Frame{}, nil
	}
	n, err := r.regs.ReadReg(regRxNbBytes)
	if err != nil {
		return Frame{}, fmt.Errorf("rfm9x: rx length: %w", err)
	}
	cur, err := r.regs.ReadReg(regFifoRxCurrentAddr)
	if err != nil {
		return Frame{}, fmt.Errorf("rfm9x: rx addr: %w", err)
	}
	if err := r.regs.WriteReg(regFifoAddrPtr, cur); err != nil {
		return Frame{}, fmt.Errorf("rfm9x: fifo ptr: %w", err)
	}
	buf := make([]byte, int(n))
	if len(buf) > 0 {
		if err := r.regs.ReadBurst(regFifo, buf); err != nil {
			return Frame{}, fmt.Errorf("rfm9x: fifo read: %w", err)
		}
	}

	snrRaw, err := r.regs.ReadReg(regPktSnrValue)
	if err != nil {
		return Frame{}, fmt.Errorf("rfm9x: snr: %w", err)
	}
	rssiRaw, err := r.regs.ReadReg(regPktRssiValue)
	if err != nil {
		return Frame{}, fmt.Errorf("rfm9x: rssi: %w", err)
	}

	payload := buf
	if r.header {
		if len(buf) <= headerLen {
			return Frame{}, nil
		}
		payload = buf[headerLen:]
	}
	return Frame{
		Payload: payload,
		RSSI:    rssiFromRegister(rssiRaw, r.freqMHz),
		SNR:     float64(int8(snrRaw)) / 4.0,
	}, nil
}

// rssiFromRegister applies the SX1276 packet RSSI offset for the band's
// RF port (LF below 779 MHz).
func rssiFromRegister(raw byte, freqMHz float64) int {
	if freqMHz < 779 {
		return int(raw) - 164
	}
	return int(raw) - 157
}

func (r *RFM9x) Send(payload []byte) error {
	if r.closed {
		return errors.New("rfm9x: closed")
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	r.listening = false
	if err := r.setMode(modeStandby); err != nil {
		return fmt.Errorf("rfm9x: standby: %w", err)
	}

	frame := payload
	if r.header {
		frame = append([]byte{broadcastAddress, broadcastAddress, 0x00, 0x00}, payload...)
	}
	steps := []func() error{
		func() error { return r.regs.WriteReg(regFifoTxBaseAddr, 0x00) },
		func() error { return r.regs.WriteReg(regFifoAddrPtr, 0x00) },
		func() error { return r.regs.WriteBurst(regFifo, frame) },
		func() error { return r.regs.WriteReg(regPayloadLength, byte(len(frame))) },
		// DIO0 = TxDone.
		func() error { return r.regs.WriteReg(regDioMapping1, 0x40) },
		func() error { return r.setMode(modeTx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("rfm9x: send: %w", err)
		}
	}

	deadline := now().Add(txTimeout)
	for {
		flags, err := r.regs.ReadReg(regIrqFlags)
		if err != nil {
			return fmt.Errorf("rfm9x: irq flags: %w", err)
		}
		if flags&irqTxDone != 0 {
			break
		}
		if !now().Before(deadline) {
			_ = r.setMode(modeStandby)
			return errors.New("rfm9x: send timed out")
		}
		sleep(pollInterval)
	}
	if err := r.setMode(modeStandby); err != nil {
		return fmt.Errorf("rfm9x: standby: %w", err)
	}
	return r.regs.WriteReg(regIrqFlags, irqClearAll)
}

// Close puts the chip to sleep and releases the bus. Calling Close more
// than once is a no-op.
func (r *RFM9x) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	r.listening = false
	errSleep := r.setMode(modeSleep)
	var errRelease error
	if r.release != nil {
		errRelease = r.release()
	}
	if errSleep != nil {
		return fmt.Errorf("rfm9x: sleep on close: %w", errSleep)
	}
	return errRelease
}
