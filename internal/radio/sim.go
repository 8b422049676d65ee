package radio

import (
	"errors"
	"sync"
	"time"

	"groundstation/internal/packet"
	"groundstation/internal/sim"
)

// SimConfig drives the simulated transceiver.
type SimConfig struct {
	Vehicle sim.Vehicle
	// Interval between simulated packets. Position and environmental
	// packets alternate.
	Interval time.Duration
	// CorruptEvery, when > 0, replaces every Nth packet with garbage so the
	// decode-error path is exercised.
	CorruptEvery int
}

// OpenSim returns an OpenFunc producing simulated sessions. Frequencies
// outside the 400-500 MHz band fail to open, mirroring hardware that cannot
// tune there.
func OpenSim(cfg SimConfig) OpenFunc {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return func(rc Config) (Transceiver, error) {
		if rc.FrequencyMHz < 400 || rc.FrequencyMHz > 500 {
			return nil, errors.New("sim: frequency out of band")
		}
		return &Sim{cfg: cfg, txPower: rc.TxPowerDBm, next: now().Add(cfg.Interval)}, nil
	}
}

// Sim is a Transceiver that synthesizes vehicle traffic from a flight model.
type Sim struct {
	cfg SimConfig

	mu      sync.Mutex
	txPower int
	next    time.Time
	seq     int
	sent    [][]byte
	closed  bool
}

func (s *Sim) Receive(timeout time.Duration) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, errors.New("sim: closed")
	}
	wait := s.next.Sub(now())
	s.mu.Unlock()

	if wait > timeout {
		sleep(timeout)
		return Frame{}, nil
	}
	if wait > 0 {
		sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := now()
	s.next = t.Add(s.cfg.Interval)
	s.seq++
	return Frame{
		Payload: s.payloadLocked(t),
		RSSI:    -110 + 2*s.txPower,
		SNR:     7.5,
	}, nil
}

func (s *Sim) payloadLocked(t time.Time) []byte {
	if s.cfg.CorruptEvery > 0 && s.seq%s.cfg.CorruptEvery == 0 {
		return []byte("LAT=#,LNG=?")
	}
	if s.seq%2 == 1 {
		lat, lng, alt := s.cfg.Vehicle.Position(t)
		return packet.Encode(packet.Packet{
			Kind:     packet.KindPosition,
			Position: &packet.Position{Lat: &lat, Lng: &lng, Alt: &alt},
		})
	}
	r := s.cfg.Vehicle.Environment(t)
	acc := packet.Vector3{X: r.Acc[0], Y: r.Acc[1], Z: r.Acc[2]}
	mag := packet.Vector3{X: r.Mag[0], Y: r.Mag[1], Z: r.Mag[2]}
	gyro := packet.Vector3{X: r.Gyro[0], Y: r.Gyro[1], Z: r.Gyro[2]}
	return packet.Encode(packet.Packet{
		Kind: packet.KindEnvironmental,
		Environmental: &packet.Environmental{
			Acceleration: &acc,
			Magnetic:     &mag,
			AngularRate:  &gyro,
			Pressure:     &r.Pressure,
			Temperature:  &r.TempC,
		},
	})
}

func (s *Sim) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sim: closed")
	}
	if len(payload) > maxPayload {
		return ErrPayloadTooLarge
	}
	s.sent = append(s.sent, append([]byte(nil), payload...))
	return nil
}

func (s *Sim) SetTxPower(dBm int) error {
	s.mu.Lock()
	s.txPower = dBm
	s.mu.Unlock()
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
