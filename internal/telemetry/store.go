package telemetry

import (
	"sync"
	"time"

	"groundstation/internal/geo"
	"groundstation/internal/packet"
)

// GeoPosition is a latitude/longitude/altitude triple. The zero value is the
// "no data yet" sentinel.
type GeoPosition struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	Alt float64 `json:"alt"`
}

// Known reports whether p holds a real fix. A fix at exactly (0,0) is
// indistinguishable from the sentinel and is treated as unknown.
func (p GeoPosition) Known() bool {
	return p.Lat != 0 || p.Lng != 0
}

func (p GeoPosition) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

type Environment struct {
	Acceleration packet.Vector3 `json:"acc"`
	Magnetic     packet.Vector3 `json:"mag"`
	AngularRate  packet.Vector3 `json:"gyro"`
	Pressure     float64        `json:"pressure"`
	Temperature  float64        `json:"temp"`
}

// Link describes radio link quality as seen by the ground station.
type Link struct {
	RSSI            int       `json:"rssi"`
	SNR             float64   `json:"snr"`
	PacketsReceived uint64    `json:"packets_received"`
	DecodeErrors    uint64    `json:"decode_errors"`
	LastPacketUTC   time.Time `json:"last_packet_utc,omitempty"`
}

// Snapshot is the full fused telemetry state. Values returned by
// Store.Snapshot are copies and safe to keep.
type Snapshot struct {
	VehiclePosition    GeoPosition `json:"gps"`
	VehicleEnvironment Environment `json:"imu"`
	GroundPosition     GeoPosition `json:"ground"`
	DistanceMeters     float64     `json:"distance_m"`
	LastUpdate         time.Time   `json:"last_update_utc,omitempty"`
	Link               Link        `json:"link"`
}

// GroundFix is a local GPS fix. Alt is nil when the receiver has no altitude.
type GroundFix struct {
	Lat float64
	Lng float64
	Alt *float64
}

// Store holds the latest Snapshot. A single mutex covers the whole value so
// a reader never sees a partially applied merge. No method performs I/O
// while holding the lock.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// MergePosition overwrites the supplied vehicle position fields.
func (s *Store) MergePosition(nowUTC time.Time, p packet.Position) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.snap.VehiclePosition
	if p.Lat != nil {
		pos.Lat = *p.Lat
	}
	if p.Lng != nil {
		pos.Lng = *p.Lng
	}
	if p.Alt != nil {
		pos.Alt = *p.Alt
	}
	s.snap.VehiclePosition = pos
	s.snap.LastUpdate = nowUTC
	return s.snap
}

// MergeEnvironment overwrites the supplied environmental fields; fields not
// present in e keep their previous values.
func (s *Store) MergeEnvironment(nowUTC time.Time, e packet.Environmental) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := s.snap.VehicleEnvironment
	if e.Acceleration != nil {
		env.Acceleration = *e.Acceleration
	}
	if e.Magnetic != nil {
		env.Magnetic = *e.Magnetic
	}
	if e.AngularRate != nil {
		env.AngularRate = *e.AngularRate
	}
	if e.Pressure != nil {
		env.Pressure = *e.Pressure
	}
	if e.Temperature != nil {
		env.Temperature = *e.Temperature
	}
	s.snap.VehicleEnvironment = env
	s.snap.LastUpdate = nowUTC
	return s.snap
}

func (s *Store) MergeGroundPosition(nowUTC time.Time, f GroundFix) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.snap.GroundPosition
	g.Lat = f.Lat
	g.Lng = f.Lng
	if f.Alt != nil {
		g.Alt = *f.Alt
	}
	s.snap.GroundPosition = g
	s.snap.LastUpdate = nowUTC
	return s.snap
}

func (s *Store) SetDistance(meters float64) {
	s.mu.Lock()
	s.snap.DistanceMeters = meters
	s.mu.Unlock()
}

// RecordLink counts one received frame and its signal quality.
func (s *Store) RecordLink(nowUTC time.Time, rssi int, snr float64) {
	s.mu.Lock()
	s.snap.Link.RSSI = rssi
	s.snap.Link.SNR = snr
	s.snap.Link.PacketsReceived++
	s.snap.Link.LastPacketUTC = nowUTC
	s.mu.Unlock()
}

func (s *Store) RecordDecodeError() {
	s.mu.Lock()
	s.snap.Link.DecodeErrors++
	s.mu.Unlock()
}

// UpdateDistance recomputes DistanceMeters from the stored positions when
// both are known and reports whether it did. The positions are read under
// the same lock as the write, so the stored distance always matches the
// positions stored next to it.
func (s *Store) UpdateDistance() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, g := s.snap.VehiclePosition, s.snap.GroundPosition
	if !v.Known() || !g.Known() {
		return 0, false
	}
	d := geo.DistanceMeters(g.Point(), v.Point())
	s.snap.DistanceMeters = d
	return d, true
}
