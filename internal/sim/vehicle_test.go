package sim

import (
	"math"
	"testing"
	"time"
)

func TestVehicle_Position_Invariants(t *testing.T) {
	v := Vehicle{
		CenterLat: 45.0,
		CenterLng: -122.0,
		RadiusM:   1000,
		Period:    60 * time.Second,
		BaseAltM:  100,
		ClimbM:    400,
	}

	start := time.Date(2025, 12, 20, 19, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		now := start.Add(time.Duration(i) * 500 * time.Millisecond)
		lat, lng, alt := v.Position(now)
		for _, x := range []float64{lat, lng, alt} {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				t.Fatalf("invalid value at %s: lat=%v lng=%v alt=%v", now, lat, lng, alt)
			}
		}
		dLatM := math.Abs(lat-v.CenterLat) * metersPerDeg
		if dLatM > v.RadiusM*0.5+1 {
			t.Fatalf("lat offset %vm exceeds half radius", dLatM)
		}
		if alt < v.BaseAltM-1e-9 || alt > v.BaseAltM+v.ClimbM+1e-9 {
			t.Fatalf("alt=%v out of [%v,%v]", alt, v.BaseAltM, v.BaseAltM+v.ClimbM)
		}
	}
}

func TestVehicle_Deterministic(t *testing.T) {
	v := Vehicle{CenterLat: 10, CenterLng: 20}
	now := time.Date(2025, 1, 1, 0, 0, 7, 0, time.UTC)
	lat1, lng1, alt1 := v.Position(now)
	lat2, lng2, alt2 := v.Position(now)
	if lat1 != lat2 || lng1 != lng2 || alt1 != alt2 {
		t.Fatalf("position not deterministic")
	}
}

func TestVehicle_EnvironmentConsistentWithAltitude(t *testing.T) {
	v := Vehicle{CenterLat: 10, CenterLng: 20, BaseAltM: 0, ClimbM: 1000, Period: 100 * time.Second}
	now := time.Date(2025, 1, 1, 0, 0, 50, 0, time.UTC)
	_, _, alt := v.Position(now)
	r := v.Environment(now)
	if math.Abs(r.Pressure-PressureAtAltitude(alt)) > 1e-9 {
		t.Fatalf("pressure=%v want %v", r.Pressure, PressureAtAltitude(alt))
	}
	if r.Pressure >= seaLevelHPa {
		t.Fatalf("pressure=%v should be below sea level at alt=%v", r.Pressure, alt)
	}
	if r.Acc[2] <= 0 {
		t.Fatalf("vertical accel=%v", r.Acc[2])
	}
}

func TestPressureAtAltitude_SeaLevel(t *testing.T) {
	if p := PressureAtAltitude(0); math.Abs(p-seaLevelHPa) > 1e-9 {
		t.Fatalf("p=%v", p)
	}
	if p := PressureAtAltitude(1000); math.Abs(p-898.7) > 1 {
		t.Fatalf("p(1000m)=%v want ~898.7", p)
	}
}
