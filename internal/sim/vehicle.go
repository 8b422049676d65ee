package sim

import (
	"math"
	"time"
)

const (
	seaLevelHPa  = 1013.25
	gravityMS2   = 9.80665
	metersPerDeg = 111195.0
)

// Vehicle is a deterministic flight model used to feed the simulated
// transceiver: a figure-eight ground track around a center point with a
// climb/descent profile.
type Vehicle struct {
	CenterLat float64
	CenterLng float64
	RadiusM   float64
	Period    time.Duration
	BaseAltM  float64
	ClimbM    float64
}

func (v Vehicle) withDefaults() Vehicle {
	if v.Period <= 0 {
		v.Period = 120 * time.Second
	}
	if v.RadiusM <= 0 {
		v.RadiusM = 500
	}
	if v.ClimbM <= 0 {
		v.ClimbM = 300
	}
	return v
}

func (v Vehicle) phase(now time.Time) float64 {
	p := v.Period.Nanoseconds()
	return float64(now.UnixNano()%p) / float64(p)
}

// Position returns latitude, longitude and altitude (meters) at now.
func (v Vehicle) Position(now time.Time) (lat, lng, altM float64) {
	v = v.withDefaults()
	w := 2 * math.Pi * v.phase(now)

	// x east-west, y north-south; y kept within half the radius.
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	radiusDeg := v.RadiusM / metersPerDeg
	lat = v.CenterLat + radiusDeg*y
	lng = v.CenterLng + (radiusDeg*x)/math.Cos(v.CenterLat*math.Pi/180.0)

	// One climb and descent per period.
	s := math.Sin(w / 2)
	altM = v.BaseAltM + v.ClimbM*s*s
	return lat, lng, altM
}

// Reading is one simulated inertial/environmental sample.
type Reading struct {
	Acc      [3]float64
	Mag      [3]float64
	Gyro     [3]float64
	Pressure float64
	TempC    float64
}

// Environment derives IMU and barometer values consistent with Position.
func (v Vehicle) Environment(now time.Time) Reading {
	v = v.withDefaults()
	w := 2 * math.Pi * v.phase(now)
	_, _, alt := v.Position(now)

	// d²/dt² of ClimbM*sin²(w/2) = ClimbM*(ω²/2)*cos(w), ω = 2π/T.
	omega := 2 * math.Pi / v.Period.Seconds()
	vertAcc := v.ClimbM * omega * omega / 2 * math.Cos(w)

	// Heading follows the ground-track velocity.
	vx := -math.Sin(w)
	vy := math.Cos(2 * w)
	heading := math.Atan2(vx, vy)

	return Reading{
		Acc:      [3]float64{0, 0, gravityMS2 + vertAcc},
		Mag:      [3]float64{50 * math.Cos(heading), -50 * math.Sin(heading), -20},
		Gyro:     [3]float64{0, 0, omega * math.Cos(2*w) * 180 / math.Pi},
		Pressure: PressureAtAltitude(alt),
		TempC:    15 - 0.0065*alt,
	}
}

// PressureAtAltitude returns the ISA pressure in hPa at altM meters.
func PressureAtAltitude(altM float64) float64 {
	return seaLevelHPa * math.Pow(1-2.25577e-5*altM, 5.25588)
}
