package packet

import (
	"strconv"
	"strings"
)

// Encode renders p in the wire format accepted by Decode. Absent fields are
// omitted; a packet with no fields encodes to an empty slice.
func Encode(p Packet) []byte {
	var parts []string
	switch p.Kind {
	case KindPosition:
		if p.Position == nil {
			return nil
		}
		parts = appendNumber(parts, keyLat, p.Position.Lat)
		parts = appendNumber(parts, keyLng, p.Position.Lng)
		parts = appendNumber(parts, keyAlt, p.Position.Alt)
	case KindEnvironmental:
		e := p.Environmental
		if e == nil {
			return nil
		}
		parts = appendTriplet(parts, keyAcc, e.Acceleration)
		parts = appendTriplet(parts, keyMag, e.Magnetic)
		parts = appendTriplet(parts, keyGyro, e.AngularRate)
		parts = appendNumber(parts, keyPres, e.Pressure)
		parts = appendNumber(parts, keyTemp, e.Temperature)
	}
	return []byte(strings.Join(parts, ","))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func appendNumber(parts []string, key string, v *float64) []string {
	if v == nil {
		return parts
	}
	return append(parts, key+"="+formatFloat(*v))
}

func appendTriplet(parts []string, key string, v *Vector3) []string {
	if v == nil {
		return parts
	}
	return append(parts, key+"="+formatFloat(v.X)+";"+formatFloat(v.Y)+";"+formatFloat(v.Z))
}
