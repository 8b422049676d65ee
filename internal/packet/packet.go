// Package packet decodes the ASCII KEY=VALUE payloads sent by the vehicle.
//
// A payload is classified by its content, not by a header: any of LAT, LNG
// or ALT makes it a position report; otherwise any of ACC, MAG, GYRO, PRES
// or TEMP makes it an environmental report. When both sets of keys are
// present the payload is a position report and the environmental keys are
// ignored.
package packet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

type Kind int

const (
	KindPosition Kind = iota + 1
	KindEnvironmental
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindEnvironmental:
		return "environmental"
	default:
		return "unknown"
	}
}

// Vector3 is an x;y;z triplet (acceleration, magnetic field, angular rate).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Position holds the fields present in a position report. Nil means the key
// was not in the payload.
type Position struct {
	Lat *float64
	Lng *float64
	Alt *float64
}

type Environmental struct {
	Acceleration *Vector3
	Magnetic     *Vector3
	AngularRate  *Vector3
	Pressure     *float64
	Temperature  *float64
}

// Packet is exactly one of Position or Environmental, selected by Kind.
type Packet struct {
	Kind          Kind
	Position      *Position
	Environmental *Environmental
}

// ErrDecode matches every error returned by Decode.
var ErrDecode = errors.New("packet: decode failed")

type DecodeError struct {
	Reason string
	Key    string
}

func (e *DecodeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("packet: %s (key %s)", e.Reason, e.Key)
	}
	return "packet: " + e.Reason
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

const (
	keyLat  = "LAT"
	keyLng  = "LNG"
	keyAlt  = "ALT"
	keyAcc  = "ACC"
	keyMag  = "MAG"
	keyGyro = "GYRO"
	keyPres = "PRES"
	keyTemp = "TEMP"
)

type field struct {
	key   string
	value string
}

// Decode parses one radio payload. Parsing is all-or-nothing: a recognized
// key whose value does not parse rejects the whole payload.
func Decode(raw []byte) (Packet, error) {
	if !utf8.Valid(raw) {
		return Packet{}, &DecodeError{Reason: "payload is not valid text"}
	}
	text := strings.TrimRight(string(raw), "\x00\r\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return Packet{}, &DecodeError{Reason: "empty payload"}
	}

	fields, err := splitFields(text)
	if err != nil {
		return Packet{}, err
	}

	pos, err := decodePosition(fields)
	if err != nil {
		return Packet{}, err
	}
	if pos != nil {
		return Packet{Kind: KindPosition, Position: pos}, nil
	}

	env, err := decodeEnvironmental(fields)
	if err != nil {
		return Packet{}, err
	}
	if env != nil {
		return Packet{Kind: KindEnvironmental, Environmental: env}, nil
	}
	return Packet{}, &DecodeError{Reason: "no recognized fields"}
}

func splitFields(text string) ([]field, error) {
	parts := strings.Split(text, ",")
	out := make([]field, 0, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("malformed field %q", part)}
		}
		out = append(out, field{
			key:   strings.ToUpper(strings.TrimSpace(k)),
			value: strings.TrimSpace(v),
		})
	}
	return out, nil
}

func decodePosition(fields []field) (*Position, error) {
	var p Position
	found := false
	for _, f := range fields {
		var dst **float64
		switch f.key {
		case keyLat:
			dst = &p.Lat
		case keyLng:
			dst = &p.Lng
		case keyAlt:
			dst = &p.Alt
		default:
			continue
		}
		v, err := parseNumber(f)
		if err != nil {
			return nil, err
		}
		*dst = &v
		found = true
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

func decodeEnvironmental(fields []field) (*Environmental, error) {
	var e Environmental
	found := false
	for _, f := range fields {
		switch f.key {
		case keyAcc, keyMag, keyGyro:
			v, err := parseTriplet(f)
			if err != nil {
				return nil, err
			}
			switch f.key {
			case keyAcc:
				e.Acceleration = &v
			case keyMag:
				e.Magnetic = &v
			default:
				e.AngularRate = &v
			}
		case keyPres, keyTemp:
			v, err := parseNumber(f)
			if err != nil {
				return nil, err
			}
			if f.key == keyPres {
				e.Pressure = &v
			} else {
				e.Temperature = &v
			}
		default:
			continue
		}
		found = true
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

func parseNumber(f field) (float64, error) {
	v, err := parseFinite(f.value)
	if err != nil {
		return 0, &DecodeError{Reason: fmt.Sprintf("invalid number %q", f.value), Key: f.key}
	}
	return v, nil
}

// parseFinite rejects NaN and infinities, which the snapshot JSON cannot carry.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

func parseTriplet(f field) (Vector3, error) {
	parts := strings.Split(f.value, ";")
	if len(parts) != 3 {
		return Vector3{}, &DecodeError{Reason: fmt.Sprintf("want x;y;z, got %q", f.value), Key: f.key}
	}
	var xyz [3]float64
	for i, s := range parts {
		v, err := parseFinite(strings.TrimSpace(s))
		if err != nil {
			return Vector3{}, &DecodeError{Reason: fmt.Sprintf("invalid number %q", s), Key: f.key}
		}
		xyz[i] = v
	}
	return Vector3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
