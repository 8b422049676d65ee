package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	rmcPayload = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	ggaPayload = "GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

func TestParseNMEASentence(t *testing.T) {
	good := nmeaLine(rmcPayload)
	cases := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{name: "ok", line: good},
		{name: "checksum mismatch", line: good[:len(good)-2] + "00", wantErr: true},
		{name: "no dollar", line: good[1:], wantErr: true},
		{name: "no checksum", line: "$GPRMC,1,2,3", wantErr: true},
		{name: "short checksum", line: "$GPRMC*1", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := parseNMEASentence(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if s.Type != "RMC" {
				t.Fatalf("type=%q want RMC", s.Type)
			}
		})
	}
}

func TestNMEAState_RMCUpdatesPosition(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine(rmcPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !st.apply(now, s) {
		t.Fatalf("expected updated")
	}
	snap := st.snapshot()
	if !snap.Valid {
		t.Fatalf("expected valid")
	}
	if math.Abs(snap.LatDeg-48.1173) > 1e-4 || math.Abs(snap.LngDeg-11.516667) > 1e-4 {
		t.Fatalf("lat=%v lng=%v", snap.LatDeg, snap.LngDeg)
	}
	if !snap.LastFix.Equal(now) {
		t.Fatalf("last_fix=%v want %v", snap.LastFix, now)
	}
}

func TestNMEAState_RMCVoidIgnored(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine("GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.apply(time.Now().UTC(), s) {
		t.Fatalf("void fix must not update")
	}
	if st.snapshot().Valid {
		t.Fatalf("expected invalid")
	}
}

func TestNMEAState_GGAParsesAltitudeQualitySatsHDOP(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine(ggaPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !st.apply(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), s) {
		t.Fatalf("expected updated")
	}
	snap := st.snapshot()
	if snap.AltM == nil || math.Abs(*snap.AltM-545.4) > 1e-9 {
		t.Fatalf("alt_m=%v want 545.4", snap.AltM)
	}
	if snap.FixQuality == nil || *snap.FixQuality != 1 {
		t.Fatalf("fix_quality=%v", snap.FixQuality)
	}
	if snap.Satellites == nil || *snap.Satellites != 8 {
		t.Fatalf("satellites=%v", snap.Satellites)
	}
	if snap.HDOP == nil || math.Abs(*snap.HDOP-0.9) > 1e-6 {
		t.Fatalf("hdop=%v", snap.HDOP)
	}
}

func TestNMEAState_GGANoFixIgnored(t *testing.T) {
	var st nmeaState
	s, err := parseNMEASentence(nmeaLine("GNGGA,123519,,,,,0,00,99.9,,M,,M,,"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if st.apply(time.Now().UTC(), s) {
		t.Fatalf("quality 0 must not update")
	}
}

func TestParseNMEALatLon(t *testing.T) {
	cases := []struct {
		v, hemi string
		want    float64
		ok      bool
	}{
		{v: "4807.038", hemi: "N", want: 48.1173, ok: true},
		{v: "01131.000", hemi: "W", want: -11.516667, ok: true},
		{v: "3345.000", hemi: "s", want: -33.75, ok: true},
		{v: "4807.038", hemi: "X"},
		{v: "", hemi: "N"},
		{v: "12", hemi: "N"},
		{v: "4875.000", hemi: "N"},
	}
	for _, tc := range cases {
		got, ok := parseNMEALatLon(tc.v, tc.hemi)
		if ok != tc.ok {
			t.Fatalf("%s %s ok=%v want %v", tc.v, tc.hemi, ok, tc.ok)
		}
		if ok && math.Abs(got-tc.want) > 1e-5 {
			t.Fatalf("%s %s=%v want %v", tc.v, tc.hemi, got, tc.want)
		}
	}
}
