package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdTPV struct {
	Class  string   `json:"class"`
	Mode   *int     `json:"mode"`
	Time   string   `json:"time"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltMSL *float64 `json:"altMSL"`
	Eph    *float64 `json:"eph"`
}

type gpsdSKY struct {
	Class      string   `json:"class"`
	HDOP       *float64 `json:"hdop"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

type gpsdState struct {
	addr string

	lat, lng float64
	posOK    bool
	altM     float64
	altOK    bool
	mode     int
	hAccM    float64
	hAccOK   bool
	satsUsed int
	satsOK   bool
	hdop     float64
	hdopOK   bool
	lastFix  time.Time
}

func newGPSDState(addr string) *gpsdState {
	return &gpsdState{addr: addr}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.posOK,
		Source:   SourceGPSD,
		GPSDAddr: strings.TrimSpace(s.addr),
		LatDeg:   s.lat,
		LngDeg:   s.lng,
		LastFix:  s.lastFix,
	}
	if s.altOK {
		v := s.altM
		out.AltM = &v
	}
	if s.mode > 0 {
		v := s.mode
		out.FixMode = &v
	}
	if s.hAccOK {
		v := s.hAccM
		out.HorizAccM = &v
	}
	if s.satsOK {
		v := s.satsUsed
		out.Satellites = &v
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	return out
}

func (s *gpsdState) applyLine(nowUTC time.Time, line string) (bool, error) {
	var base struct {
		Class string `json:"class"`
	}
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return false, fmt.Errorf("gpsd json parse failed: %v", err)
	}
	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		return s.applyTPV(nowUTC, tpv), nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		return s.applySKY(sky), nil
	default:
		// VERSION, DEVICES, WATCH and friends.
		return false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) bool {
	if tpv.Mode != nil {
		s.mode = *tpv.Mode
	}
	if tpv.Eph != nil {
		s.hAccM, s.hAccOK = *tpv.Eph, true
	}
	alt := tpv.AltMSL
	if alt == nil {
		alt = tpv.Alt
	}
	if alt != nil {
		s.altM, s.altOK = *alt, true
	}

	// Mode 2 = 2D fix, 3 = 3D fix.
	if s.mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return tpv.Mode != nil || alt != nil
	}
	s.lat, s.lng, s.posOK = *tpv.Lat, *tpv.Lon, true
	s.lastFix = nowUTC
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(tpv.Time)); err == nil {
		s.lastFix = t.UTC()
	}
	return true
}

func (s *gpsdState) applySKY(sky gpsdSKY) bool {
	updated := false
	if sky.HDOP != nil {
		s.hdop, s.hdopOK = *sky.HDOP, true
		updated = true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.satsUsed, s.satsOK = used, true
		updated = true
	}
	return updated
}
