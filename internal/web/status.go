package web

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"groundstation/internal/gps"
	"groundstation/internal/radio"
	"groundstation/internal/telemetry"
)

// StatusSources are polled on every /api/status request. Nil entries are
// reported as absent.
type StatusSources struct {
	Radio func() radio.Status
	GPS   func() gps.Snapshot
	Store *telemetry.Store
}

type Status struct {
	startUnixNano int64
	src           StatusSources
}

func NewStatus(src StatusSources) *Status {
	s := &Status{src: src}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	return s
}

type StatusSnapshot struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`

	Radio          radio.Status `json:"radio"`
	RadioFrequency string       `json:"radio_frequency,omitempty"`

	GPS *gps.Snapshot `json:"gps,omitempty"`

	Link        telemetry.Link `json:"link"`
	PacketsText string         `json:"packets_text"`
	LastPacket  string         `json:"last_packet,omitempty"`
	DistanceM   float64        `json:"distance_m"`
	Distance    string         `json:"distance,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	uptime := nowUTC.Sub(start)

	snap := StatusSnapshot{
		Service:   ServiceName,
		NowUTC:    nowUTC.Format(time.RFC3339Nano),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    strings.TrimSpace(humanize.RelTime(start, nowUTC, "", "")),
	}

	if s.src.Radio != nil {
		snap.Radio = s.src.Radio()
		if snap.Radio.FrequencyMHz > 0 {
			snap.RadioFrequency = humanize.SIWithDigits(snap.Radio.FrequencyMHz*1e6, 3, "Hz")
		}
	} else {
		snap.Radio.StateName = radio.StateUninitialized.String()
	}

	if s.src.GPS != nil {
		g := s.src.GPS()
		snap.GPS = &g
	}

	var tel telemetry.Snapshot
	if s.src.Store != nil {
		tel = s.src.Store.Snapshot()
	}
	snap.Link = tel.Link
	snap.PacketsText = humanize.Comma(int64(tel.Link.PacketsReceived))
	if !tel.Link.LastPacketUTC.IsZero() {
		snap.LastPacket = humanize.RelTime(tel.Link.LastPacketUTC, nowUTC, "ago", "from now")
	}
	snap.DistanceM = tel.DistanceMeters
	if tel.DistanceMeters > 0 {
		snap.Distance = humanize.SIWithDigits(tel.DistanceMeters, 2, "m")
	}
	return snap
}
