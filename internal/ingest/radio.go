// Package ingest runs the two producer loops that feed the telemetry store:
// radio packets from the vehicle and fixes from the local GPS receiver.
package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"groundstation/internal/metrics"
	"groundstation/internal/packet"
	"groundstation/internal/radio"
	"groundstation/internal/telemetry"
)

const (
	DefaultReceiveTimeout   = time.Second
	DefaultNoSessionBackoff = 500 * time.Millisecond
	DefaultReadErrorBackoff = 2 * time.Second
)

var now = func() time.Time { return time.Now().UTC() }

// Receiver is the part of radio.Manager the radio loop needs.
type Receiver interface {
	Receive(timeout time.Duration) (radio.Frame, error)
}

// RadioLoop pulls frames from the radio manager, decodes them and merges
// them into the store. It keeps running through missing sessions and read
// failures until its context ends.
type RadioLoop struct {
	Radio Receiver
	Store *telemetry.Store

	ReceiveTimeout   time.Duration
	NoSessionBackoff time.Duration
	ReadErrorBackoff time.Duration
}

func (l *RadioLoop) Run(ctx context.Context) error {
	if l == nil || l.Radio == nil || l.Store == nil {
		return errors.New("ingest: radio loop needs a radio and a store")
	}
	log.Printf("ingest radio loop started timeout=%s", orDefault(l.ReceiveTimeout, DefaultReceiveTimeout))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d := l.Step(); d > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}
}

// Step performs one receive and returns how long to back off before the
// next one.
func (l *RadioLoop) Step() time.Duration {
	frame, err := l.Radio.Receive(orDefault(l.ReceiveTimeout, DefaultReceiveTimeout))
	switch {
	case errors.Is(err, radio.ErrNoSession):
		return orDefault(l.NoSessionBackoff, DefaultNoSessionBackoff)
	case err != nil:
		metrics.RadioReadErrors.Inc()
		log.Printf("ingest radio read failed: %v", err)
		return orDefault(l.ReadErrorBackoff, DefaultReadErrorBackoff)
	case frame.Payload == nil:
		return 0
	}
	l.handleFrame(frame)
	return 0
}

func (l *RadioLoop) handleFrame(frame radio.Frame) {
	ts := now()
	l.Store.RecordLink(ts, frame.RSSI, frame.SNR)
	metrics.LinkRSSI.Set(float64(frame.RSSI))
	metrics.LinkSNR.Set(frame.SNR)

	p, err := packet.Decode(frame.Payload)
	if err != nil {
		l.Store.RecordDecodeError()
		metrics.DecodeErrors.Inc()
		log.Printf("ingest decode failed rssi=%d payload=%q: %v", frame.RSSI, clip(frame.Payload, 64), err)
		return
	}
	metrics.PacketsReceived.WithLabelValues(p.Kind.String()).Inc()

	switch p.Kind {
	case packet.KindPosition:
		l.Store.MergePosition(ts, *p.Position)
		if d, ok := l.Store.UpdateDistance(); ok {
			metrics.DistanceMeters.Set(d)
		}
	case packet.KindEnvironmental:
		l.Store.MergeEnvironment(ts, *p.Environmental)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func clip(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
