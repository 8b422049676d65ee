package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"groundstation/internal/gps"
	"groundstation/internal/metrics"
	"groundstation/internal/telemetry"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultErrorBackoff = time.Second
)

// FixSource yields the ground station's current position.
type FixSource interface {
	Fix() (gps.Fix, error)
}

// GroundLoop polls the local GPS and merges fixes into the store. It never
// touches the radio.
type GroundLoop struct {
	GPS   FixSource
	Store *telemetry.Store

	PollInterval time.Duration
	ErrorBackoff time.Duration

	lastErr string
}

func (l *GroundLoop) Run(ctx context.Context) error {
	if l == nil || l.GPS == nil || l.Store == nil {
		return errors.New("ingest: ground loop needs a gps and a store")
	}
	log.Printf("ingest ground loop started poll=%s", orDefault(l.PollInterval, DefaultPollInterval))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.Step()):
		}
	}
}

// Step polls once and returns the delay before the next poll.
func (l *GroundLoop) Step() time.Duration {
	fix, err := l.GPS.Fix()
	switch {
	case errors.Is(err, gps.ErrNoFix):
		return orDefault(l.PollInterval, DefaultPollInterval)
	case err != nil:
		// Repeated identical failures are logged once.
		if msg := err.Error(); msg != l.lastErr {
			log.Printf("ingest gps read failed: %v", err)
			l.lastErr = msg
		}
		return orDefault(l.ErrorBackoff, DefaultErrorBackoff)
	}
	if l.lastErr != "" {
		log.Printf("ingest gps recovered")
		l.lastErr = ""
	}

	l.Store.MergeGroundPosition(now(), telemetry.GroundFix{Lat: fix.Lat, Lng: fix.Lng, Alt: fix.AltM})
	metrics.GroundFixes.Inc()
	if d, ok := l.Store.UpdateDistance(); ok {
		metrics.DistanceMeters.Set(d)
	}
	return orDefault(l.PollInterval, DefaultPollInterval)
}
