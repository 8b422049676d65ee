package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"groundstation/internal/config"
	"groundstation/internal/gps"
	"groundstation/internal/metrics"
	"groundstation/internal/radio"
)

// radioManager is the part of *radio.Manager the runtime drives.
type radioManager interface {
	Reinitialize(ctx context.Context, cfg radio.Config) error
	Status() radio.Status
}

type gpsService interface {
	Start(ctx context.Context) error
	Close()
	Fix() (gps.Fix, error)
	Snapshot() gps.Snapshot
}

var newGPSService = func(cfg gps.Config) gpsService { return gps.New(cfg) }

// liveRuntime applies operator settings to the running components. It
// also stands in for the GPS service so the ground loop keeps polling the
// same FixSource across baud-rate restarts.
type liveRuntime struct {
	ctx   context.Context
	radio radioManager

	// applyMu serializes Apply. mu guards cfg and gpsSvc and is never held
	// across a radio reinit or a GPS restart, so Fix stays responsive.
	applyMu sync.Mutex

	mu     sync.Mutex
	cfg    config.Config
	gpsSvc gpsService
}

func newLiveRuntime(ctx context.Context, cfg config.Config, mgr radioManager) *liveRuntime {
	return &liveRuntime{ctx: ctx, radio: mgr, cfg: cfg}
}

// StartGPS brings up the GPS service for the current config. A disabled
// GPS is not an error.
func (r *liveRuntime) StartGPS() error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	return r.restartGPS(r.Config().GPS)
}

// restartGPS replaces the GPS service. The caller holds applyMu.
func (r *liveRuntime) restartGPS(gc config.GPSConfig) error {
	r.mu.Lock()
	old := r.gpsSvc
	r.gpsSvc = nil
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if !gc.Enable {
		return nil
	}

	svc := newGPSService(gpsConfig(gc))
	err := svc.Start(r.ctx)
	// Kept even on failure so its snapshot reports the error.
	r.mu.Lock()
	r.gpsSvc = svc
	r.mu.Unlock()
	return err
}

func (r *liveRuntime) Fix() (gps.Fix, error) {
	r.mu.Lock()
	svc := r.gpsSvc
	r.mu.Unlock()
	if svc == nil {
		return gps.Fix{}, gps.ErrNotRunning
	}
	return svc.Fix()
}

func (r *liveRuntime) GPSSnapshot() gps.Snapshot {
	r.mu.Lock()
	svc := r.gpsSvc
	r.mu.Unlock()
	if svc == nil {
		return gps.Snapshot{}
	}
	return svc.Snapshot()
}

func (r *liveRuntime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Apply makes the live-tunable settings of next effective: radio
// frequency and power through a full radio reinitialization, GPS baud
// through a GPS service restart. Other changes are logged and wait for a
// process restart. A radio failure is returned as an error matching
// radio.ErrInit and leaves the radio unavailable.
func (r *liveRuntime) Apply(next config.Config) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	c := next
	if err := config.DefaultAndValidate(&c); err != nil {
		return err
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	prev := r.Config()

	for _, key := range restartOnlyChanges(prev, c) {
		log.Printf("settings %s changed; restart to apply", key)
	}

	var errs []error

	if c.GPS.Baud != prev.GPS.Baud {
		gc := prev.GPS
		gc.Baud = c.GPS.Baud
		r.mu.Lock()
		r.cfg.GPS = gc
		r.mu.Unlock()
		if err := r.restartGPS(gc); err != nil {
			errs = append(errs, fmt.Errorf("gps restart failed: %w", err))
		} else if gc.Enable {
			log.Printf("gps restarted baud=%d", gc.Baud)
		}
	}

	rc := radioConfig(c.Radio)
	if rc != radioConfig(prev.Radio) || r.radio.Status().State != radio.StateActive {
		r.mu.Lock()
		r.cfg.Radio.FrequencyMHz = rc.FrequencyMHz
		r.cfg.Radio.TxPowerDBm = rc.TxPowerDBm
		r.mu.Unlock()
		if err := r.radio.Reinitialize(r.ctx, rc); err != nil {
			metrics.RadioReinits.WithLabelValues("failed").Inc()
			errs = append(errs, err)
		} else {
			metrics.RadioReinits.WithLabelValues("ok").Inc()
			log.Printf("radio reconfigured %s", rc)
		}
	}

	return errors.Join(errs...)
}

// restartOnlyChanges names the settings that differ between a and b but
// cannot be changed on a running process.
func restartOnlyChanges(a, b config.Config) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	add(a.Radio.Source != b.Radio.Source, "radio.source")
	add(a.Radio.SPIDevice != b.Radio.SPIDevice || a.Radio.SPISpeedHz != b.Radio.SPISpeedHz, "radio.spi_device")
	add(a.Radio.ResetPin != b.Radio.ResetPin, "radio.reset_pin")
	add(a.Radio.RawPayload != b.Radio.RawPayload, "radio.raw_payload")
	add(a.Radio.ReceiveTimeout != b.Radio.ReceiveTimeout || a.Radio.SettleDelay != b.Radio.SettleDelay, "radio timing")
	add(a.Radio.Sim != b.Radio.Sim, "radio.sim")
	add(a.GPS.Enable != b.GPS.Enable || a.GPS.Source != b.GPS.Source, "gps.source")
	add(a.GPS.Device != b.GPS.Device || a.GPS.GPSDAddr != b.GPS.GPSDAddr, "gps.device")
	add(a.Web != b.Web, "web.listen")
	add(a.Metrics != b.Metrics, "metrics")
	add(a.Mirror != b.Mirror, "mirror")
	add(a.Broadcast != b.Broadcast, "broadcast")
	return keys
}

func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	r.mu.Lock()
	svc := r.gpsSvc
	r.gpsSvc = nil
	r.mu.Unlock()
	if svc != nil {
		svc.Close()
	}
}
