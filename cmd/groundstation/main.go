package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"groundstation/internal/config"
	"groundstation/internal/gps"
	"groundstation/internal/ingest"
	"groundstation/internal/metrics"
	"groundstation/internal/mirror"
	"groundstation/internal/radio"
	"groundstation/internal/sim"
	"groundstation/internal/telemetry"
	"groundstation/internal/udp"
	"groundstation/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./groundstation.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, _ := config.LoadOrDefault(configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("groundstation starting config=%s", configPath)
	if err := run(ctx, cfg, configPath, logs); err != nil && ctx.Err() == nil {
		log.Fatalf("groundstation failed: %v", err)
	}
	log.Printf("groundstation stopped")
}

func radioConfig(rc config.RadioConfig) radio.Config {
	return radio.Config{FrequencyMHz: rc.FrequencyMHz, TxPowerDBm: rc.TxPowerDBm}
}

func radioOpenFunc(rc config.RadioConfig) radio.OpenFunc {
	if rc.Source == "sim" {
		return radio.OpenSim(radio.SimConfig{
			Vehicle: sim.Vehicle{
				CenterLat: rc.Sim.CenterLatDeg,
				CenterLng: rc.Sim.CenterLngDeg,
				RadiusM:   rc.Sim.RadiusM,
				Period:    rc.Sim.Period,
				BaseAltM:  rc.Sim.BaseAltM,
			},
			Interval:     rc.Sim.Interval,
			CorruptEvery: rc.Sim.CorruptEvery,
		})
	}
	return radio.OpenRFM9x(radio.HardwareConfig{
		SPIDevice:       rc.SPIDevice,
		SPISpeedHz:      rc.SPISpeedHz,
		ResetPin:        rc.ResetPin,
		RadioHeadHeader: !rc.RawPayload,
	})
}

func gpsConfig(gc config.GPSConfig) gps.Config {
	return gps.Config{
		Enable:     gc.Enable,
		Source:     gc.Source,
		GPSDAddr:   gc.GPSDAddr,
		Device:     gc.Device,
		Baud:       gc.Baud,
		StaleAfter: gc.StaleAfter,
	}
}

func newRadioManager(rc config.RadioConfig) *radio.Manager {
	return radio.NewManager(radioOpenFunc(rc),
		radio.WithSettleDelay(rc.SettleDelay),
		radio.WithStateObserver(func(st radio.State) {
			metrics.RadioState.Set(float64(st))
		}),
	)
}

// run wires every component and blocks until ctx ends or the web server
// fails. Radio and GPS failures are not fatal: the operator can retune from
// the settings page.
func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := telemetry.NewStore()

	mgr := newRadioManager(cfg.Radio)
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Printf("radio close failed: %v", err)
		}
	}()
	if err := mgr.Reinitialize(ctx, radioConfig(cfg.Radio)); err != nil {
		metrics.RadioReinits.WithLabelValues("failed").Inc()
		log.Printf("radio init failed source=%s: %v", cfg.Radio.Source, err)
	} else {
		metrics.RadioReinits.WithLabelValues("ok").Inc()
		log.Printf("radio ready source=%s %s", cfg.Radio.Source, radioConfig(cfg.Radio))
	}

	rt := newLiveRuntime(ctx, cfg, mgr)
	defer rt.Close()
	if err := rt.StartGPS(); err != nil {
		log.Printf("gps start failed: %v", err)
	}

	var wg sync.WaitGroup
	goLoop := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Printf("%s stopped: %v", name, err)
			}
		}()
	}

	radioLoop := &ingest.RadioLoop{Radio: mgr, Store: store, ReceiveTimeout: cfg.Radio.ReceiveTimeout}
	goLoop("ingest radio", radioLoop.Run)
	if cfg.GPS.Enable {
		groundLoop := &ingest.GroundLoop{GPS: rt, Store: store}
		goLoop("ingest ground", groundLoop.Run)
	}

	snapshot := func() any { return web.NewTelemetryResponse(store.Snapshot()) }

	if cfg.Mirror.Enable {
		client, err := mirror.Dial(ctx, cfg.Mirror.Addr, cfg.Mirror.DB)
		if err != nil {
			log.Printf("mirror disabled: %v", err)
		} else {
			defer client.Close()
			m := &mirror.Mirror{
				Client: client,
				Source: snapshot,
				Config: mirror.Config{Key: cfg.Mirror.Key, TTL: cfg.Mirror.TTL, Interval: cfg.Mirror.Interval},
			}
			goLoop("mirror", m.Run)
		}
	}

	if cfg.Broadcast.Enable {
		b, err := udp.NewBroadcaster(cfg.Broadcast.Dest)
		if err != nil {
			log.Printf("broadcast disabled: %v", err)
		} else {
			defer b.Close()
			goLoop("broadcast", func(ctx context.Context) error {
				return b.Run(ctx, cfg.Broadcast.Interval, snapshot)
			})
		}
	}

	status := web.NewStatus(web.StatusSources{
		Radio: mgr.Status,
		GPS:   rt.GPSSnapshot,
		Store: store,
	})
	settings := web.SettingsStore{
		ConfigPath:  configPath,
		Apply:       rt.Apply,
		RadioStatus: mgr.Status,
	}
	deps := web.Deps{Store: store, Status: status, Settings: settings, Logs: logs}
	if cfg.Metrics.Enable {
		deps.Metrics = metrics.Handler()
	}

	log.Printf("web listening addr=%s", cfg.Web.Listen)
	err := web.Serve(ctx, cfg.Web.Listen, deps)
	cancel()
	wg.Wait()
	return err
}
