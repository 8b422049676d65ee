package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"groundstation/internal/config"
	"groundstation/internal/radio"
	"groundstation/internal/web"
)

func TestRadioOpenFunc_Sim(t *testing.T) {
	rc := config.Default().Radio
	rc.Source = "sim"
	rc.Sim.Interval = 5 * time.Millisecond

	tr, err := radioOpenFunc(rc)(radioConfig(rc))
	if err != nil {
		t.Fatalf("open sim error: %v", err)
	}
	defer tr.Close()
	if _, ok := tr.(*radio.Sim); !ok {
		t.Fatalf("transceiver=%T want *radio.Sim", tr)
	}

	f, err := tr.Receive(time.Second)
	if err != nil || len(f.Payload) == 0 {
		t.Fatalf("frame=%+v err=%v", f, err)
	}
}

func TestRadioOpenFunc_HardwareSelected(t *testing.T) {
	if radioOpenFunc(config.Default().Radio) == nil {
		t.Fatalf("nil open func for rfm9x")
	}
}

func TestRadioConfigAndGPSConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Radio.FrequencyMHz = 434.25
	cfg.Radio.TxPowerDBm = 14
	if got := radioConfig(cfg.Radio); got != (radio.Config{FrequencyMHz: 434.25, TxPowerDBm: 14}) {
		t.Fatalf("radioConfig=%+v", got)
	}

	cfg.GPS.Source = "gpsd"
	cfg.GPS.GPSDAddr = "10.0.0.2:2947"
	cfg.GPS.Baud = 38400
	g := gpsConfig(cfg.GPS)
	if !g.Enable || g.Source != "gpsd" || g.GPSDAddr != "10.0.0.2:2947" || g.Baud != 38400 || g.StaleAfter != 5*time.Second {
		t.Fatalf("gpsConfig=%+v", g)
	}
}

func TestNewRadioManager_PublishesStateMetric(t *testing.T) {
	rc := config.Default().Radio
	rc.Source = "sim"
	rc.SettleDelay = time.Millisecond
	mgr := newRadioManager(rc)
	defer mgr.Close()

	if err := mgr.Reinitialize(context.Background(), radioConfig(rc)); err != nil {
		t.Fatalf("Reinitialize() error: %v", err)
	}
	if st := mgr.Status(); st.State != radio.StateActive {
		t.Fatalf("state=%s", st.StateName)
	}
}

func TestRun_SimRadioStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Radio.Source = "sim"
	cfg.Radio.SettleDelay = time.Millisecond
	cfg.Radio.ReceiveTimeout = 50 * time.Millisecond
	cfg.GPS.Enable = false
	cfg.Web.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, filepath.Join(t.TempDir(), "groundstation.yaml"), web.NewLogBuffer(100))
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("run() err=%v want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run() did not stop after cancel")
	}
}
