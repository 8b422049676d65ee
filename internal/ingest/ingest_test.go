package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"groundstation/internal/gps"
	"groundstation/internal/packet"
	"groundstation/internal/radio"
	"groundstation/internal/telemetry"
)

type scriptedRadio struct {
	mu     sync.Mutex
	frames []radio.Frame
	errs   []error
	calls  int
}

func (r *scriptedRadio) Receive(timeout time.Duration) (radio.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return radio.Frame{}, r.errs[i]
	}
	if i < len(r.frames) {
		return r.frames[i], nil
	}
	return radio.Frame{}, nil
}

type fixFunc func() (gps.Fix, error)

func (f fixFunc) Fix() (gps.Fix, error) { return f() }

func f64(v float64) *float64 { return &v }

func packetPosition(lat, lng float64) packet.Position {
	return packet.Position{Lat: &lat, Lng: &lng}
}

func TestRadioLoop_PositionThenEnvironment(t *testing.T) {
	store := telemetry.NewStore()
	l := &RadioLoop{
		Radio: &scriptedRadio{frames: []radio.Frame{
			{Payload: []byte("LAT=40.71,LNG=-74.00,ALT=12.5"), RSSI: -80, SNR: 6},
			{Payload: []byte("ACC=1.0;2.0;3.0,TEMP=21.5"), RSSI: -78, SNR: 7},
		}},
		Store: store,
	}
	for i := 0; i < 2; i++ {
		if d := l.Step(); d != 0 {
			t.Fatalf("step %d backoff=%v want 0", i, d)
		}
	}

	snap := store.Snapshot()
	if snap.VehiclePosition != (telemetry.GeoPosition{Lat: 40.71, Lng: -74, Alt: 12.5}) {
		t.Fatalf("position=%+v", snap.VehiclePosition)
	}
	env := snap.VehicleEnvironment
	if env.Acceleration.X != 1 || env.Acceleration.Y != 2 || env.Acceleration.Z != 3 || env.Temperature != 21.5 {
		t.Fatalf("environment=%+v", env)
	}
	if env.Pressure != 0 || env.Magnetic.X != 0 {
		t.Fatalf("untouched fields changed: %+v", env)
	}
	if snap.Link.PacketsReceived != 2 || snap.Link.RSSI != -78 {
		t.Fatalf("link=%+v", snap.Link)
	}
	if snap.LastUpdate.IsZero() {
		t.Fatalf("last_update not set")
	}
}

func TestRadioLoop_DecodeErrorLeavesStoreUntouched(t *testing.T) {
	store := telemetry.NewStore()
	store.MergePosition(time.Now().UTC(), packetPosition(1, 2))
	before := store.Snapshot()

	l := &RadioLoop{Radio: &scriptedRadio{frames: []radio.Frame{{Payload: []byte("LAT=abc")}}}, Store: store}
	if d := l.Step(); d != 0 {
		t.Fatalf("backoff=%v want 0", d)
	}
	after := store.Snapshot()
	if after.VehiclePosition != before.VehiclePosition || !after.LastUpdate.Equal(before.LastUpdate) {
		t.Fatalf("store changed by bad packet: %+v", after)
	}
	if after.Link.DecodeErrors != 1 {
		t.Fatalf("decode_errors=%d want 1", after.Link.DecodeErrors)
	}
}

func TestRadioLoop_Backoffs(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{name: "no session", err: radio.ErrNoSession, want: 30 * time.Millisecond},
		{name: "read error", err: errors.New("spi timeout"), want: 70 * time.Millisecond},
		{name: "timeout", err: nil, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &RadioLoop{
				Radio:            &scriptedRadio{errs: []error{tc.err}},
				Store:            telemetry.NewStore(),
				NoSessionBackoff: 30 * time.Millisecond,
				ReadErrorBackoff: 70 * time.Millisecond,
			}
			if got := l.Step(); got != tc.want {
				t.Fatalf("backoff=%v want %v", got, tc.want)
			}
		})
	}
}

func TestRadioLoop_DefaultBackoffs(t *testing.T) {
	l := &RadioLoop{Radio: &scriptedRadio{errs: []error{radio.ErrNoSession}}, Store: telemetry.NewStore()}
	if got := l.Step(); got != DefaultNoSessionBackoff {
		t.Fatalf("backoff=%v want %v", got, DefaultNoSessionBackoff)
	}
}

func TestRadioLoop_RunStopsOnCancel(t *testing.T) {
	l := &RadioLoop{Radio: &scriptedRadio{}, Store: telemetry.NewStore(), ReceiveTimeout: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestRadioLoop_RunRequiresCollaborators(t *testing.T) {
	if err := (&RadioLoop{}).Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGroundLoop_MergesFixAndComputesDistance(t *testing.T) {
	store := telemetry.NewStore()
	store.MergePosition(time.Now().UTC(), packetPosition(0, 1))

	l := &GroundLoop{
		GPS:          fixFunc(func() (gps.Fix, error) { return gps.Fix{Lat: 0, Lng: 0.0001, AltM: f64(15)}, nil }),
		Store:        store,
		PollInterval: 10 * time.Millisecond,
	}
	if got := l.Step(); got != 10*time.Millisecond {
		t.Fatalf("delay=%v", got)
	}
	snap := store.Snapshot()
	if snap.GroundPosition != (telemetry.GeoPosition{Lat: 0, Lng: 0.0001, Alt: 15}) {
		t.Fatalf("ground=%+v", snap.GroundPosition)
	}
	// 0.9999 degrees of longitude on the equator.
	if math.Abs(snap.DistanceMeters-111184) > 50 {
		t.Fatalf("distance=%v", snap.DistanceMeters)
	}
}

func TestGroundLoop_NoFixAndErrors(t *testing.T) {
	store := telemetry.NewStore()
	var err error
	l := &GroundLoop{
		GPS:          fixFunc(func() (gps.Fix, error) { return gps.Fix{}, err }),
		Store:        store,
		PollInterval: 10 * time.Millisecond,
		ErrorBackoff: 40 * time.Millisecond,
	}
	err = gps.ErrNoFix
	if got := l.Step(); got != 10*time.Millisecond {
		t.Fatalf("no fix delay=%v", got)
	}
	err = gps.ErrNotRunning
	if got := l.Step(); got != 40*time.Millisecond {
		t.Fatalf("error delay=%v", got)
	}
	if snap := store.Snapshot(); snap.GroundPosition.Known() || !snap.LastUpdate.IsZero() {
		t.Fatalf("store changed without a fix: %+v", snap)
	}
}

func TestGroundLoop_DistanceWaitsForVehicle(t *testing.T) {
	store := telemetry.NewStore()
	l := &GroundLoop{
		GPS:   fixFunc(func() (gps.Fix, error) { return gps.Fix{Lat: 10, Lng: 10}, nil }),
		Store: store,
	}
	l.Step()
	if d := store.Snapshot().DistanceMeters; d != 0 {
		t.Fatalf("distance=%v want 0 without a vehicle position", d)
	}
}

// Both loops against one store: the distance always reflects some pair of
// positions that were actually written.
func TestLoops_ConcurrentProducers(t *testing.T) {
	store := telemetry.NewStore()
	frames := make([]radio.Frame, 200)
	for i := range frames {
		frames[i] = radio.Frame{Payload: []byte("LAT=0,LNG=1")}
	}
	rl := &RadioLoop{Radio: &scriptedRadio{frames: frames}, Store: store}
	gl := &GroundLoop{
		GPS:   fixFunc(func() (gps.Fix, error) { return gps.Fix{Lat: 0, Lng: 2}, nil }),
		Store: store,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < len(frames); i++ {
			rl.Step()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			gl.Step()
		}
	}()
	wg.Wait()

	snap := store.Snapshot()
	if math.Abs(snap.DistanceMeters-111195) > 100 {
		t.Fatalf("distance=%v want ~111195", snap.DistanceMeters)
	}
}
