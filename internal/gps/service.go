package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SourceNMEA = "nmea"
	SourceGPSD = "gpsd"

	DefaultBaud       = 9600
	DefaultStaleAfter = 5 * time.Second
)

var (
	// ErrNoFix is returned by Fix while the receiver has no current position.
	ErrNoFix = errors.New("gps: no fix")
	// ErrNotRunning is returned by Fix when the service is disabled or closed.
	ErrNotRunning = errors.New("gps: not running")
)

var (
	openSerialFn = func(path string, baud int) (io.ReadCloser, error) { return openSerial(path, baud) }
	now          = time.Now
)

// Config controls the GPS reader.
//
// Device may be empty to auto-detect /dev/ttyACM* or /dev/ttyUSB*.
type Config struct {
	Enable bool

	// Source is "nmea" (direct serial, default) or "gpsd".
	Source   string
	GPSDAddr string

	Device string
	Baud   int

	// StaleAfter bounds the age of a fix that Fix still reports.
	StaleAfter time.Duration
}

func (c Config) source() string {
	src := strings.ToLower(strings.TrimSpace(c.Source))
	if src == "" {
		return SourceNMEA
	}
	return src
}

type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LngDeg     float64  `json:"lng_deg,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	FixAgeSec  float64  `json:"fix_age_sec,omitempty"`

	LastFix    time.Time `json:"-"`
	LastFixUTC string    `json:"last_fix_utc,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Fix is one ground-station position report.
type Fix struct {
	Lat  float64
	Lng  float64
	AltM *float64
	Time time.Time
}

type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu      sync.Mutex
	closer  io.Closer
	running bool
}

func New(cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	s := &Service{cfg: cfg}
	s.last.Store(Snapshot{
		Enabled:  cfg.Enable,
		Source:   cfg.source(),
		GPSDAddr: strings.TrimSpace(cfg.GPSDAddr),
		Device:   cfg.Device,
		Baud:     cfg.Baud,
	})
	return s
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.cfg
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	switch src := s.cfg.source(); src {
	case SourceNMEA:
		return s.startNMEALocked(ctx)
	case SourceGPSD:
		return s.startGPSDLocked(ctx)
	default:
		return fmt.Errorf("gps.source must be nmea or gpsd (got %q)", src)
	}
}

func (s *Service) startNMEALocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}
	baud := s.cfg.Baud

	f, err := openSerialFn(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed device=%s baud=%d: %v", device, baud, err))
		return err
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.last.Store(Snapshot{Enabled: true, Source: SourceNMEA, Device: device, Baud: baud})
	log.Printf("gps enabled device=%s baud=%d", device, baud)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st := nmeaState{device: device, baud: baud}
		handle := func(line string) {
			if !strings.HasPrefix(line, "$") {
				return
			}
			sent, perr := parseNMEASentence(line)
			if perr != nil {
				s.setError(perr.Error())
				return
			}
			if st.apply(now().UTC(), sent) {
				s.publish(st.snapshot())
			}
		}
		s.readLoop(childCtx, f, handle)
		s.reconnect(childCtx, func() (io.ReadCloser, error) {
			return openSerialFn(device, baud)
		}, handle)
	}()
	return nil
}

func (s *Service) startGPSDLocked(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.last.Store(Snapshot{Enabled: true, Source: SourceGPSD, GPSDAddr: addr})
	log.Printf("gps enabled source=gpsd addr=%s", addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st := newGPSDState(addr)
		s.reconnect(childCtx, func() (io.ReadCloser, error) {
			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				return nil, err
			}
			if err := gpsdWatch(conn); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("gpsd watch failed: %w", err)
			}
			return conn, nil
		}, func(line string) {
			updated, perr := st.applyLine(now().UTC(), line)
			if perr != nil {
				s.setError(perr.Error())
				return
			}
			if updated {
				s.publish(st.snapshot())
			}
		})
	}()
	return nil
}

// reconnect reopens the stream with exponential backoff until ctx ends.
func (s *Service) reconnect(ctx context.Context, open func() (io.ReadCloser, error), handle func(string)) {
	const minBackoff, maxBackoff = 250 * time.Millisecond, 10 * time.Second
	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rc, err := open()
		if err != nil {
			s.setError(fmt.Sprintf("gps reopen failed: %v", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = minBackoff

		s.mu.Lock()
		s.closer = rc
		s.mu.Unlock()
		s.readLoop(ctx, rc, handle)
	}
}

// readLoop feeds trimmed lines to handle until the stream fails or ctx ends,
// then closes rc.
func (s *Service) readLoop(ctx context.Context, rc io.ReadCloser, handle func(string)) {
	defer func() { _ = rc.Close() }()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			if ctx.Err() == nil {
				s.setError(fmt.Sprintf("gps read stopped: %v", err))
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		handle(line)
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Snapshot returns the latest receiver state with fix age filled in.
func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v := s.last.Load()
	if v == nil {
		return Snapshot{}
	}
	snap := v.(Snapshot)
	if !snap.LastFix.IsZero() {
		age := now().Sub(snap.LastFix)
		snap.FixAgeSec = age.Seconds()
		snap.FixStale = age > s.cfg.StaleAfter
		snap.LastFixUTC = snap.LastFix.UTC().Format(time.RFC3339Nano)
	}
	return snap
}

// Fix returns the current position. Stale or missing fixes report ErrNoFix.
func (s *Service) Fix() (Fix, error) {
	if s == nil {
		return Fix{}, ErrNotRunning
	}
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return Fix{}, ErrNotRunning
	}
	snap := s.Snapshot()
	if !snap.Valid || snap.FixStale {
		return Fix{}, ErrNoFix
	}
	return Fix{Lat: snap.LatDeg, Lng: snap.LngDeg, AltM: snap.AltM, Time: snap.LastFix}, nil
}

// publish stores a parser snapshot, keeping the last reported error.
func (s *Service) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last.Load().(Snapshot); ok && snap.LastError == "" {
		snap.LastError = prev.LastError
	}
	s.last.Store(snap)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur, _ := s.last.Load().(Snapshot)
	cur.LastError = msg
	// Transient parse errors do not clear validity.
	s.last.Store(cur)
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
