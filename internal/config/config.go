package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Legal RF parameters for the 433 MHz RFM9x build.
const (
	MinFrequencyMHz = 400.0
	MaxFrequencyMHz = 500.0
	MinTxPowerDBm   = 2
	MaxTxPowerDBm   = 20
)

type Config struct {
	Radio     RadioConfig     `yaml:"radio"`
	GPS       GPSConfig       `yaml:"gps"`
	Web       WebConfig       `yaml:"web"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

type RadioConfig struct {
	// Source is "rfm9x" (SPI hardware) or "sim".
	Source       string  `yaml:"source"`
	FrequencyMHz float64 `yaml:"frequency_mhz"`
	TxPowerDBm   int     `yaml:"tx_power_dbm"`

	SPIDevice  string `yaml:"spi_device"`
	SPISpeedHz int    `yaml:"spi_speed_hz"`
	// ResetPin is the BCM GPIO wired to RST; 0 disables the reset pulse.
	ResetPin int `yaml:"reset_pin"`
	// RawPayload disables the 4-byte RadioHead header.
	RawPayload bool `yaml:"raw_payload"`

	ReceiveTimeout time.Duration  `yaml:"receive_timeout"`
	SettleDelay    time.Duration  `yaml:"settle_delay"`
	Sim            RadioSimConfig `yaml:"sim"`
}

type RadioSimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLngDeg float64       `yaml:"center_lng_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	BaseAltM     float64       `yaml:"base_alt_m"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	CorruptEvery int           `yaml:"corrupt_every"`
}

type GPSConfig struct {
	Enable     bool          `yaml:"enable"`
	Source     string        `yaml:"source"`
	Device     string        `yaml:"device"`
	Baud       int           `yaml:"baud"`
	GPSDAddr   string        `yaml:"gpsd_addr"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	Enable bool `yaml:"enable"`
}

// MirrorConfig publishes the latest snapshot to Redis for other processes.
type MirrorConfig struct {
	Enable   bool          `yaml:"enable"`
	Addr     string        `yaml:"addr"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
	Interval time.Duration `yaml:"interval"`
}

// BroadcastConfig sends the snapshot JSON as UDP datagrams.
type BroadcastConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	cfg := Config{
		Radio: RadioConfig{
			Source:       "rfm9x",
			FrequencyMHz: 433.0,
			TxPowerDBm:   2,
			SPIDevice:    "/dev/spidev0.1",
			ResetPin:     25,
		},
		GPS:     GPSConfig{Enable: true, Source: "nmea", Baud: 9600},
		Metrics: MetricsConfig{Enable: true},
	}
	_ = DefaultAndValidate(&cfg)
	return cfg
}

// Load reads path strictly: unknown keys are errors. Keys absent from the
// file keep their Default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault falls back to Default when path is missing or unusable.
// The second result reports whether the file was used.
func LoadOrDefault(path string) (Config, bool) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true
	}
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found; using defaults", path)
	} else {
		log.Printf("config %s unusable (%v); using defaults", path, err)
	}
	return Default(), false
}

// Save validates cfg and writes it atomically (temp file + rename in the
// same directory).
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is empty")
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ValidateRadio checks the operator-adjustable RF parameters.
func ValidateRadio(freqMHz float64, txPowerDBm int) error {
	if !(freqMHz >= MinFrequencyMHz && freqMHz <= MaxFrequencyMHz) {
		return fmt.Errorf("radio.frequency_mhz must be in [%g,%g] (got %g)", MinFrequencyMHz, MaxFrequencyMHz, freqMHz)
	}
	if txPowerDBm < MinTxPowerDBm || txPowerDBm > MaxTxPowerDBm {
		return fmt.Errorf("radio.tx_power_dbm must be in [%d,%d] (got %d)", MinTxPowerDBm, MaxTxPowerDBm, txPowerDBm)
	}
	return nil
}

// ValidateBaud checks a GPS serial rate.
func ValidateBaud(baud int) error {
	switch baud {
	case 4800, 9600, 19200, 38400, 57600, 115200, 230400:
		return nil
	}
	return fmt.Errorf("gps.baud %d is not a supported rate", baud)
}

// DefaultAndValidate fills zero values with defaults and rejects invalid
// settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	r := &cfg.Radio
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	if r.Source == "" {
		r.Source = "rfm9x"
	}
	if r.Source != "rfm9x" && r.Source != "sim" {
		return fmt.Errorf("radio.source must be rfm9x or sim (got %q)", r.Source)
	}
	if err := ValidateRadio(r.FrequencyMHz, r.TxPowerDBm); err != nil {
		return err
	}
	if strings.TrimSpace(r.SPIDevice) == "" {
		r.SPIDevice = "/dev/spidev0.1"
	}
	if r.SPISpeedHz < 0 {
		return errors.New("radio.spi_speed_hz must be >= 0")
	}
	if r.ResetPin < 0 {
		return errors.New("radio.reset_pin must be >= 0")
	}
	if r.ReceiveTimeout <= 0 {
		r.ReceiveTimeout = time.Second
	}
	if r.SettleDelay < 0 {
		return errors.New("radio.settle_delay must be >= 0")
	}
	if r.SettleDelay == 0 {
		r.SettleDelay = 100 * time.Millisecond
	}
	if r.Sim.Interval <= 0 {
		r.Sim.Interval = 500 * time.Millisecond
	}
	if r.Sim.Period <= 0 {
		r.Sim.Period = 120 * time.Second
	}
	if r.Sim.RadiusM <= 0 {
		r.Sim.RadiusM = 500
	}
	if r.Sim.CorruptEvery < 0 {
		return errors.New("radio.sim.corrupt_every must be >= 0")
	}

	g := &cfg.GPS
	g.Source = strings.ToLower(strings.TrimSpace(g.Source))
	if g.Source == "" {
		g.Source = "nmea"
	}
	if g.Source != "nmea" && g.Source != "gpsd" {
		return fmt.Errorf("gps.source must be nmea or gpsd (got %q)", g.Source)
	}
	if g.Baud == 0 {
		g.Baud = 9600
	}
	if err := ValidateBaud(g.Baud); err != nil {
		return err
	}
	if g.StaleAfter <= 0 {
		g.StaleAfter = 5 * time.Second
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	m := &cfg.Mirror
	if m.Enable && strings.TrimSpace(m.Addr) == "" {
		return errors.New("mirror.addr is required when mirror.enable is true")
	}
	if m.DB < 0 {
		return errors.New("mirror.db must be >= 0")
	}
	if strings.TrimSpace(m.Key) == "" {
		m.Key = "groundstation:telemetry"
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	if m.TTL <= 0 {
		m.TTL = 30 * time.Second
	}

	b := &cfg.Broadcast
	if b.Enable && strings.TrimSpace(b.Dest) == "" {
		return errors.New("broadcast.dest is required when broadcast.enable is true")
	}
	if b.Interval <= 0 {
		b.Interval = time.Second
	}
	return nil
}
