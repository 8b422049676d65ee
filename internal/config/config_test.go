package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Radio.FrequencyMHz != 433.0 || cfg.Radio.TxPowerDBm != 2 {
		t.Fatalf("radio=%+v", cfg.Radio)
	}
	if cfg.Radio.SPIDevice != "/dev/spidev0.1" || cfg.Radio.ResetPin != 25 || cfg.Radio.Source != "rfm9x" {
		t.Fatalf("radio hardware=%+v", cfg.Radio)
	}
	if cfg.Radio.ReceiveTimeout != time.Second || cfg.Radio.SettleDelay != 100*time.Millisecond {
		t.Fatalf("radio timing=%+v", cfg.Radio)
	}
	if !cfg.GPS.Enable || cfg.GPS.Baud != 9600 || cfg.GPS.Source != "nmea" {
		t.Fatalf("gps=%+v", cfg.GPS)
	}
	if cfg.Web.Listen != ":8080" || !cfg.Metrics.Enable || cfg.Mirror.Enable || cfg.Broadcast.Enable {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_EmptyFileIsDefault(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("cfg=%+v want defaults", cfg)
	}
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, "radio:\n  frequency_mhz: 434.5\n  tx_power_dbm: 10\ngps:\n  baud: 115200\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Radio.FrequencyMHz != 434.5 || cfg.Radio.TxPowerDBm != 10 {
		t.Fatalf("radio=%+v", cfg.Radio)
	}
	if cfg.Radio.ResetPin != 25 || !cfg.GPS.Enable || cfg.GPS.Baud != 115200 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeTempConfig(t, "radio:\n  frequncy_mhz: 434\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "frequncy_mhz") {
		t.Fatalf("err=%v want unknown field error", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "frequency low",
			yaml: "radio:\n  frequency_mhz: 399.9\n",
			want: "radio.frequency_mhz must be in [400,500] (got 399.9)",
		},
		{
			name: "frequency high",
			yaml: "radio:\n  frequency_mhz: 868\n",
			want: "radio.frequency_mhz must be in [400,500] (got 868)",
		},
		{
			name: "power low",
			yaml: "radio:\n  tx_power_dbm: 1\n",
			want: "radio.tx_power_dbm must be in [2,20] (got 1)",
		},
		{
			name: "power high",
			yaml: "radio:\n  tx_power_dbm: 21\n",
			want: "radio.tx_power_dbm must be in [2,20] (got 21)",
		},
		{
			name: "radio source",
			yaml: "radio:\n  source: sdr\n",
			want: `radio.source must be rfm9x or sim (got "sdr")`,
		},
		{
			name: "gps source",
			yaml: "gps:\n  source: glonass\n",
			want: `gps.source must be nmea or gpsd (got "glonass")`,
		},
		{
			name: "baud",
			yaml: "gps:\n  baud: 1234\n",
			want: "gps.baud 1234 is not a supported rate",
		},
		{
			name: "mirror addr",
			yaml: "mirror:\n  enable: true\n",
			want: "mirror.addr is required when mirror.enable is true",
		},
		{
			name: "broadcast dest",
			yaml: "broadcast:\n  enable: true\n",
			want: "broadcast.dest is required when broadcast.enable is true",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestValidateRadio_Boundaries(t *testing.T) {
	for _, ok := range []struct {
		f float64
		p int
	}{{400, 2}, {500, 20}, {433.175, 13}} {
		if err := ValidateRadio(ok.f, ok.p); err != nil {
			t.Fatalf("ValidateRadio(%v,%v) error: %v", ok.f, ok.p, err)
		}
	}
	if err := ValidateRadio(math.NaN(), 2); err == nil {
		t.Fatalf("expected NaN frequency to be rejected")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, ok := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if ok || cfg != Default() {
		t.Fatalf("missing file: ok=%v cfg=%+v", ok, cfg)
	}

	cfg, ok = LoadOrDefault(writeTempConfig(t, "radio: [not, a, map]\n"))
	if ok || cfg != Default() {
		t.Fatalf("corrupt file: ok=%v cfg=%+v", ok, cfg)
	}

	cfg, ok = LoadOrDefault(writeTempConfig(t, "radio:\n  frequency_mhz: 450\n"))
	if !ok || cfg.Radio.FrequencyMHz != 450 {
		t.Fatalf("valid file: ok=%v cfg=%+v", ok, cfg.Radio)
	}
}

func TestSave_RoundTripAndAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundstation.yaml")

	cfg := Default()
	cfg.Radio.FrequencyMHz = 434.5
	cfg.Radio.TxPowerDBm = 10
	cfg.GPS.Baud = 38400
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip=%+v want %+v", got, cfg)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSave_RejectsInvalidWithoutWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundstation.yaml")
	cfg := Default()
	cfg.Radio.TxPowerDBm = 50
	if err := Save(path, cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file written despite invalid config: %v", err)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "groundstation.example.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Radio.FrequencyMHz != 433.0 || cfg.Radio.Sim.BaseAltM != 450 || cfg.Mirror.Enable {
		t.Fatalf("cfg=%+v", cfg)
	}
}
