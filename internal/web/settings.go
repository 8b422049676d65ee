package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"groundstation/internal/config"
	"groundstation/internal/radio"
)

// SettingsPayload is the GET/POST response of /api/settings.
type SettingsPayload struct {
	Frequency float64 `json:"frequency"`
	TxPower   int     `json:"tx_power"`
	GPSBaud   int     `json:"gps_baud"`
	State     string  `json:"state,omitempty"`
	LastError string  `json:"last_error,omitempty"`
}

// SettingsPayloadIn is the POST schema. frequency and tx_power are
// required; gps_baud is optional and keeps the stored value when absent.
type SettingsPayloadIn struct {
	Frequency *float64 `json:"frequency"`
	TxPower   *int     `json:"tx_power"`
	GPSBaud   *int     `json:"gps_baud"`
}

var (
	settingsRequiredKeys = []string{"frequency", "tx_power"}
	settingsOptionalKeys = []string{"gps_baud"}
)

func decodeSettingsPayloadInStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	allowed := make(map[string]struct{}, len(settingsRequiredKeys)+len(settingsOptionalKeys))
	for _, k := range settingsRequiredKeys {
		allowed[k] = struct{}{}
	}
	for _, k := range settingsOptionalKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(allowed))

	tok, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected object")
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return SettingsPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	end, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	if delim, ok := end.(json.Delim); !ok || delim != '}' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}
	for _, k := range settingsRequiredKeys {
		if _, ok := seen[k]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("%s is required", k)
		}
	}

	var out SettingsPayloadIn
	if err := json.Unmarshal(body, &out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

// decodeSettingsForm reads an HTML form post. Empty gps_baud means "keep".
func decodeSettingsForm(r *http.Request) (SettingsPayloadIn, error) {
	if err := r.ParseForm(); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid form: %v", err)
	}
	var out SettingsPayloadIn

	freqStr := strings.TrimSpace(r.PostForm.Get("frequency"))
	if freqStr == "" {
		return SettingsPayloadIn{}, errors.New("frequency is required")
	}
	f, err := strconv.ParseFloat(freqStr, 64)
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("frequency must be a number (got %q)", freqStr)
	}
	out.Frequency = &f

	powStr := strings.TrimSpace(r.PostForm.Get("tx_power"))
	if powStr == "" {
		return SettingsPayloadIn{}, errors.New("tx_power is required")
	}
	p, err := strconv.Atoi(powStr)
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("tx_power must be an integer (got %q)", powStr)
	}
	out.TxPower = &p

	if baudStr := strings.TrimSpace(r.PostForm.Get("gps_baud")); baudStr != "" {
		b, err := strconv.Atoi(baudStr)
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("gps_baud must be an integer (got %q)", baudStr)
		}
		out.GPSBaud = &b
	}
	return out, nil
}

func validateSettingsPayloadIn(p SettingsPayloadIn) error {
	if p.Frequency == nil {
		return errors.New("frequency is required")
	}
	if p.TxPower == nil {
		return errors.New("tx_power is required")
	}
	if err := config.ValidateRadio(*p.Frequency, *p.TxPower); err != nil {
		return err
	}
	if p.GPSBaud != nil {
		if err := config.ValidateBaud(*p.GPSBaud); err != nil {
			return err
		}
	}
	return nil
}

func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validateSettingsPayloadIn(p); err != nil {
		return err
	}
	cfg.Radio.FrequencyMHz = *p.Frequency
	cfg.Radio.TxPowerDBm = *p.TxPower
	if p.GPSBaud != nil {
		cfg.GPS.Baud = *p.GPSBaud
	}
	return nil
}

// SettingsStore is the configuration gateway: it validates operator input,
// persists it, then makes it effective.
type SettingsStore struct {
	ConfigPath string
	// Apply is called after the new config has been saved. An error
	// matching radio.ErrInit is reported as 502; the saved config stays.
	Apply func(cfg config.Config) error
	// RadioStatus, when set, fills state and last_error in responses.
	RadioStatus func() radio.Status
}

// load returns the saved config, or defaults when the file is missing or
// unusable. The next successful save replaces an unusable file.
func (s SettingsStore) load() config.Config {
	cfg, err := config.Load(s.ConfigPath)
	if err == nil {
		return cfg
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Printf("settings config %s unusable (%v); using defaults", s.ConfigPath, err)
	}
	return config.Default()
}

func (s SettingsStore) payload(cfg config.Config) SettingsPayload {
	out := SettingsPayload{
		Frequency: cfg.Radio.FrequencyMHz,
		TxPower:   cfg.Radio.TxPowerDBm,
		GPSBaud:   cfg.GPS.Baud,
	}
	if s.RadioStatus != nil {
		st := s.RadioStatus()
		out.State = st.StateName
		out.LastError = st.LastError
	}
	return out
}

func (s SettingsStore) Handler() http.Handler {
	mux := http.NewServeMux()
	// Serializes load-modify-save-apply across concurrent POSTs.
	var mu sync.Mutex

	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, s.payload(s.load()))

		case http.MethodPost:
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

			var p SettingsPayloadIn
			mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch mt {
			case "application/json":
				body, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
					return
				}
				if p, err = decodeSettingsPayloadInStrict(body); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
			case "application/x-www-form-urlencoded":
				var err error
				if p, err = decodeSettingsForm(r); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
			default:
				http.Error(w, "content-type must be application/json or application/x-www-form-urlencoded", http.StatusUnsupportedMediaType)
				return
			}

			mu.Lock()
			defer mu.Unlock()

			cfg := s.load()
			if err := applySettingsPayload(&cfg, p); err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}
			if err := config.Save(s.ConfigPath, cfg); err != nil {
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			log.Printf("settings saved path=%s freq=%.3fMHz tx_power=%ddBm gps_baud=%d",
				s.ConfigPath, cfg.Radio.FrequencyMHz, cfg.Radio.TxPowerDBm, cfg.GPS.Baud)

			if s.Apply != nil {
				if err := s.Apply(cfg); err != nil {
					code := http.StatusInternalServerError
					if errors.Is(err, radio.ErrInit) {
						code = http.StatusBadGateway
					}
					log.Printf("settings apply failed: %v", err)
					http.Error(w, fmt.Sprintf("apply failed: %v", err), code)
					return
				}
			}
			writeJSON(w, s.payload(cfg))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	return mux
}
