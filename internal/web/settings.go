package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gnssd/internal/config"
	"gnssd/internal/gnss"
)

// SettingsPayload is the wire form of the power policy. Durations travel
// as Go duration strings.
type SettingsPayload struct {
	UpdateInterval string `json:"update_interval"`
	WakeMin        string `json:"wake_min"`
	WakeMax        string `json:"wake_max"`
	PowerSave      bool   `json:"power_save"`
	FixedPosition  bool   `json:"fixed_position"`
}

// SettingsPayloadIn is the strict POST schema. All fields are required:
// no partial updates, so a typo cannot silently leave a knob at its old
// value.
type SettingsPayloadIn struct {
	UpdateInterval *string `json:"update_interval"`
	WakeMin        *string `json:"wake_min"`
	WakeMax        *string `json:"wake_max"`
	PowerSave      *bool   `json:"power_save"`
	FixedPosition  *bool   `json:"fixed_position"`
}

var settingsPostKeys = []string{
	"update_interval",
	"wake_min",
	"wake_max",
	"power_save",
	"fixed_position",
}

// decodeSettingsStrict walks the raw tokens first, so unknown keys,
// duplicates, and nulls are rejected before the typed decode could paper
// over them.
func decodeSettingsStrict(body []byte) (SettingsPayloadIn, error) {
	var zero SettingsPayloadIn

	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return zero, fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return zero, errors.New("invalid json: expected object")
	}

	seen := make(map[string]bool, len(settingsPostKeys))
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return zero, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return zero, errors.New("invalid json: expected string key")
		}
		if !slices.Contains(settingsPostKeys, key) {
			return zero, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if seen[key] {
			return zero, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return zero, fmt.Errorf("invalid json: %w", err)
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return zero, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return zero, fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return zero, errors.New("invalid json: trailing data")
	}
	for _, k := range settingsPostKeys {
		if !seen[k] {
			return zero, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	var out SettingsPayloadIn
	typed := json.NewDecoder(bytes.NewReader(body))
	typed.DisallowUnknownFields()
	if err := typed.Decode(&out); err != nil {
		return zero, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func requiredDuration(key string, v *string) (time.Duration, error) {
	if v == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return 0, fmt.Errorf("%s must be non-empty", key)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func policyFromPayload(p SettingsPayloadIn) (gnss.Policy, error) {
	var pol gnss.Policy
	var err error
	if pol.UpdateInterval, err = requiredDuration("update_interval", p.UpdateInterval); err != nil {
		return gnss.Policy{}, err
	}
	if pol.WakeMin, err = requiredDuration("wake_min", p.WakeMin); err != nil {
		return gnss.Policy{}, err
	}
	if pol.WakeMax, err = requiredDuration("wake_max", p.WakeMax); err != nil {
		return gnss.Policy{}, err
	}
	if p.PowerSave == nil {
		return gnss.Policy{}, errors.New("power_save is required")
	}
	if p.FixedPosition == nil {
		return gnss.Policy{}, errors.New("fixed_position is required")
	}
	pol.PowerSave = *p.PowerSave
	pol.FixedPosition = *p.FixedPosition
	return pol, nil
}

func payloadFromPolicy(pol gnss.Policy) SettingsPayload {
	return SettingsPayload{
		UpdateInterval: pol.UpdateInterval.String(),
		WakeMin:        pol.WakeMin.String(),
		WakeMax:        pol.WakeMax.String(),
		PowerSave:      pol.PowerSave,
		FixedPosition:  pol.FixedPosition,
	}
}

// SettingsStore reads and applies the power policy. When ConfigPath is
// set, accepted changes are also rewritten into the YAML config so they
// survive a restart.
type SettingsStore struct {
	ConfigPath string
	// Current returns the live policy.
	Current func() gnss.Policy
	// Apply makes a new policy effective immediately. The service clamps
	// inconsistent bounds, so Current afterwards reflects what actually
	// took effect.
	Apply func(p gnss.Policy) error
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Current == nil || s.Apply == nil {
			http.Error(w, "settings not available", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeSettings(w, payloadFromPolicy(s.Current()))

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			in, err := decodeSettingsStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			pol, err := policyFromPayload(in)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}

			old := s.Current()
			if err := s.Apply(pol); err != nil {
				http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
				return
			}
			eff := s.Current()

			if strings.TrimSpace(s.ConfigPath) != "" {
				if err := s.persist(eff); err != nil {
					// Keep runtime consistent with disk.
					_ = s.Apply(old)
					http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
					return
				}
			}
			writeSettings(w, payloadFromPolicy(eff))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// persist rewrites the power section of the config file. The write goes
// through a temp file in the same directory so the rename is atomic; a
// crash mid-save leaves the old config intact.
func (s SettingsStore) persist(pol gnss.Policy) error {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Power.UpdateInterval = pol.UpdateInterval
	cfg.Power.WakeMin = pol.WakeMin
	cfg.Power.WakeMax = pol.WakeMax
	cfg.Power.AlwaysOn = !pol.PowerSave
	cfg.Power.FixedPosition = pol.FixedPosition

	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.ConfigPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.ConfigPath)+".tmp.*")
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
	return os.Rename(tmpPath, s.ConfigPath)
}

func writeSettings(w http.ResponseWriter, p SettingsPayload) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
