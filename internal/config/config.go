package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Receiver ReceiverConfig `yaml:"receiver"`
	Power    PowerConfig    `yaml:"power"`
	Web      WebConfig      `yaml:"web"`
	Beacon   BeaconConfig   `yaml:"beacon"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

type ReceiverConfig struct {
	Source           string        `yaml:"source"`
	Device           string        `yaml:"device"`
	PowerPin         int           `yaml:"power_pin"`
	MaxFrameErrors   int           `yaml:"max_frame_errors"`
	RedetectInterval time.Duration `yaml:"redetect_interval"`
	Sim              SimConfig     `yaml:"sim"`
}

type SimConfig struct {
	Model   string        `yaml:"model"`
	Baud    int           `yaml:"baud"`
	TTFF    time.Duration `yaml:"ttff"`
	LatDeg  float64       `yaml:"lat_deg"`
	LonDeg  float64       `yaml:"lon_deg"`
	RadiusM float64       `yaml:"radius_m"`
	Period  time.Duration `yaml:"period"`
}

type PowerConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	WakeMin        time.Duration `yaml:"wake_min"`
	WakeMax        time.Duration `yaml:"wake_max"`
	AlwaysOn       bool          `yaml:"always_on"`
	FixedPosition  bool          `yaml:"fixed_position"`
	GraceCycles    int           `yaml:"grace_cycles"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type BeaconConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(trimLineInfo(te.Errors), ", "))
		}
		return Config{}, err
	}

	if cfg.Receiver.Source == "" {
		cfg.Receiver.Source = "serial"
	}
	switch cfg.Receiver.Source {
	case "serial":
		if cfg.Receiver.Device == "" {
			return Config{}, fmt.Errorf("receiver.device is required when receiver.source is 'serial'")
		}
	case "sim":
	default:
		return Config{}, fmt.Errorf("receiver.source must be 'serial' or 'sim'")
	}
	if cfg.Receiver.PowerPin < 0 {
		return Config{}, fmt.Errorf("receiver.power_pin must be >= 0")
	}
	if cfg.Receiver.MaxFrameErrors <= 0 {
		cfg.Receiver.MaxFrameErrors = 10
	}
	if cfg.Receiver.RedetectInterval <= 0 {
		cfg.Receiver.RedetectInterval = 5 * time.Minute
	}

	// Simulator defaults (safe even when a real device is configured).
	if cfg.Receiver.Sim.Model == "" {
		cfg.Receiver.Sim.Model = "ublox"
	}
	switch cfg.Receiver.Sim.Model {
	case "ublox", "mtk", "uc6850":
	default:
		return Config{}, fmt.Errorf("receiver.sim.model must be one of 'ublox', 'mtk', 'uc6850'")
	}
	if cfg.Receiver.Sim.Baud <= 0 {
		cfg.Receiver.Sim.Baud = 9600
	}
	if cfg.Receiver.Sim.TTFF == 0 {
		cfg.Receiver.Sim.TTFF = 10 * time.Second
	}
	if cfg.Receiver.Sim.RadiusM <= 0 {
		cfg.Receiver.Sim.RadiusM = 250
	}
	if cfg.Receiver.Sim.Period <= 0 {
		cfg.Receiver.Sim.Period = 10 * time.Minute
	}

	if cfg.Power.UpdateInterval <= 0 {
		cfg.Power.UpdateInterval = 2 * time.Minute
	}
	if cfg.Power.WakeMin <= 0 {
		cfg.Power.WakeMin = 30 * time.Second
	}
	if cfg.Power.WakeMax <= 0 {
		cfg.Power.WakeMax = 15 * time.Minute
	}
	if cfg.Power.WakeMax < cfg.Power.WakeMin {
		cfg.Power.WakeMax = cfg.Power.WakeMin
	}
	if cfg.Power.GraceCycles <= 0 {
		cfg.Power.GraceCycles = 20
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "0.0.0.0:8080"
	}

	if cfg.Beacon.Enable && cfg.Beacon.Dest == "" {
		return Config{}, fmt.Errorf("beacon.dest is required when beacon.enable is true")
	}
	if cfg.Beacon.Interval <= 0 {
		cfg.Beacon.Interval = 1 * time.Second
	}

	if cfg.MQTT.Enable && cfg.MQTT.Broker == "" {
		return Config{}, fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "gnssd/status"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gnssd"
	}

	return cfg, nil
}

// trimLineInfo drops the "line N: " prefix yaml puts on each problem so
// the joined message reads as one sentence.
func trimLineInfo(errs []string) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		if _, rest, ok := strings.Cut(e, ": "); ok {
			e = rest
		}
		out[i] = e
	}
	return out
}
