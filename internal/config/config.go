// Package config loads go-facepay settings from a YAML file and FACEPAY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	ProviderSimulator = "simulator"
	ProviderCamera    = "camera"
	ProviderBridge    = "bridge"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the full service configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	Provider string `yaml:"provider"`

	Scan      ScanConfig      `yaml:"scan"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Camera    CameraConfig    `yaml:"camera"`
	Store     StoreConfig     `yaml:"store"`
}

// ScanConfig tunes the scan controller.
type ScanConfig struct {
	Increment         int           `yaml:"increment"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	MinConfidence     float64       `yaml:"min_confidence"`
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout"`
}

// SimulatorConfig tunes the simulated provider.
type SimulatorConfig struct {
	DenyPermission   bool          `yaml:"deny_permission"`
	PresenceRate     float64       `yaml:"presence_rate"` // 0 = always present
	ConfidenceJitter float64       `yaml:"confidence_jitter"`
	CaptureDelay     time.Duration `yaml:"capture_delay"`
	FailCapture      string        `yaml:"fail_capture"` // failure reason, empty = succeed
	Seed             uint64        `yaml:"seed"`
}

// CameraConfig points the camera provider at a snapshot endpoint.
type CameraConfig struct {
	SnapshotURL string `yaml:"snapshot_url"`
	Preset      string `yaml:"preset"`
	Model       string `yaml:"model"` // YuNet ONNX model path
}

// StoreConfig selects where finished sessions are kept.
type StoreConfig struct {
	Kind          string        `yaml:"kind"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Namespace     string        `yaml:"namespace"`
	TTL           time.Duration `yaml:"ttl"`
}

// Default returns a configuration that runs the simulator with an in-memory
// store on :8080.
func Default() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Provider: ProviderSimulator,
		Scan: ScanConfig{
			Increment:         10,
			SampleInterval:    time.Second,
			PermissionTimeout: 30 * time.Second,
			CaptureTimeout:    10 * time.Second,
		},
		Simulator: SimulatorConfig{
			CaptureDelay: 500 * time.Millisecond,
		},
		Camera: CameraConfig{
			Preset: "default",
		},
		Store: StoreConfig{
			Kind:      StoreMemory,
			RedisAddr: "localhost:6379",
			Namespace: "facepay",
			TTL:       24 * time.Hour,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FACEPAY_* environment variables.
// Malformed numeric values are reported and leave the field unchanged.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("FACEPAY_LISTEN", &c.Listen)
	str("FACEPAY_LOG_LEVEL", &c.LogLevel)
	str("FACEPAY_PROVIDER", &c.Provider)

	num("FACEPAY_SCAN_INCREMENT", &c.Scan.Increment)
	dur("FACEPAY_SCAN_SAMPLE_INTERVAL", &c.Scan.SampleInterval)
	float("FACEPAY_SCAN_MIN_CONFIDENCE", &c.Scan.MinConfidence)
	dur("FACEPAY_PERMISSION_TIMEOUT", &c.Scan.PermissionTimeout)
	dur("FACEPAY_CAPTURE_TIMEOUT", &c.Scan.CaptureTimeout)

	str("FACEPAY_CAMERA_URL", &c.Camera.SnapshotURL)
	str("FACEPAY_CAMERA_PRESET", &c.Camera.Preset)
	str("FACEPAY_CAMERA_MODEL", &c.Camera.Model)

	str("FACEPAY_STORE", &c.Store.Kind)
	str("FACEPAY_REDIS_ADDR", &c.Store.RedisAddr)
	str("FACEPAY_REDIS_PASSWORD", &c.Store.RedisPassword)
	num("FACEPAY_REDIS_DB", &c.Store.RedisDB)
	str("FACEPAY_STORE_NAMESPACE", &c.Store.Namespace)
	dur("FACEPAY_STORE_TTL", &c.Store.TTL)

	return errors.Join(errs...)
}

// Validate checks the configuration and returns any problems.
func (c Config) Validate() []string {
	var errs []string

	if c.Listen == "" {
		errs = append(errs, "listen address is required")
	}
	switch c.Provider {
	case ProviderSimulator, ProviderBridge:
	case ProviderCamera:
		if c.Camera.SnapshotURL == "" {
			errs = append(errs, "camera provider requires camera.snapshot_url")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown provider %q (want %s)", c.Provider,
			strings.Join([]string{ProviderSimulator, ProviderCamera, ProviderBridge}, ", ")))
	}

	if c.Scan.Increment < 1 || c.Scan.Increment > 100 {
		errs = append(errs, "scan.increment must be between 1 and 100")
	}
	if c.Scan.SampleInterval <= 0 {
		errs = append(errs, "scan.sample_interval must be positive")
	}
	if c.Scan.MinConfidence < 0 || c.Scan.MinConfidence > 1 {
		errs = append(errs, "scan.min_confidence must be between 0 and 1")
	}
	if c.Scan.PermissionTimeout < 0 || c.Scan.CaptureTimeout < 0 {
		errs = append(errs, "scan timeouts must not be negative")
	}

	if c.Simulator.PresenceRate < 0 || c.Simulator.PresenceRate > 1 {
		errs = append(errs, "simulator.presence_rate must be between 0 and 1")
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, "redis store requires store.redis_addr")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store %q (want memory or redis)", c.Store.Kind))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, "store.ttl must not be negative")
	}

	return errs
}
