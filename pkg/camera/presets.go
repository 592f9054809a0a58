package camera

import "strconv"

// Preset names for common configurations
const (
	PresetDefault = "default"
	PresetLow     = "low"
	PresetKiosk   = "kiosk"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault: DefaultConfig(),
		PresetLow:     LowBandwidthConfig(),
		PresetKiosk:   KioskConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{PresetDefault, PresetLow, PresetKiosk}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// LowBandwidthConfig is for devices bridged over a weak mobile link.
func LowBandwidthConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	cfg.Framerate = 5
	cfg.Quality = 70
	return cfg
}

// KioskConfig is for a fixed counter camera looking at the queue.
func KioskConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	cfg.Framerate = 30
	cfg.Quality = 90
	cfg.Facing = FacingEnvironment
	cfg.Mirror = false
	return cfg
}

func itoa(n int) string { return strconv.Itoa(n) }
