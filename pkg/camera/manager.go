package camera

import (
	"fmt"
	"strings"
	"sync"
)

// Update is a partial settings change as sent to PUT /api/camera. Nil
// fields are left alone. Preset, if set, replaces everything first.
type Update struct {
	Preset    *string `json:"preset,omitempty"`
	Width     *int    `json:"width,omitempty"`
	Height    *int    `json:"height,omitempty"`
	Framerate *int    `json:"framerate,omitempty"`
	Quality   *int    `json:"quality,omitempty"`
	Facing    *string `json:"facing,omitempty"`
	Mirror    *bool   `json:"mirror,omitempty"`
}

func (u Update) applyTo(cfg Config) (Config, error) {
	if u.Preset != nil {
		preset := GetPreset(*u.Preset)
		if preset == nil {
			return cfg, fmt.Errorf("camera: unknown preset %q", *u.Preset)
		}
		cfg = *preset
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&cfg.Width, u.Width)
	setInt(&cfg.Height, u.Height)
	setInt(&cfg.Framerate, u.Framerate)
	setInt(&cfg.Quality, u.Quality)
	if u.Facing != nil {
		cfg.Facing = *u.Facing
	}
	if u.Mirror != nil {
		cfg.Mirror = *u.Mirror
	}
	return cfg, nil
}

// Manager holds the live capture settings. Changes are validated and
// offered to the change hook before they take effect.
type Manager struct {
	writeMu  sync.Mutex // serializes Set and Apply, including the hook
	mu       sync.RWMutex
	current  Config
	revision uint64
	onChange func(Config) error
}

// NewManager starts from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{current: cfg}
}

// NewManagerFromPreset starts from a named preset.
func NewManagerFromPreset(name string) (*Manager, error) {
	preset := GetPreset(name)
	if preset == nil {
		return nil, fmt.Errorf("camera: unknown preset %q (have %s)", name, strings.Join(PresetNames(), ", "))
	}
	return NewManager(*preset), nil
}

// OnChange sets a hook run with each new config before it is committed.
// A hook error rejects the change.
func (m *Manager) OnChange(fn func(Config) error) {
	m.writeMu.Lock()
	m.onChange = fn
	m.writeMu.Unlock()
}

// Current returns the settings in effect.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Revision counts committed changes.
func (m *Manager) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Set replaces the settings.
func (m *Manager) Set(cfg Config) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.commitLocked(cfg)
}

// Apply merges u into the current settings and returns the result.
func (m *Manager) Apply(u Update) (Config, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next, err := u.applyTo(m.Current())
	if err != nil {
		return m.Current(), err
	}
	if err := m.commitLocked(next); err != nil {
		return m.Current(), err
	}
	return next, nil
}

// commitLocked must be called with writeMu held.
func (m *Manager) commitLocked(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("camera: invalid settings: %s", strings.Join(errs, "; "))
	}
	if m.onChange != nil {
		if err := m.onChange(cfg); err != nil {
			return fmt.Errorf("camera: settings rejected: %w", err)
		}
	}
	m.mu.Lock()
	m.current = cfg
	m.revision++
	m.mu.Unlock()
	return nil
}
