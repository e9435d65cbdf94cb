package camera

import (
	"fmt"
	"strings"
	"sync"
)

// Update is a partial settings change. Nil fields are left alone; Preset,
// when set, replaces everything but the device before the other fields apply.
type Update struct {
	Preset    string `json:"preset,omitempty"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
	Framerate *int   `json:"framerate,omitempty"`
	Autofocus *bool  `json:"autofocus,omitempty"`
}

// Manager owns the live camera settings and pushes accepted changes to the
// open source.
type Manager struct {
	mu     sync.RWMutex
	config Config

	// OnConfigChange applies new settings to the open source, e.g. Device.Apply.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager starting from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current settings.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates cfg, applies it to the source and stores it. Settings
// the source rejects are not stored.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OnConfigChange != nil {
		if err := m.OnConfigChange(cfg); err != nil {
			return fmt.Errorf("camera: apply settings: %w", err)
		}
	}
	m.config = cfg
	return nil
}

// Apply merges u into the current settings and stores the result.
func (m *Manager) Apply(u Update) (Config, error) {
	cfg := m.GetConfig()

	if u.Preset != "" {
		preset := GetPreset(u.Preset)
		if preset == nil {
			return cfg, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, u.Preset)
		}
		device := cfg.Device
		cfg = *preset
		cfg.Device = device
	}
	if u.Width != nil {
		cfg.Width = *u.Width
	}
	if u.Height != nil {
		cfg.Height = *u.Height
	}
	if u.Framerate != nil {
		cfg.Framerate = *u.Framerate
	}
	if u.Autofocus != nil {
		cfg.Autofocus = *u.Autofocus
	}

	if err := m.SetConfig(cfg); err != nil {
		return m.GetConfig(), err
	}
	return cfg, nil
}
