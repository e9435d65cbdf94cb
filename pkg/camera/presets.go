package camera

// Preset names for common configurations
const (
	PresetDefault  = "default"
	PresetLegacy   = "legacy"
	Preset720p     = "720p"
	Preset1080p    = "1080p"
	Preset4K       = "4k"
	PresetDocument = "document"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		PresetLegacy:   LegacyConfig(),
		Preset720p:     HD720Config(),
		Preset1080p:    DefaultConfig(),
		Preset4K:       UHD4KConfig(),
		PresetDocument: DocumentConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLegacy,
		Preset720p,
		Preset1080p,
		Preset4K,
		PresetDocument,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// LegacyConfig returns a 640x480 configuration for old webcams.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// UHD4KConfig returns 4K UHD configuration.
// Maximum capture detail, lower framerate.
func UHD4KConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 3840
	cfg.Height = 2160
	cfg.Framerate = 15
	return cfg
}

// DocumentConfig favours capture detail for text: 4K at a slow framerate,
// since the live loop only samples a few frames per second anyway.
func DocumentConfig() Config {
	cfg := UHD4KConfig()
	cfg.Framerate = 10
	return cfg
}
