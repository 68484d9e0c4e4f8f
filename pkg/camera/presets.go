package camera

// Preset names for common configurations
const (
	PresetDefault   = "default"
	PresetLandscape = "landscape"
	PresetFront     = "front"
	Preset720p      = "720p"
	Preset1080p     = "1080p"
	PresetLowPower  = "lowpower"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:   DefaultConfig(),
		PresetLandscape: LandscapeConfig(),
		PresetFront:     FrontConfig(),
		Preset720p:      HD720Config(),
		Preset1080p:     HD1080Config(),
		PresetLowPower:  LowPowerConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetLandscape,
		PresetFront,
		Preset720p,
		Preset1080p,
		PresetLowPower,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// LandscapeConfig returns the default config without rotation.
// Use this for USB webcams mounted the right way up.
func LandscapeConfig() Config {
	cfg := DefaultConfig()
	cfg.Rotation = 0
	return cfg
}

// FrontConfig returns a mirrored config for front-facing lenses.
func FrontConfig() Config {
	cfg := DefaultConfig()
	cfg.Rotation = 270
	cfg.Mirror = true
	return cfg
}

// HD720Config returns 720p HD configuration.
// The model input is tiny, so this mostly helps the preview.
func HD720Config() Config {
	cfg := LandscapeConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	cfg := LandscapeConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	cfg.Framerate = 15 // frame copy dominates at this size
	return cfg
}

// LowPowerConfig returns a small, slow configuration for weak CPUs.
func LowPowerConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	cfg.Framerate = 10
	cfg.Quality = 60
	return cfg
}
