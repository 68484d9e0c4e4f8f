package camera

import (
	"errors"
	"testing"
)

func TestPresetsAreValid(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := GetPreset(name)
		if cfg == nil {
			t.Errorf("preset %q missing", name)
			continue
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}
	if GetPreset("nope") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"odd rotation", func(c *Config) { c.Rotation = 45 }, false},
		{"tiny width", func(c *Config) { c.Width = 8 }, false},
		{"zero fps", func(c *Config) { c.Framerate = 0 }, false},
		{"no device", func(c *Config) { c.Device = "" }, false},
		{"file device", func(c *Config) { c.Device = "testdata/clip.mp4" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			errs := cfg.Validate()
			if tc.valid && len(errs) > 0 {
				t.Errorf("expected valid, got %v", errs)
			}
			if !tc.valid && len(errs) == 0 {
				t.Error("expected validation errors")
			}
		})
	}
}

func TestDisplaySize(t *testing.T) {
	cfg := DefaultConfig() // 640x480 rotated 90
	if w, h := cfg.DisplaySize(); w != 480 || h != 640 {
		t.Errorf("rotated: got %dx%d, want 480x640", w, h)
	}
	cfg.Rotation = 180
	if w, h := cfg.DisplaySize(); w != 640 || h != 480 {
		t.Errorf("upside down: got %dx%d, want 640x480", w, h)
	}
}

func TestDeviceIndex(t *testing.T) {
	cfg := DefaultConfig()
	if n, ok := cfg.DeviceIndex(); !ok || n != 0 {
		t.Errorf("DeviceIndex: got (%d, %v)", n, ok)
	}
	cfg.Device = "/dev/video2"
	if _, ok := cfg.DeviceIndex(); ok {
		t.Error("device node should not parse as an index")
	}
}

func TestManager_UpdateConfig(t *testing.T) {
	m := NewManager(DefaultConfig())

	var applied Config
	m.OnConfigChange = func(cfg Config) error {
		applied = cfg
		return nil
	}

	err := m.UpdateConfig(map[string]interface{}{
		"preset":   PresetFront,
		"width":    float64(320), // JSON numbers decode as float64
		"height":   240,
		"rotation": 0,
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	got := m.GetConfig()
	if got.Width != 320 || got.Height != 240 || got.Rotation != 0 || !got.Mirror {
		t.Errorf("config: got %+v", got)
	}
	if applied != got {
		t.Errorf("callback saw %+v, manager has %+v", applied, got)
	}
}

func TestManager_RejectsInvalid(t *testing.T) {
	m := NewManager(DefaultConfig())
	if err := m.UpdateConfig(map[string]interface{}{"rotation": 33}); err == nil {
		t.Error("expected validation error")
	}
	if m.GetConfig().Rotation != 90 {
		t.Error("invalid update must not change the config")
	}
	if err := m.UpdateConfig(map[string]interface{}{"preset": "bogus"}); err == nil {
		t.Error("expected unknown preset error")
	}
}

func TestManager_CallbackError(t *testing.T) {
	m := NewManager(DefaultConfig())
	boom := errors.New("device busy")
	m.OnConfigChange = func(Config) error { return boom }

	next := DefaultConfig()
	next.Rotation = 0
	if err := m.SetConfig(next); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped callback error", err)
	}
	if m.GetConfig().Rotation != 90 {
		t.Error("failed apply must keep the previous config")
	}
}
