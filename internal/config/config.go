// Package config provides configuration for segcam commands.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and SEGCAM_* environment variables. Command-line flags
// are applied on top by the command itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/segcam/pkg/camera"
	"github.com/teslashibe/segcam/pkg/engine"
	"github.com/teslashibe/segcam/pkg/mask"
)

// Defaults.
const (
	DefaultPath       = "segcam.yaml"
	DefaultListen     = ":8080"
	DefaultAssets     = "assets"
	DefaultPreviewFPS = 10
)

// Frame sources.
const (
	SourceWebcam    = "webcam"
	SourceSynthetic = "synthetic"
)

// Config is the full application configuration.
type Config struct {
	Listen     string        `yaml:"listen" json:"listen"`
	Assets     string        `yaml:"assets" json:"assets"` // Directory holding the model artifact
	Source     string        `yaml:"source" json:"source"`
	PreviewFPS int           `yaml:"preview_fps" json:"preview_fps"` // 0 disables the preview stream
	LogLevel   string        `yaml:"log_level" json:"log_level"`
	Camera     camera.Config `yaml:"camera" json:"camera"`
	Engine     engine.Config `yaml:"engine" json:"engine"`
	Mask       MaskConfig    `yaml:"mask" json:"mask"`
}

// MaskConfig holds the hot-reloadable decode settings.
type MaskConfig struct {
	Threshold float32 `yaml:"threshold" json:"threshold"`
	Color     string  `yaml:"color" json:"color"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:     DefaultListen,
		Assets:     DefaultAssets,
		Source:     SourceWebcam,
		PreviewFPS: DefaultPreviewFPS,
		Camera:     camera.DefaultConfig(),
		Engine:     engine.DefaultConfig(),
		Mask: MaskConfig{
			Threshold: mask.DefaultThreshold,
			Color:     "white",
		},
	}
}

// Load returns defaults overlaid with the YAML file at path and then the
// environment. An empty path skips the file. A missing file is an error
// matching fs.ErrNotExist.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from SEGCAM_* variables.
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"SEGCAM_LISTEN":     &c.Listen,
		"SEGCAM_ASSETS":     &c.Assets,
		"SEGCAM_SOURCE":     &c.Source,
		"SEGCAM_DEVICE":     &c.Camera.Device,
		"SEGCAM_BACKEND":    &c.Engine.Backend,
		"SEGCAM_MODEL":      &c.Engine.Model,
		"SEGCAM_MASK_COLOR": &c.Mask.Color,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SEGCAM_THREADS":     &c.Engine.Threads,
		"SEGCAM_ROTATION":    &c.Camera.Rotation,
		"SEGCAM_PREVIEW_FPS": &c.PreviewFPS,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", key, v, err)
		}
		*dst = n
	}

	if v := os.Getenv("SEGCAM_THRESHOLD"); v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("config: SEGCAM_THRESHOLD=%q: %w", v, err)
		}
		c.Mask.Threshold = float32(t)
	}
	return nil
}

// Validate checks all sections.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string
	if c.Listen == "" {
		errs = append(errs, "listen must be set")
	}
	if c.Source != SourceWebcam && c.Source != SourceSynthetic {
		errs = append(errs, fmt.Sprintf("source must be %q or %q", SourceWebcam, SourceSynthetic))
	}
	if c.PreviewFPS < 0 || c.PreviewFPS > camera.MaxFramerate {
		errs = append(errs, "preview_fps must be between 0 and 120")
	}
	for _, e := range c.Camera.Validate() {
		errs = append(errs, "camera: "+e)
	}
	for _, e := range c.Engine.Validate() {
		errs = append(errs, "engine: "+e)
	}
	if t := float64(c.Mask.Threshold); math.IsNaN(t) || math.IsInf(t, 0) {
		errs = append(errs, "mask: threshold must be a finite number")
	}
	if _, err := mask.ParseColor(c.Mask.Color); err != nil {
		errs = append(errs, "mask: "+err.Error())
	}
	return errs
}
