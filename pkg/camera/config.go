// Package camera provides runtime-configurable capture settings.
package camera

import "strconv"

// Config holds all camera configuration parameters.
// These can be modified via the camera API at runtime.
type Config struct {
	// Device is a V4L index ("0"), a device node ("/dev/video2"),
	// a video file or a stream URL.
	Device string `json:"device" yaml:"device"`

	// === Resolution ===
	Width     int `json:"width" yaml:"width"`         // Frame width in pixels
	Height    int `json:"height" yaml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate"` // Target FPS
	Quality   int `json:"quality" yaml:"quality"`     // Preview JPEG quality 1-100

	// === Orientation ===
	// Rotation is the clockwise rotation in degrees that makes a captured
	// frame upright on the display. Values: 0, 90, 180, 270
	Rotation int `json:"rotation" yaml:"rotation"`

	// Mirror flips frames horizontally, as expected for front lenses.
	Mirror bool `json:"mirror" yaml:"mirror"`
}

// Limits for validation.
const (
	MaxWidth     = 4096
	MaxHeight    = 4096
	MaxFramerate = 120
)

// DefaultConfig returns the back-camera configuration: 640x480, upright
// after a quarter turn, like a phone held in portrait.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   80,
		Rotation:  90,
		Mirror:    false,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device must be set")
	}

	// Resolution
	if c.Width < 16 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 16 and 4096")
	}
	if c.Height < 16 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 16 and 4096")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	// Orientation
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		errors = append(errors, "rotation must be 0, 90, 180 or 270")
	}

	return errors
}

// DeviceIndex returns the numeric V4L index when Device is one.
func (c *Config) DeviceIndex() (int, bool) {
	n, err := strconv.Atoi(c.Device)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// DisplaySize returns the frame size after rotation.
func (c *Config) DisplaySize() (width, height int) {
	if c.Rotation == 90 || c.Rotation == 270 {
		return c.Height, c.Width
	}
	return c.Width, c.Height
}
