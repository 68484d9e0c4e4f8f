// Package engine owns the lifecycle of a loaded segmentation model.
//
// An Engine is loaded once, runs one synchronous forward pass per call and is
// released exactly once. Backends (TFLite, ONNX) live in subpackages and
// register themselves with Register; import them for side effects:
//
//	import _ "github.com/teslashibe/segcam/pkg/engine/tflite"
package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gorgonia.org/tensor"
)

// Engine runs a fixed-shape model.
type Engine interface {
	// Run executes one forward pass. in must match InputShape.
	Run(in *tensor.Dense) (*tensor.Dense, error)

	// InputShape is the NHWC input shape, fixed at load time.
	InputShape() tensor.Shape

	// OutputShape is the NHWC output shape, fixed at load time.
	OutputShape() tensor.Shape

	// Release frees the runtime. Only the first call succeeds.
	Release() error
}

// Config holds engine configuration.
type Config struct {
	Backend   string `yaml:"backend" json:"backend"`       // "tflite", "onnx" or "" to pick by file extension
	Model     string `yaml:"model" json:"model"`           // Artifact name inside the asset filesystem
	Threads   int    `yaml:"threads" json:"threads"`       // Intra-op worker threads
	InputSize int    `yaml:"input_size" json:"input_size"` // Square input size S; 0 reads it from the model when possible
	Channels  int    `yaml:"channels" json:"channels"`     // Input channels C_in; 0 reads it from the model when possible
}

// DefaultThreads is the worker count measured as the sweet spot on mid-range
// phone CPUs for this model family.
const DefaultThreads = 7

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Model:     "model.tflite",
		Threads:   DefaultThreads,
		InputSize: 256,
		Channels:  3,
	}
}

// Validate checks the config values.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string
	if c.Model == "" {
		errs = append(errs, "model must be set")
	}
	if c.Threads < 1 {
		errs = append(errs, "threads must be at least 1")
	}
	if c.InputSize < 0 {
		errs = append(errs, "input_size must not be negative")
	}
	if c.Channels != 0 && c.Channels != 1 && c.Channels != 3 && c.Channels != 4 {
		errs = append(errs, "channels must be 1, 3 or 4")
	}
	return errs
}

// Opener builds an Engine from raw model bytes.
type Opener func(model []byte, cfg Config) (Engine, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Opener{}
	extensions = map[string]string{}
)

// Register makes a backend available under name and claims file extensions
// (".tflite") for automatic selection.
func Register(name string, open Opener, exts ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[name]; dup {
		panic("engine: Register called twice for backend " + name)
	}
	backends[name] = open
	for _, ext := range exts {
		extensions[strings.ToLower(ext)] = name
	}
}

// Backends returns the registered backend names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads cfg.Model from the bundled asset filesystem and opens it with the
// configured backend.
func Load(assets fs.FS, cfg Config) (Engine, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("engine: invalid config: %v", errs)
	}

	name := cfg.Backend
	if name == "" {
		backendsMu.RLock()
		name = extensions[strings.ToLower(path.Ext(cfg.Model))]
		backendsMu.RUnlock()
	}
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}

	data, err := fs.ReadFile(assets, cfg.Model)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model)
		}
		return nil, fmt.Errorf("engine: read %s: %w", cfg.Model, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrModelInvalid, cfg.Model)
	}

	eng, err := open(data, cfg)
	if err != nil {
		return nil, WrapError(name, err)
	}
	return eng, nil
}
