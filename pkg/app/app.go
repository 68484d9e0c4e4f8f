// Package app wires the segcam pipeline together: capture source,
// processor, inference engine and dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/segcam/internal/config"
	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/camera"
	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/engine"
	"github.com/teslashibe/segcam/pkg/mask"
	"github.com/teslashibe/segcam/pkg/processor"
	"github.com/teslashibe/segcam/pkg/web"
)

// ErrRestartRequired is returned for camera changes that cannot be applied
// to a running source.
var ErrRestartRequired = errors.New("app: change requires a restart")

// ConfigError lists configuration problems found by New.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// App is the main segcam application orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config     config.Config
	configPath string
	assets     fs.FS
	fileMask   *config.MaskConfig // mask section last read from configPath

	registry   *prometheus.Registry
	processor  *processor.Processor
	permission *capture.Permission
	camera     *camera.Manager
	webServer  *web.Server

	mu     sync.Mutex
	source capture.Source

	stopWeb context.CancelFunc
	webDone chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an application. configPath, if set, is watched for threshold
// and color changes while running.
func New(cfg config.Config, configPath string) (*App, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return &App{
		config:     cfg,
		configPath: configPath,
		assets:     os.DirFS(cfg.Assets),
	}, nil
}

// Init loads the model and builds every component. Call this after New()
// and before Run(). A model that cannot be loaded is fatal.
func (a *App) Init() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.Load(a.assets, a.config.Engine)
	if err != nil {
		return fmt.Errorf("load model %s/%s: %w", a.config.Assets, a.config.Engine.Model, err)
	}

	color, err := mask.ParseColor(a.config.Mask.Color)
	if err != nil {
		return multierr.Append(err, eng.Release())
	}

	a.processor = processor.New(eng, processor.Config{
		Threshold: a.config.Mask.Threshold,
		Color:     color,
	}, processor.NewMetrics(a.registry))
	if err := a.processor.Init(); err != nil {
		return multierr.Append(err, a.processor.Shutdown())
	}

	a.camera = camera.NewManager(a.config.Camera)
	a.camera.OnConfigChange = a.applyCamera

	check := func() capture.PermissionState { return capture.PermissionState{Granted: true} }
	if a.config.Source == config.SourceWebcam {
		check = capture.DeviceCheck(a.config.Camera)
	}
	a.permission = capture.NewPermission(check)

	a.webServer = web.NewServer(web.Options{
		Pipeline:     a.processor,
		Permission:   a.permission,
		Camera:       a.camera,
		CaptureStats: a.captureStats,
		Gatherer:     a.registry,
		PreviewFPS:   a.config.PreviewFPS,
	})

	log.Info("segcam initialized",
		"source", a.config.Source,
		"model", a.config.Engine.Model,
		"threads", a.config.Engine.Threads,
		"threshold", a.config.Mask.Threshold)
	return nil
}

// Run serves the dashboard and processes frames until ctx ends. Capture
// waits for camera permission first; the dashboard is available meanwhile.
func (a *App) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	webCtx, stopWeb := context.WithCancel(context.Background())
	a.stopWeb = stopWeb
	a.webDone = make(chan error, 1)
	go func() {
		err := a.webServer.Run(webCtx, a.config.Listen)
		if err != nil {
			cancel(fmt.Errorf("dashboard: %w", err))
		}
		a.webDone <- err
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.capture(ctx) })
	if a.configPath != "" {
		a.loadFileMask()
		g.Go(func() error { return config.Watch(ctx, a.configPath, a.applyConfig) })
	}

	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func (a *App) capture(ctx context.Context) error {
	if st := a.permission.Request(); !st.Granted {
		log.Warn("camera permission denied, waiting for a new request",
			"reason", st.Reason, "show_rationale", st.ShowRationale)
	}
	if err := a.permission.WaitGranted(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	src, err := a.openSource()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.source = src
	a.mu.Unlock()

	err = src.Run(ctx, a.processor.Handle)
	switch {
	case errors.Is(err, io.EOF):
		log.Info("capture source ended", "stats", src.Stats())
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

func (a *App) openSource() (capture.Source, error) {
	cfg := a.camera.GetConfig()
	if a.config.Source == config.SourceSynthetic {
		return capture.NewSynthetic(capture.SyntheticConfig{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Rotation: cfg.Rotation,
			Mirror:   cfg.Mirror,
			Interval: time.Second / time.Duration(cfg.Framerate),
		}, a.webServer.Preview), nil
	}
	return capture.OpenWebcam(cfg, a.webServer.Preview)
}

func (a *App) captureStats() capture.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == nil {
		return capture.Stats{}
	}
	return a.source.Stats()
}

// applyCamera applies orientation changes live. Quality is read by the
// preview encoder on every frame.
func (a *App) applyCamera(cfg camera.Config) error {
	a.mu.Lock()
	src := a.source
	a.mu.Unlock()

	running := a.config.Camera
	if cfg.Device != running.Device || cfg.Width != running.Width ||
		cfg.Height != running.Height || cfg.Framerate != running.Framerate {
		return fmt.Errorf("%w: device, resolution and framerate are fixed while running", ErrRestartRequired)
	}

	if o, ok := src.(capture.Orienter); ok {
		o.SetOrientation(cfg.Rotation, cfg.Mirror)
	}
	log.Info("camera orientation updated", "rotation", cfg.Rotation, "mirror", cfg.Mirror)
	return nil
}

// loadFileMask records the mask section as the config file has it now, so
// reloads only override settings the file actually changes.
func (a *App) loadFileMask() {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		log.Warn("config baseline not loaded", "path", a.configPath, "error", err)
		return
	}
	a.fileMask = &cfg.Mask
}

// applyConfig hot-reloads the mask settings from the config file. A setting
// the file leaves unchanged keeps its current value, including flag
// overrides.
func (a *App) applyConfig(cfg config.Config) {
	prev := a.fileMask
	a.fileMask = &cfg.Mask

	if prev == nil || cfg.Mask.Threshold != prev.Threshold {
		a.processor.SetThreshold(cfg.Mask.Threshold)
	}
	if prev == nil || cfg.Mask.Color != prev.Color {
		if c, err := mask.ParseColor(cfg.Mask.Color); err == nil {
			a.processor.SetColor(c)
		}
	}
	if cfg.Engine != a.config.Engine || cfg.Source != a.config.Source || cfg.Listen != a.config.Listen {
		log.Warn("config changes outside mask settings take effect after a restart")
	}
}

// Processor returns the frame processor, valid after Init.
func (a *App) Processor() *processor.Processor {
	return a.processor
}

// Shutdown stops capture, releases the engine and then stops the dashboard,
// in that order. Later calls return the first result.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		src := a.source
		a.mu.Unlock()

		var err error
		if src != nil {
			err = multierr.Append(err, src.Close())
		}
		if a.processor != nil {
			err = multierr.Append(err, a.processor.Shutdown())
		}
		if a.stopWeb != nil {
			a.stopWeb()
			err = multierr.Append(err, <-a.webDone)
		}
		a.shutdownErr = err
		log.Info("segcam stopped", "error", err)
	})
	return a.shutdownErr
}
