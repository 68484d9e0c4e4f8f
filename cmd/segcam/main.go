// segcam - live camera person segmentation with a browser overlay
// Captures frames, runs an on-device segmentation model and serves the mask
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/segcam/internal/config"
	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/app"
	"github.com/teslashibe/segcam/pkg/debug"

	_ "github.com/teslashibe/segcam/pkg/engine/onnx"
	_ "github.com/teslashibe/segcam/pkg/engine/tflite"
)

func main() {
	cfg, path := parseFlags()

	a, err := app.New(cfg, path)
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if err := a.Init(); err != nil {
		stdlog.Fatalf("❌ Initialization failed: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		a.Shutdown()
		stdlog.Fatalf("❌ Runtime error: %v", err)
	}
}

// parseFlags loads the config file and applies command line overrides.
// Returns the config and the path to watch for changes ("" if none).
func parseFlags() (config.Config, string) {
	path := flag.String("config", config.DefaultPath, "YAML config file")
	listen := flag.String("listen", "", "Dashboard listen address")
	source := flag.String("source", "", "Frame source: webcam or synthetic")
	device := flag.String("device", "", "Camera index, device path or stream URL")
	model := flag.String("model", "", "Model file inside the assets directory")
	backend := flag.String("backend", "", "Inference backend (default: by model extension)")
	threads := flag.Int("threads", 0, "Inference threads")
	threshold := flag.Float64("threshold", -1, "Mask confidence threshold")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	debugFlag := flag.Bool("debug", false, "Enable verbose debug logging")
	debugFrames := flag.Bool("debug-frames", false, "Log every processed frame")
	flag.Parse()

	cfg, err := config.Load(*path)
	watch := *path
	if errors.Is(err, fs.ErrNotExist) && !isSet("config") {
		// no config file is fine; env and flags still apply
		cfg, err = config.Load("")
		watch = ""
	}
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *source != "" {
		cfg.Source = *source
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *model != "" {
		cfg.Engine.Model = *model
	}
	if *backend != "" {
		cfg.Engine.Backend = *backend
	}
	if *threads > 0 {
		cfg.Engine.Threads = *threads
	}
	if *threshold >= 0 {
		cfg.Mask.Threshold = float32(*threshold)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	debug.Enabled = *debugFlag
	debug.Frames = *debugFrames
	if debug.Enabled && cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	return cfg, watch
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) { set = set || f.Name == name })
	return set
}
