// Package processor turns camera frames into published segmentation masks.
//
// For each frame: copy to RGBA, rotate upright, stretch to the model input,
// run one forward pass, threshold the scores into a binary mask, resize it
// to the display and publish it. Failures drop the frame.
package processor

import (
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/debug"
	"github.com/teslashibe/segcam/pkg/engine"
	"github.com/teslashibe/segcam/pkg/latest"
	"github.com/teslashibe/segcam/pkg/mask"
	"github.com/teslashibe/segcam/pkg/preprocess"
)

var (
	// ErrInvalidDimensions is returned for non-positive display sizes.
	ErrInvalidDimensions = errors.New("processor: invalid display dimensions")

	// ErrNotInitialized is returned when processing before Init.
	ErrNotInitialized = errors.New("processor: not initialized")

	// ErrModelShape is returned by Init when the model is not [1,S,S,C] in
	// and [1,H,W,1] out.
	ErrModelShape = errors.New("processor: unsupported model shape")
)

// Config holds the runtime-tunable parts of the processor.
type Config struct {
	Threshold float32
	Color     color.NRGBA
}

// DefaultConfig returns the default threshold and a white mask.
func DefaultConfig() Config {
	return Config{
		Threshold: mask.DefaultThreshold,
		Color:     mask.White,
	}
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	Processed     uint64  `json:"processed"`
	Failed        uint64  `json:"failed"`
	LastLatencyMS float64 `json:"last_latency_ms"`
	MaskVersion   uint64  `json:"mask_version"`
	DisplayWidth  int     `json:"display_width"`
	DisplayHeight int     `json:"display_height"`
}

// Processor runs frames through an engine. ProcessFrame is called from a
// single goroutine (the capture delivery loop); everything else is safe
// for concurrent use.
type Processor struct {
	engine  engine.Engine
	metrics *Metrics
	log     *slog.Logger

	size     int // model input S
	channels int
	outW     int
	outH     int
	ready    atomic.Bool

	threshold atomic.Float32
	color     atomic.Pointer[color.NRGBA]
	display   atomic.Uint64 // width<<32 | height

	masks *latest.Value[mask.Mask]

	processed   atomic.Uint64
	failed      atomic.Uint64
	lastLatency atomic.Duration

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a processor around a loaded engine. metrics may be nil.
// Call Init before the first frame.
func New(eng engine.Engine, cfg Config, metrics *Metrics) *Processor {
	p := &Processor{
		engine:  eng,
		metrics: metrics,
		log:     log.Component("processor"),
		masks:   latest.New[mask.Mask](nil),
	}
	p.threshold.Store(cfg.Threshold)
	c := cfg.Color
	p.color.Store(&c)
	return p
}

// Init checks the model shapes and publishes an empty mask at the display
// size, or at the model output size if no display size is known yet.
func (p *Processor) Init() error {
	in, out := p.engine.InputShape(), p.engine.OutputShape()
	if len(in) != 4 || in[0] != 1 || in[1] != in[2] || in[1] <= 0 {
		return fmt.Errorf("%w: input %v", ErrModelShape, in)
	}
	if len(out) != 4 || out[0] != 1 || out[3] != 1 || out[1] <= 0 || out[2] <= 0 {
		return fmt.Errorf("%w: output %v", ErrModelShape, out)
	}

	p.size, p.channels = in[1], in[3]
	p.outH, p.outW = out[1], out[2]
	p.display.CompareAndSwap(0, pack(p.outW, p.outH))

	w, h := p.DisplayDimensions()
	placeholder, err := mask.Empty(w, h)
	if err != nil {
		return err
	}
	p.masks.Store(placeholder)
	p.ready.Store(true)

	p.log.Info("processor ready",
		"input", fmt.Sprint(in), "output", fmt.Sprint(out),
		"threshold", p.Threshold(), "display_width", w, "display_height", h)
	return nil
}

// ProcessFrame produces and publishes the mask for f. It does not release
// f. On error nothing is published.
func (p *Processor) ProcessFrame(f *capture.Frame) error {
	if !p.ready.Load() {
		return ErrNotInitialized
	}
	start := time.Now()

	m, err := p.segment(f)
	if err != nil {
		p.failed.Inc()
		p.metrics.fail()
		return fmt.Errorf("frame %d: %w", f.Seq, err)
	}

	version := p.masks.Store(m)
	elapsed := time.Since(start)
	p.processed.Inc()
	p.lastLatency.Store(elapsed)
	p.metrics.observe(elapsed, m.Coverage())

	debug.FrameLog("🎭 frame %d -> mask v%d %dx%d in %v\n", f.Seq, version, m.Width(), m.Height(), elapsed)
	return nil
}

func (p *Processor) segment(f *capture.Frame) (*mask.Mask, error) {
	img, err := f.RGBA()
	if err != nil {
		return nil, err
	}
	upright, err := preprocess.Rotate(img, f.Rotation)
	if err != nil {
		return nil, err
	}
	in, err := preprocess.FromImage(upright, p.size, p.channels)
	if err != nil {
		return nil, err
	}

	out, err := p.engine.Run(in)
	if err != nil {
		return nil, err
	}
	scores, err := engine.Float32s(out)
	if err != nil {
		return nil, err
	}

	m, err := mask.Decode(scores, p.outW, p.outH, p.Threshold())
	if err != nil {
		return nil, err
	}

	w, h := p.DisplayDimensions()
	if w == m.Width() && h == m.Height() {
		return m, nil
	}
	return m.Resize(w, h)
}

// Handle processes f and always releases it. It is a capture.Handler.
func (p *Processor) Handle(f *capture.Frame) {
	defer f.Release()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Inc()
			p.metrics.fail()
			p.log.Error("frame processing panicked", "seq", f.Seq, "panic", r)
		}
	}()

	if err := p.ProcessFrame(f); err != nil {
		p.log.Debug("frame dropped", "error", err)
	}
}

// UpdateDisplayDimensions sets the size of future masks.
func (p *Processor) UpdateDisplayDimensions(width, height int) error {
	if width <= 0 || height <= 0 || width > mask.MaxDimension || height > mask.MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	p.display.Store(pack(width, height))
	p.log.Debug("display dimensions updated", "width", width, "height", height)
	return nil
}

// DisplayDimensions returns the current mask size.
func (p *Processor) DisplayDimensions() (width, height int) {
	v := p.display.Load()
	return int(v >> 32), int(v & 0xFFFFFFFF)
}

// SetThreshold changes the decode threshold for future frames.
func (p *Processor) SetThreshold(t float32) {
	p.threshold.Store(t)
}

// Threshold returns the decode threshold.
func (p *Processor) Threshold() float32 {
	return p.threshold.Load()
}

// SetColor changes the color masks are rendered in.
func (p *Processor) SetColor(c color.NRGBA) {
	p.color.Store(&c)
}

// Color returns the mask render color.
func (p *Processor) Color() color.NRGBA {
	return *p.color.Load()
}

// Masks returns the published mask cell. The value is nil until Init.
func (p *Processor) Masks() *latest.Value[mask.Mask] {
	return p.masks
}

// InputShape returns the model input shape.
func (p *Processor) InputShape() []int { return p.engine.InputShape() }

// OutputShape returns the model output shape.
func (p *Processor) OutputShape() []int { return p.engine.OutputShape() }

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	w, h := p.DisplayDimensions()
	return Stats{
		Processed:     p.processed.Load(),
		Failed:        p.failed.Load(),
		LastLatencyMS: float64(p.lastLatency.Load().Microseconds()) / 1000,
		MaskVersion:   p.masks.Version(),
		DisplayWidth:  w,
		DisplayHeight: h,
	}
}

// Shutdown releases the engine. Later calls return the first result.
func (p *Processor) Shutdown() error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.engine.Release()
		p.log.Info("processor stopped", "processed", p.processed.Load(), "failed", p.failed.Load())
	})
	return p.shutdownErr
}

func pack(width, height int) uint64 {
	return uint64(width)<<32 | uint64(uint32(height))
}
