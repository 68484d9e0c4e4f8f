package capture

import (
	"context"
	"io"
	"time"

	"go.uber.org/atomic"
)

// SyntheticConfig describes a generated test pattern.
type SyntheticConfig struct {
	Width    int
	Height   int
	Rotation int
	Mirror   bool

	// Interval between frames. Zero produces frames as fast as they are
	// consumed by the read loop.
	Interval time.Duration

	// Limit stops the source with io.EOF after this many frames. Zero
	// means unlimited.
	Limit uint64
}

// Synthetic produces an RGBA pattern of a bright square moving across a
// dark background. It needs no camera and is used for demos and tests.
type Synthetic struct {
	cfg     SyntheticConfig
	preview PreviewFunc
	orientation

	slot     *Slot
	captured atomic.Uint64
	closed   atomic.Bool
}

// NewSynthetic creates a synthetic source. preview may be nil.
func NewSynthetic(cfg SyntheticConfig, preview PreviewFunc) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	s := &Synthetic{cfg: cfg, preview: preview, slot: NewSlot()}
	s.SetOrientation(cfg.Rotation, cfg.Mirror)
	return s
}

// Run generates frames until ctx ends, Limit is reached or Close is called.
func (s *Synthetic) Run(ctx context.Context, h Handler) error {
	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	return pump(ctx, s.slot, h, s.preview, &s.captured, func(ctx context.Context, seq uint64) (*Frame, error) {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if s.cfg.Limit > 0 && seq > s.cfg.Limit {
			return nil, io.EOF
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tick:
			}
		}
		return s.stamp(NewFrame(seq, s.cfg.Width, s.cfg.Height, RGBA8888, Pattern(s.cfg.Width, s.cfg.Height, seq), nil)), nil
	})
}

// Pattern renders frame seq of the moving-square pattern as RGBA bytes.
func Pattern(width, height int, seq uint64) []byte {
	pix := make([]byte, width*height*4)
	side := min(width, height) / 3
	if side < 1 {
		side = 1
	}
	span := width - side + 1
	x0 := int(seq % uint64(span))
	y0 := (height - side) / 2

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			v := byte(0x20)
			if x >= x0 && x < x0+side && y >= y0 && y < y0+side {
				v = 0xF0
			}
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 0xFF
		}
	}
	return pix
}

// Stats returns frame counters.
func (s *Synthetic) Stats() Stats {
	return Stats{
		Captured:  s.captured.Load(),
		Delivered: s.slot.Delivered(),
		Dropped:   s.slot.Dropped(),
	}
}

// Close stops the source.
func (s *Synthetic) Close() error {
	s.closed.Store(true)
	s.slot.Close()
	return nil
}
