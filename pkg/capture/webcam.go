package capture

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"gocv.io/x/gocv"

	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/camera"
)

// maxMisses is how many empty reads in a row end the capture.
const maxMisses = 30

// Webcam captures frames from a V4L device, video file or stream URL.
type Webcam struct {
	cfg     camera.Config
	preview PreviewFunc
	orientation

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	bgr    gocv.Mat
	rgba   gocv.Mat
	closed bool

	slot     *Slot
	captured atomic.Uint64
}

// OpenWebcam opens the device named by cfg.Device. preview may be nil.
func OpenWebcam(cfg camera.Config, preview PreviewFunc) (*Webcam, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("capture: invalid camera config: %v", errs)
	}

	var device interface{} = cfg.Device
	if n, ok := cfg.DeviceIndex(); ok {
		device = n
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpen, cfg.Device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	log.Info("webcam opened", "device", cfg.Device,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"rotation", cfg.Rotation, "mirror", cfg.Mirror)

	w := &Webcam{
		cfg:     cfg,
		preview: preview,
		vc:      vc,
		bgr:     gocv.NewMat(),
		rgba:    gocv.NewMat(),
		slot:    NewSlot(),
	}
	w.SetOrientation(cfg.Rotation, cfg.Mirror)
	return w, nil
}

// Run captures until ctx ends, the device fails or Close is called.
func (w *Webcam) Run(ctx context.Context, h Handler) error {
	return pump(ctx, w.slot, h, w.preview, &w.captured, w.read)
}

func (w *Webcam) read(ctx context.Context, seq uint64) (*Frame, error) {
	for misses := 0; misses < maxMisses; misses++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil, ErrClosed
		}
		if !w.vc.Read(&w.bgr) || w.bgr.Empty() {
			w.mu.Unlock()
			continue
		}
		gocv.CvtColor(w.bgr, &w.rgba, gocv.ColorBGRToRGBA)
		width, height := w.rgba.Cols(), w.rgba.Rows()
		pix := w.rgba.ToBytes()
		w.mu.Unlock()

		return w.stamp(NewFrame(seq, width, height, RGBA8888, pix, nil)), nil
	}
	return nil, fmt.Errorf("capture: %s: %w after %d attempts", w.cfg.Device, ErrNoFrame, maxMisses)
}

// Stats returns frame counters.
func (w *Webcam) Stats() Stats {
	return Stats{
		Captured:  w.captured.Load(),
		Delivered: w.slot.Delivered(),
		Dropped:   w.slot.Dropped(),
	}
}

// Close releases the device. Safe to call more than once.
func (w *Webcam) Close() error {
	w.slot.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.vc.Close()
	w.bgr.Close()
	w.rgba.Close()
	return err
}
