package capture

import (
	"context"
	"errors"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/segcam/pkg/debug"
)

// Sentinel errors for common conditions.
var (
	// ErrClosed is returned when using a closed source.
	ErrClosed = errors.New("capture: source closed")

	// ErrPermissionDenied is returned when the camera cannot be accessed.
	ErrPermissionDenied = errors.New("capture: camera permission denied")

	// ErrOpen is returned when a device, file or stream cannot be opened.
	ErrOpen = errors.New("capture: cannot open source")

	// ErrNoFrame is returned when the device yields no image.
	ErrNoFrame = errors.New("capture: no frame")
)

// Handler processes one frame and must call frame.Release when done.
// It runs on the source's delivery goroutine.
type Handler func(*Frame)

// PreviewFunc observes every captured frame, including the ones the
// processor never sees. It runs on the read goroutine and must not retain
// the frame.
type PreviewFunc func(*Frame)

// Stats counts frames per source.
type Stats struct {
	Captured  uint64 `json:"captured"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Source produces frames.
type Source interface {
	// Run captures frames and delivers them to h until ctx ends.
	Run(ctx context.Context, h Handler) error

	// Stats returns frame counters.
	Stats() Stats

	// Close releases the device.
	Close() error
}

// Orienter is implemented by sources whose rotation and mirroring can
// change while running.
type Orienter interface {
	SetOrientation(rotation int, mirror bool)
}

// orientation is the rotation and mirror flag stamped on new frames.
type orientation struct {
	rotation atomic.Int64
	mirror   atomic.Bool
}

// SetOrientation applies to frames captured after the call.
func (o *orientation) SetOrientation(rotation int, mirror bool) {
	o.rotation.Store(int64(rotation))
	o.mirror.Store(mirror)
}

func (o *orientation) stamp(f *Frame) *Frame {
	f.Rotation = int(o.rotation.Load())
	f.Mirror = o.mirror.Load()
	return f
}

// pump runs the read loop and the delivery loop until either fails or ctx
// ends. read blocks until the next frame is available.
func pump(ctx context.Context, slot *Slot, h Handler, preview PreviewFunc,
	captured *atomic.Uint64, read func(ctx context.Context, seq uint64) (*Frame, error)) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return slot.Run(ctx, h)
	})

	g.Go(func() error {
		defer slot.Close()
		for seq := uint64(1); ; seq++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := read(ctx, seq)
			if err != nil {
				return err
			}
			captured.Inc()
			if preview != nil {
				preview(f)
			}
			if slot.Offer(f) {
				debug.FrameLog("📷 frame %d replaced a pending frame\n", seq)
			}
		}
	})

	return g.Wait()
}
