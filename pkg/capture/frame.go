// Package capture delivers camera frames to a processing callback with a
// single-slot, latest-frame-wins contract.
package capture

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// PixelFormat describes the layout of Frame.Pix.
type PixelFormat int

const (
	// RGBA8888 is 4 bytes per pixel, R G B A.
	RGBA8888 PixelFormat = iota
	// BGR888 is 3 bytes per pixel, B G R (OpenCV native).
	BGR888
)

// BytesPerPixel returns the pixel stride of the format.
func (f PixelFormat) BytesPerPixel() int {
	if f == BGR888 {
		return 3
	}
	return 4
}

func (f PixelFormat) String() string {
	switch f {
	case RGBA8888:
		return "rgba8888"
	case BGR888:
		return "bgr888"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Frame is one captured image. It is owned by the capture source until the
// handler calls Release; the handler must not retain Pix afterwards.
type Frame struct {
	Seq      uint64
	Time     time.Time
	Width    int
	Height   int
	Format   PixelFormat
	Rotation int // clockwise degrees needed to display the frame upright
	Mirror   bool
	Pix      []byte

	once     sync.Once
	released chan struct{}
	onFree   func()
}

// NewFrame wraps pix. onFree, if set, runs once when the frame is released.
func NewFrame(seq uint64, width, height int, format PixelFormat, pix []byte, onFree func()) *Frame {
	return &Frame{
		Seq:      seq,
		Time:     time.Now(),
		Width:    width,
		Height:   height,
		Format:   format,
		Pix:      pix,
		released: make(chan struct{}),
		onFree:   onFree,
	}
}

// Validate checks that Pix holds Width×Height pixels.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("capture: frame %d has invalid size %dx%d", f.Seq, f.Width, f.Height)
	}
	if want := f.Width * f.Height * f.Format.BytesPerPixel(); len(f.Pix) < want {
		return fmt.Errorf("capture: frame %d has %d bytes, want %d", f.Seq, len(f.Pix), want)
	}
	return nil
}

// Release hands the frame back to the source. Safe to call more than once.
func (f *Frame) Release() {
	f.once.Do(func() {
		if f.onFree != nil {
			f.onFree()
		}
		if f.released != nil {
			close(f.released)
		}
	})
}

// Released is closed once Release has been called.
func (f *Frame) Released() <-chan struct{} {
	return f.released
}

// RGBA copies the frame into a new bitmap of the same size.
// The horizontal mirror for front lenses is applied here.
func (f *Frame) RGBA() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	bpp := f.Format.BytesPerPixel()
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Width*bpp : (y+1)*f.Width*bpp]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dx := x
			if f.Mirror {
				dx = f.Width - 1 - x
			}
			s, d := src[x*bpp:], dst[dx*4:]
			switch f.Format {
			case BGR888:
				d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xFF
			default:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			}
		}
	}
	return img, nil
}
