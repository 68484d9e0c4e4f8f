// Package mask decodes segmentation output into binary opacity bitmaps and
// renders them for overlay.
package mask

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

// Thresholds seen in the field. A pixel is opaque when its score is strictly
// greater than the threshold.
const (
	DefaultThreshold float32 = 0.05
	ThresholdLegacy  float32 = 0
)

// MaxDimension bounds each side of a mask.
const MaxDimension = 8192

var (
	// ErrSize is returned when the score buffer does not match the mask size.
	ErrSize = errors.New("mask: score count does not match dimensions")

	// ErrDimensions is returned for non-positive or oversized mask dimensions.
	ErrDimensions = errors.New("mask: invalid dimensions")
)

// Mask is an immutable binary bitmap. Each pixel is either fully opaque
// (0xFF) or fully transparent (0x00).
type Mask struct {
	alpha *image.Alpha
}

// Empty returns a fully transparent mask, used as the placeholder before the
// first inference completes.
func Empty(width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrDimensions
	}
	return &Mask{alpha: image.NewAlpha(image.Rect(0, 0, width, height))}, nil
}

// Decode builds a width×height mask from row-major scores.
// Pixel i = y*width+x is opaque iff scores[i] > threshold.
func Decode(scores []float32, width, height int, threshold float32) (*Mask, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrDimensions
	}
	if len(scores) != width*height {
		return nil, fmt.Errorf("%w: got %d, want %dx%d", ErrSize, len(scores), width, height)
	}

	m := &Mask{alpha: image.NewAlpha(image.Rect(0, 0, width, height))}
	for y := 0; y < height; y++ {
		row := m.alpha.Pix[y*m.alpha.Stride : y*m.alpha.Stride+width]
		for x := range row {
			if scores[y*width+x] > threshold {
				row[x] = 0xFF
			}
		}
	}
	return m, nil
}

// Width returns the mask width in pixels.
func (m *Mask) Width() int { return m.alpha.Rect.Dx() }

// Height returns the mask height in pixels.
func (m *Mask) Height() int { return m.alpha.Rect.Dy() }

// Opaque reports whether pixel (x, y) is set.
func (m *Mask) Opaque(x, y int) bool {
	return m.alpha.AlphaAt(x, y).A != 0
}

// Coverage returns the fraction of opaque pixels.
func (m *Mask) Coverage() float64 {
	var n int
	for y := 0; y < m.Height(); y++ {
		for _, a := range m.alpha.Pix[y*m.alpha.Stride : y*m.alpha.Stride+m.Width()] {
			if a != 0 {
				n++
			}
		}
	}
	return float64(n) / float64(m.Width()*m.Height())
}

// Equal reports whether both masks have the same size and pixels.
func (m *Mask) Equal(o *Mask) bool {
	if m.Width() != o.Width() || m.Height() != o.Height() {
		return false
	}
	for y := 0; y < m.Height(); y++ {
		a := m.alpha.Pix[y*m.alpha.Stride : y*m.alpha.Stride+m.Width()]
		b := o.alpha.Pix[y*o.alpha.Stride : y*o.alpha.Stride+o.Width()]
		if !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}

// Resize scales the mask to width×height with nearest-neighbor sampling.
// The result stays strictly binary.
func (m *Mask) Resize(width, height int) (*Mask, error) {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, ErrDimensions
	}
	if width == m.Width() && height == m.Height() {
		return m, nil
	}
	dst := image.NewAlpha(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), m.alpha, m.alpha.Bounds(), draw.Src, nil)
	return &Mask{alpha: dst}, nil
}

// Alpha returns a copy of the underlying bitmap.
func (m *Mask) Alpha() *image.Alpha {
	cp := image.NewAlpha(m.alpha.Rect)
	copy(cp.Pix, m.alpha.Pix)
	return cp
}

// Image renders opaque pixels in c and leaves the rest transparent.
func (m *Mask) Image(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(m.alpha.Rect)
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			if m.Opaque(x, y) {
				img.SetNRGBA(x, y, c)
			}
		}
	}
	return img
}

// PNG encodes the rendered mask.
func (m *Mask) PNG(c color.NRGBA) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, m.Image(c)); err != nil {
		return nil, fmt.Errorf("mask: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
