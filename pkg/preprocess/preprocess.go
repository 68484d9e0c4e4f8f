// Package preprocess converts camera images into normalized model input tensors.
//
// Tensors are gorgonia dense tensors in NHWC layout: [1, size, size, channels].
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

var (
	// ErrRotation is returned for rotations that are not a multiple of 90°.
	ErrRotation = errors.New("preprocess: rotation must be 0, 90, 180 or 270 degrees")

	// ErrChannels is returned for unsupported channel counts.
	ErrChannels = errors.New("preprocess: channels must be 1, 3 or 4")
)

// Shape returns the NHWC shape of a square model tensor.
func Shape(size, channels int) tensor.Shape {
	return tensor.Shape{1, size, size, channels}
}

// Rotate turns img clockwise by degrees, the way the display shows the frame.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil // imaging rotates counter-clockwise
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, fmt.Errorf("%w: got %d", ErrRotation, degrees)
	}
}

// FromImage stretches img to size×size with bilinear filtering (aspect ratio
// is not preserved) and divides every channel by 255.
func FromImage(img image.Image, size, channels int) (*tensor.Dense, error) {
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, fmt.Errorf("%w: got %d", ErrChannels, channels)
	}
	if size <= 0 {
		return nil, fmt.Errorf("preprocess: size must be positive, got %d", size)
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)

	data := make([]float32, size*size*channels)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+4]
			out := data[(y*size+x)*channels:]
			switch channels {
			case 1:
				// ITU-R 601 luma, same weights as image/color.GrayModel
				lum := (19595*uint32(px[0]) + 38470*uint32(px[1]) + 7471*uint32(px[2]) + 1<<15) >> 16
				out[0] = float32(lum) / 255.0
			default:
				for c := 0; c < channels; c++ {
					out[c] = float32(px[c]) / 255.0
				}
			}
		}
	}

	return tensor.New(tensor.WithShape(1, size, size, channels), tensor.WithBacking(data)), nil
}
