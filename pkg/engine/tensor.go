package engine

import (
	"fmt"
	"sync"

	"gorgonia.org/tensor"
)

// NewTensor wraps data as a dense tensor with the given shape.
func NewTensor(data []float32, shape tensor.Shape) (*tensor.Dense, error) {
	if shape.TotalSize() != len(data) {
		return nil, fmt.Errorf("%w: %d values do not fill %v", ErrShapeMismatch, len(data), shape)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Zeros allocates a zero tensor of the given shape.
func Zeros(shape tensor.Shape) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, shape.TotalSize())))
}

// Float32s returns the backing slice of t.
func Float32s(t *tensor.Dense) ([]float32, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFloat32, t.Dtype())
	}
	return data, nil
}

// CheckInput verifies in against the expected shape and returns its values.
func CheckInput(in *tensor.Dense, want tensor.Shape) ([]float32, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil input", ErrShapeMismatch)
	}
	if !in.Shape().Eq(want) {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrShapeMismatch, in.Shape(), want)
	}
	return Float32s(in)
}

// Guard serializes Run and Release and enforces the release-once rule.
// Backends embed it; the zero value is ready to use.
type Guard struct {
	mu       sync.Mutex
	released bool
}

// Do runs fn unless the engine has been released.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return ErrReleased
	}
	return fn()
}

// Release runs free exactly once. Later calls return ErrReleased.
func (g *Guard) Release(free func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return ErrReleased
	}
	g.released = true
	free()
	return nil
}
