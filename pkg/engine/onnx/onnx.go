// Package onnx runs ONNX segmentation models through OpenCV's DNN module.
package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/engine"
)

// Backend is the registered backend name.
const Backend = "onnx"

func init() {
	engine.Register(Backend, Open, ".onnx")
}

// Engine is a loaded OpenCV DNN network.
//
// The engine speaks NHWC like every other backend; blobs are transposed to
// NCHW on the way in. OpenCV cannot report static input shapes, so InputSize
// and Channels must be configured.
type Engine struct {
	engine.Guard

	net    gocv.Net
	input  tensor.Shape
	output tensor.Shape
}

// Open loads an ONNX network from memory.
func Open(model []byte, cfg engine.Config) (engine.Engine, error) {
	if cfg.InputSize <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: onnx needs input_size and channels configured", engine.ErrModelInvalid)
	}

	net, err := gocv.ReadNetFromONNXBytes(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrModelInvalid, err)
	}
	if net.Empty() {
		return nil, fmt.Errorf("%w: empty network", engine.ErrModelInvalid)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	e := &Engine{
		net:    net,
		input:  tensor.Shape{1, cfg.InputSize, cfg.InputSize, cfg.Channels},
		output: tensor.Shape{1, cfg.InputSize, cfg.InputSize, 1},
	}
	log.Component("onnx").Info("model loaded",
		"input", fmt.Sprint(e.input), "output", fmt.Sprint(e.output))
	return e, nil
}

// InputShape implements engine.Engine.
func (e *Engine) InputShape() tensor.Shape { return e.input.Clone() }

// OutputShape implements engine.Engine.
func (e *Engine) OutputShape() tensor.Shape { return e.output.Clone() }

// Run executes one forward pass.
func (e *Engine) Run(in *tensor.Dense) (*tensor.Dense, error) {
	var out *tensor.Dense
	err := e.Guard.Do(func() error {
		data, err := engine.CheckInput(in, e.input)
		if err != nil {
			return err
		}

		size, channels := e.input[1], e.input[3]
		blob, err := gocv.NewMatWithSizesFromBytes(
			[]int{1, channels, size, size}, gocv.MatTypeCV32F, nhwcToNCHW(data, size, channels))
		if err != nil {
			return engine.WrapError(Backend, fmt.Errorf("build blob: %w", err))
		}
		defer blob.Close()

		e.net.SetInput(blob, "")
		result := e.net.Forward("")
		defer result.Close()

		values, err := result.DataPtrFloat32()
		if err != nil {
			return engine.WrapError(Backend, fmt.Errorf("read output: %w", err))
		}
		if len(values) != e.output.TotalSize() {
			return fmt.Errorf("%w: network produced %d values, want %d",
				engine.ErrShapeMismatch, len(values), e.output.TotalSize())
		}

		// single output channel: NCHW and NHWC coincide
		cp := make([]float32, len(values))
		copy(cp, values)
		out, err = engine.NewTensor(cp, e.output)
		return err
	})
	return out, err
}

// Release closes the network.
func (e *Engine) Release() error {
	return e.Guard.Release(func() { e.net.Close() })
}

// nhwcToNCHW reorders interleaved pixels into planes and serializes them as
// little-endian float32 bytes for gocv.
func nhwcToNCHW(data []float32, size, channels int) []byte {
	plane := size * size
	buf := make([]byte, 4*len(data))
	for i := 0; i < plane; i++ {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint32(buf[4*(c*plane+i):], math.Float32bits(data[i*channels+c]))
		}
	}
	return buf
}
