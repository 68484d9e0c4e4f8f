// Package tflite runs TensorFlow Lite segmentation models through the TFLite C API.
package tflite

import (
	"fmt"

	"github.com/mattn/go-tflite"
	"gorgonia.org/tensor"

	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/engine"
)

// Backend is the registered backend name.
const Backend = "tflite"

func init() {
	engine.Register(Backend, Open, ".tflite", ".lite")
}

// Engine is a loaded TFLite interpreter with a single input and output.
type Engine struct {
	engine.Guard

	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter

	input  tensor.Shape
	output tensor.Shape
}

// Open builds an interpreter from serialized model bytes.
func Open(model []byte, cfg engine.Config) (engine.Engine, error) {
	m := tflite.NewModel(model)
	if m == nil {
		return nil, fmt.Errorf("%w: cannot parse flatbuffer", engine.ErrModelInvalid)
	}

	opts := tflite.NewInterpreterOptions()
	opts.SetNumThread(cfg.Threads)
	opts.SetErrorReporter(func(msg string, _ interface{}) {
		log.Component("tflite").Warn("runtime", "msg", msg)
	}, nil)

	interp := tflite.NewInterpreter(m, opts)
	if interp == nil {
		opts.Delete()
		m.Delete()
		return nil, fmt.Errorf("%w: cannot create interpreter", engine.ErrModelInvalid)
	}

	e := &Engine{model: m, options: opts, interpreter: interp}
	if err := e.init(cfg); err != nil {
		e.free()
		return nil, err
	}

	log.Component("tflite").Info("model loaded",
		"input", fmt.Sprint(e.input), "output", fmt.Sprint(e.output), "threads", cfg.Threads)
	return e, nil
}

func (e *Engine) init(cfg engine.Config) error {
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("%w: allocate tensors: status %v", engine.ErrModelInvalid, status)
	}

	in := e.interpreter.GetInputTensor(0)
	out := e.interpreter.GetOutputTensor(0)
	if in == nil || out == nil {
		return fmt.Errorf("%w: model has no input or output tensor", engine.ErrModelInvalid)
	}
	if in.Type() != tflite.Float32 || out.Type() != tflite.Float32 {
		return fmt.Errorf("%w: only float32 models are supported", engine.ErrModelInvalid)
	}

	e.input = dims(in)
	e.output = dims(out)
	if len(e.input) != 4 || len(e.output) != 4 || e.output[3] != 1 {
		return fmt.Errorf("%w: want [1,S,S,C] -> [1,S,S,1], got %v -> %v",
			engine.ErrModelInvalid, e.input, e.output)
	}
	if cfg.InputSize != 0 && (e.input[1] != cfg.InputSize || e.input[2] != cfg.InputSize) {
		return fmt.Errorf("%w: model input is %dx%d, config says %d",
			engine.ErrShapeMismatch, e.input[2], e.input[1], cfg.InputSize)
	}
	if cfg.Channels != 0 && e.input[3] != cfg.Channels {
		return fmt.Errorf("%w: model takes %d channels, config says %d",
			engine.ErrShapeMismatch, e.input[3], cfg.Channels)
	}
	return nil
}

func dims(t *tflite.Tensor) tensor.Shape {
	shape := make(tensor.Shape, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	return shape
}

// InputShape implements engine.Engine.
func (e *Engine) InputShape() tensor.Shape { return e.input.Clone() }

// OutputShape implements engine.Engine.
func (e *Engine) OutputShape() tensor.Shape { return e.output.Clone() }

// Run copies in into the input tensor, invokes the interpreter and copies the
// output out.
func (e *Engine) Run(in *tensor.Dense) (*tensor.Dense, error) {
	var out *tensor.Dense
	err := e.Guard.Do(func() error {
		data, err := engine.CheckInput(in, e.input)
		if err != nil {
			return err
		}
		copy(e.interpreter.GetInputTensor(0).Float32s(), data)

		if status := e.interpreter.Invoke(); status != tflite.OK {
			return engine.WrapError(Backend, fmt.Errorf("invoke: status %v", status))
		}

		result := e.interpreter.GetOutputTensor(0).Float32s()
		values := make([]float32, len(result))
		copy(values, result)
		out, err = engine.NewTensor(values, e.output)
		return err
	})
	return out, err
}

// Release deletes the interpreter, options and model.
func (e *Engine) Release() error {
	return e.Guard.Release(e.free)
}

func (e *Engine) free() {
	if e.interpreter != nil {
		e.interpreter.Delete()
	}
	if e.options != nil {
		e.options.Delete()
	}
	if e.model != nil {
		e.model.Delete()
	}
}
