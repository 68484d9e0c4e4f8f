package onnx

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"testing/fstest"

	"github.com/teslashibe/segcam/pkg/engine"
)

func TestNHWCToNCHW(t *testing.T) {
	// 2x2 image, 3 channels: pixel i has channel values (i, 10+i, 20+i)
	data := []float32{
		0, 10, 20,
		1, 11, 21,
		2, 12, 22,
		3, 13, 23,
	}
	buf := nhwcToNCHW(data, 2, 3)

	want := []float32{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		if got != w {
			t.Errorf("plane value %d: got %v, want %v", i, got, w)
		}
	}
}

func TestOpen_RequiresShape(t *testing.T) {
	cfg := engine.Config{Backend: Backend, Model: "seg.onnx", Threads: 1}
	_, err := engine.Load(fstest.MapFS{"seg.onnx": {Data: []byte{1}}}, cfg)
	if !errors.Is(err, engine.ErrModelInvalid) {
		t.Errorf("got %v, want ErrModelInvalid", err)
	}
}
