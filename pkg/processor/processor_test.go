package processor

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorgonia.org/tensor"

	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/engine"
	"github.com/teslashibe/segcam/pkg/mask"
)

const modelSize = 4

func newFrame(seq uint64, w, h, rotation int) *capture.Frame {
	f := capture.NewFrame(seq, w, h, capture.RGBA8888, make([]byte, w*h*4), nil)
	f.Rotation = rotation
	return f
}

func constant(v float32) func([]float32) ([]float32, error) {
	return func([]float32) ([]float32, error) {
		out := make([]float32, modelSize*modelSize)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
}

func newProcessor(t *testing.T, run func([]float32) ([]float32, error)) (*Processor, *engine.Mock) {
	t.Helper()
	eng := engine.NewMock(modelSize, 3)
	eng.RunFunc = run
	p := New(eng, DefaultConfig(), nil)
	if err := p.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p, eng
}

func latestMask(t *testing.T, p *Processor) *mask.Mask {
	t.Helper()
	m, _ := p.Masks().Load()
	if m == nil {
		t.Fatal("no mask published")
	}
	return m
}

func TestProcessor_InitPublishesPlaceholder(t *testing.T) {
	p, _ := newProcessor(t, nil)

	m, ver := p.Masks().Load()
	if ver != 1 {
		t.Errorf("version after Init: got %d, want 1", ver)
	}
	if m.Width() != modelSize || m.Height() != modelSize {
		t.Errorf("placeholder: got %dx%d, want model output size", m.Width(), m.Height())
	}
	if m.Coverage() != 0 {
		t.Errorf("placeholder coverage: got %v, want 0", m.Coverage())
	}
}

func TestProcessor_MaskFollowsDisplayDimensions(t *testing.T) {
	tests := []struct {
		name         string
		display      [2]int // zero means no update
		frameW       int
		frameH       int
		rotation     int
		wantW, wantH int
	}{
		{"default output dims", [2]int{}, 8, 6, 0, modelSize, modelSize},
		{"display update", [2]int{10, 20}, 8, 6, 0, 10, 20},
		{"rotated frame", [2]int{6, 8}, 8, 6, 90, 6, 8},
		{"display smaller than model", [2]int{1, 1}, 16, 16, 180, 1, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newProcessor(t, constant(0.9))
			if tc.display != [2]int{} {
				if err := p.UpdateDisplayDimensions(tc.display[0], tc.display[1]); err != nil {
					t.Fatalf("UpdateDisplayDimensions: %v", err)
				}
			}

			if err := p.ProcessFrame(newFrame(1, tc.frameW, tc.frameH, tc.rotation)); err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}

			m := latestMask(t, p)
			if m.Width() != tc.wantW || m.Height() != tc.wantH {
				t.Errorf("mask: got %dx%d, want %dx%d", m.Width(), m.Height(), tc.wantW, tc.wantH)
			}
			if m.Coverage() != 1 {
				t.Errorf("uniform opaque scores: coverage %v, want 1", m.Coverage())
			}
		})
	}
}

func TestProcessor_InvalidDimensions(t *testing.T) {
	p, _ := newProcessor(t, nil)

	for _, dims := range [][2]int{{0, 10}, {10, -1}, {mask.MaxDimension + 1, 10}} {
		if err := p.UpdateDisplayDimensions(dims[0], dims[1]); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("%v: got %v, want ErrInvalidDimensions", dims, err)
		}
	}
	if w, h := p.DisplayDimensions(); w != modelSize || h != modelSize {
		t.Errorf("dims changed after rejected updates: %dx%d", w, h)
	}
}

func TestProcessor_DisplayBeforeInit(t *testing.T) {
	eng := engine.NewMock(modelSize, 3)
	p := New(eng, DefaultConfig(), nil)

	if err := p.ProcessFrame(newFrame(1, 4, 4, 0)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ProcessFrame before Init: got %v", err)
	}
	if err := p.UpdateDisplayDimensions(30, 40); err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}
	if m := latestMask(t, p); m.Width() != 30 || m.Height() != 40 {
		t.Errorf("placeholder: got %dx%d, want 30x40", m.Width(), m.Height())
	}
}

func TestProcessor_FailureDropsFrame(t *testing.T) {
	fail := true
	p, _ := newProcessor(t, func(in []float32) ([]float32, error) {
		if fail {
			return nil, errors.New("delegate crashed")
		}
		return constant(0.9)(in)
	})
	before := p.Masks().Version()

	if err := p.ProcessFrame(newFrame(1, 8, 8, 0)); err == nil {
		t.Fatal("expected inference error")
	}
	if p.Masks().Version() != before {
		t.Error("failed frame published a mask")
	}

	fail = false
	if err := p.ProcessFrame(newFrame(2, 8, 8, 0)); err != nil {
		t.Fatalf("next frame: %v", err)
	}

	st := p.Stats()
	if st.Failed != 1 || st.Processed != 1 {
		t.Errorf("stats: got %+v, want 1 failed and 1 processed", st)
	}
	if st.MaskVersion != before+1 {
		t.Errorf("mask version: got %d, want %d", st.MaskVersion, before+1)
	}
}

func TestProcessor_Threshold(t *testing.T) {
	p, _ := newProcessor(t, constant(mask.DefaultThreshold))

	if err := p.ProcessFrame(newFrame(1, 4, 4, 0)); err != nil {
		t.Fatal(err)
	}
	if c := latestMask(t, p).Coverage(); c != 0 {
		t.Errorf("score equal to threshold: coverage %v, want 0", c)
	}

	p.SetThreshold(mask.ThresholdLegacy)
	if err := p.ProcessFrame(newFrame(2, 4, 4, 0)); err != nil {
		t.Fatal(err)
	}
	if c := latestMask(t, p).Coverage(); c != 1 {
		t.Errorf("legacy threshold: coverage %v, want 1", c)
	}
}

func TestProcessor_HandleAlwaysReleases(t *testing.T) {
	p, _ := newProcessor(t, func([]float32) ([]float32, error) {
		return nil, errors.New("boom")
	})

	ok := newFrame(1, 4, 4, 0)
	p.Handle(ok)

	bad := newFrame(2, 4, 4, 45) // unsupported rotation
	p.Handle(bad)

	short := capture.NewFrame(3, 4, 4, capture.RGBA8888, make([]byte, 3), nil)
	p.Handle(short)

	for _, f := range []*capture.Frame{ok, bad, short} {
		select {
		case <-f.Released():
		default:
			t.Errorf("frame %d not released", f.Seq)
		}
	}
	if p.Stats().Failed != 3 {
		t.Errorf("Failed: got %d, want 3", p.Stats().Failed)
	}
}

func TestProcessor_HandleRecoversPanic(t *testing.T) {
	p, _ := newProcessor(t, func([]float32) ([]float32, error) {
		panic("native crash")
	})

	f := newFrame(1, 4, 4, 0)
	p.Handle(f)

	select {
	case <-f.Released():
	default:
		t.Error("frame not released after panic")
	}
}

func TestProcessor_Shutdown(t *testing.T) {
	p, eng := newProcessor(t, constant(0.9))

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Errorf("second Shutdown: got %v, want first result", err)
	}
	if n := eng.CallCount("Release"); n != 1 {
		t.Errorf("engine released %d times, want 1", n)
	}

	err := p.ProcessFrame(newFrame(1, 4, 4, 0))
	if !errors.Is(err, engine.ErrReleased) {
		t.Errorf("ProcessFrame after Shutdown: got %v, want ErrReleased", err)
	}
}

func TestProcessor_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	eng := engine.NewMock(modelSize, 3)
	eng.RunFunc = constant(0.9)
	p := New(eng, DefaultConfig(), metrics)
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	p.Handle(newFrame(1, 4, 4, 0))
	p.Handle(newFrame(2, 4, 4, 33))

	if got := testutil.ToFloat64(metrics.Frames.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok frames: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Frames.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed frames: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Coverage); got != 1 {
		t.Errorf("coverage: got %v, want 1", got)
	}
}

type shapedEngine struct {
	engine.Mock
	in, out tensor.Shape
}

func (e *shapedEngine) InputShape() tensor.Shape  { return e.in }
func (e *shapedEngine) OutputShape() tensor.Shape { return e.out }

func TestProcessor_InitRejectsShapes(t *testing.T) {
	tests := []struct {
		name    string
		in, out tensor.Shape
	}{
		{"non-square input", tensor.Shape{1, 4, 8, 3}, tensor.Shape{1, 4, 4, 1}},
		{"batch of two", tensor.Shape{2, 4, 4, 3}, tensor.Shape{1, 4, 4, 1}},
		{"two output channels", tensor.Shape{1, 4, 4, 3}, tensor.Shape{1, 4, 4, 2}},
		{"flat output", tensor.Shape{1, 4, 4, 3}, tensor.Shape{16}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := New(&shapedEngine{in: tc.in, out: tc.out}, DefaultConfig(), nil)
			if err := p.Init(); !errors.Is(err, ErrModelShape) {
				t.Errorf("got %v, want ErrModelShape", err)
			}
		})
	}
}
