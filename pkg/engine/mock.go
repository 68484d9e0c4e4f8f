package engine

import (
	"sync"
	"time"

	"gorgonia.org/tensor"
)

// Mock implements Engine for testing.
type Mock struct {
	// RunFunc is called when Run is invoked with a well-shaped input.
	// The default returns a zero output tensor.
	RunFunc func(in []float32) ([]float32, error)

	// Delay simulates inference time.
	Delay time.Duration

	Guard
	input  tensor.Shape
	output tensor.Shape

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock engine with a square size×size model taking
// channels inputs and producing one output channel.
func NewMock(size, channels int) *Mock {
	return &Mock{
		input:  tensor.Shape{1, size, size, channels},
		output: tensor.Shape{1, size, size, 1},
	}
}

// InputShape implements Engine.
func (m *Mock) InputShape() tensor.Shape { return m.input.Clone() }

// OutputShape implements Engine.
func (m *Mock) OutputShape() tensor.Shape { return m.output.Clone() }

// Run validates the input shape, sleeps Delay and calls RunFunc.
func (m *Mock) Run(in *tensor.Dense) (*tensor.Dense, error) {
	m.record("Run")
	var out *tensor.Dense
	err := m.Guard.Do(func() error {
		data, err := CheckInput(in, m.input)
		if err != nil {
			return err
		}
		if m.Delay > 0 {
			time.Sleep(m.Delay)
		}
		if m.RunFunc == nil {
			out = Zeros(m.output)
			return nil
		}
		values, err := m.RunFunc(data)
		if err != nil {
			return WrapError("mock", err)
		}
		out, err = NewTensor(values, m.output)
		return err
	})
	return out, err
}

// Release implements Engine.
func (m *Mock) Release() error {
	m.record("Release")
	return m.Guard.Release(func() {})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of calls to a method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}
