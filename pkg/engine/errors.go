package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrReleased is returned by Run and Release once the engine has been released.
	ErrReleased = errors.New("engine: released")

	// ErrModelNotFound is returned when the model artifact is missing.
	ErrModelNotFound = errors.New("engine: model not found")

	// ErrModelInvalid is returned when the artifact cannot be loaded by the runtime.
	ErrModelInvalid = errors.New("engine: model invalid")

	// ErrShapeMismatch is returned when a tensor does not match the model contract.
	ErrShapeMismatch = errors.New("engine: tensor shape mismatch")

	// ErrUnknownBackend is returned when no backend is registered under a name.
	ErrUnknownBackend = errors.New("engine: unknown backend")

	// ErrNotFloat32 is returned when a tensor is not backed by float32 values.
	ErrNotFloat32 = errors.New("engine: tensor is not float32")
)

// RunError wraps a runtime failure with backend context.
type RunError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("engine [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with backend context.
func WrapError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &RunError{Backend: backend, Err: err}
}
