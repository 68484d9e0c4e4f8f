package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/teslashibe/segcam/pkg/camera"
	"github.com/teslashibe/segcam/pkg/latest"
)

// PermissionState is what the presentation layer shows about camera access.
type PermissionState struct {
	Granted bool `json:"granted"`
	// ShowRationale asks the UI to explain why the camera is needed before
	// the user re-requests. It is false when asking again cannot help.
	ShowRationale bool   `json:"show_rationale"`
	Reason        string `json:"reason,omitempty"`
}

// CheckFunc probes camera access once.
type CheckFunc func() PermissionState

// Permission gates capture on camera access. Requests are explicit; there
// is no background retry.
type Permission struct {
	mu    sync.Mutex // serializes check and publish
	check CheckFunc
	state *latest.Value[PermissionState]
}

// NewPermission creates a gate in the not-yet-requested state.
func NewPermission(check CheckFunc) *Permission {
	return &Permission{
		check: check,
		state: latest.New(&PermissionState{Reason: "not requested"}),
	}
}

// Request probes access and publishes the result. Concurrent requests are
// serialized so the published state is always the newest check.
func (p *Permission) Request() PermissionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.check()
	p.state.Store(&st)
	return st
}

// State returns the last published result.
func (p *Permission) State() PermissionState {
	st, _ := p.state.Load()
	return *st
}

// Subscribe observes every published result.
func (p *Permission) Subscribe(fn func(PermissionState)) (unsubscribe func()) {
	return p.state.Subscribe(func(st *PermissionState, _ uint64) { fn(*st) })
}

// WaitGranted blocks until a request succeeds or ctx ends.
func (p *Permission) WaitGranted(ctx context.Context) error {
	st, version := p.state.Load()
	for !st.Granted {
		var err error
		st, version, err = p.state.Wait(ctx, version)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, p.State().Reason, err)
		}
	}
	return nil
}

// DeviceCheck returns a CheckFunc for cfg.Device. V4L devices are granted
// when the device node can be opened for reading and writing. Files and
// stream URLs are always granted.
func DeviceCheck(cfg camera.Config) CheckFunc {
	path := cfg.Device
	if n, ok := cfg.DeviceIndex(); ok {
		path = fmt.Sprintf("/dev/video%d", n)
	}
	if !strings.HasPrefix(path, "/dev/") {
		return func() PermissionState { return PermissionState{Granted: true} }
	}

	return func() PermissionState {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		switch {
		case err == nil:
			f.Close()
			return PermissionState{Granted: true}
		case errors.Is(err, fs.ErrPermission):
			return PermissionState{
				ShowRationale: true,
				Reason:        fmt.Sprintf("no access to %s; add the user to the video group", path),
			}
		case errors.Is(err, fs.ErrNotExist):
			return PermissionState{Reason: fmt.Sprintf("%s does not exist", path)}
		default:
			return PermissionState{ShowRationale: true, Reason: err.Error()}
		}
	}
}
