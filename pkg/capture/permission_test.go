package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/segcam/pkg/camera"
)

func TestPermission_WaitGranted(t *testing.T) {
	granted := false
	p := NewPermission(func() PermissionState {
		if granted {
			return PermissionState{Granted: true}
		}
		return PermissionState{ShowRationale: true, Reason: "denied"}
	})

	if st := p.State(); st.Granted {
		t.Fatal("permission granted before any request")
	}
	if st := p.Request(); st.Granted || !st.ShowRationale {
		t.Fatalf("first request: got %+v", st)
	}

	done := make(chan error, 1)
	go func() { done <- p.WaitGranted(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("WaitGranted returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	granted = true
	p.Request()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitGranted: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitGranted did not return after grant")
	}
}

func TestPermission_WaitGrantedTimeout(t *testing.T) {
	p := NewPermission(func() PermissionState { return PermissionState{Reason: "no camera"} })
	p.Request()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.WaitGranted(ctx)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("got %v, want ErrPermissionDenied", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want wrapped deadline", err)
	}
}

func TestPermission_Subscribe(t *testing.T) {
	p := NewPermission(func() PermissionState { return PermissionState{Granted: true} })

	var seen []PermissionState
	unsubscribe := p.Subscribe(func(st PermissionState) { seen = append(seen, st) })
	p.Request()
	unsubscribe()
	p.Request()

	if len(seen) != 1 || !seen[0].Granted {
		t.Errorf("observed: got %+v", seen)
	}
}

func TestPermission_ConcurrentRequests(t *testing.T) {
	const requests = 64
	var (
		mu     sync.Mutex
		checks int
	)
	p := NewPermission(func() PermissionState {
		mu.Lock()
		defer mu.Unlock()
		checks++
		// only the final check grants access
		if checks == requests {
			return PermissionState{Granted: true}
		}
		return PermissionState{ShowRationale: true, Reason: "denied"}
	})

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Request()
		}()
	}
	wg.Wait()

	if st := p.State(); !st.Granted {
		t.Errorf("state after %d requests: got %+v, want the last check (granted)", requests, st)
	}
	if v := p.state.Version(); v != requests {
		t.Errorf("version: got %d, want %d", v, requests)
	}
}

func TestDeviceCheck(t *testing.T) {
	tests := []struct {
		name      string
		device    string
		granted   bool
		rationale bool
	}{
		{"file", "testdata/clip.mp4", true, false},
		{"url", "rtsp://camera.local/stream", true, false},
		{"missing node", "/dev/segcam-missing-device", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := camera.DefaultConfig()
			cfg.Device = tc.device
			st := DeviceCheck(cfg)()
			if st.Granted != tc.granted || st.ShowRationale != tc.rationale {
				t.Errorf("got %+v, want granted=%v rationale=%v", st, tc.granted, tc.rationale)
			}
		})
	}
}
