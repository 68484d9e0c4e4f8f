package capture

import (
	"image/color"
	"testing"
)

func TestFrame_RGBA(t *testing.T) {
	// 2x1 BGR: blue then red.
	pix := []byte{0xFF, 0, 0, 0, 0, 0xFF}

	tests := []struct {
		name        string
		mirror      bool
		left, right color.RGBA
	}{
		{"plain", false, color.RGBA{0, 0, 0xFF, 0xFF}, color.RGBA{0xFF, 0, 0, 0xFF}},
		{"mirrored", true, color.RGBA{0xFF, 0, 0, 0xFF}, color.RGBA{0, 0, 0xFF, 0xFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFrame(1, 2, 1, BGR888, pix, nil)
			f.Mirror = tc.mirror

			img, err := f.RGBA()
			if err != nil {
				t.Fatalf("RGBA: %v", err)
			}
			if got := img.RGBAAt(0, 0); got != tc.left {
				t.Errorf("left: got %v, want %v", got, tc.left)
			}
			if got := img.RGBAAt(1, 0); got != tc.right {
				t.Errorf("right: got %v, want %v", got, tc.right)
			}
		})
	}
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{"ok", NewFrame(1, 2, 2, RGBA8888, make([]byte, 16), nil), false},
		{"short", NewFrame(1, 2, 2, RGBA8888, make([]byte, 15), nil), true},
		{"bgr ok", NewFrame(1, 2, 2, BGR888, make([]byte, 12), nil), false},
		{"zero size", NewFrame(1, 0, 2, RGBA8888, nil, nil), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFrame_ReleaseOnce(t *testing.T) {
	calls := 0
	f := NewFrame(1, 1, 1, RGBA8888, make([]byte, 4), func() { calls++ })

	f.Release()
	f.Release()

	if calls != 1 {
		t.Errorf("onFree calls: got %d, want 1", calls)
	}
	if !isReleased(f) {
		t.Error("Released channel not closed")
	}
}
