package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/segcam/pkg/web"
)

func TestClient(t *testing.T) {
	var display web.Dimensions
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(web.Status{Threshold: 0.05, Display: display})
	})
	mux.HandleFunc("/api/display", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var d web.Dimensions
		json.NewDecoder(r.Body).Decode(&d)
		if d.Width <= 0 || d.Height <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid display dimensions"})
			return
		}
		display = d
		json.NewEncoder(w).Encode(d)
	})
	mux.HandleFunc("/api/mask.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Mask-Version", "7")
		w.Write([]byte("\x89PNG"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL + "/")
	ctx := context.Background()

	if err := c.SetDisplay(ctx, 320, 240); err != nil {
		t.Fatalf("SetDisplay: %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Threshold != 0.05 || st.Display.Width != 320 || st.Display.Height != 240 {
		t.Errorf("status: got %+v", st)
	}

	err = c.SetDisplay(ctx, 0, 240)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "invalid display dimensions" {
		t.Errorf("SetDisplay(0, 240): got %v", err)
	}

	data, version, err := c.MaskPNG(ctx)
	if err != nil {
		t.Fatalf("MaskPNG: %v", err)
	}
	if version != 7 || string(data) != "\x89PNG" {
		t.Errorf("mask: got v%d %q", version, data)
	}

	if _, err := c.RequestPermission(ctx); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("missing route: got %v", err)
	}
}
