// Package web serves the segmentation dashboard: the live preview with the
// latest mask overlaid, display-size feedback to the processor, the camera
// permission flow and Prometheus metrics.
package web

import (
	"bytes"
	"context"
	"embed"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/segcam/internal/log"
	"github.com/teslashibe/segcam/pkg/camera"
	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/hub"
	"github.com/teslashibe/segcam/pkg/latest"
	"github.com/teslashibe/segcam/pkg/mask"
	"github.com/teslashibe/segcam/pkg/preprocess"
	"github.com/teslashibe/segcam/pkg/processor"
)

//go:embed static
var static embed.FS

// Pipeline is the processor surface the dashboard needs.
type Pipeline interface {
	UpdateDisplayDimensions(width, height int) error
	DisplayDimensions() (width, height int)
	Masks() *latest.Value[mask.Mask]
	Color() color.NRGBA
	Threshold() float32
	InputShape() []int
	OutputShape() []int
	Stats() processor.Stats
}

// Options configures a Server. Pipeline is required.
type Options struct {
	Pipeline     Pipeline
	Permission   *capture.Permission  // nil hides the permission flow
	Camera       *camera.Manager      // nil disables /api/camera
	CaptureStats func() capture.Stats // nil omits capture counters
	Gatherer     prometheus.Gatherer  // nil disables /metrics

	// PreviewFPS caps the preview stream. 0 disables it.
	PreviewFPS int
}

// Server is the web dashboard server
type Server struct {
	app  *fiber.App
	opts Options
	log  *slog.Logger

	// Hubs for websocket broadcast
	maskHub    *hub.Hub
	previewHub *hub.Hub
	statusHub  *hub.Hub

	// preview holds the newest upright RGBA copy waiting to be encoded
	preview     *latest.Value[image.Image]
	lastPreview atomic.Int64 // unix nanos
}

// NewServer creates a new dashboard server
func NewServer(opts Options) *Server {
	s := &Server{
		opts:       opts,
		log:        log.Component("web"),
		maskHub:    hub.New("mask"),
		previewHub: hub.New("preview"),
		statusHub:  hub.New("status"),
		preview:    latest.New[image.Image](nil),
	}
	s.maskHub.Welcome = s.welcomeMask
	s.statusHub.Welcome = func() (hub.Message, bool) {
		msg, err := s.statusMessage()
		return msg, err == nil
	}

	app := fiber.New(fiber.Config{
		AppName:               "segcam",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/display", s.handleDisplay)
	api.Post("/permission", s.handlePermission)
	api.Get("/mask.png", s.handleMaskPNG)
	api.Get("/camera", s.handleGetCamera)
	api.Post("/camera", s.handleUpdateCamera)

	if opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/mask", websocket.New(s.serveHub(s.maskHub)))
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))

	// Dashboard page
	app.Use("/", filesystem.New(filesystem.Config{
		Root:       http.FS(static),
		PathPrefix: "static",
		Index:      "index.html",
	}))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, h := range []*hub.Hub{s.maskHub, s.previewHub, s.statusHub} {
		g.Go(func() error { h.Run(ctx); return nil })
	}
	g.Go(func() error { s.streamMasks(ctx); return nil })
	g.Go(func() error { s.streamPreview(ctx); return nil })
	g.Go(func() error { s.streamStatus(ctx); return nil })

	if s.opts.Permission != nil {
		unsubscribe := s.opts.Permission.Subscribe(func(capture.PermissionState) { s.broadcastStatus() })
		defer unsubscribe()
	}

	g.Go(func() error {
		s.log.Info("dashboard listening", "addr", addr)
		return s.app.Listen(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.app.ShutdownWithTimeout(5 * time.Second)
	})

	return g.Wait()
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}

// streamMasks pushes every published mask to /ws/mask as PNG. Masks that
// arrive while encoding are skipped in favor of the newest.
func (s *Server) streamMasks(ctx context.Context) {
	masks := s.opts.Pipeline.Masks()
	var version uint64
	for {
		m, v, err := masks.Wait(ctx, version)
		if err != nil {
			return
		}
		version = v
		if m == nil || s.maskHub.ClientCount() == 0 {
			continue
		}
		data, err := m.PNG(s.opts.Pipeline.Color())
		if err != nil {
			s.log.Warn("mask encode failed", "error", err)
			continue
		}
		s.maskHub.BroadcastBinary(data)
	}
}

func (s *Server) welcomeMask() (hub.Message, bool) {
	m, _ := s.opts.Pipeline.Masks().Load()
	if m == nil {
		return hub.Message{}, false
	}
	data, err := m.PNG(s.opts.Pipeline.Color())
	if err != nil {
		return hub.Message{}, false
	}
	return hub.NewBinaryMessage(data), true
}

// Preview is a capture.PreviewFunc. It copies at most PreviewFPS frames per
// second, and only while someone is watching.
func (s *Server) Preview(f *capture.Frame) {
	if s.opts.PreviewFPS <= 0 || s.previewHub.ClientCount() == 0 {
		return
	}
	now := time.Now().UnixNano()
	if now-s.lastPreview.Load() < int64(time.Second)/int64(s.opts.PreviewFPS) {
		return
	}
	s.lastPreview.Store(now)

	img, err := f.RGBA()
	if err != nil {
		return
	}
	upright, err := preprocess.Rotate(img, f.Rotation)
	if err != nil {
		return
	}
	s.preview.Store(&upright)
}

func (s *Server) streamPreview(ctx context.Context) {
	var version uint64
	var buf bytes.Buffer
	for {
		img, v, err := s.preview.Wait(ctx, version)
		if err != nil {
			return
		}
		version = v

		buf.Reset()
		if err := jpeg.Encode(&buf, *img, &jpeg.Options{Quality: s.previewQuality()}); err != nil {
			s.log.Warn("preview encode failed", "error", err)
			continue
		}
		s.previewHub.BroadcastBinary(bytes.Clone(buf.Bytes()))
	}
}

func (s *Server) previewQuality() int {
	if s.opts.Camera == nil {
		return camera.DefaultConfig().Quality
	}
	return s.opts.Camera.GetConfig().Quality
}

func (s *Server) streamStatus(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() > 0 {
				s.broadcastStatus()
			}
		}
	}
}

func (s *Server) broadcastStatus() {
	if err := s.statusHub.BroadcastJSON(s.status()); err != nil {
		s.log.Warn("status encode failed", "error", err)
	}
}
