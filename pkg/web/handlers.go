package web

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/segcam/pkg/capture"
	"github.com/teslashibe/segcam/pkg/hub"
	"github.com/teslashibe/segcam/pkg/processor"
)

// Status is the dashboard state returned by /api/status and pushed on
// /ws/status.
type Status struct {
	Permission *capture.PermissionState `json:"permission,omitempty"`
	Display    Dimensions               `json:"display"`
	Model      ModelInfo                `json:"model"`
	Threshold  float32                  `json:"threshold"`
	Color      string                   `json:"color"`
	Processor  processor.Stats          `json:"processor"`
	Capture    *capture.Stats           `json:"capture,omitempty"`
	Clients    map[string]int           `json:"clients"`
}

// Dimensions is a width and height in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ModelInfo describes the loaded model's tensors.
type ModelInfo struct {
	Input  []int `json:"input"`
	Output []int `json:"output"`
}

func (s *Server) status() Status {
	p := s.opts.Pipeline
	w, h := p.DisplayDimensions()
	c := p.Color()

	st := Status{
		Display:   Dimensions{Width: w, Height: h},
		Model:     ModelInfo{Input: p.InputShape(), Output: p.OutputShape()},
		Threshold: p.Threshold(),
		Color:     fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A),
		Processor: p.Stats(),
		Clients: map[string]int{
			"mask":    s.maskHub.ClientCount(),
			"preview": s.previewHub.ClientCount(),
			"status":  s.statusHub.ClientCount(),
		},
	}
	if s.opts.Permission != nil {
		perm := s.opts.Permission.State()
		st.Permission = &perm
	}
	if s.opts.CaptureStats != nil {
		cs := s.opts.CaptureStats()
		st.Capture = &cs
	}
	return st
}

func (s *Server) statusMessage() (hub.Message, error) {
	data, err := json.Marshal(s.status())
	if err != nil {
		return hub.Message{}, err
	}
	return hub.NewJSONMessage(data), nil
}

// handleStatus returns the current dashboard state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleDisplay receives the rendered preview size from the browser
func (s *Server) handleDisplay(c *fiber.Ctx) error {
	var req Dimensions
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"width\": int, \"height\": int}",
		})
	}

	if err := s.opts.Pipeline.UpdateDisplayDimensions(req.Width, req.Height); err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, processor.ErrInvalidDimensions) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.broadcastStatus()
	return c.JSON(req)
}

// handlePermission re-requests camera access
func (s *Server) handlePermission(c *fiber.Ctx) error {
	if s.opts.Permission == nil {
		return c.JSON(capture.PermissionState{Granted: true})
	}
	st := s.opts.Permission.Request()
	s.log.Info("camera permission requested", "granted", st.Granted, "reason", st.Reason)
	return c.JSON(st)
}

// handleMaskPNG renders the latest mask
func (s *Server) handleMaskPNG(c *fiber.Ctx) error {
	m, version := s.opts.Pipeline.Masks().Load()
	if m == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no mask yet",
		})
	}

	data, err := m.PNG(s.opts.Pipeline.Color())
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set("X-Mask-Version", fmt.Sprint(version))
	c.Type("png")
	return c.Send(data)
}

// handleGetCamera returns the camera configuration
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.opts.Camera == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.opts.Camera.GetConfigJSON())
}

// handleUpdateCamera applies a partial camera update such as
// {"rotation": 180} or {"preset": "front"}
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.opts.Camera == nil {
		return fiber.ErrNotFound
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	if err := s.opts.Camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.opts.Camera.GetConfigJSON())
}
