package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/sizecam/sizecam/pkg/camera"
	"github.com/sizecam/sizecam/pkg/hub"
	"github.com/sizecam/sizecam/pkg/pipeline"
)

// handleStatus returns the current pipeline state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.State())
}

// handlePresets returns the available camera presets.
func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"names":   camera.PresetNames(),
		"presets": camera.Presets(),
	})
}

// handleStart opens a session and starts measuring.
func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.ctrl.Start(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(s.ctrl.State())
	}
	return c.JSON(s.ctrl.State())
}

// handleStop stops measuring and releases the camera.
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctrl.Stop()
	return c.JSON(s.ctrl.State())
}

// handleCapture triggers a single-shot measurement. A frame with no
// recognizable object is reported in the state, not as a transport
// failure.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	err := s.ctrl.Capture()
	switch {
	case err == nil, errors.Is(err, pipeline.ErrNoDetection):
		return c.JSON(s.ctrl.State())
	case errors.Is(err, pipeline.ErrWrongPolicy):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "capture requires the single-shot policy",
		})
	case errors.Is(err, pipeline.ErrNotRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "no live session",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(s.ctrl.State())
	}
}

// handleNewMeasurement discards the held still and returns to live.
func (s *Server) handleNewMeasurement(c *fiber.Ctx) error {
	if err := s.ctrl.NewMeasurement(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(s.ctrl.State())
	}
	return c.JSON(s.ctrl.State())
}

// handleStatusWS streams pipeline state updates. The current state is
// sent on connect so clients never start blind.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	c.WriteJSON(s.ctrl.State())

	client := hub.NewClient(s.statusHub, c)
	client.Run() // Blocks until connection closes
}

// handleCameraWS streams rendered overlay frames as binary JPEG messages.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	client := hub.NewClient(s.cameraHub, c)
	client.Run() // Blocks until connection closes
}
