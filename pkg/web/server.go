// Package web provides the HTTP and websocket surface for sizecam.
package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/sizecam/sizecam/internal/log"
	"github.com/sizecam/sizecam/pkg/hub"
	"github.com/sizecam/sizecam/pkg/pipeline"
)

// Server exposes the measurement pipeline over REST and websockets:
// session start/stop and capture controls, a status feed, and the live
// overlay frame feed.
type Server struct {
	app  *fiber.App
	port string

	ctrl *pipeline.Controller

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates the web server around a pipeline controller and wires
// the controller's observers into the broadcast hubs.
func NewServer(port string, ctrl *pipeline.Controller) *Server {
	s := &Server{
		port:      port,
		ctrl:      ctrl,
		statusHub: hub.New("status"),
		cameraHub: hub.New("camera"),
	}

	ctrl.OnState = func(st pipeline.State) {
		s.statusHub.BroadcastJSON(st)
	}
	ctrl.OnFrame = func(jpeg []byte) {
		s.cameraHub.BroadcastBinary(jpeg)
	}

	app := fiber.New(fiber.Config{
		AppName:               "sizecam",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/presets", s.handlePresets)
	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/capture", s.handleCapture)
	api.Post("/capture/new", s.handleNewMeasurement)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Start starts the web server and the broadcast hubs.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.cameraHub.Run()

	log.Info("web server listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("web server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
