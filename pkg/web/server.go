// Package web serves the POS HTTP API: scan sessions, camera settings,
// connected devices, live session events and metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/bridge"
	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/hub"
	"github.com/teslashibe/go-facepay/pkg/scan"
	"github.com/teslashibe/go-facepay/pkg/session"
)

// Option configures a Server.
type Option func(*Server)

// WithEvents streams session updates from h on /ws/events.
func WithEvents(h *hub.Hub) Option {
	return func(s *Server) { s.events = h }
}

// WithCamera exposes m on /api/camera.
func WithCamera(m *camera.Manager) Option {
	return func(s *Server) { s.camera = m }
}

// WithBridge mounts the device endpoint and /api/devices.
func WithBridge(b *bridge.Hub) Option {
	return func(s *Server) { s.devices = b }
}

// WithRequestLog logs every request with fiber's logger middleware.
func WithRequestLog(enabled bool) Option {
	return func(s *Server) { s.requestLog = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the POS HTTP server.
type Server struct {
	app      *fiber.App
	sessions *session.Manager
	events   *hub.Hub
	camera   *camera.Manager
	devices  *bridge.Hub
	logger   *slog.Logger

	requestLog bool
}

// NewServer creates a server for sessions.
func NewServer(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		logger:   log.With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "facepay",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if s.requestLog {
		app.Use(logger.New())
	}

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(sessions.Metrics().Handler()))

	api := app.Group("/api")
	api.Post("/sessions", s.handleStartSession)
	api.Get("/sessions", s.handleListSessions)
	api.Get("/sessions/:id", s.handleGetSession)
	api.Post("/sessions/:id/cancel", s.handleCancelSession)

	if s.camera != nil {
		api.Get("/camera", s.handleGetCamera)
		api.Put("/camera", s.handleUpdateCamera)
		api.Get("/camera/presets", s.handleCameraPresets)
	}

	if s.devices != nil {
		s.devices.RegisterAPIRoutes(api)
		s.devices.RegisterRoutes(app)
	}

	if s.events != nil {
		app.Use("/ws/events", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/events", websocket.New(s.handleEventsWS))
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// HubSink publishes session updates to h as JSON, with the session ID as
// topic.
func HubSink(h *hub.Hub) session.EventSink {
	return session.EventSinkFunc(func(u session.Update) {
		if err := h.PublishJSON(u.SessionID, u); err != nil {
			log.Warn("failed to encode session update", "session", u.SessionID, "error", err)
		}
	})
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := errorStatus(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func errorStatus(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, session.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, scan.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, bridge.ErrDeviceNotConnected), errors.Is(err, session.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
