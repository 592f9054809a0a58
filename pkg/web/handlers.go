package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-facepay/pkg/camera"
	"github.com/teslashibe/go-facepay/pkg/hub"
	"github.com/teslashibe/go-facepay/pkg/session"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.ActiveCount(),
	}
	if s.devices != nil {
		resp["devices"] = s.devices.DeviceCount()
	}
	return c.JSON(resp)
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req session.StartRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	rec, err := s.sessions.Start(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(s.sessions.List())
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	rec, err := s.sessions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleCancelSession(c *fiber.Ctx) error {
	rec, err := s.sessions.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(s.camera.Current())
}

// handleUpdateCamera applies a partial update, e.g. {"preset":"low"} or
// {"width":1280,"height":720}.
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var u camera.Update
	if err := c.BodyParser(&u); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cfg, err := s.camera.Apply(u)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(cfg)
}

func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

// handleEventsWS streams session updates until the client goes away.
// ?session=<id> restricts the stream to one session.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c, c.Query("session"))
	if client == nil {
		return
	}
	client.Serve()
}
