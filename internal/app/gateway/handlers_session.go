package gateway

import (
	"time"

	"github.com/duskrelay/wasession/internal/app"
	"github.com/gofiber/fiber/v2"
)

// CreateSessionRequest is the body of a session creation request.
type CreateSessionRequest struct {
	ID string `json:"id"`
}

func (s *Server) createSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	if req.ID == "" {
		req.ID = "session-" + time.Now().Format("20060102150405")
	}

	h, err := s.config.Manager.CreateSession(c.Context(), req.ID)
	if err != nil {
		if err == app.ErrSessionExists {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": "session already exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": h.Status()})
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	handles := s.config.Manager.ListSessions()
	out := make([]interface{}, len(handles))
	for i, h := range handles {
		out[i] = h.Status()
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"sessions": out,
			"stats":    s.config.Manager.Stats(),
		},
	})
}

func (s *Server) getSession(c *fiber.Ctx) error {
	h, ok := s.config.Manager.GetSession(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "session not found"})
	}
	return c.JSON(fiber.Map{"success": true, "data": h.Status()})
}

func (s *Server) getQR(c *fiber.Ctx) error {
	h, ok := s.config.Manager.GetSession(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "session not found"})
	}
	code, ok := h.LastScannedCode()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "no enrollment code available yet"})
	}
	dataURL, err := s.config.QR.DataURL(code.Code)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"qr":          dataURL,
			"attempt":     code.Attempt,
			"maxAttempts": code.MaxAttempts,
			"expiresAt":   code.ExpiresAt,
		},
	})
}

// LinkRequest carries the phone number used for typed-code linking.
type LinkRequest struct {
	DestinationID string `json:"destinationId"`
}

func (s *Server) requestTypedCode(c *fiber.Ctx) error {
	h, ok := s.config.Manager.GetSession(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "session not found"})
	}
	var req LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	reply, err := h.RequestTypedCode(c.Context(), req.DestinationID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"code":      reply.Code,
			"expiresAt": reply.ExpiresAt,
		},
	})
}

func (s *Server) deleteSession(c *fiber.Ctx) error {
	err := s.config.Manager.DeleteSession(c.Params("id"))
	if err != nil {
		if err == app.ErrSessionNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "session not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "message": "session deleted"})
}
