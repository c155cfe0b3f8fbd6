package gateway

import (
	"encoding/base64"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SendRequest carries an opaque, already-encoded request payload — the
// gateway never interprets chat message shape, matching spec.md's "core
// does not know the shape of chat messages" non-goal; callers are
// responsible for building whatever payload the backing service expects.
type SendRequest struct {
	PayloadBase64 string `json:"payload"`
	TimeoutMS     int64  `json:"timeoutMs"`
}

func (s *Server) sendRequest(c *fiber.Ctx) error {
	h, ok := s.config.Manager.GetSession(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "session not found"})
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "payload must be base64"})
	}

	timeout := 60 * time.Second
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	reply, err := h.Machine().Send(c.Context(), payload, timeout)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"payload": base64.StdEncoding.EncodeToString(reply),
		},
	})
}
