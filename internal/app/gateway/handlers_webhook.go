package gateway

import (
	"time"

	webhookpkg "github.com/duskrelay/wasession/internal/app/webhook"
	"github.com/gofiber/fiber/v2"
)

// WebhookCreateRequest registers a new delivery target.
type WebhookCreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

func (s *Server) createWebhook(c *fiber.Ctx) error {
	var req WebhookCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "url is required"})
	}
	if len(req.Events) == 0 {
		req.Events = []string{"*"}
	}

	wh, err := s.config.Dispatcher.Register(req.URL, req.Events, req.Secret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": wh})
}

func (s *Server) listWebhooks(c *fiber.Ctx) error {
	hooks := s.config.Dispatcher.List()
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"webhooks": hooks,
			"total":    len(hooks),
		},
	})
}

func (s *Server) deleteWebhook(c *fiber.Ctx) error {
	err := s.config.Dispatcher.Unregister(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "webhook not found"})
	}
	return c.JSON(fiber.Map{"success": true, "message": "webhook deleted"})
}

func (s *Server) testWebhook(c *fiber.Ctx) error {
	id := c.Params("id")
	s.config.Dispatcher.Dispatch("", webhookpkg.EventSessionStateChanged, fiber.Map{
		"webhookId": id,
		"message":   "test event",
		"timestamp": time.Now(),
	})
	return c.JSON(fiber.Map{"success": true, "message": "test event dispatched"})
}
