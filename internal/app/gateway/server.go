// Package gateway is the demo REST front end for the application layer,
// adapted from the teacher's internal/api.Server: same Fiber app, same
// middleware stack, same /api/v1 route grouping, now fronting an
// app.Manager of session.Machine instances instead of the teacher's
// placeholder WAClient.
package gateway

import (
	"fmt"

	"github.com/duskrelay/wasession/internal/app"
	"github.com/duskrelay/wasession/internal/app/qr"
	"github.com/duskrelay/wasession/internal/app/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Config holds the server's construction parameters.
type Config struct {
	Port       string
	APIKey     string
	Logger     *zap.SugaredLogger
	Manager    *app.Manager
	Dispatcher *webhook.Dispatcher
	QR         *qr.Generator
}

// Server is the Fiber-backed REST gateway.
type Server struct {
	app    *fiber.App
	config Config
}

// NewServer builds and routes the gateway app.
func NewServer(cfg Config) *Server {
	fa := fiber.New(fiber.Config{
		AppName:      "wasession-gateway",
		ServerHeader: "wasession",
		ErrorHandler: errorHandler,
	})

	fa.Use(recover.New())
	fa.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	fa.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-API-Key, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	s := &Server{app: fa, config: cfg}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api/v1", apiKeyAuth(s.config.APIKey))

	sessions := api.Group("/sessions")
	sessions.Post("/", s.createSession)
	sessions.Get("/", s.listSessions)
	sessions.Get("/:id", s.getSession)
	sessions.Get("/:id/qr", s.getQR)
	sessions.Post("/:id/link", s.requestTypedCode)
	sessions.Delete("/:id", s.deleteSession)

	send := api.Group("/send")
	send.Post("/:id", s.sendRequest)

	webhooks := api.Group("/webhooks")
	webhooks.Get("/", s.listWebhooks)
	webhooks.Post("/", s.createWebhook)
	webhooks.Delete("/:id", s.deleteWebhook)
	webhooks.Post("/:id/test", s.testWebhook)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.config.Manager.Stats(),
	})
}

// Start blocks serving on cfg.Port.
func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%s", s.config.Port))
}

// Stop gracefully shuts the Fiber app down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func apiKeyAuth(expected string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}
		key := c.Get("X-API-Key")
		if key == "" {
			const bearerPrefix = "Bearer "
			if auth := c.Get("Authorization"); len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix {
				key = auth[len(bearerPrefix):]
			}
		}
		if key != expected {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid or missing API key",
			})
		}
		return c.Next()
	}
}
