package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/caresync-labs/caresync-realtime-api/internal/config"
	"github.com/caresync-labs/caresync-realtime-api/internal/handler"
	"github.com/caresync-labs/caresync-realtime-api/internal/middleware"
	"github.com/caresync-labs/caresync-realtime-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	NotificationHandler *handler.NotificationHandler
	EventHandler        *handler.EventHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := app.Group("/api/v2/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v2/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	// Internal intake for domain events from the rest of the product.
	if deps.EventHandler != nil {
		events := app.Group("/api/v2/events",
			jwtMiddleware,
			middleware.RequireRole("service", "admin"),
			middleware.RateLimit("events", 60, time.Minute),
		)
		deps.EventHandler.Register(events)
	}
}
