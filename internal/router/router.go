package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pelita-edu/pelita-go-api/internal/config"
	"github.com/pelita-edu/pelita-go-api/internal/handler"
	"github.com/pelita-edu/pelita-go-api/internal/middleware"
	"github.com/pelita-edu/pelita-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AttemptHandler  *handler.AttemptHandler
	GradingHandler  *handler.GradingHandler
	ProgressHandler *handler.ProgressHandler
	MonitorHandler  *handler.MonitorHandler
	ActivityHandler *handler.ActivityHandler
	JWTMiddleware   fiber.Handler
	AutosaveLimit   int
	AutosaveWindow  time.Duration
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

	// Quiz attempts (student lifecycle)
	if deps.AttemptHandler != nil {
		quizzes := app.Group("/api/v2/quizzes", jwtMiddleware)
		deps.AttemptHandler.RegisterQuizRoutes(quizzes)

		attempts := app.Group("/api/v2/attempts", jwtMiddleware)

		autosaveLimit := deps.AutosaveLimit
		if autosaveLimit <= 0 {
			autosaveLimit = 10
		}
		autosaveWindow := deps.AutosaveWindow
		if autosaveWindow <= 0 {
			autosaveWindow = time.Second
		}
		attempts.Use("/:id/answers", middleware.RateLimit("autosave", autosaveLimit, autosaveWindow))

		deps.AttemptHandler.Register(attempts)

		// Grading routes sit under the same group but require the teacher role.
		if deps.GradingHandler != nil {
			grading := app.Group("/api/v2/attempts", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
			deps.GradingHandler.Register(grading)
		}
	}

	// Student progress
	if deps.ProgressHandler != nil {
		student := app.Group("/api/v2/student", jwtMiddleware)
		deps.ProgressHandler.Register(student)
	}

	// Live attempt monitor
	if deps.MonitorHandler != nil {
		monitor := app.Group("/api/v2/monitor", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.MonitorHandler.Register(monitor)
	}

	// Grading audit feed
	if deps.ActivityHandler != nil {
		activity := app.Group("/api/v2/activity", jwtMiddleware, middleware.RequireRole("teacher", "admin"))
		deps.ActivityHandler.Register(activity)
	}
}
