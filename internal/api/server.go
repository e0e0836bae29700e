// Package api serves the guide engine over HTTP: action recording, guidance,
// project inspection, the status feed and the health endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/guidance"
	"github.com/p-blackswan/guide-engine/internal/health"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/registry"
	"github.com/p-blackswan/guide-engine/internal/requestid"
)

// DefaultListenAddr is used when ServerConfig.ListenAddr is empty.
const DefaultListenAddr = ":8080"

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins []string
}

// Server is the guide API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server. checker and
// metricsCollector may be nil.
func NewServer(
	cfg ServerConfig,
	reg *registry.Registry,
	eng *guidance.Engine,
	fd *feed.Feed,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(NewHandlers(reg, eng, fd, logger), checker, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, " + requestid.Header,
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		// Skip noisy health and poll logging
		if path == "/healthz" || path == "/readyz" || path == "/metrics" || path == "/updates" {
			return c.Next()
		}

		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", fmt.Sprintf("%v", c.Locals(requestid.LocalsKey))).
			Msg("api request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker, metricsCollector *metrics.Metrics) {
	s.app.Get("/healthz", health.LivenessHandler())
	if checker != nil {
		s.app.Get("/readyz", checker.ReadinessHandler())
	} else {
		s.app.Get("/readyz", health.LivenessHandler())
	}

	if metricsCollector != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	// Status page feed
	s.app.Get("/updates", h.Updates)

	v1 := s.app.Group("/api/v1")

	v1.Post("/actions", h.RecordAction)
	v1.Post("/guidance", h.Guidance)

	v1.Get("/projects", h.ListProjects)
	v1.Get("/projects/:name", h.GetProject)
	v1.Post("/projects/:name/stage-check", h.StageCheck)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		errType, title := "internal_error", "Internal Server Error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			errType, title = "http_error", e.Message
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		// Don't leak internal details
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return c.Status(code).JSON(ProblemDetail{
			Type:     errType,
			Title:    title,
			Status:   code,
			Detail:   detail,
			Instance: c.Path(),
		})
	}
}
