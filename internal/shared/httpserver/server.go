package httpserver

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// RouteRegistrar mounts a module's routes on the app.
type RouteRegistrar interface {
	RegisterRoutes(app fiber.Router)
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

type Options struct {
	ErrorHandler    fiber.ErrorHandler
	ShutdownTimeout time.Duration
	// Checks are run by /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

type Server struct {
	app  *fiber.App
	opts Options
}

func NewServer(opts Options, registrars ...RouteRegistrar) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	cfg := fiber.Config{DisableStartupMessage: true}
	if opts.ErrorHandler != nil {
		cfg.ErrorHandler = opts.ErrorHandler
	}
	app := fiber.New(cfg)

	// logging middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_addr", c.IP()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	})

	s := &Server{app: app, opts: opts}
	app.Get("/health", s.health)
	for _, r := range registrars {
		r.RegisterRoutes(app)
	}
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) health(c *fiber.Ctx) error {
	status := fiber.StatusOK
	results := make(map[string]string, len(s.opts.Checks))
	for name, check := range s.opts.Checks {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status = fiber.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "healthy"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server started", zap.String("addr", addr))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}
