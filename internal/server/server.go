// Package server exposes the reviewer API and the live review feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/config"
	"commentguard/internal/coordinator"
	"commentguard/internal/featureflags"
	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/repository"
	"commentguard/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialized collaborators the server routes to.
type Deps struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Accounts    repository.AccountRepository
	Review      *service.ReviewService
	Suspicious  *service.SuspiciousService
	Fraud       *service.FraudService
	Worker      *service.AccountWorker
	Coordinator *coordinator.Coordinator
	Flags       *featureflags.Manager
	Hub         *notifications.Hub
	Notifier    *notifications.Notifier
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	accounts   repository.AccountRepository
	review     *service.ReviewService
	suspicious *service.SuspiciousService
	fraud      *service.FraudService
	worker     *service.AccountWorker
	coord      *coordinator.Coordinator
	flags      *featureflags.Manager
	hub        *notifications.Hub
	notifier   *notifications.Notifier
}

// NewServer creates a Server using already-initialized dependencies.
func NewServer(cfg *config.Config, d Deps) *Server {
	middleware.InitMiddleware(cfg)
	return &Server{
		config:         cfg,
		db:             d.DB,
		redis:          d.Redis,
		promMiddleware: middleware.InitMetrics("commentguard-api"),
		accounts:       d.Accounts,
		review:         d.Review,
		suspicious:     d.Suspicious,
		fraud:          d.Fraud,
		worker:         d.Worker,
		coord:          d.Coordinator,
		flags:          d.Flags,
		hub:            d.Hub,
		notifier:       d.Notifier,
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// The review feed authenticates from the query string, so it is registered
	// before the header-based group.
	app.Get("/api/ws/review", middleware.WebSocketAuthRequired, s.ReviewFeedUpgrade, s.ReviewFeedHandler())

	// ContextMiddleware runs again so the reviewer ID reaches the service logs.
	api := app.Group("/api", middleware.AuthRequired, middleware.ContextMiddleware())

	accounts := api.Group("/accounts")
	accounts.Get("/:id/comments", s.ListAccountComments)
	accounts.Get("/:id/suspicious", s.ListSuspiciousAccounts)
	accounts.Get("/:id/fraud-clusters", s.GetFraudClusters)
	accounts.Get("/:id/feature-flags", s.GetFeatureFlags)
	accounts.Post("/:id/sync", middleware.RateLimit(s.redis, 6, time.Minute, "manual_sync"), s.TriggerSync)

	comments := api.Group("/comments")
	comments.Post("/:id/review", middleware.RateLimit(s.redis, 60, time.Minute, "review"), s.SubmitReview)
	comments.Get("/:id/similar", s.GetSimilarComments)
	comments.Get("/:id/evidence", s.GetEvidence)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports unhealthy when the database is unreachable. Redis is
// optional: without it caching and the shared lock set are disabled.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unhealthy"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "commentguard review API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires the review feed and listens. It blocks until the app shuts down.
func (s *Server) Start() error {
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	s.app = s.NewApp()

	if s.notifier != nil && s.hub != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				middleware.Logger.Error("review feed wiring stopped", slog.String("error", err.Error()))
			}
		}()
	}

	middleware.Logger.Info("review API listening", slog.String("port", s.config.Port))
	if err := s.app.Listen(":" + s.config.Port); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops the feed wiring, closes websocket clients and drains HTTP.
// Database and Redis belong to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	var firstErr error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
			firstErr = err
		}
	}
	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
