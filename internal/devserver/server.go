// Package devserver is a reference implementation of the remote service the
// client core talks to. It applies the same server-side policy the client
// mirrors: authenticated writes, author-or-admin delete and admin-only
// role and verification changes.
package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"bulletin/internal/config"
	"bulletin/internal/observability"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const correlationHeader = "X-Correlation-ID"

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// metrics returns the process-wide fiberprometheus collector; its
// collectors live in the default registry and can be registered only once.
func metrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("bulletin-devserver")
	})
	return prom
}

type Server struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	store  *Store
	app    *fiber.App
}

// NewServer connects to the configured database and redis.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" && !strings.EqualFold(cfg.Env, "test") {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			observability.GlobalLogger.Warn("Redis connection warning (continuing without rate limit store)",
				slog.String("error", err.Error()))
			_ = rdb.Close()
			rdb = nil
		}
	}

	return NewServerWithDeps(cfg, db, rdb)
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// NewServerWithDeps builds a server on an open database and an optional redis client.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Server, error) {
	s := &Server{
		config: cfg,
		db:     db,
		redis:  rdb,
		store:  NewStore(db, cfg.Admins()),
	}
	if err := s.store.EnsureAdmins(context.Background()); err != nil {
		return nil, err
	}
	if cfg.SeedPosts > 0 {
		if err := Seed(context.Background(), s.store, cfg.SeedPosts); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "bulletin devserver",
		DisableStartupMessage: true,
		BodyLimit:             8 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return respondError(c, err)
		},
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s, nil
}

// App exposes the fiber application, for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Store exposes the data layer.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(correlationMiddleware())

	prom := metrics()
	app.Use(prom.Middleware)

	app.Use(requestLogger())

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Origins(), ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + correlationHeader,
		MaxAge:       86400,
	}))

	if s.config.IsProduction() {
		app.Use(limiter.New(limiter.Config{
			Max:        300,
			Expiration: 1 * time.Minute,
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
}

// correlationMiddleware carries the client's correlation id, or the request
// id, into the request context.
func correlationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(correlationHeader)
		if id == "" {
			if rid, ok := c.Locals("requestid").(string); ok {
				id = rid
			}
		}
		if id == "" {
			id = observability.GenerateCorrelationID()
		}
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		c.Set(correlationHeader, id)
		return c.Next()
	}
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
			slog.String("correlation_id", observability.ExtractCorrelationID(c.UserContext())),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.GlobalLogger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.GlobalLogger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}

func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.HealthCheck)
	metrics().RegisterAt(app, "/metrics")

	optional := s.Authenticate(false)
	required := s.Authenticate(true)

	api := app.Group("/api")

	if !s.config.IsProduction() {
		api.Post("/dev/token", s.IssueDevToken)
	}

	api.Get("/profile/me", required, s.GetCallerProfile)
	api.Put("/profile/me", required, s.SaveCallerProfile)
	api.Get("/profiles", required, s.ListProfileSummaries)
	api.Get("/profiles/:identity", optional, s.GetProfile)

	api.Get("/posts", optional, s.ListPosts)
	api.Post("/posts", required, s.RateLimit(5, time.Minute, "create_post", FailOpen), s.CreatePost)
	api.Get("/posts/:id", optional, s.GetPost)
	api.Delete("/posts/:id", required, s.DeletePost)
	api.Post("/posts/:id/like", required, s.LikePost)
	api.Post("/posts/:id/share", required, s.SharePost)
	api.Post("/posts/:id/save", required, s.SavePost)
	api.Delete("/posts/:id/save", required, s.UnsavePost)
	api.Get("/posts/:id/comments", optional, s.ListComments)
	api.Post("/posts/:id/comments", required, s.RateLimit(20, time.Minute, "create_comment", FailOpen), s.AddComment)
	api.Get("/saved-posts", required, s.ListSavedPosts)

	api.Get("/roles/me", required, s.GetCallerRole)
	api.Get("/roles/me/admin", optional, s.IsCallerAdmin)
	api.Get("/roles/:identity", optional, s.GetRole)
	api.Put("/roles/:identity", required, s.SetRole)
	api.Post("/verifications/:identity", required, s.GrantVerification)
	api.Delete("/verifications/:identity", required, s.RevokeVerification)

	api.Post("/blobs", required, s.RateLimit(30, time.Minute, "upload", FailOpen), s.UploadBlob)
	api.Get("/blobs/:id", s.GetBlob)
}

func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
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
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	observability.GlobalLogger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the server and releases its connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		observability.GlobalLogger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			observability.GlobalLogger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.GlobalLogger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}
	observability.GlobalLogger.Info("Server shutdown complete")
	return nil
}
