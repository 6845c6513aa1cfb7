// Package server is the development backend: the REST API and the live
// websocket the feed client talks to.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"discussify/internal/config"
	"discussify/internal/database"
	"discussify/internal/live"
	"discussify/internal/middleware"
	"discussify/internal/models"
	"discussify/internal/observability"
	"discussify/internal/repository"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce       sync.Once
	promMiddleware *fiberprometheus.FiberPrometheus
)

// initMetrics registers the HTTP metrics once per process; the collectors
// live in the default registry.
func initMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		promMiddleware = fiberprometheus.New("discussify-devserver")
	})
	return promMiddleware
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
	userRepo       repository.UserRepository
	communityRepo  repository.CommunityRepository
	postRepo       repository.PostRepository
	commentRepo    repository.CommentRepository
	hub            *live.MemoryChannel
	publisher      *live.Publisher
	uploads        *uploadStore
	validate       *validator.Validate
	sanitizer      *bluemonday.Policy
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRedis mirrors every live event to rdb.
func WithRedis(rdb *redis.Client) Option {
	return func(s *Server) { s.redis = rdb }
}

// New creates a server on an open database.
func New(cfg *config.Config, db *gorm.DB, opts ...Option) (*Server, error) {
	uploads, err := newUploadStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:         cfg,
		db:             db,
		promMiddleware: initMetrics(),
		shutdownCtx:    ctx,
		shutdownFn:     cancel,
		userRepo:       repository.NewUserRepository(db),
		communityRepo:  repository.NewCommunityRepository(db),
		postRepo:       repository.NewPostRepository(db),
		commentRepo:    repository.NewCommentRepository(db),
		hub:            live.NewMemoryChannel(),
		uploads:        uploads,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		sanitizer:      bluemonday.StrictPolicy(),
		logger:         observability.GlobalLogger.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publisher = live.NewPublisher(s.redis)
	return s, nil
}

// NewServer connects the database and, when configured, Redis, then creates
// the server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var opts []Option
	if cfg.RedisPublish {
		rdb, err := live.NewRedisClient(context.Background(), cfg.RedisURL)
		if err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		opts = append(opts, WithRedis(rdb))
	}
	return New(cfg, db, opts...)
}

// Repositories exposes the stores for seeding.
func (s *Server) Repositories() (repository.UserRepository, repository.CommunityRepository, repository.PostRepository, repository.CommentRepository) {
	return s.userRepo, s.communityRepo, s.postRepo, s.commentRepo
}

// App builds the fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "Discussify dev backend",
		BodyLimit: 32 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, errors.New(fe.Message))
			}
			s.logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}
	app.Use(middleware.StructuredLogger())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/healthz", s.HealthCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	app.Static("/uploads", s.uploads.dir)

	auth := middleware.AuthRequired(s.config.JWTSecret)

	api := app.Group("/api/v1")
	api.Get("/communities", s.ListCommunities)
	api.Get("/communities/:id", s.GetCommunity)
	api.Get("/communities/:id/posts", s.ListCommunityPosts)
	api.Get("/posts/:id", s.GetPost)
	api.Get("/posts/:id/comments", s.ListComments)
	api.Post("/posts", auth, s.CreatePost)
	api.Post("/posts/:id/vote", auth, s.ToggleVote)
	api.Post("/posts/:id/comment", auth, s.CreateComment)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", middleware.WebSocketAuthRequired(s.config.JWTSecret), s.FeedWebSocket())
}

// HealthCheck reports whether the database answers.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}
	if err != nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	s.logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()

	var errs []error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}

	// ends every websocket forwarder
	_ = s.hub.Close()

	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	s.logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// publish delivers a post event to websocket clients and, when configured,
// to Redis.
func (s *Server) publish(ctx context.Context, kind live.EventKind, post models.Post) {
	ev := live.Event{Kind: kind, CommunityID: post.CommunityID, Post: post}
	delivered := s.hub.Publish(ev)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "redis publish failed",
			slog.String("event", string(kind)),
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.DebugContext(ctx, "live event published",
		slog.String("event", string(kind)),
		slog.String("community_id", post.CommunityID),
		slog.Int("subscribers", delivered),
	)
}
