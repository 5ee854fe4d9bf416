package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/auth"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/config"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/social"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/stream"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/tracking"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

// Close releases the stream subscription. The pools belong to the caller.
func (s *Server) Close() {
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	posts := social.NewService(s.DB)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret, s.DB))
	tracking.RegisterRoutes(s.App, tracking.NewService(s.DB, s.Stream, posts), jwtMiddleware)
	social.RegisterRoutes(s.App.Group("/social"), posts, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}
