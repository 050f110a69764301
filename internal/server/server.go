package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"rocketcrash/internal/cache"
	"rocketcrash/internal/database"
	"rocketcrash/internal/game"
	"rocketcrash/internal/identity"
)

// Deps is everything the HTTP and WebSocket surface talks to. DB and Cache
// are only used for health reporting and may be nil.
type Deps struct {
	DB         database.Service
	Cache      cache.Service
	Auth       identity.Authenticator
	Hub        *game.Hub
	Rounds     *game.Rounds
	Bets       *game.Bets
	Settings   *game.SettingsService
	AdminToken string
	Logger     *slog.Logger
}

type FiberServer struct {
	*fiber.App

	db         database.Service
	cache      cache.Service
	auth       identity.Authenticator
	hub        *game.Hub
	rounds     *game.Rounds
	bets       *game.Bets
	settings   *game.SettingsService
	adminToken string
	logger     *slog.Logger
}

func New(d Deps) *FiberServer {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "rocketcrash",
			AppName:       "rocketcrash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:         d.DB,
		cache:      d.Cache,
		auth:       d.Auth,
		hub:        d.Hub,
		rounds:     d.Rounds,
		bets:       d.Bets,
		settings:   d.Settings,
		adminToken: d.AdminToken,
		logger:     logger.With("component", "server"),
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// sockets are long-lived and counted by the hub instead
			return c.Path() == "/ws"
		},
	}))

	server.RegisterFiberRoutes()
	return server
}

// Shutdown stops accepting requests, then releases the stores.
func (s *FiberServer) Shutdown(timeout time.Duration) error {
	s.logger.Info("shutting down")

	err := s.App.ShutdownWithTimeout(timeout)
	if s.rounds != nil {
		s.rounds.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}
