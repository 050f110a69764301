package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"rocketcrash/internal/cache"
	"rocketcrash/internal/config"
	"rocketcrash/internal/database"
	"rocketcrash/internal/game"
	"rocketcrash/internal/identity"
	"rocketcrash/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// amounts and multipliers go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if err := database.RunMigrations(cfg.Database, cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return err
	}
	ledger := database.NewLedger(db.DB(), logger)

	// Redis only fronts the settings; the game runs without it.
	var (
		redis         cache.Service
		settingsCache game.SettingsCache
	)
	if redis, err = cache.New(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("redis unavailable, settings will not be shared between instances", "error", err)
		redis = nil
	} else {
		settingsCache = cache.NewSettingsCache(redis.GetClient(), logger)
	}

	settings := game.NewSettingsService(ledger, settingsCache, logger)
	if err := settings.Load(ctx); err != nil {
		logger.Warn("could not load settings, using defaults", "error", err)
	}
	go settings.Watch(ctx)

	hub := game.NewHub(logger)
	go hub.Run(ctx)

	opts := []game.Option{
		game.WithLogger(logger),
		game.WithLiftoffDelay(cfg.Game.LiftoffDelay),
		game.WithOpTimeout(cfg.Game.OpTimeout),
	}
	rounds := game.NewRounds(ledger, settings, hub, opts...)
	if err := rounds.Resume(ctx); err != nil {
		logger.Warn("could not resume open round", "error", err)
	}
	bets := game.NewBets(ledger, settings, hub, opts...)

	reaper := game.NewReaper(rounds, game.ReaperConfig{
		Interval:     cfg.Game.ReaperInterval,
		WaitingGrace: cfg.Game.WaitingGrace,
		MaxFlight:    cfg.Game.MaxFlight,
	})
	go reaper.Run(ctx)

	var auth identity.Authenticator
	switch cfg.Identity.Mode {
	case config.IdentityRemote:
		auth = identity.NewRemote(cfg.Identity.URL, cfg.Identity.Timeout, logger)
	default:
		auth = identity.NewLedgerTokens(ledger)
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, settings updates are disabled")
	}

	srv := server.New(server.Deps{
		DB:         db,
		Cache:      redis,
		Auth:       auth,
		Hub:        hub,
		Rounds:     rounds,
		Bets:       bets,
		Settings:   settings,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server starting", "addr", addr, "identity", cfg.Identity.Mode)
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		srv.Shutdown(shutdownTimeout)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
