package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"rocketcrash/internal/game"
)

const (
	SETTINGS_KEY     = "crash:settings"
	SETTINGS_CHANNEL = "crash:settings:invalidate"
	SETTINGS_TTL     = 10 * time.Minute
)

// SettingsCache shares the engine settings between instances and tells every
// instance to reload when one of them changes the settings.
type SettingsCache struct {
	client *redis.Client
	logger *slog.Logger
}

var _ game.SettingsCache = (*SettingsCache)(nil)

func NewSettingsCache(client *redis.Client, logger *slog.Logger) *SettingsCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsCache{client: client, logger: logger.With("component", "settings-cache")}
}

func (c *SettingsCache) Get(ctx context.Context) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, SETTINGS_KEY).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *SettingsCache) Set(ctx context.Context, raw []byte) error {
	return c.client.Set(ctx, SETTINGS_KEY, raw, SETTINGS_TTL).Err()
}

// Invalidate drops the shared copy and notifies every subscriber.
func (c *SettingsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, SETTINGS_KEY).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, SETTINGS_CHANNEL, "reload").Err()
}

// Subscribe calls onInvalidate for every invalidation until ctx ends. It
// returns once the subscription is live.
func (c *SettingsCache) Subscribe(ctx context.Context, onInvalidate func()) {
	sub := c.client.Subscribe(ctx, SETTINGS_CHANNEL)
	if _, err := sub.Receive(ctx); err != nil {
		c.logger.Error("settings subscription failed", "error", err)
		sub.Close()
		return
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				c.logger.Debug("settings invalidated")
				onInvalidate()
			}
		}
	}()
}
