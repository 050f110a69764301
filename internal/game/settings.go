package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// BetLimits bounds a single wager, inclusive on both ends.
type BetLimits struct {
	Min decimal.Decimal `json:"minBet"`
	Max decimal.Decimal `json:"maxBet"`
}

func DefaultLimits() BetLimits {
	return BetLimits{Min: decimal.NewFromInt(25), Max: decimal.NewFromInt(10000)}
}

func (l BetLimits) Validate() error {
	if !l.Min.IsPositive() {
		return ErrInvalidLimits.With("minBet must be positive, got %s", l.Min)
	}
	if l.Min.GreaterThan(l.Max) {
		return ErrInvalidLimits.With("minBet (%s) must not exceed maxBet (%s)", l.Min, l.Max)
	}
	return nil
}

// Settings is everything an operator can tune at runtime.
type Settings struct {
	Chances Distribution `json:"chances"`
	Limits  BetLimits    `json:"limits"`
}

func DefaultSettings() Settings {
	return Settings{Chances: DefaultDistribution(), Limits: DefaultLimits()}
}

func (s Settings) Validate() error {
	if err := s.Chances.Validate(); err != nil {
		return err
	}
	return s.Limits.Validate()
}

func (s Settings) clone() Settings {
	cp := s
	cp.Chances = append(Distribution(nil), s.Chances...)
	return cp
}

// SettingsCache is a shared cache in front of the settings store that can
// also tell other processes their copy is stale.
type SettingsCache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, raw []byte) error
	Invalidate(ctx context.Context) error
	Subscribe(ctx context.Context, onInvalidate func())
}

// SettingsService holds the engine's cached copy of the settings.
type SettingsService struct {
	store  SettingsStore
	cache  SettingsCache
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings

	// loadMu orders each load's store read before its cache write
	loadMu sync.Mutex
}

// NewSettingsService starts with defaults; call Load to read the store.
// cache may be nil.
func NewSettingsService(store SettingsStore, cache SettingsCache, logger *slog.Logger) *SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsService{
		store:   store,
		cache:   cache,
		logger:  logger.With("component", "settings"),
		current: DefaultSettings(),
	}
}

// Current returns a copy of the cached settings.
func (s *SettingsService) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Load refreshes the cached copy: shared cache first, then the store, then defaults.
func (s *SettingsService) Load(ctx context.Context) error {
	return s.load(ctx, true)
}

// reload skips the shared cache, which may still hold a copy written by a
// load that raced the update being announced.
func (s *SettingsService) reload(ctx context.Context) error {
	return s.load(ctx, false)
}

func (s *SettingsService) load(ctx context.Context, useCache bool) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if useCache && s.cache != nil {
		raw, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warn("settings cache read failed", "error", err)
		} else if ok {
			var cached Settings
			if err := json.Unmarshal(raw, &cached); err == nil && cached.Validate() == nil {
				s.set(cached)
				return nil
			}
			s.logger.Warn("discarding unreadable cached settings")
		}
	}

	stored, ok, err := s.store.LoadSettings(ctx)
	if err != nil {
		return Infra("load settings", err)
	}
	if !ok || stored.Validate() != nil {
		if ok {
			s.logger.Warn("stored settings are invalid, using defaults")
		} else {
			s.logger.Warn("settings not found, using defaults")
		}
		stored = DefaultSettings()
	}
	s.set(stored)

	if s.cache != nil {
		if raw, err := json.Marshal(stored); err == nil {
			if err := s.cache.Set(ctx, raw); err != nil {
				s.logger.Warn("settings cache write failed", "error", err)
			}
		}
	}
	s.logger.Info("settings loaded", "ranges", len(stored.Chances), "minBet", stored.Limits.Min, "maxBet", stored.Limits.Max)
	return nil
}

// UpdateChances validates and stores a new crash distribution.
func (s *SettingsService) UpdateChances(ctx context.Context, d Distribution) (Settings, error) {
	if err := d.Validate(); err != nil {
		return Settings{}, err
	}
	next := s.Current()
	next.Chances = append(Distribution(nil), d...)
	return next, s.save(ctx, next)
}

// UpdateLimits validates and stores new bet limits.
func (s *SettingsService) UpdateLimits(ctx context.Context, l BetLimits) (Settings, error) {
	if err := l.Validate(); err != nil {
		return Settings{}, err
	}
	next := s.Current()
	next.Limits = l
	return next, s.save(ctx, next)
}

func (s *SettingsService) save(ctx context.Context, next Settings) error {
	if err := s.store.SaveSettings(ctx, next); err != nil {
		return Infra("save settings", err)
	}
	s.set(next)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("settings invalidation failed", "error", err)
		}
	}
	s.logger.Info("settings updated")
	return nil
}

// Watch reloads the cached copy whenever another process invalidates it.
func (s *SettingsService) Watch(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.Subscribe(ctx, func() {
		if err := s.reload(ctx); err != nil {
			s.logger.Error("settings reload failed", "error", err)
		}
	})
}

func (s *SettingsService) set(next Settings) {
	s.mu.Lock()
	s.current = next.clone()
	s.mu.Unlock()
}
