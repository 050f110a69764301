package game

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Reaper periodically finalizes rounds whose timers never fired.
type Reaper struct {
	rounds       *Rounds
	ledger       Ledger
	interval     time.Duration
	waitingGrace time.Duration
	maxFlight    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

type ReaperConfig struct {
	Interval     time.Duration
	WaitingGrace time.Duration
	MaxFlight    time.Duration
}

func NewReaper(rounds *Rounds, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = REAPER_INTERVAL
	}
	if cfg.WaitingGrace <= 0 {
		cfg.WaitingGrace = WAITING_GRACE
	}
	if cfg.MaxFlight <= 0 {
		cfg.MaxFlight = MAX_FLIGHT
	}
	return &Reaper{
		rounds:       rounds,
		ledger:       rounds.ledger,
		interval:     cfg.Interval,
		waitingGrace: cfg.WaitingGrace,
		maxFlight:    cfg.MaxFlight,
		now:          rounds.opts.now,
		logger:       rounds.opts.logger.With("component", "reaper"),
	}
}

// Run sweeps every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep finalizes WAITING rounds past the grace period and ACTIVE rounds
// past the maximum flight time, and reports how many it closed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	var (
		finalized int
		errs      []error
	)
	for _, pass := range []struct {
		status RoundStatus
		cutoff time.Time
	}{
		{StatusWaiting, now.Add(-r.waitingGrace)},
		{StatusActive, now.Add(-r.maxFlight)},
	} {
		stale, err := r.ledger.StaleRounds(ctx, pass.status, pass.cutoff)
		if err != nil {
			errs = append(errs, Infra("stale rounds", err))
			continue
		}
		for _, round := range stale {
			r.logger.Warn("finalizing stale round", "roundID", round.ID, "status", round.Status, "startsAt", round.StartsAt)
			ok, err := r.rounds.ForceFinish(ctx, round)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				finalized++
			}
		}
	}
	if finalized > 0 {
		r.logger.Info("cleaned up stale rounds", "count", finalized)
	}
	return finalized, errors.Join(errs...)
}
