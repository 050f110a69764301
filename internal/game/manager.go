package game

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Rounds owns the single current round and every status change it goes through.
type Rounds struct {
	ledger   Ledger
	settings *SettingsService
	hub      Broadcaster
	opts     options
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[int64][]*time.Timer
	stopped bool
}

func NewRounds(ledger Ledger, settings *SettingsService, hub Broadcaster, opts ...Option) *Rounds {
	o := buildOptions(opts)
	if hub == nil {
		hub = discard{}
	}
	return &Rounds{
		ledger:   ledger,
		settings: settings,
		hub:      hub,
		opts:     o,
		logger:   o.logger.With("component", "rounds"),
		timers:   make(map[int64][]*time.Timer),
	}
}

// opContext detaches from the caller so a dropped client cannot abort a
// store operation halfway, and bounds it instead.
func (m *Rounds) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.opTimeout)
}

// GetOrCreateCurrent returns the open round, creating a WAITING one with a
// freshly sampled crash multiplier when there is none.
func (m *Rounds) GetOrCreateCurrent(ctx context.Context) (Round, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	now := m.opts.now()
	seed := GenerateSeed()
	draft := RoundDraft{
		CrashMultiplier: m.settings.Current().Chances.Sample(m.opts.newSource(seed)),
		ServerSeed:      seed,
		Commitment:      HashCommitment(seed),
		StartsAt:        now.Add(m.opts.liftoffDelay),
		CreatedAt:       now,
	}

	round, created, err := m.ledger.OpenRound(ctx, draft)
	if err != nil {
		return Round{}, Infra("open round", err)
	}
	if !created {
		return round, nil
	}

	m.logger.Info("round created",
		"roundID", round.ID,
		"commitment", round.Commitment[:16]+"...",
		"startsAt", round.StartsAt)
	m.schedule(round)

	snap, err := m.Snapshot(ctx, round)
	if err != nil {
		m.logger.Warn("snapshot for round.created failed", "roundID", round.ID, "error", err)
		snap = round.Snapshot(nil, now)
	}
	m.hub.Broadcast(RoundCreated{Round: snap})
	return round, nil
}

// Current returns the open round or NO_CURRENT_ROUND.
func (m *Rounds) Current(ctx context.Context) (Round, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()
	round, err := m.ledger.CurrentRound(ctx)
	if err != nil {
		return Round{}, Infra("current round", err)
	}
	return round, nil
}

// Snapshot is the client-safe view of round with its bets.
func (m *Rounds) Snapshot(ctx context.Context, round Round) (RoundSnapshot, error) {
	bets, err := m.ledger.RoundBets(ctx, round.ID)
	if err != nil {
		return RoundSnapshot{}, Infra("round bets", err)
	}
	return round.Snapshot(bets, m.opts.now()), nil
}

// Transition moves a round one step forward. Asking for the status the round
// already has is a no-op; anything else that is not the next step is an
// invariant violation.
func (m *Rounds) Transition(ctx context.Context, id int64, to RoundStatus) (bool, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	round, err := m.ledger.RoundByID(ctx, id)
	if err != nil {
		return false, Infra("load round", err)
	}
	if round.Status == to {
		return false, nil
	}
	next, ok := round.Status.next()
	if !ok || next != to {
		m.logger.Error("invariant violation: illegal round transition",
			"roundID", id, "from", round.Status, "to", to)
		return false, ErrInvalidTransition.With("cannot move round %d from %s to %s", id, round.Status, to)
	}

	advanced, err := m.ledger.AdvanceRound(ctx, id, round.Status, to)
	if err != nil {
		return false, Infra("advance round", err)
	}
	if !advanced {
		// lost the race to another transition; the winner broadcast it
		return false, nil
	}
	m.announce(round, to, false)
	return true, nil
}

// ForceFinish closes round from whatever open status it was observed in.
// It is a no-op when the round has moved on since.
func (m *Rounds) ForceFinish(ctx context.Context, round Round) (bool, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if !round.Status.Open() {
		return false, nil
	}
	advanced, err := m.ledger.AdvanceRound(ctx, round.ID, round.Status, StatusFinished)
	if err != nil {
		return false, Infra("finish round", err)
	}
	if advanced {
		m.announce(round, StatusFinished, true)
	}
	return advanced, nil
}

func (m *Rounds) announce(round Round, to RoundStatus, forced bool) {
	switch to {
	case StatusActive:
		m.logger.Info("round started", "roundID", round.ID)
		m.hub.Broadcast(RoundStarted{RoundID: round.ID, StartsAt: round.StartsAt})
	case StatusFinished:
		m.clearTimers(round.ID)
		m.logger.Info("round finished", "roundID", round.ID, "crash", round.CrashMultiplier, "forced", forced)
		m.hub.Broadcast(RoundFinished{
			RoundID:         round.ID,
			CrashMultiplier: round.CrashMultiplier,
			ServerSeed:      round.ServerSeed,
			Forced:          forced,
		})
	}
}

// Fairness reveals the seed of a finished round and replays the draw.
func (m *Rounds) Fairness(ctx context.Context, id int64) (Fairness, error) {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	round, err := m.ledger.RoundByID(ctx, id)
	if err != nil {
		return Fairness{}, Infra("load round", err)
	}
	if round.Status != StatusFinished {
		return Fairness{}, ErrRoundNotRevealed
	}
	recomputed, valid := VerifyRound(m.settings.Current().Chances, round.ServerSeed, round.Commitment, round.CrashMultiplier)
	return Fairness{
		RoundID:         round.ID,
		ServerSeed:      round.ServerSeed,
		Commitment:      round.Commitment,
		CrashMultiplier: round.CrashMultiplier,
		Recomputed:      recomputed,
		Valid:           valid,
	}, nil
}

// Resume re-arms the timers of a round left open by a previous process.
func (m *Rounds) Resume(ctx context.Context) error {
	round, err := m.Current(ctx)
	if err != nil {
		if KindOf(err) == KindStateConflict {
			return nil
		}
		return err
	}
	m.logger.Info("resuming open round", "roundID", round.ID, "status", round.Status)
	m.schedule(round)
	return nil
}

// Stop cancels every pending transition timer.
func (m *Rounds) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for id, ts := range m.timers {
		for _, t := range ts {
			t.Stop()
		}
		delete(m.timers, id)
	}
	m.logger.Info("round timers stopped")
}

func (m *Rounds) schedule(round Round) {
	if !m.opts.timers {
		return
	}
	liftoff := max(round.StartsAt.Sub(m.opts.now()), 0)
	crash := liftoff + FlightDuration(round.CrashMultiplier)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	for _, t := range m.timers[round.ID] {
		t.Stop()
	}
	var ts []*time.Timer
	if round.Status == StatusWaiting {
		ts = append(ts, time.AfterFunc(liftoff, func() { m.advance(round.ID, StatusActive) }))
	}
	ts = append(ts, time.AfterFunc(crash, func() { m.advance(round.ID, StatusFinished) }))
	m.timers[round.ID] = ts
}

func (m *Rounds) advance(id int64, to RoundStatus) {
	ctx := context.Background()
	round, err := m.ledger.RoundByID(ctx, id)
	if err != nil {
		m.logger.Warn("scheduled transition could not load round, leaving it to the reaper",
			"roundID", id, "to", to, "error", err)
		return
	}
	if round.Status == StatusFinished {
		// finished elsewhere: the reaper or another instance got there first
		m.logger.Debug("timer fired for finished round", "roundID", id, "to", to)
		m.clearTimers(id)
		return
	}
	// a 1.00x crash is due at liftoff, so the two timers can fire out of order
	if to == StatusFinished && round.Status == StatusWaiting {
		m.advance(id, StatusActive)
	}
	if _, err := m.Transition(ctx, id, to); err != nil {
		m.logger.Warn("scheduled transition failed, leaving round to the reaper",
			"roundID", id, "to", to, "error", err)
	}
}

func (m *Rounds) clearTimers(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers[id] {
		t.Stop()
	}
	delete(m.timers, id)
}
