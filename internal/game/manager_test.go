package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRounds_GetOrCreateCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	round, err := f.rounds.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}

	if round.Status != StatusWaiting {
		t.Errorf("Status = %v, want WAITING", round.Status)
	}
	if want := f.clock.Now().Add(LIFTOFF_DELAY); !round.StartsAt.Equal(want) {
		t.Errorf("StartsAt = %v, want %v", round.StartsAt, want)
	}
	if !round.CrashMultiplier.Equal(dec("2")) {
		t.Errorf("CrashMultiplier = %s, want 2", round.CrashMultiplier)
	}
	if round.Commitment != HashCommitment(round.ServerSeed) {
		t.Error("Commitment does not hash the server seed")
	}

	again, err := f.rounds.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() second call error = %v", err)
	}
	if again.ID != round.ID {
		t.Errorf("second call returned round %d, want %d", again.ID, round.ID)
	}
	if n := f.events.count(EventRoundCreated); n != 1 {
		t.Errorf("round.created broadcast %d times, want 1", n)
	}
}

func TestRounds_GetOrCreateCurrent_Concurrent(t *testing.T) {
	f := newFixture(t)

	const callers = 50
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			round, err := f.rounds.GetOrCreateCurrent(context.Background())
			if err != nil {
				t.Errorf("GetOrCreateCurrent() error = %v", err)
				return
			}
			ids[i] = round.ID
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("caller %d got round %d, caller 0 got %d", i, id, ids[0])
		}
	}
	if n := f.events.count(EventRoundCreated); n != 1 {
		t.Errorf("round.created broadcast %d times, want 1", n)
	}
}

func TestRounds_Current(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.rounds.Current(ctx); !errors.Is(err, ErrNoCurrentRound) {
		t.Fatalf("Current() error = %v, want NO_CURRENT_ROUND", err)
	}

	round, _ := f.rounds.GetOrCreateCurrent(ctx)
	got, err := f.rounds.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.ID != round.ID {
		t.Errorf("Current() = %d, want %d", got.ID, round.ID)
	}
}

func TestRounds_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    []RoundStatus
		to      RoundStatus
		want    bool
		wantErr error
	}{
		{name: "Waiting to active", to: StatusActive, want: true},
		{name: "Active to finished", from: []RoundStatus{StatusActive}, to: StatusFinished, want: true},
		{name: "Same status is a no-op", from: []RoundStatus{StatusActive}, to: StatusActive},
		{name: "Skipping active", to: StatusFinished, wantErr: ErrInvalidTransition},
		{name: "Active back to waiting", from: []RoundStatus{StatusActive}, to: StatusWaiting, wantErr: ErrInvalidTransition},
		{name: "Finished back to active", from: []RoundStatus{StatusActive, StatusFinished}, to: StatusActive, wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			round, _ := f.rounds.GetOrCreateCurrent(ctx)
			for _, s := range tt.from {
				if _, err := f.rounds.Transition(ctx, round.ID, s); err != nil {
					t.Fatalf("setup Transition(%s) error = %v", s, err)
				}
			}
			before, _ := f.ledger.RoundByID(ctx, round.ID)

			got, err := f.rounds.Transition(ctx, round.ID, tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Transition() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Transition() = %v, want %v", got, tt.want)
			}

			after, _ := f.ledger.RoundByID(ctx, round.ID)
			if tt.wantErr != nil && after.Status != before.Status {
				t.Errorf("status changed to %s on a rejected transition", after.Status)
			}
		})
	}
}

func TestRounds_TransitionBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	round, _ := f.rounds.GetOrCreateCurrent(ctx)

	f.rounds.Transition(ctx, round.ID, StatusActive)
	f.rounds.Transition(ctx, round.ID, StatusActive)
	f.rounds.Transition(ctx, round.ID, StatusFinished)

	if n := f.events.count(EventRoundStarted); n != 1 {
		t.Errorf("round.started broadcast %d times, want 1", n)
	}
	if n := f.events.count(EventRoundFinished); n != 1 {
		t.Errorf("round.finished broadcast %d times, want 1", n)
	}

	next, err := f.rounds.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if next.ID == round.ID {
		t.Error("finished round was returned as current")
	}
}

func TestRounds_SnapshotHidesCrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	round, _ := f.rounds.GetOrCreateCurrent(ctx)

	snap, err := f.rounds.Snapshot(ctx, round)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.CrashMultiplier != nil {
		t.Error("WAITING snapshot reveals the crash multiplier")
	}

	raw, _ := json.Marshal(round)
	for _, secret := range []string{round.ServerSeed, "crashMultiplier", "serverSeed"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("round JSON leaks %q: %s", secret, raw)
		}
	}

	f.liftoff(t, round)
	round, _ = f.ledger.RoundByID(ctx, round.ID)
	if snap, _ := f.rounds.Snapshot(ctx, round); snap.CrashMultiplier != nil {
		t.Error("ACTIVE snapshot reveals the crash multiplier before the curve reaches it")
	}

	f.clock.Advance(FlightDuration(round.CrashMultiplier))
	if snap, _ := f.rounds.Snapshot(ctx, round); snap.CrashMultiplier == nil {
		t.Error("ACTIVE snapshot past the crash point hides the multiplier")
	}
}

func TestRounds_Fairness(t *testing.T) {
	ledger := NewMemoryLedger()
	settings := NewSettingsService(ledger, nil, quietLogger())
	rounds := NewRounds(ledger, settings, nil, WithLogger(quietLogger()), WithoutTimers())
	ctx := context.Background()

	round, err := rounds.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if _, err := rounds.Fairness(ctx, round.ID); !errors.Is(err, ErrRoundNotRevealed) {
		t.Fatalf("Fairness() on open round error = %v, want ROUND_NOT_REVEALED", err)
	}

	rounds.Transition(ctx, round.ID, StatusActive)
	rounds.Transition(ctx, round.ID, StatusFinished)

	fair, err := rounds.Fairness(ctx, round.ID)
	if err != nil {
		t.Fatalf("Fairness() error = %v", err)
	}
	if !fair.Valid {
		t.Errorf("Fairness() = %+v, want valid", fair)
	}
	if fair.ServerSeed != round.ServerSeed {
		t.Error("Fairness() did not reveal the server seed")
	}
	if _, err := rounds.Fairness(ctx, 999); !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("Fairness() unknown round error = %v, want ROUND_NOT_FOUND", err)
	}
}

func TestRounds_Timers(t *testing.T) {
	ledger := NewMemoryLedger()
	settings := NewSettingsService(ledger, nil, quietLogger())
	if _, err := settings.UpdateChances(context.Background(), Distribution{
		{From: dec("1"), To: dec("1.1"), Weight: 100},
	}); err != nil {
		t.Fatalf("UpdateChances() error = %v", err)
	}
	events := &recorder{}
	rounds := NewRounds(ledger, settings, events,
		WithLogger(quietLogger()),
		WithLiftoffDelay(20*time.Millisecond),
		WithSource(func(string) Source { return &fixedSource{vals: []float64{0}} }),
	)
	defer rounds.Stop()

	round, err := rounds.GetOrCreateCurrent(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := ledger.RoundByID(context.Background(), round.ID)
		if got.Status == StatusFinished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, _ := ledger.RoundByID(context.Background(), round.ID)
	if got.Status != StatusFinished {
		t.Fatalf("round status = %s after timers, want FINISHED", got.Status)
	}
	if n := events.count(EventRoundStarted); n != 1 {
		t.Errorf("round.started broadcast %d times, want 1", n)
	}
	if n := events.count(EventRoundFinished); n != 1 {
		t.Errorf("round.finished broadcast %d times, want 1", n)
	}
}

func TestRounds_TimerForFinishedRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var logs bytes.Buffer
	rounds := NewRounds(f.ledger, f.settings, f.events,
		WithClock(f.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithoutTimers(),
	)

	round, err := rounds.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatalf("GetOrCreateCurrent() error = %v", err)
	}
	if ok, err := rounds.ForceFinish(ctx, round); err != nil || !ok {
		t.Fatalf("ForceFinish() = %v, %v", ok, err)
	}

	// timers armed before the reaper ran still fire afterwards
	rounds.advance(round.ID, StatusActive)
	rounds.advance(round.ID, StatusFinished)

	if strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("late timers logged an error:\n%s", logs.String())
	}
	if n := f.events.count(EventRoundStarted); n != 0 {
		t.Errorf("round.started broadcast %d times, want 0", n)
	}
	if n := f.events.count(EventRoundFinished); n != 1 {
		t.Errorf("round.finished broadcast %d times, want 1", n)
	}
}

func TestReaper_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reaper := NewReaper(f.rounds, ReaperConfig{})

	waiting, _ := f.rounds.GetOrCreateCurrent(ctx)
	if n, err := reaper.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("Sweep() on fresh round = %d, %v; want 0, nil", n, err)
	}

	f.clock.Advance(LIFTOFF_DELAY + WAITING_GRACE + time.Second)
	n, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep() finalized %d rounds, want 1", n)
	}
	if got, _ := f.ledger.RoundByID(ctx, waiting.ID); got.Status != StatusFinished {
		t.Errorf("stale WAITING round status = %s, want FINISHED", got.Status)
	}

	var forced bool
	f.events.mu.Lock()
	for _, e := range f.events.events {
		if fin, ok := e.(RoundFinished); ok && fin.RoundID == waiting.ID {
			forced = fin.Forced
		}
	}
	f.events.mu.Unlock()
	if !forced {
		t.Error("reaped round was not announced as forced")
	}

	active, _ := f.rounds.GetOrCreateCurrent(ctx)
	f.liftoff(t, active)
	f.clock.Advance(MAX_FLIGHT)
	if n, _ := reaper.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep() of stale ACTIVE round finalized %d, want 1", n)
	}
	if got, _ := f.ledger.RoundByID(ctx, active.ID); got.Status != StatusFinished {
		t.Errorf("stale ACTIVE round status = %s, want FINISHED", got.Status)
	}

	if n, _ := reaper.Sweep(ctx); n != 0 {
		t.Errorf("second Sweep() finalized %d, want 0", n)
	}
}
