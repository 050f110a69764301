package game

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fixedSource struct {
	vals []float64
	i    int
}

func (f *fixedSource) Float64() float64 {
	v := f.vals[f.i%len(f.vals)]
	f.i++
	return v
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.eventType() == t {
			n++
		}
	}
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires the engine over a memory ledger with a crash multiplier of
// exactly 2.00 for every round and timers switched off.
type fixture struct {
	ledger   *MemoryLedger
	settings *SettingsService
	rounds   *Rounds
	bets     *Bets
	clock    *testClock
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := NewMemoryLedger()
	clock := newTestClock()
	ledger.now = clock.Now

	settings := NewSettingsService(ledger, nil, quietLogger())
	if _, err := settings.UpdateChances(context.Background(), Distribution{
		{From: dec("1"), To: dec("3"), Weight: 100},
	}); err != nil {
		t.Fatalf("UpdateChances() error = %v", err)
	}

	events := &recorder{}
	opts := []Option{
		WithClock(clock.Now),
		WithSource(func(string) Source { return &fixedSource{vals: []float64{0.5}} }),
		WithLogger(quietLogger()),
		WithoutTimers(),
	}
	return &fixture{
		ledger:   ledger,
		settings: settings,
		rounds:   NewRounds(ledger, settings, events, opts...),
		bets:     NewBets(ledger, settings, events, opts...),
		clock:    clock,
		events:   events,
	}
}

func (f *fixture) player(id string, balance int64) Identity {
	f.ledger.UpsertPlayer(Player{ID: id, Username: "user-" + id, Balance: decimal.NewFromInt(balance)})
	return Identity{UserID: id, Username: "user-" + id}
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	p, err := f.ledger.Player(context.Background(), id)
	if err != nil {
		t.Fatalf("Player(%s) error = %v", id, err)
	}
	return p.Balance
}

// liftoff moves the clock past startsAt and activates the round.
func (f *fixture) liftoff(t *testing.T, round Round) {
	t.Helper()
	f.clock.Advance(round.StartsAt.Sub(f.clock.Now()) + time.Second)
	if _, err := f.rounds.Transition(context.Background(), round.ID, StatusActive); err != nil {
		t.Fatalf("Transition(ACTIVE) error = %v", err)
	}
}
