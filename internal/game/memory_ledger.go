package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryLedger keeps everything in process memory. It backs local
// development and tests; each method holds the ledger mutex for its whole
// duration, which makes every operation trivially atomic.
type MemoryLedger struct {
	mu       sync.Mutex
	rounds   map[int64]*Round
	bets     map[int64]*Bet
	players  map[string]*Player
	settings *Settings
	roundSeq int64
	betSeq   int64
	now      func() time.Time
}

var (
	_ Ledger        = (*MemoryLedger)(nil)
	_ SettingsStore = (*MemoryLedger)(nil)
)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rounds:  make(map[int64]*Round),
		bets:    make(map[int64]*Bet),
		players: make(map[string]*Player),
		now:     time.Now,
	}
}

// UpsertPlayer creates or replaces a wallet owner.
func (m *MemoryLedger) UpsertPlayer(p Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.players[p.ID] = &cp
}

// SetStartsAt moves a round's liftoff time; tests use it to age rounds.
func (m *MemoryLedger) SetStartsAt(id int64, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rounds[id]; ok {
		r.StartsAt = t
	}
}

func (m *MemoryLedger) OpenRound(_ context.Context, draft RoundDraft) (Round, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.openLocked(); r != nil {
		return *r, false, nil
	}
	m.roundSeq++
	r := &Round{
		ID:              m.roundSeq,
		Status:          StatusWaiting,
		CrashMultiplier: draft.CrashMultiplier,
		ServerSeed:      draft.ServerSeed,
		Commitment:      draft.Commitment,
		StartsAt:        draft.StartsAt,
		CreatedAt:       draft.CreatedAt,
	}
	m.rounds[r.ID] = r
	return *r, true, nil
}

func (m *MemoryLedger) openLocked() *Round {
	var open *Round
	for _, r := range m.rounds {
		if r.Status.Open() && (open == nil || r.ID > open.ID) {
			open = r
		}
	}
	return open
}

func (m *MemoryLedger) CurrentRound(_ context.Context) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.openLocked(); r != nil {
		return *r, nil
	}
	return Round{}, ErrNoCurrentRound
}

func (m *MemoryLedger) RoundByID(_ context.Context, id int64) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	return *r, nil
}

func (m *MemoryLedger) RoundBets(_ context.Context, roundID int64) ([]Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bet
	for _, b := range m.bets {
		if b.RoundID == roundID {
			out = append(out, m.withUsername(*b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryLedger) withUsername(b Bet) Bet {
	if p, ok := m.players[b.UserID]; ok {
		b.Username = p.Username
	}
	return b
}

func (m *MemoryLedger) AdvanceRound(_ context.Context, id int64, from, to RoundStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return false, ErrRoundNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *MemoryLedger) StaleRounds(_ context.Context, status RoundStatus, startsBefore time.Time) ([]Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Round
	for _, r := range m.rounds {
		if r.Status == status && r.StartsAt.Before(startsBefore) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryLedger) Player(_ context.Context, userID string) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[userID]
	if !ok {
		return Player{}, ErrUserNotFound
	}
	return *p, nil
}

func (m *MemoryLedger) PlaceBet(_ context.Context, userID string, roundID int64, amount decimal.Decimal, check BetCheck) (Bet, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[roundID]
	if !ok {
		return Bet{}, decimal.Zero, ErrRoundNotFound
	}
	p, ok := m.players[userID]
	if !ok {
		return Bet{}, decimal.Zero, ErrUserNotFound
	}
	if err := check(*r, *p); err != nil {
		return Bet{}, decimal.Zero, err
	}
	for _, b := range m.bets {
		if b.RoundID == roundID && b.UserID == userID {
			return Bet{}, decimal.Zero, ErrBetExists
		}
	}
	if p.Balance.LessThan(amount) {
		return Bet{}, decimal.Zero, ErrInsufficientFunds
	}

	p.Balance = p.Balance.Sub(amount)
	now := m.now()
	m.betSeq++
	b := &Bet{
		ID:        m.betSeq,
		RoundID:   roundID,
		UserID:    userID,
		Username:  p.Username,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.bets[b.ID] = b
	return *b, p.Balance, nil
}

func (m *MemoryLedger) CashOut(_ context.Context, userID string, betID int64, claimed decimal.Decimal, rule CashOutRule) (Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bets[betID]
	if !ok {
		return Settlement{}, ErrBetNotFound
	}
	r := m.rounds[b.RoundID]
	p, ok := m.players[b.UserID]
	if !ok {
		return Settlement{}, ErrUserNotFound
	}
	win, err := rule(m.withUsername(*b), *r, *p)
	if err != nil {
		return Settlement{}, err
	}
	if b.CashedAt != nil {
		return Settlement{}, ErrAlreadyCashedOut
	}

	cashed := claimed
	b.CashedAt = &cashed
	b.UpdatedAt = m.now()
	p.Balance = p.Balance.Add(win)
	return Settlement{
		Bet:        m.withUsername(*b),
		Multiplier: claimed,
		WinAmount:  win,
		Balance:    p.Balance,
	}, nil
}

func (m *MemoryLedger) LoadSettings(_ context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return Settings{}, false, nil
	}
	return m.settings.clone(), true, nil
}

func (m *MemoryLedger) SaveSettings(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s.clone()
	m.settings = &cp
	return nil
}
