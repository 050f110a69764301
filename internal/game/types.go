package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	StatusWaiting  RoundStatus = "WAITING"
	StatusActive   RoundStatus = "ACTIVE"
	StatusFinished RoundStatus = "FINISHED"
)

// Open reports whether the status is non-terminal.
func (s RoundStatus) Open() bool {
	return s == StatusWaiting || s == StatusActive
}

// next is the only status a round may move to from s.
func (s RoundStatus) next() (RoundStatus, bool) {
	switch s {
	case StatusWaiting:
		return StatusActive, true
	case StatusActive:
		return StatusFinished, true
	}
	return "", false
}

// Round is one crash-game instance. CrashMultiplier and ServerSeed are
// authoritative and must not leave the server before the round finishes.
type Round struct {
	ID              int64           `json:"id"`
	Status          RoundStatus     `json:"status"`
	CrashMultiplier decimal.Decimal `json:"-"` // Hidden until crash
	ServerSeed      string          `json:"-"` // Never expose until reveal
	Commitment      string          `json:"commitment"`
	StartsAt        time.Time       `json:"startsAt"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// RoundDraft is what the lifecycle manager hands the ledger when it needs a new round.
type RoundDraft struct {
	CrashMultiplier decimal.Decimal
	ServerSeed      string
	Commitment      string
	StartsAt        time.Time
	CreatedAt       time.Time
}

type Bet struct {
	ID        int64            `json:"id"`
	RoundID   int64            `json:"roundId"`
	UserID    string           `json:"userId"`
	Username  string           `json:"username"`
	Amount    decimal.Decimal  `json:"amount"`
	CashedAt  *decimal.Decimal `json:"cashedAt"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Player is the wallet owner as seen by the ledger.
type Player struct {
	ID       string
	Username string
	Balance  decimal.Decimal
	Banned   bool
}

// Identity is what the session collaborator vouches for on every request.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Banned   bool   `json:"isBanned"`
}

// Settlement is the outcome of a successful cash-out.
type Settlement struct {
	Bet        Bet             `json:"bet"`
	Multiplier decimal.Decimal `json:"multiplier"`
	WinAmount  decimal.Decimal `json:"winAmount"`
	Balance    decimal.Decimal `json:"balance"`
}

// BetSnapshot is a bet as every client is allowed to see it.
type BetSnapshot struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"userId"`
	Username  string           `json:"username"`
	Amount    decimal.Decimal  `json:"amount"`
	CashedAt  *decimal.Decimal `json:"cashedAt"`
	CreatedAt time.Time        `json:"createdAt"`
}

// RoundSnapshot is the client-facing view of a round. CrashMultiplier is nil
// while the value is still secret.
type RoundSnapshot struct {
	ID              int64            `json:"id"`
	Status          RoundStatus      `json:"status"`
	StartsAt        time.Time        `json:"startsAt"`
	CreatedAt       time.Time        `json:"createdAt"`
	Commitment      string           `json:"commitment"`
	CrashMultiplier *decimal.Decimal `json:"crashMultiplier,omitempty"`
	Bets            []BetSnapshot    `json:"bets"`
}

// Snapshot builds the client view of r at now.
func (r Round) Snapshot(bets []Bet, now time.Time) RoundSnapshot {
	snap := RoundSnapshot{
		ID:         r.ID,
		Status:     r.Status,
		StartsAt:   r.StartsAt,
		CreatedAt:  r.CreatedAt,
		Commitment: r.Commitment,
		Bets:       make([]BetSnapshot, 0, len(bets)),
	}
	if r.Revealed(now) {
		crash := r.CrashMultiplier
		snap.CrashMultiplier = &crash
	}
	for _, b := range bets {
		snap.Bets = append(snap.Bets, BetSnapshot{
			ID:        b.ID,
			UserID:    b.UserID,
			Username:  b.Username,
			Amount:    b.Amount,
			CashedAt:  b.CashedAt,
			CreatedAt: b.CreatedAt,
		})
	}
	return snap
}

// Revealed reports whether the crash value may be shown: the round is over,
// or the flight curve has already passed it.
func (r Round) Revealed(now time.Time) bool {
	switch r.Status {
	case StatusFinished:
		return true
	case StatusActive:
		if now.Before(r.StartsAt) {
			return false
		}
		return MultiplierAt(now.Sub(r.StartsAt)).GreaterThanOrEqual(r.CrashMultiplier)
	}
	return false
}
