package game

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BetCheck runs inside the ledger's bet transaction, after the round and
// player rows are loaded and before any money moves.
type BetCheck func(round Round, player Player) error

// CashOutRule runs inside the cash-out transaction and returns the amount to credit.
type CashOutRule func(bet Bet, round Round, player Player) (decimal.Decimal, error)

// Ledger is the only way rounds, bets and balances change. Every method is a
// single atomic store operation; implementations must make the conditional
// debit, the one-bet-per-round rule, the one-time cashedAt write and the
// single-open-round rule hold under concurrent callers.
type Ledger interface {
	// OpenRound returns the open round, inserting draft first if there is none.
	// created reports whether draft was used.
	OpenRound(ctx context.Context, draft RoundDraft) (round Round, created bool, err error)
	CurrentRound(ctx context.Context) (Round, error)
	RoundByID(ctx context.Context, id int64) (Round, error)
	RoundBets(ctx context.Context, roundID int64) ([]Bet, error)
	// AdvanceRound sets status to `to` only if it is currently `from`.
	AdvanceRound(ctx context.Context, id int64, from, to RoundStatus) (bool, error)
	StaleRounds(ctx context.Context, status RoundStatus, startsBefore time.Time) ([]Round, error)

	Player(ctx context.Context, userID string) (Player, error)
	PlaceBet(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, check BetCheck) (Bet, decimal.Decimal, error)
	CashOut(ctx context.Context, userID string, betID int64, claimed decimal.Decimal, rule CashOutRule) (Settlement, error)
}

// SettingsStore persists the tunable engine settings.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (Settings, bool, error)
	SaveSettings(ctx context.Context, s Settings) error
}
