package game

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Bets is the only path by which currency moves.
type Bets struct {
	ledger   Ledger
	settings *SettingsService
	hub      Broadcaster
	opts     options
	logger   *slog.Logger
}

func NewBets(ledger Ledger, settings *SettingsService, hub Broadcaster, opts ...Option) *Bets {
	o := buildOptions(opts)
	if hub == nil {
		hub = discard{}
	}
	return &Bets{
		ledger:   ledger,
		settings: settings,
		hub:      hub,
		opts:     o,
		logger:   o.logger.With("component", "bets"),
	}
}

// PlaceBetResult is returned to the bettor; everyone else gets BetPlaced.
type PlaceBetResult struct {
	Bet     Bet             `json:"bet"`
	Balance decimal.Decimal `json:"balance"`
}

// PlaceBet debits amount from who and records a bet on roundID.
func (b *Bets) PlaceBet(ctx context.Context, who Identity, roundID int64, amount decimal.Decimal) (PlaceBetResult, error) {
	limits := b.settings.Current().Limits
	if !amount.IsInteger() || amount.LessThan(limits.Min) || amount.GreaterThan(limits.Max) {
		return PlaceBetResult{}, ErrBetAmount.With("bet must be a whole amount between %s and %s", limits.Min, limits.Max)
	}
	if who.Banned {
		return PlaceBetResult{}, ErrUserBanned
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.opTimeout)
	defer cancel()

	now := b.opts.now()
	bet, balance, err := b.ledger.PlaceBet(ctx, who.UserID, roundID, amount, func(round Round, player Player) error {
		if player.Banned {
			return ErrUserBanned
		}
		if round.Status != StatusWaiting {
			return ErrRoundNotWaiting
		}
		if !now.Before(round.StartsAt) {
			return ErrRoundStarted
		}
		return nil
	})
	if err != nil {
		if KindOf(err) != KindInfrastructure {
			b.logger.Info("bet rejected", "userID", who.UserID, "roundID", roundID, "amount", amount, "reason", AsError(err).Code)
		} else {
			b.logger.Error("bet failed", "userID", who.UserID, "roundID", roundID, "error", err)
		}
		return PlaceBetResult{}, Infra("place bet", err)
	}

	if bet.Username == "" {
		bet.Username = who.Username
	}
	b.logger.Info("bet placed", "betID", bet.ID, "userID", who.UserID, "roundID", roundID, "amount", amount)
	b.hub.Broadcast(BetPlaced{
		BetID:     bet.ID,
		RoundID:   bet.RoundID,
		UserID:    bet.UserID,
		Username:  bet.Username,
		Amount:    bet.Amount,
		Timestamp: bet.CreatedAt,
	})
	return PlaceBetResult{Bet: bet, Balance: balance}, nil
}

// CashOut locks in claimed × amount for who's bet. The claim is only trusted
// up to the round's pre-sampled crash multiplier.
func (b *Bets) CashOut(ctx context.Context, who Identity, betID int64, claimed decimal.Decimal) (Settlement, error) {
	if claimed.LessThan(minCrash) {
		return Settlement{}, ErrInvalidMultiplier.With("multiplier must be at least 1, got %s", claimed)
	}
	// settlements are recorded at the curve's 2dp resolution
	if !claimed.Equal(claimed.Truncate(2)) {
		return Settlement{}, ErrInvalidMultiplier.With("multiplier has more than 2 decimal places: %s", claimed)
	}
	if who.Banned {
		return Settlement{}, ErrUserBanned
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.opTimeout)
	defer cancel()

	now := b.opts.now()
	settlement, err := b.ledger.CashOut(ctx, who.UserID, betID, claimed, func(bet Bet, round Round, player Player) (decimal.Decimal, error) {
		switch {
		case bet.UserID != who.UserID:
			return decimal.Zero, ErrNotBetOwner
		case player.Banned:
			return decimal.Zero, ErrUserBanned
		case bet.CashedAt != nil:
			return decimal.Zero, ErrAlreadyCashedOut
		case round.Status != StatusActive:
			return decimal.Zero, ErrRoundNotActive
		case now.Before(round.StartsAt):
			return decimal.Zero, ErrRoundNotStarted
		case claimed.GreaterThan(round.CrashMultiplier):
			return decimal.Zero, ErrCashOutAfterCrash
		}
		return WinAmount(bet.Amount, claimed), nil
	})
	if err != nil {
		if KindOf(err) != KindInfrastructure {
			b.logger.Info("cash-out rejected", "userID", who.UserID, "betID", betID, "claimed", claimed, "reason", AsError(err).Code)
		} else {
			b.logger.Error("cash-out failed", "userID", who.UserID, "betID", betID, "error", err)
		}
		return Settlement{}, Infra("cash out", err)
	}

	bet := settlement.Bet
	if bet.Username == "" {
		bet.Username = who.Username
		settlement.Bet = bet
	}
	b.logger.Info("cashed out", "betID", bet.ID, "userID", who.UserID, "multiplier", claimed, "win", settlement.WinAmount)
	b.hub.Broadcast(BetCashedOut{
		BetID:      bet.ID,
		RoundID:    bet.RoundID,
		UserID:     bet.UserID,
		Username:   bet.Username,
		Amount:     bet.Amount,
		Multiplier: settlement.Multiplier,
		WinAmount:  settlement.WinAmount,
		Timestamp:  bet.UpdatedAt,
	})
	return settlement, nil
}

// WinAmount is floor(amount × multiplier).
func WinAmount(amount, multiplier decimal.Decimal) decimal.Decimal {
	return amount.Mul(multiplier).Floor()
}
