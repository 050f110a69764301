package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"rocketcrash/internal/game"
)

// Ledger is the Postgres-backed game.Ledger. Every guarantee the engine
// relies on is enforced by the store itself: the partial unique index on
// open rounds, UNIQUE(round_id, user_id) on bets, the conditional debit and
// the cashed_at IS NULL guard.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ game.Ledger        = (*Ledger)(nil)
	_ game.SettingsStore = (*Ledger)(nil)
)

const (
	settingsKey      = "crash_settings"
	openRoundRetries = 3

	roundColumns = `id, status, crash_multiplier, server_seed, commitment, starts_at, created_at`
	betColumns   = `b.id, b.round_id, b.user_id, u.username, b.amount, b.cashed_at, b.created_at, b.updated_at`
)

func NewLedger(db *sql.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger.With("component", "ledger")}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRound(row scanner) (game.Round, error) {
	var (
		r      game.Round
		status string
	)
	err := row.Scan(&r.ID, &status, &r.CrashMultiplier, &r.ServerSeed, &r.Commitment, &r.StartsAt, &r.CreatedAt)
	r.Status = game.RoundStatus(status)
	return r, err
}

func scanBet(row scanner) (game.Bet, error) {
	var (
		b        game.Bet
		cashedAt decimal.NullDecimal
	)
	err := row.Scan(&b.ID, &b.RoundID, &b.UserID, &b.Username, &b.Amount, &cashedAt, &b.CreatedAt, &b.UpdatedAt)
	if cashedAt.Valid {
		b.CashedAt = &cashedAt.Decimal
	}
	return b, err
}

func scanPlayer(row scanner) (game.Player, error) {
	var p game.Player
	err := row.Scan(&p.ID, &p.Username, &p.Balance, &p.Banned)
	return p, err
}

// notFound maps sql.ErrNoRows to the given rejection.
func notFound(err error, rejection error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return rejection
	}
	return err
}

func (l *Ledger) OpenRound(ctx context.Context, draft game.RoundDraft) (game.Round, bool, error) {
	for range openRoundRetries {
		round, err := l.CurrentRound(ctx)
		if err == nil {
			return round, false, nil
		}
		if !errors.Is(err, game.ErrNoCurrentRound) {
			return game.Round{}, false, err
		}

		round, err = scanRound(l.db.QueryRowContext(ctx, `
			INSERT INTO rounds (status, crash_multiplier, server_seed, commitment, starts_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING
			RETURNING `+roundColumns,
			string(game.StatusWaiting), draft.CrashMultiplier, draft.ServerSeed, draft.Commitment, draft.StartsAt, draft.CreatedAt))
		if err == nil {
			return round, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return game.Round{}, false, fmt.Errorf("insert round: %w", err)
		}
		// another writer opened a round between the read and the insert
		l.logger.Debug("open round insert lost the race, re-reading")
	}
	return game.Round{}, false, fmt.Errorf("open round: no stable current round after %d attempts", openRoundRetries)
}

func (l *Ledger) CurrentRound(ctx context.Context) (game.Round, error) {
	round, err := scanRound(l.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status <> $1
		ORDER BY id DESC
		LIMIT 1`, string(game.StatusFinished)))
	if err != nil {
		return game.Round{}, notFound(err, game.ErrNoCurrentRound)
	}
	return round, nil
}

func (l *Ledger) RoundByID(ctx context.Context, id int64) (game.Round, error) {
	round, err := scanRound(l.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		return game.Round{}, notFound(err, game.ErrRoundNotFound)
	}
	return round, nil
}

func (l *Ledger) RoundBets(ctx context.Context, roundID int64) ([]game.Bet, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+betColumns+`
		FROM bets b JOIN users u ON u.id = b.user_id
		WHERE b.round_id = $1
		ORDER BY b.id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var bets []game.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (l *Ledger) AdvanceRound(ctx context.Context, id int64, from, to game.RoundStatus) (bool, error) {
	res, err := l.db.ExecContext(ctx, `UPDATE rounds SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("advance round: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := l.RoundByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (l *Ledger) StaleRounds(ctx context.Context, status game.RoundStatus, startsBefore time.Time) ([]game.Round, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE status = $1 AND starts_at < $2
		ORDER BY id`, string(status), startsBefore)
	if err != nil {
		return nil, fmt.Errorf("query stale rounds: %w", err)
	}
	defer rows.Close()

	var rounds []game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (l *Ledger) Player(ctx context.Context, userID string) (game.Player, error) {
	p, err := scanPlayer(l.db.QueryRowContext(ctx,
		`SELECT id, username, balance, is_banned FROM users WHERE id = $1`, userID))
	if err != nil {
		return game.Player{}, notFound(err, game.ErrUserNotFound)
	}
	return p, nil
}

// UpsertPlayer creates or replaces a wallet owner. It is how local setups and
// tests seed users; production balances arrive through the deposit flow.
func (l *Ledger) UpsertPlayer(ctx context.Context, p game.Player) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO users (id, username, balance, is_banned)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, balance = EXCLUDED.balance, is_banned = EXCLUDED.is_banned`,
		p.ID, p.Username, p.Balance, p.Banned)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction and commits only if fn succeeds.
func (l *Ledger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (l *Ledger) PlaceBet(ctx context.Context, userID string, roundID int64, amount decimal.Decimal, check game.BetCheck) (game.Bet, decimal.Decimal, error) {
	var (
		bet     game.Bet
		balance decimal.Decimal
	)
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		// FOR SHARE holds the round's status still until commit
		round, err := scanRound(tx.QueryRowContext(ctx,
			`SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR SHARE`, roundID))
		if err != nil {
			return notFound(err, game.ErrRoundNotFound)
		}
		player, err := scanPlayer(tx.QueryRowContext(ctx,
			`SELECT id, username, balance, is_banned FROM users WHERE id = $1 FOR UPDATE`, userID))
		if err != nil {
			return notFound(err, game.ErrUserNotFound)
		}
		if err := check(round, player); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM bets WHERE round_id = $1 AND user_id = $2)`,
			roundID, userID).Scan(&exists); err != nil {
			return fmt.Errorf("check bet: %w", err)
		}
		if exists {
			return game.ErrBetExists
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE users SET balance = balance - $2
			WHERE id = $1 AND balance >= $2
			RETURNING balance`, userID, amount).Scan(&balance)
		if err != nil {
			return notFound(err, game.ErrInsufficientFunds)
		}

		bet = game.Bet{RoundID: roundID, UserID: userID, Username: player.Username, Amount: amount}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO bets (round_id, user_id, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (round_id, user_id) DO NOTHING
			RETURNING id, created_at, updated_at`, roundID, userID, amount).
			Scan(&bet.ID, &bet.CreatedAt, &bet.UpdatedAt)
		if err != nil {
			return notFound(err, game.ErrBetExists)
		}
		return nil
	})
	if err != nil {
		return game.Bet{}, decimal.Zero, err
	}
	return bet, balance, nil
}

func (l *Ledger) CashOut(ctx context.Context, userID string, betID int64, claimed decimal.Decimal, rule game.CashOutRule) (game.Settlement, error) {
	var settlement game.Settlement
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		bet, err := scanBet(tx.QueryRowContext(ctx, `
			SELECT `+betColumns+`
			FROM bets b JOIN users u ON u.id = b.user_id
			WHERE b.id = $1
			FOR UPDATE OF b`, betID))
		if err != nil {
			return notFound(err, game.ErrBetNotFound)
		}
		round, err := scanRound(tx.QueryRowContext(ctx,
			`SELECT `+roundColumns+` FROM rounds WHERE id = $1 FOR SHARE`, bet.RoundID))
		if err != nil {
			return notFound(err, game.ErrRoundNotFound)
		}
		player, err := scanPlayer(tx.QueryRowContext(ctx,
			`SELECT id, username, balance, is_banned FROM users WHERE id = $1 FOR UPDATE`, bet.UserID))
		if err != nil {
			return notFound(err, game.ErrUserNotFound)
		}

		win, err := rule(bet, round, player)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE bets SET cashed_at = $2, updated_at = NOW()
			WHERE id = $1 AND cashed_at IS NULL
			RETURNING updated_at`, betID, claimed).Scan(&bet.UpdatedAt)
		if err != nil {
			return notFound(err, game.ErrAlreadyCashedOut)
		}

		var balance decimal.Decimal
		if err := tx.QueryRowContext(ctx,
			`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			bet.UserID, win).Scan(&balance); err != nil {
			return fmt.Errorf("credit winnings: %w", err)
		}

		cashed := claimed
		bet.CashedAt = &cashed
		settlement = game.Settlement{Bet: bet, Multiplier: claimed, WinAmount: win, Balance: balance}
		return nil
	})
	if err != nil {
		return game.Settlement{}, err
	}
	return settlement, nil
}

func (l *Ledger) LoadSettings(ctx context.Context) (game.Settings, bool, error) {
	var raw []byte
	err := l.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = $1`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Settings{}, false, nil
	}
	if err != nil {
		return game.Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	var s game.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		l.logger.Warn("stored settings are not valid JSON", "error", err)
		return game.Settings{}, false, nil
	}
	return s, true, nil
}

func (l *Ledger) SaveSettings(ctx context.Context, s game.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		settingsKey, string(raw))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
