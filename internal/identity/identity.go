package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"rocketcrash/internal/game"
)

// Authenticator resolves a session token to the user behind it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (game.Identity, error)
}

// Remote asks the session service who a token belongs to.
type Remote struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

func NewRemote(url string, timeout time.Duration, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(100 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			}),
		url:    url,
		logger: logger.With("component", "identity"),
	}
}

func (r *Remote) Authenticate(ctx context.Context, token string) (game.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return game.Identity{}, game.ErrUnauthorized
	}

	var who game.Identity
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&who).
		Get(r.url)
	if err != nil {
		r.logger.Error("identity request failed", "error", err)
		return game.Identity{}, game.Infra("authenticate", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return game.Identity{}, game.ErrUnauthorized
	case resp.IsError():
		r.logger.Error("identity service error", "status", resp.StatusCode())
		return game.Identity{}, game.Infra("authenticate", fmt.Errorf("identity service returned %d", resp.StatusCode()))
	case who.UserID == "":
		return game.Identity{}, game.ErrUnauthorized
	}
	return who, nil
}

// PlayerSource is the part of the ledger LedgerTokens needs.
type PlayerSource interface {
	Player(ctx context.Context, userID string) (game.Player, error)
}

// LedgerTokens treats the token as a user id and looks it up in the
// ledger. It is for local setups without a session service.
type LedgerTokens struct {
	players PlayerSource
}

func NewLedgerTokens(players PlayerSource) *LedgerTokens {
	return &LedgerTokens{players: players}
}

func (l *LedgerTokens) Authenticate(ctx context.Context, token string) (game.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return game.Identity{}, game.ErrUnauthorized
	}
	p, err := l.players.Player(ctx, token)
	if errors.Is(err, game.ErrUserNotFound) {
		return game.Identity{}, game.ErrUnauthorized
	}
	if err != nil {
		return game.Identity{}, game.Infra("authenticate", err)
	}
	return game.Identity{UserID: p.ID, Username: p.Username, Banned: p.Banned}, nil
}
