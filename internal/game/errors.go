package game

import (
	"errors"
	"fmt"
)

// Kind groups rejections by how a caller is expected to react to them.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindStateConflict     Kind = "STATE_CONFLICT"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindAuthorization     Kind = "AUTHORIZATION"
	KindInfrastructure    Kind = "INFRASTRUCTURE"
)

// Error is a rejection with a stable machine-readable code.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of e carrying a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMalformedRequest  = newError(KindValidation, "MALFORMED_REQUEST", "malformed request")
	ErrBetAmount         = newError(KindValidation, "BET_AMOUNT_OUT_OF_RANGE", "bet amount is out of range")
	ErrInvalidMultiplier = newError(KindValidation, "INVALID_MULTIPLIER", "invalid multiplier")
	ErrInvalidChances    = newError(KindValidation, "INVALID_CHANCE_RANGES", "invalid chance ranges")
	ErrInvalidLimits     = newError(KindValidation, "INVALID_BET_LIMITS", "invalid bet limits")

	ErrNoCurrentRound    = newError(KindStateConflict, "NO_CURRENT_ROUND", "no active round")
	ErrRoundNotFound     = newError(KindStateConflict, "ROUND_NOT_FOUND", "round not found")
	ErrRoundNotWaiting   = newError(KindStateConflict, "ROUND_NOT_WAITING", "round is no longer accepting bets")
	ErrRoundStarted      = newError(KindStateConflict, "ROUND_ALREADY_STARTED", "round has already started")
	ErrRoundNotActive    = newError(KindStateConflict, "ROUND_NOT_ACTIVE", "round is not in flight")
	ErrRoundNotStarted   = newError(KindStateConflict, "ROUND_NOT_STARTED", "round has not started yet")
	ErrBetExists         = newError(KindStateConflict, "BET_ALREADY_EXISTS", "you already have a bet on this round")
	ErrBetNotFound       = newError(KindStateConflict, "BET_NOT_FOUND", "bet not found")
	ErrAlreadyCashedOut  = newError(KindStateConflict, "ALREADY_CASHED_OUT", "bet has already been cashed out")
	ErrCashOutAfterCrash = newError(KindStateConflict, "CASHOUT_EXCEEDS_CRASH", "cannot cash out after the rocket has crashed")
	ErrInvalidTransition = newError(KindStateConflict, "INVALID_TRANSITION", "invalid round status transition")
	ErrRoundNotRevealed  = newError(KindStateConflict, "ROUND_NOT_REVEALED", "round seed is revealed once the round is finished")

	ErrInsufficientFunds = newError(KindInsufficientFunds, "INSUFFICIENT_FUNDS", "insufficient balance")

	ErrUserBanned   = newError(KindAuthorization, "USER_BANNED", "user is banned")
	ErrUserNotFound = newError(KindAuthorization, "USER_NOT_FOUND", "user not found")
	ErrNotBetOwner  = newError(KindAuthorization, "NOT_BET_OWNER", "not allowed to cash out this bet")
	ErrUnauthorized = newError(KindAuthorization, "UNAUTHORIZED", "authentication required")

	ErrStoreUnavailable = newError(KindInfrastructure, "STORE_UNAVAILABLE", "store unavailable")
)

// Infra wraps a store failure so callers see a generic infrastructure error.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var gameErr *Error
	if errors.As(err, &gameErr) {
		return err
	}
	cp := *ErrStoreUnavailable
	cp.Message = op + " failed"
	cp.Err = err
	return &cp
}

// AsError extracts the *Error from err, treating anything unknown as infrastructure.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var gameErr *Error
	if errors.As(err, &gameErr) {
		return gameErr
	}
	cp := *ErrStoreUnavailable
	cp.Err = err
	return &cp
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}
