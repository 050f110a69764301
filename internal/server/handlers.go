package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"rocketcrash/internal/game"
)

const (
	identityKey  = "identity"
	requestIDKey = "requestid"
)

// statusFor maps a rejection to its HTTP status.
func statusFor(e *game.Error) int {
	switch e.Kind {
	case game.KindValidation:
		return fiber.StatusBadRequest
	case game.KindStateConflict:
		if strings.HasSuffix(e.Code, "_NOT_FOUND") {
			return fiber.StatusNotFound
		}
		return fiber.StatusConflict
	case game.KindInsufficientFunds:
		return fiber.StatusPaymentRequired
	case game.KindAuthorization:
		if e.Code == game.ErrUnauthorized.Code {
			return fiber.StatusUnauthorized
		}
		return fiber.StatusForbidden
	}
	return fiber.StatusServiceUnavailable
}

func (s *FiberServer) writeError(c *fiber.Ctx, err error) error {
	e := game.AsError(err)
	if e.Kind == game.KindInfrastructure {
		s.logger.Error("request failed", "path", c.Path(), "requestID", c.Locals(requestIDKey), "error", err)
		// store details stay in the log
		e = game.ErrStoreUnavailable
	}
	return c.Status(statusFor(e)).JSON(fiber.Map{"error": e})
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *FiberServer) authenticated(c *fiber.Ctx) error {
	who, err := s.auth.Authenticate(c.UserContext(), bearerToken(c))
	if err != nil {
		return s.writeError(c, err)
	}
	c.Locals(identityKey, who)
	return c.Next()
}

func (s *FiberServer) adminOnly(c *fiber.Ctx) error {
	token := c.Get("X-Admin-Token")
	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return s.writeError(c, game.ErrUnauthorized.With("admin token required"))
	}
	return c.Next()
}

func caller(c *fiber.Ctx) game.Identity {
	who, _ := c.Locals(identityKey).(game.Identity)
	return who
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"game": fiber.Map{
			"status":            "running",
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// Round handlers

func (s *FiberServer) roundResponse(c *fiber.Ctx, round game.Round) error {
	snap, err := s.rounds.Snapshot(c.UserContext(), round)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(snap)
}

func (s *FiberServer) currentRoundHandler(c *fiber.Ctx) error {
	round, err := s.rounds.Current(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	return s.roundResponse(c, round)
}

func (s *FiberServer) createRoundHandler(c *fiber.Ctx) error {
	round, err := s.rounds.GetOrCreateCurrent(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}
	return s.roundResponse(c, round)
}

func (s *FiberServer) fairnessHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.writeError(c, game.ErrMalformedRequest.With("round id must be a positive integer"))
	}
	fair, err := s.rounds.Fairness(c.UserContext(), int64(id))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fair)
}

// Bet handlers

type placeBetRequest struct {
	RoundID int64           `json:"roundId"`
	Amount  decimal.Decimal `json:"amount"`
}

type cashOutRequest struct {
	BetID      int64           `json:"betId"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil || req.RoundID <= 0 {
		return s.writeError(c, game.ErrMalformedRequest.With("roundId and amount are required"))
	}
	res, err := s.bets.PlaceBet(c.UserContext(), caller(c), req.RoundID, req.Amount)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(res)
}

func (s *FiberServer) cashOutHandler(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return s.writeError(c, game.ErrMalformedRequest.With("bet id must be a positive integer"))
	}
	var req cashOutRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, game.ErrMalformedRequest.With("multiplier is required"))
	}
	res, err := s.bets.CashOut(c.UserContext(), caller(c), int64(id), req.Multiplier)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(res)
}

// Settings handlers

func (s *FiberServer) getSettingsHandler(c *fiber.Ctx) error {
	return c.JSON(s.settings.Current())
}

func (s *FiberServer) updateChancesHandler(c *fiber.Ctx) error {
	var body struct {
		Ranges game.Distribution `json:"ranges"`
	}
	if err := c.BodyParser(&body); err != nil {
		return s.writeError(c, game.ErrMalformedRequest.With("ranges are required"))
	}
	updated, err := s.settings.UpdateChances(c.UserContext(), body.Ranges)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(updated)
}

func (s *FiberServer) updateLimitsHandler(c *fiber.Ctx) error {
	var limits game.BetLimits
	if err := c.BodyParser(&limits); err != nil {
		return s.writeError(c, game.ErrMalformedRequest.With("minBet and maxBet are required"))
	}
	updated, err := s.settings.UpdateLimits(c.UserContext(), limits)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(updated)
}
