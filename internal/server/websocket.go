package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"rocketcrash/internal/game"
)

const (
	PONG_WAIT          = 60 * time.Second
	MAX_MESSAGE_SIZE   = 4096
	MAX_BANNED_STRIKES = 3
)

// Request types a client may send over the socket.
const (
	reqCreateOrGet = "round.createOrGet"
	reqGetCurrent  = "round.getCurrent"
	reqPlaceBet    = "bet.place"
	reqCashOut     = "bet.cashOut"
	reqPing        = "ping"
)

type wsRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

// wsReply answers exactly one wsRequest.
type wsReply struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	OK        bool        `json:"ok"`
	Data      any         `json:"data,omitempty"`
	Error     *game.Error `json:"error,omitempty"`
}

// upgradeWebSocket authenticates the token before the upgrade so a bad
// token or a banned user never gets a socket.
func (s *FiberServer) upgradeWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	who, err := s.auth.Authenticate(c.UserContext(), c.Query("token"))
	if err != nil {
		s.logger.Info("websocket authentication failed", "ip", c.IP(), "reason", game.AsError(err).Code)
		return s.writeError(c, err)
	}
	if who.Banned {
		s.logger.Info("websocket rejected banned user", "ip", c.IP(), "userID", who.UserID)
		return s.writeError(c, game.ErrUserBanned)
	}
	c.Locals(identityKey, who)
	return c.Next()
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	who, ok := conn.Locals(identityKey).(game.Identity)
	if !ok {
		return
	}

	client := s.hub.NewClient(conn, who)
	logger := s.logger.With("userID", who.UserID, "clientID", client.ID())
	if !s.hub.Register(client) {
		return
	}
	defer func() {
		s.hub.Unregister(client)
		// the connection goes back to a pool when this handler returns
		<-client.Done()
	}()
	logger.Info("websocket connected")

	ctx := context.Background()
	if round, err := s.rounds.Current(ctx); err == nil {
		if snap, err := s.rounds.Snapshot(ctx, round); err == nil {
			client.Send(game.RoundCurrent{Round: snap})
		}
	}

	conn.SetReadLimit(MAX_MESSAGE_SIZE)
	conn.SetReadDeadline(time.Now().Add(PONG_WAIT))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PONG_WAIT))
	})

	strikes := 0
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			} else {
				logger.Info("websocket disconnected")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(PONG_WAIT))

		reply := s.dispatch(ctx, who, message)
		if raw, err := json.Marshal(reply); err == nil {
			client.SendRaw(raw)
		} else {
			logger.Error("encode reply failed", "error", err)
		}

		if reply.Error != nil && reply.Error.Code == game.ErrUserBanned.Code {
			strikes++
			if strikes >= MAX_BANNED_STRIKES {
				logger.Warn("closing socket of banned user", "strikes", strikes)
				return
			}
		}
	}
}

func (s *FiberServer) dispatch(ctx context.Context, who game.Identity, message []byte) wsReply {
	var req wsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return s.failure(req, game.ErrMalformedRequest.With("request is not valid JSON"))
	}

	data, err := s.handleRequest(ctx, who, req)
	if err != nil {
		return s.failure(req, err)
	}
	return wsReply{Type: "reply", RequestID: req.RequestID, OK: true, Data: data}
}

func (s *FiberServer) failure(req wsRequest, err error) wsReply {
	e := game.AsError(err)
	if e.Kind == game.KindInfrastructure {
		s.logger.Error("websocket request failed", "type", req.Type, "requestID", req.RequestID, "error", err)
		e = game.ErrStoreUnavailable
	}
	return wsReply{Type: "reply", RequestID: req.RequestID, OK: false, Error: e}
}

func (s *FiberServer) handleRequest(ctx context.Context, who game.Identity, req wsRequest) (any, error) {
	switch req.Type {
	case reqPing:
		return fiber.Map{"pong": time.Now().UnixMilli()}, nil

	case reqCreateOrGet:
		round, err := s.rounds.GetOrCreateCurrent(ctx)
		if err != nil {
			return nil, err
		}
		return s.rounds.Snapshot(ctx, round)

	case reqGetCurrent:
		round, err := s.rounds.Current(ctx)
		if err != nil {
			return nil, err
		}
		return s.rounds.Snapshot(ctx, round)

	case reqPlaceBet:
		var body struct {
			RoundID int64           `json:"roundId"`
			Amount  decimal.Decimal `json:"amount"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil || body.RoundID <= 0 {
			return nil, game.ErrMalformedRequest.With("roundId and amount are required")
		}
		return s.bets.PlaceBet(ctx, who, body.RoundID, body.Amount)

	case reqCashOut:
		var body struct {
			BetID      int64           `json:"betId"`
			Multiplier decimal.Decimal `json:"multiplier"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil || body.BetID <= 0 {
			return nil, game.ErrMalformedRequest.With("betId and multiplier are required")
		}
		return s.bets.CashOut(ctx, who, body.BetID, body.Multiplier)
	}
	return nil, game.ErrMalformedRequest.With("unknown request type %q", req.Type)
}
