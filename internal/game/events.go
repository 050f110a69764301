package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRoundCreated    EventType = "round.created"
	EventRoundCurrent    EventType = "round.current"
	EventRoundStarted    EventType = "round.started"
	EventRoundFinished   EventType = "round.finished"
	EventBetPlaced       EventType = "bet.placed"
	EventBetCashedOut    EventType = "bet.cashedOut"
	EventConnectionCount EventType = "connection.count"
	EventDisplaced       EventType = "connection.displaced"
)

// Event is one of the payloads below; the unexported method keeps the set closed.
type Event interface {
	eventType() EventType
}

type RoundCreated struct {
	Round RoundSnapshot `json:"round"`
}

type RoundCurrent struct {
	Round RoundSnapshot `json:"round"`
}

type RoundStarted struct {
	RoundID  int64     `json:"roundId"`
	StartsAt time.Time `json:"startsAt"`
}

type RoundFinished struct {
	RoundID         int64           `json:"roundId"`
	CrashMultiplier decimal.Decimal `json:"crashMultiplier"`
	ServerSeed      string          `json:"serverSeed"`
	Forced          bool            `json:"forced"`
}

type BetPlaced struct {
	BetID     int64           `json:"betId"`
	RoundID   int64           `json:"roundId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type BetCashedOut struct {
	BetID      int64           `json:"betId"`
	RoundID    int64           `json:"roundId"`
	UserID     string          `json:"userId"`
	Username   string          `json:"username"`
	Amount     decimal.Decimal `json:"amount"`
	Multiplier decimal.Decimal `json:"multiplier"`
	WinAmount  decimal.Decimal `json:"winAmount"`
	Timestamp  time.Time       `json:"timestamp"`
}

type ConnectionCount struct {
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Displaced is sent only to a connection that a newer session replaced.
type Displaced struct {
	Reason string `json:"reason"`
}

func (RoundCreated) eventType() EventType    { return EventRoundCreated }
func (RoundCurrent) eventType() EventType    { return EventRoundCurrent }
func (RoundStarted) eventType() EventType    { return EventRoundStarted }
func (RoundFinished) eventType() EventType   { return EventRoundFinished }
func (BetPlaced) eventType() EventType       { return EventBetPlaced }
func (BetCashedOut) eventType() EventType    { return EventBetCashedOut }
func (ConnectionCount) eventType() EventType { return EventConnectionCount }
func (Displaced) eventType() EventType       { return EventDisplaced }

// Envelope is the wire frame every server push uses.
type Envelope struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Encode turns an event into its wire frame.
func Encode(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case RoundCreated, RoundCurrent, RoundStarted, RoundFinished,
		BetPlaced, BetCashedOut, ConnectionCount, Displaced:
		return json.Marshal(Envelope{Type: ev.eventType(), Data: ev})
	case nil:
		return nil, fmt.Errorf("encode: nil event")
	default:
		return nil, fmt.Errorf("encode: unknown event %T", e)
	}
}

// Broadcaster fans events out to every connected client.
type Broadcaster interface {
	Broadcast(e Event)
}

type discard struct{}

func (discard) Broadcast(Event) {}
