package domain

import "time"

// ChatKind classifies an in-game chat line.
type ChatKind string

const (
	ChatPublic  ChatKind = "public"
	ChatPrivate ChatKind = "private"
	ChatSystem  ChatKind = "system"
	ChatGlobal  ChatKind = "global"
)

// ChatMessage is a chat line received from the game server.
type ChatMessage struct {
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text"`
	Kind      ChatKind  `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPrivate reports whether the message was addressed to a single player.
func (m ChatMessage) IsPrivate() bool { return m.Kind == ChatPrivate }

// TradeRequest is an incoming request from another player to trade.
type TradeRequest struct {
	From      string    `json:"from"`
	PlayerID  int       `json:"playerId"`
	Timestamp time.Time `json:"timestamp"`
}
