package server

import (
	"encoding/json"

	"github.com/lab1702/battleship-web/game"
)

// Client -> server event types
const (
	MsgSearchJoin     = "search:join"
	MsgSearchCancel   = "search:cancel"
	MsgGamePlaceShips = "game:place_ships"
	MsgGameShot       = "game:shot"
	MsgGameCancel     = "game:cancel"
	MsgChatSend       = "chat:send"
)

// Server -> client event types
const (
	MsgQueueQueued   = "queue:queued"
	MsgQueueMatched  = "queue:matched"
	MsgQueueLeft     = "queue:left"
	MsgGameState     = "game:state"
	MsgGameTurn      = "game:turn"
	MsgGameShotRes   = "game:shot_result"
	MsgGameOver      = "game:over"
	MsgGameCancelled = "game:cancelled"
	MsgGameError     = "game:error"
	MsgChatHistory   = "chat:history"
	MsgChatMessage   = "chat:message"
	MsgChatError     = "chat:error"
)

// ClientMessage is the envelope for every inbound frame.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerMessage is the envelope for every outbound frame.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SearchJoinData is the payload of search:join. Both fields are optional: a
// missing nickname gets a generated one, a token switches to the resume path.
type SearchJoinData struct {
	Nickname       string `json:"nickname"`
	ReconnectToken string `json:"reconnectToken"`
}

// PlaceShipsData is the payload of game:place_ships.
type PlaceShipsData struct {
	RoomID string          `json:"roomId"`
	Board  game.BoardState `json:"board"`
}

// ShotData is the payload of game:shot.
type ShotData struct {
	RoomID string     `json:"roomId"`
	Coord  game.Coord `json:"coord"`
}

// CancelData is the payload of game:cancel.
type CancelData struct {
	RoomID string `json:"roomId"`
}

// ChatSendData is the payload of chat:send. Exactly one of Text, Emoji and
// GifID is set, matching Kind.
type ChatSendData struct {
	RoomID string `json:"roomId"`
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Emoji  string `json:"emoji"`
	GifID  string `json:"gifId"`
}

// QueuedData acknowledges a queue join or a queue resume.
type QueuedData struct {
	PlayerID       string `json:"playerId"`
	JoinedAt       int64  `json:"joinedAt"`
	TimeoutMs      int64  `json:"timeoutMs"`
	ReconnectToken string `json:"reconnectToken"`
	Recovered      bool   `json:"recovered,omitempty"`
	Message        string `json:"message,omitempty"`
}

// MatchedData tells a queued player their room is ready.
type MatchedData struct {
	RoomID         string `json:"roomId"`
	Opponent       string `json:"opponent"`
	VsBot          bool   `json:"vsBot"`
	ReconnectToken string `json:"reconnectToken"`
	YouReady       bool   `json:"youReady"`
	OpponentReady  bool   `json:"opponentReady"`
	Message        string `json:"message"`
}

// LeftData acknowledges search:cancel.
type LeftData struct {
	Message string `json:"message"`
}

// PlayerView is the viewer's own half of a game:state snapshot.
type PlayerView struct {
	PlayerID string           `json:"playerId"`
	Nickname string           `json:"nickname"`
	Ready    bool             `json:"ready"`
	Board    *game.BoardState `json:"board,omitempty"`
}

// OpponentView is the masked other half of a game:state snapshot. Board never
// carries cells of ships still afloat.
type OpponentView struct {
	PlayerID  string                 `json:"playerId"`
	Nickname  string                 `json:"nickname"`
	Ready     bool                   `json:"ready"`
	Connected bool                   `json:"connected"`
	Board     *game.MaskedBoardState `json:"board,omitempty"`
}

// Counters carries both players' shot counts from the viewer's side.
type Counters struct {
	You      int `json:"you"`
	Opponent int `json:"opponent"`
}

// StateData is a full per-viewer room snapshot.
type StateData struct {
	RoomID   string       `json:"roomId"`
	Phase    string       `json:"phase"`
	VsBot    bool         `json:"vsBot"`
	Turn     string       `json:"turn,omitempty"`
	YourTurn bool         `json:"yourTurn"`
	Winner   string       `json:"winner,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	You      PlayerView   `json:"you"`
	Opponent OpponentView `json:"opponent"`
	Counters Counters     `json:"counters"`
}

// TurnData announces whose turn it is.
type TurnData struct {
	RoomID   string   `json:"roomId"`
	Turn     string   `json:"turn"`
	YourTurn bool     `json:"yourTurn"`
	Phase    string   `json:"phase"`
	Counters Counters `json:"counters"`
	GameOver bool     `json:"gameOver,omitempty"`
	Winner   string   `json:"winner,omitempty"`
}

// ShotResultData reports one resolved shot to both players. ShipID is -1
// unless the shot hit. On a sink, SunkCells lists the ship and Marked the
// surrounding water that was auto-marked as shot.
type ShotResultData struct {
	RoomID    string       `json:"roomId"`
	Shooter   string       `json:"shooter"`
	Coord     game.Coord   `json:"coord"`
	Outcome   string       `json:"outcome"`
	ShipID    int          `json:"shipId"`
	SunkCells []game.Coord `json:"sunkCells,omitempty"`
	Marked    []game.Coord `json:"marked,omitempty"`
	GameOver  bool         `json:"gameOver,omitempty"`
}

// OverData reports the terminal state of a room.
type OverData struct {
	RoomID     string   `json:"roomId"`
	Winner     string   `json:"winner"`
	Phase      string   `json:"phase"`
	Counters   Counters `json:"counters"`
	TotalShots int      `json:"totalShots"`
	Reason     string   `json:"reason"`
	Message    string   `json:"message,omitempty"`
}

// CancelledData acknowledges a manual cancel.
type CancelledData struct {
	RoomID  string `json:"roomId,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ErrorData is the payload of game:error and chat:error. Code is one of the
// Code* constants and stable; Message is for humans only.
type ErrorData struct {
	RoomID      string `json:"roomId,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	RemainingMs int64  `json:"remainingMs,omitempty"`
}

// ChatHistoryData replays a room's chat to a resuming player.
type ChatHistoryData struct {
	RoomID   string        `json:"roomId"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessageData broadcasts one accepted chat message.
type ChatMessageData struct {
	RoomID  string      `json:"roomId"`
	Message ChatMessage `json:"message"`
}

// ChatMessage is one entry of a room's chat history.
type ChatMessage struct {
	Kind     string `json:"kind"` // text, emoji, gif or system
	SenderID string `json:"senderId,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Text     string `json:"text,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	GifID    string `json:"gifId,omitempty"`
	SentAt   int64  `json:"sentAt"` // unix milliseconds
}
