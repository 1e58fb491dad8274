package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/store"
)

const nicknameMax = 24

// sanitizeNickname keeps letters, digits, spaces, underscores and hyphens,
// caps the length and escapes HTML just in case. An empty result gets a
// generated name from the caller.
func sanitizeNickname(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == ' ' || r == '_' || r == '-' {
			return r
		}
		return -1
	}, name)
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > nicknameMax {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:nicknameMax]))
	}
	return html.EscapeString(cleaned)
}

func (s *Server) fallbackNickname() string {
	return fmt.Sprintf("Player%d", s.nickSeq.Add(1))
}

// handleMessage routes one inbound frame. A panicking handler answers with
// a general error instead of killing the connection pumps.
func (s *Server) handleMessage(c *Client, msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("message handler panicked",
				zap.String("conn", c.ID), zap.String("type", msg.Type), zap.Any("panic", r))
			c.sendError("", CodeGeneral, "Internal error")
		}
	}()

	switch msg.Type {
	case MsgSearchJoin:
		s.handleSearchJoin(c, msg.Data)
	case MsgSearchCancel:
		s.handleSearchCancel(c)
	case MsgGamePlaceShips:
		s.handleGamePlaceShips(c, msg.Data)
	case MsgGameShot:
		s.handleGameShot(c, msg.Data)
	case MsgGameCancel:
		s.handleGameCancel(c, msg.Data)
	case MsgChatSend:
		s.handleChatSend(c, msg.Data)
	default:
		s.fault(c, "", CodeInvalidPayload, "Unknown message type: "+msg.Type)
	}
}

// deliverError turns a failed room or queue operation into a game:error.
// Fault-tagged errors charge the soft-ban budget.
func (s *Server) deliverError(c *Client, roomID string, err error) {
	var derr *domainError
	if !errors.As(err, &derr) {
		s.logger.Error("unexpected handler error",
			zap.String("conn", c.ID), zap.Error(err))
		c.sendError(roomID, CodeGeneral, "Internal error")
		return
	}
	c.sendMessage(ServerMessage{Type: MsgGameError, Data: ErrorData{
		RoomID:      roomID,
		Code:        derr.Code,
		Message:     derr.Message,
		RemainingMs: derr.RemainingMs,
	}})
	if derr.Fault {
		s.chargeFault(c, derr.Code)
	}
}

// lookupRoom resolves a request's room id and verifies the connection is
// bound to it.
func (s *Server) lookupRoom(c *Client, roomID string, chat bool) (*Room, bool) {
	code := CodeRoomMismatch
	if chat {
		code = CodeChatRoomMismatch
	}
	if roomID == "" {
		c.sendError("", code, "Missing room id")
		return nil, false
	}
	b := c.binding()
	room, ok := s.registry.Get(roomID)
	if !ok || b.RoomID != roomID {
		c.sendError(roomID, code, "You are not in that game")
		return nil, false
	}
	return room, true
}

// handleSearchJoin enqueues the player, or resumes their previous session
// when the payload carries a reconnect token.
func (s *Server) handleSearchJoin(c *Client, data json.RawMessage) {
	var d SearchJoinData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			s.fault(c, "", CodeInvalidPayload, "Malformed search:join payload")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if d.ReconnectToken != "" {
		if !s.allowAction(c, KindReconnect) {
			return
		}
		handled, err := s.resumeSession(ctx, c, d.ReconnectToken)
		if err != nil {
			s.deliverError(c, "", err)
			return
		}
		if handled {
			return
		}
		// Nothing left to resume. Say so, then fall through to a fresh
		// enqueue with a new identity.
		c.sendError("", CodeReconnectTokenExpired, "Session expired, joining as a new player")
	}

	if !s.allowAction(c, KindSearchJoin) {
		return
	}

	b := c.binding()
	if b.RoomID != "" {
		if room, ok := s.registry.Get(b.RoomID); ok && !room.Over() {
			c.sendError(b.RoomID, CodeGeneral, "You are already in a game")
			return
		}
		c.clearBinding()
		b = c.binding()
	}

	// Re-joining while already waiting just re-acks the same ticket.
	if b.Queued && b.PlayerID != "" {
		if entry, err := s.queue.GetByPlayerID(ctx, b.PlayerID); err == nil {
			c.sendMessage(ServerMessage{Type: MsgQueueQueued, Data: QueuedData{
				PlayerID:       entry.PlayerID,
				JoinedAt:       entry.JoinedAt,
				TimeoutMs:      s.cfg.QueueWait.Milliseconds(),
				ReconnectToken: entry.Token,
				Message:        "Waiting for an opponent",
			}})
			return
		}
	}

	nickname := sanitizeNickname(d.Nickname)
	if nickname == "" {
		nickname = s.fallbackNickname()
	}
	token, err := newReconnectToken()
	if err != nil {
		s.logger.Error("reconnect token generation failed", zap.Error(err))
		c.sendError("", CodeGeneral, "Internal error")
		return
	}

	entry := store.QueueEntry{
		PlayerID: uuid.New().String(),
		Nickname: nickname,
		Token:    token,
		JoinedAt: time.Now().UnixMilli(),
	}
	if err := s.queue.Upsert(ctx, entry); err != nil {
		s.logger.Error("queue join failed", zap.Error(err))
		c.sendError("", CodeGeneral, "Matchmaking is unavailable, try again")
		return
	}
	c.setQueued(entry.PlayerID, nickname, token)
	c.sendMessage(ServerMessage{Type: MsgQueueQueued, Data: QueuedData{
		PlayerID:       entry.PlayerID,
		JoinedAt:       entry.JoinedAt,
		TimeoutMs:      s.cfg.QueueWait.Milliseconds(),
		ReconnectToken: token,
		Message:        "Waiting for an opponent",
	}})
	if !s.clientAlive(c.ID) {
		// The socket died during the enqueue; park right away so the token
		// still resumes.
		s.parkQueueEntry(entry)
		return
	}
	s.nudgeMatchmaker()
	s.logger.Info("player queued",
		zap.String("conn", c.ID),
		zap.String("player", entry.PlayerID),
		zap.String("nickname", nickname))
}

// handleSearchCancel removes the player from the queue. Cancelling while
// not queued still acks so clients can treat it as idempotent.
func (s *Server) handleSearchCancel(c *Client) {
	b := c.binding()
	if b.Queued && b.PlayerID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := s.queue.RemoveByPlayerID(ctx, b.PlayerID); err != nil && err != store.ErrNotFound {
			s.logger.Warn("queue remove failed", zap.Error(err))
		}
		c.clearBinding()
	}
	c.sendMessage(ServerMessage{Type: MsgQueueLeft, Data: LeftData{Message: "Left the queue"}})
}

func (s *Server) handleGamePlaceShips(c *Client, data json.RawMessage) {
	if !s.allowAction(c, KindPlaceShips) {
		return
	}
	var d PlaceShipsData
	if err := json.Unmarshal(data, &d); err != nil {
		s.fault(c, "", CodeInvalidPayload, "Malformed game:place_ships payload")
		return
	}
	room, ok := s.lookupRoom(c, d.RoomID, false)
	if !ok {
		return
	}
	if err := room.PlaceShips(c.ID, d.Board); err != nil {
		s.deliverError(c, d.RoomID, err)
	}
}

func (s *Server) handleGameShot(c *Client, data json.RawMessage) {
	if !s.allowAction(c, KindShot) {
		return
	}
	var d ShotData
	if err := json.Unmarshal(data, &d); err != nil {
		s.fault(c, "", CodeInvalidPayload, "Malformed game:shot payload")
		return
	}
	room, ok := s.lookupRoom(c, d.RoomID, false)
	if !ok {
		return
	}
	if err := room.Shoot(c.ID, d.Coord); err != nil {
		s.deliverError(c, d.RoomID, err)
	}
}

func (s *Server) handleGameCancel(c *Client, data json.RawMessage) {
	if !s.allowAction(c, KindCancel) {
		return
	}
	var d CancelData
	if err := json.Unmarshal(data, &d); err != nil {
		s.fault(c, "", CodeInvalidPayload, "Malformed game:cancel payload")
		return
	}
	room, ok := s.lookupRoom(c, d.RoomID, false)
	if !ok {
		return
	}
	if err := room.Cancel(c.ID); err != nil {
		s.deliverError(c, d.RoomID, err)
	}
}

func (s *Server) handleChatSend(c *Client, data json.RawMessage) {
	if !s.allowAction(c, KindChatSend) {
		return
	}
	var d ChatSendData
	if err := json.Unmarshal(data, &d); err != nil {
		s.fault(c, "", CodeChatInvalidPayload, "Malformed chat:send payload")
		return
	}
	room, ok := s.lookupRoom(c, d.RoomID, true)
	if !ok {
		return
	}
	if err := room.PostChat(c.ID, d); err != nil {
		s.deliverError(c, d.RoomID, err)
	}
}
