package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/store"
)

// newReconnectToken returns an opaque 128-bit token. Tokens are minted on
// queue join and follow the player into their room.
func newReconnectToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating reconnect token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// resumeSession routes a search:join that carries a reconnect token.
// Resolution order: live room, parked queue entry, waiting queue entry.
// handled=false means the token resolved to nothing and the caller should
// fall back to a fresh enqueue.
func (s *Server) resumeSession(ctx context.Context, c *Client, token string) (handled bool, err error) {
	if room, ok := s.registry.ByToken(token); ok {
		seat, err := room.Resume(c.ID, token)
		if err != nil {
			return true, err
		}
		c.setRoom(room.ID, seat.PlayerID, seat.Nickname, token)
		if !s.clientAlive(c.ID) {
			// The socket died while we were rebinding. Disconnect is
			// idempotent, so racing the close handler here is fine.
			room.Disconnect(c.ID)
		}
		s.logger.Info("session resumed into room",
			zap.String("conn", c.ID), zap.String("room", room.ID))
		return true, nil
	}

	// A mirror hit without a registry hit means the room is owned by another
	// instance (or the mirror entry is stale). Either way this instance
	// cannot rebind the seat.
	if roomID, err := s.roomStore.FindByToken(ctx, token); err == nil {
		s.logger.Warn("reconnect token resolves to a room this instance does not own",
			zap.String("conn", c.ID), zap.String("room", roomID))
		return false, nil
	} else if err != store.ErrNotFound {
		s.logger.Warn("room token lookup failed", zap.Error(err))
	}

	if entry, ok, err := s.queue.TakeParked(ctx, token); err != nil {
		s.logger.Warn("parked entry lookup failed", zap.Error(err))
	} else if ok {
		return true, s.requeue(ctx, c, entry, true)
	}

	if entry, err := s.queue.GetByToken(ctx, token); err == nil {
		if other := s.playerConn(entry.PlayerID); other != nil && other.ID != c.ID {
			return true, errCode(CodeReconnectTokenInUse, "This token already has a live connection")
		}
		return true, s.requeue(ctx, c, entry, false)
	} else if err != store.ErrNotFound {
		s.logger.Warn("queue token lookup failed", zap.Error(err))
	}

	// The token resolved nowhere. Drop any index still behind it so it can
	// never resolve again once the caller re-enqueues with a fresh one.
	if err := s.queue.RemoveByToken(ctx, token); err != nil {
		s.logger.Warn("dead token cleanup failed", zap.Error(err))
	}
	return false, nil
}

// requeue rebinds a connection to a waiting entry, or promotes a parked one
// back into the waiting set at its original position.
func (s *Server) requeue(ctx context.Context, c *Client, entry store.QueueEntry, recovered bool) error {
	if err := s.queue.Upsert(ctx, entry); err != nil {
		return errCode(CodeGeneral, "Matchmaking is unavailable, try again")
	}
	c.setQueued(entry.PlayerID, entry.Nickname, entry.Token)
	c.sendMessage(ServerMessage{Type: MsgQueueQueued, Data: QueuedData{
		PlayerID:       entry.PlayerID,
		JoinedAt:       entry.JoinedAt,
		TimeoutMs:      s.cfg.QueueWait.Milliseconds(),
		ReconnectToken: entry.Token,
		Recovered:      recovered,
		Message:        "Waiting for an opponent",
	}})
	if !s.clientAlive(c.ID) {
		s.parkQueueEntry(entry)
		return nil
	}
	s.nudgeMatchmaker()
	return nil
}
