package server

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/store"
)

// timedOutBatch bounds how many bot rooms one tick can create.
const timedOutBatch = 16

// Bot opponents pick a name from this list.
var botNames = []string{
	"Admiral Byte",
	"Captain Pellet",
	"Commodore Null",
	"Ensign Echo",
	"Old Ironsides",
	"Rear Admiral Rust",
	"Salty Sam",
	"The Kraken",
}

func botName() string { return botNames[rand.Intn(len(botNames))] }

// runMatchmaker sweeps the queue on a fixed tick. Joins nudge it so a full
// queue does not wait out the tick interval.
func (s *Server) runMatchmaker() {
	ticker := time.NewTicker(s.cfg.MatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		case <-s.nudge:
		}
		s.matchTick()
	}
}

// nudgeMatchmaker requests an immediate sweep. Drops when one is pending.
func (s *Server) nudgeMatchmaker() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// matchTick pairs as many waiting players as possible, then turns everyone
// past the queue wait into a bot game.
func (s *Server) matchTick() {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	for {
		a, b, ok, err := s.queue.TakeMatch(ctx)
		if err != nil {
			s.logger.Warn("matchmaker take failed", zap.Error(err))
			return
		}
		if !ok {
			break
		}
		s.createRoom(a, b)
	}

	cutoff := time.Now().Add(-s.cfg.QueueWait).UnixMilli()
	waited, err := s.queue.TakeTimedOut(ctx, cutoff, timedOutBatch)
	if err != nil {
		s.logger.Warn("matchmaker timeout sweep failed", zap.Error(err))
		return
	}
	for _, e := range waited {
		s.createBotRoom(e)
	}
}

// createRoom materializes a PvP room for two matched entries.
func (s *Server) createRoom(a, b store.QueueEntry) {
	room := newRoom(s, a, b)
	var conns [2]string
	for i, e := range [2]store.QueueEntry{a, b} {
		if c := s.playerConn(e.PlayerID); c != nil {
			conns[i] = c.ID
			room.slots[i].ConnID = c.ID
			c.setRoom(room.ID, e.PlayerID, e.Nickname, e.Token)
		}
	}
	s.registry.Add(room)

	s.sendToConn(conns[0], ServerMessage{Type: MsgQueueMatched, Data: MatchedData{
		RoomID:         room.ID,
		Opponent:       b.Nickname,
		VsBot:          false,
		ReconnectToken: a.Token,
		Message:        "Opponent found, place your ships",
	}})
	s.sendToConn(conns[1], ServerMessage{Type: MsgQueueMatched, Data: MatchedData{
		RoomID:         room.ID,
		Opponent:       a.Nickname,
		VsBot:          false,
		ReconnectToken: b.Token,
		Message:        "Opponent found, place your ships",
	}})

	room.Start()

	// A socket may have died between binding and Start. Disconnect is
	// idempotent and no-ops for seats that were never bound.
	for _, id := range conns {
		if id != "" && !s.clientAlive(id) {
			room.Disconnect(id)
		}
	}

	s.logger.Info("match created",
		zap.String("room", room.ID),
		zap.String("player0", a.PlayerID),
		zap.String("player1", b.PlayerID))
}

// createBotRoom materializes a bot room for an entry that waited too long.
// The bot's fleet is already placed, so the game starts as soon as the
// player is ready.
func (s *Server) createBotRoom(e store.QueueEntry) {
	name := botName()
	room := newBotRoom(s, e, name)
	var connID string
	if c := s.playerConn(e.PlayerID); c != nil {
		connID = c.ID
		room.slots[0].ConnID = c.ID
		c.setRoom(room.ID, e.PlayerID, e.Nickname, e.Token)
	}
	s.registry.Add(room)

	s.sendToConn(connID, ServerMessage{Type: MsgQueueMatched, Data: MatchedData{
		RoomID:         room.ID,
		Opponent:       name,
		VsBot:          true,
		ReconnectToken: e.Token,
		OpponentReady:  true,
		Message:        "No opponent arrived, you are playing against " + name,
	}})

	room.Start()
	if connID != "" && !s.clientAlive(connID) {
		room.Disconnect(connID)
	}

	s.logger.Info("bot match created",
		zap.String("room", room.ID),
		zap.String("player", e.PlayerID),
		zap.String("bot", name))
}
