package server

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/game"
	"github.com/lab1702/battleship-web/store"
)

// Room phases.
const (
	PhaseSetup   = "setup"
	PhasePlaying = "playing"
	PhaseOver    = "over"
)

// Rooms are refreshed in the mirror on every mutation. The TTL only matters
// when an instance dies mid-game; it is long because setup has no timeout.
const roomMirrorTTL = 24 * time.Hour

// Slot is one seat in a room.
type Slot struct {
	PlayerID string
	Nickname string
	Token    string // reconnect token, empty for bots
	ConnID   string // current connection, empty while disconnected
	Ready    bool
	IsBot    bool
	Board    *game.Board
	Ai       *game.AiState // bot seats only
	Shots    int
}

// Connected reports whether the seat can receive events. Bots always can.
func (s *Slot) Connected() bool { return s.IsBot || s.ConnID != "" }

// Room is a matched pair playing one game. All mutable state is guarded by
// mu; every mutation enters through an exported method so the room behaves
// as a single writer. Timer callbacks carry a sequence number and abort when
// the room moved on without them.
type Room struct {
	ID    string
	VsBot bool

	server *Server

	mu        sync.Mutex
	phase     string
	slots     [2]*Slot
	turn      int
	winner    string
	reason    string
	lastMover int // slot index of the last valid shot, -1 before any
	startedAt time.Time
	overAt    time.Time

	chat []ChatMessage

	graceSlot     int // slot index currently in grace, -1 when none
	graceDeadline time.Time
	graceTimer    *time.Timer
	graceSeq      int
	idleTimer     *time.Timer
	idleSeq       int
	botTimer      *time.Timer
	botSeq        int
	destroyTimer  *time.Timer
	destroySeq    int
}

// SeatInfo identifies the seat a connection was bound to.
type SeatInfo struct {
	PlayerID string
	Nickname string
}

func newRoom(s *Server, a, b store.QueueEntry) *Room {
	r := &Room{
		ID:        uuid.New().String(),
		server:    s,
		phase:     PhaseSetup,
		lastMover: -1,
		graceSlot: -1,
	}
	r.slots[0] = &Slot{PlayerID: a.PlayerID, Nickname: a.Nickname, Token: a.Token}
	r.slots[1] = &Slot{PlayerID: b.PlayerID, Nickname: b.Nickname, Token: b.Token}
	return r
}

func newBotRoom(s *Server, e store.QueueEntry, botName string) *Room {
	r := &Room{
		ID:        uuid.New().String(),
		VsBot:     true,
		server:    s,
		phase:     PhaseSetup,
		lastMover: -1,
		graceSlot: -1,
	}
	r.slots[0] = &Slot{PlayerID: e.PlayerID, Nickname: e.Nickname, Token: e.Token}
	r.slots[1] = &Slot{
		PlayerID: uuid.New().String(),
		Nickname: botName,
		IsBot:    true,
		Ready:    true,
		Board:    game.PlaceFleetRandomly(),
		Ai:       game.NewAiState(),
	}
	return r
}

// guard runs one room operation and converts a panic into a terminal
// transition of this room instead of taking the process down.
func (r *Room) guard(op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.server.logger.Error("room operation panicked",
				zap.String("room", r.ID), zap.String("op", op), zap.Any("panic", rec))
			r.terminateAfterPanic()
			err = errCode(CodeGeneral, "internal error")
		}
	}()
	return fn()
}

func (r *Room) safeRun(op string, fn func()) {
	_ = r.guard(op, func() error { fn(); return nil })
}

func (r *Room) terminateAfterPanic() {
	defer func() { _ = recover() }()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked("", ReasonGeneral)
}

// Start publishes the freshly created room to its players: initial state,
// the started event, and a grace window for any seat whose player vanished
// between match and binding.
func (r *Room) Start() {
	r.safeRun("start", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.server.sink.RecordMatch(store.MatchEvent{
			RoomID: r.ID,
			Event:  "started",
			VsBot:  r.VsBot,
			At:     time.Now(),
		})
		r.broadcastStateLocked()
		for i, sl := range r.slots {
			if !sl.IsBot && sl.ConnID == "" {
				r.beginGraceLocked(i)
			}
		}
		r.saveSnapshotLocked()
	})
}

// Tokens returns the reconnect tokens of the human seats.
func (r *Room) Tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokensLocked()
}

// Over reports whether the game has finished.
func (r *Room) Over() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == PhaseOver
}

func (r *Room) tokensLocked() []string {
	var out []string
	for _, sl := range r.slots {
		if sl != nil && sl.Token != "" {
			out = append(out, sl.Token)
		}
	}
	return out
}

func (r *Room) slotByConnLocked(connID string) int {
	for i, sl := range r.slots {
		if sl != nil && !sl.IsBot && sl.ConnID != "" && sl.ConnID == connID {
			return i
		}
	}
	return -1
}

func (r *Room) slotByTokenLocked(token string) int {
	for i, sl := range r.slots {
		if sl != nil && sl.Token != "" && sl.Token == token {
			return i
		}
	}
	return -1
}

// PlaceShips validates and installs a player's fleet. When the second fleet
// lands the game starts.
func (r *Room) PlaceShips(connID string, st game.BoardState) error {
	return r.guard("place_ships", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByConnLocked(connID)
		if idx < 0 {
			return errCode(CodeRoomMismatch, "You are not in this game")
		}
		if r.phase != PhaseSetup {
			return errCode(CodeNotInSetup, "Ships can only be placed during setup")
		}
		sl := r.slots[idx]
		if sl.Ready {
			return errCode(CodeAlreadyReady, "Your fleet is already placed")
		}
		board, err := game.FleetFromPlacement(st)
		if err != nil {
			return errFault(CodeInvalidShipPlacement, err.Error())
		}
		sl.Board = board
		sl.Ready = true
		if r.slots[0].Ready && r.slots[1].Ready {
			r.startPlayingLocked()
		} else {
			r.broadcastStateLocked()
		}
		r.saveSnapshotLocked()
		return nil
	})
}

func (r *Room) startPlayingLocked() {
	r.phase = PhasePlaying
	r.startedAt = time.Now()
	r.turn = rand.Intn(2)
	r.broadcastStateLocked()
	r.emitTurnLocked()
	r.armIdleLocked()
	r.scheduleBotLocked()
}

// Shoot resolves one shot by the connected player.
func (r *Room) Shoot(connID string, c game.Coord) error {
	return r.guard("shot", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByConnLocked(connID)
		if idx < 0 {
			return errCode(CodeRoomMismatch, "You are not in this game")
		}
		if r.phase != PhasePlaying {
			return errCode(CodeNotInPlaying, "The game is not in progress")
		}
		if r.graceSlot >= 0 {
			remaining := time.Until(r.graceDeadline).Milliseconds()
			if remaining < 0 {
				remaining = 0
			}
			return &domainError{
				Code:        CodeReconnectGrace,
				Message:     "Opponent is reconnecting",
				RemainingMs: remaining,
			}
		}
		if r.turn != idx {
			return errCode(CodeNotYourTurn, "Not your turn")
		}
		return r.resolveShotLocked(idx, c)
	})
}

// resolveShotLocked applies one shot from the given seat, emits the result
// and advances the turn or ends the game.
func (r *Room) resolveShotLocked(shooter int, c game.Coord) error {
	sl := r.slots[shooter]
	target := r.slots[1-shooter]
	outcome, ship := target.Board.FireShot(c)
	switch outcome {
	case game.ShotInvalid:
		return errFault(CodeInvalidCoord, fmt.Sprintf("Coordinate %d,%d is off the board", c.Row, c.Col))
	case game.ShotAlready:
		return errCode(CodeAlreadyShot, "That cell was already shot")
	}

	sl.Shots++
	r.lastMover = shooter
	if sl.IsBot {
		game.RegisterAiShot(target.Board, sl.Ai, c, outcome)
	}

	res := ShotResultData{
		RoomID:  r.ID,
		Shooter: sl.PlayerID,
		Coord:   c,
		Outcome: outcome.String(),
		ShipID:  -1,
	}
	if ship != nil {
		res.ShipID = ship.ID
	}
	if outcome == game.ShotSink {
		res.SunkCells = append([]game.Coord(nil), ship.Cells...)
		res.Marked = target.Board.ShipRing(ship)
	}
	res.GameOver = target.Board.FleetSunk()
	r.broadcastLocked(MsgGameShotRes, res)

	if res.GameOver {
		r.finishLocked(sl.PlayerID, ReasonFleetSunk)
		return nil
	}
	if outcome == game.ShotMiss {
		r.turn = 1 - r.turn
	}
	r.emitTurnLocked()
	r.armIdleLocked()
	r.scheduleBotLocked()
	r.saveSnapshotLocked()
	return nil
}

// Cancel is a voluntary concession. It ends the game with no winner.
func (r *Room) Cancel(connID string) error {
	return r.guard("cancel", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByConnLocked(connID)
		if idx < 0 {
			return errCode(CodeRoomMismatch, "You are not in this game")
		}
		if r.phase == PhaseOver {
			return errCode(CodeNotInPlaying, "The game is already over")
		}
		nick := r.slots[idx].Nickname
		r.finishLocked("", ReasonManualCancel)
		r.broadcastLocked(MsgGameCancelled, CancelledData{
			RoomID:  r.ID,
			Reason:  ReasonManualCancel,
			Message: fmt.Sprintf("%s cancelled the game", nick),
		})
		return nil
	})
}

// Disconnect clears the seat's connection and opens the grace window. When
// the other seat is already empty the room ends immediately.
func (r *Room) Disconnect(connID string) {
	r.safeRun("disconnect", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByConnLocked(connID)
		if idx < 0 {
			return
		}
		r.slots[idx].ConnID = ""
		if r.phase == PhaseOver {
			return
		}
		if !r.slots[1-idx].Connected() {
			r.finishLocked("", ReasonDisconnect)
			return
		}
		r.beginGraceLocked(idx)
		r.saveSnapshotLocked()
	})
}

func (r *Room) beginGraceLocked(idx int) {
	grace := r.server.cfg.ReconnectGrace
	r.graceSlot = idx
	r.graceDeadline = time.Now().Add(grace)
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceSeq++
	seq := r.graceSeq
	r.graceTimer = time.AfterFunc(grace, func() { r.graceExpired(seq) })
	r.stopIdleLocked()
	r.stopBotLocked()
	r.sendToSlotLocked(1-idx, MsgGameError, ErrorData{
		RoomID:      r.ID,
		Code:        CodeReconnectGrace,
		Message:     fmt.Sprintf("%s disconnected, waiting for them to come back", r.slots[idx].Nickname),
		RemainingMs: grace.Milliseconds(),
	})
}

func (r *Room) stopGraceLocked() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
	r.graceSeq++
	r.graceSlot = -1
}

func (r *Room) graceExpired(seq int) {
	r.safeRun("grace_expired", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if seq != r.graceSeq || r.phase == PhaseOver || r.graceSlot < 0 {
			return
		}
		winner := r.slots[1-r.graceSlot].PlayerID
		r.finishLocked(winner, ReasonDisconnect)
	})
}

// Resume rebinds a returning connection to its seat and replays state.
func (r *Room) Resume(connID, token string) (SeatInfo, error) {
	var seat SeatInfo
	err := r.guard("resume", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByTokenLocked(token)
		if idx < 0 || r.phase == PhaseOver {
			return errCode(CodeReconnectTokenExpired, "That game is gone")
		}
		sl := r.slots[idx]
		if sl.ConnID != "" && sl.ConnID != connID {
			return errCode(CodeReconnectTokenInUse, "This seat already has a live connection")
		}
		sl.ConnID = connID
		seat = SeatInfo{PlayerID: sl.PlayerID, Nickname: sl.Nickname}
		if r.graceSlot == idx {
			r.stopGraceLocked()
			r.armIdleLocked()
			r.scheduleBotLocked()
		}
		r.server.sendToConn(connID, ServerMessage{Type: MsgGameState, Data: r.stateLocked(idx)})
		if len(r.chat) > 0 {
			r.server.sendToConn(connID, ServerMessage{Type: MsgChatHistory, Data: ChatHistoryData{
				RoomID:   r.ID,
				Messages: append([]ChatMessage(nil), r.chat...),
			}})
		}
		r.broadcastLocked(MsgGameError, ErrorData{
			RoomID:  r.ID,
			Code:    CodeReconnectRestored,
			Message: fmt.Sprintf("%s reconnected", sl.Nickname),
		})
		r.saveSnapshotLocked()
		return nil
	})
	return seat, err
}

// Terminate force-ends the room, used on server shutdown.
func (r *Room) Terminate(reason string) {
	r.safeRun("terminate", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.finishLocked("", reason)
	})
}

// finishLocked performs the terminal transition exactly once: stops timers,
// invalidates tokens, tells the players, clears the mirror and schedules
// destruction after the chat tail.
func (r *Room) finishLocked(winner, reason string) {
	if r.phase == PhaseOver {
		return
	}
	r.phase = PhaseOver
	r.winner = winner
	r.reason = reason
	r.overAt = time.Now()
	r.stopGraceLocked()
	r.stopIdleLocked()
	r.stopBotLocked()

	tokens := r.tokensLocked()
	r.server.registry.InvalidateTokens(tokens...)
	r.server.mirrorDelete(r.ID, tokens)

	r.broadcastStateLocked()
	total := r.slots[0].Shots + r.slots[1].Shots
	for i, sl := range r.slots {
		if sl.IsBot || sl.ConnID == "" {
			continue
		}
		r.server.sendToConn(sl.ConnID, ServerMessage{Type: MsgGameOver, Data: OverData{
			RoomID:     r.ID,
			Winner:     winner,
			Phase:      PhaseOver,
			Counters:   r.countersLocked(i),
			TotalShots: total,
			Reason:     reason,
			Message:    r.overMessageLocked(i),
		}})
	}

	var dur time.Duration
	if !r.startedAt.IsZero() {
		dur = time.Since(r.startedAt)
	}
	r.server.sink.RecordMatch(store.MatchEvent{
		RoomID:   r.ID,
		Event:    "ended",
		VsBot:    r.VsBot,
		Winner:   winner,
		Reason:   reason,
		Shots:    total,
		Duration: dur,
		At:       time.Now(),
	})

	ttl := r.server.cfg.ChatTTL
	if r.VsBot {
		ttl = 0
	}
	if r.destroyTimer != nil {
		r.destroyTimer.Stop()
	}
	r.destroySeq++
	seq := r.destroySeq
	r.destroyTimer = time.AfterFunc(ttl, func() { r.destroyExpired(seq) })

	r.server.logger.Info("game over",
		zap.String("room", r.ID),
		zap.String("winner", winner),
		zap.String("reason", reason),
		zap.Bool("vsBot", r.VsBot),
		zap.Int("shots", total))
}

func (r *Room) destroyExpired(seq int) {
	r.safeRun("destroy", func() {
		r.mu.Lock()
		if seq != r.destroySeq {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		r.server.registry.Remove(r.ID)
	})
}

func (r *Room) overMessageLocked(viewer int) string {
	switch {
	case r.winner == "":
		switch r.reason {
		case ReasonManualCancel:
			return "The game was cancelled"
		case ReasonDisconnect:
			return "Both players left the game"
		default:
			return "The game ended"
		}
	case r.winner == r.slots[viewer].PlayerID:
		return "You win!"
	default:
		return fmt.Sprintf("%s wins", r.slots[1-viewer].Nickname)
	}
}

// Inactivity clock. Armed while playing and no grace window is open; any
// valid shot re-arms it.
func (r *Room) armIdleLocked() {
	r.stopIdleLocked()
	if r.phase != PhasePlaying || r.graceSlot >= 0 {
		return
	}
	seq := r.idleSeq
	r.idleTimer = time.AfterFunc(r.server.cfg.Inactivity, func() { r.idleExpired(seq) })
}

func (r *Room) stopIdleLocked() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.idleSeq++
}

func (r *Room) idleExpired(seq int) {
	r.safeRun("idle_expired", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if seq != r.idleSeq || r.phase != PhasePlaying {
			return
		}
		winner := ""
		if r.lastMover >= 0 {
			winner = r.slots[r.lastMover].PlayerID
		}
		r.finishLocked(winner, ReasonInactivity)
	})
}

// Bot think scheduling. One shot per delay; hits reschedule because the
// shooter keeps the turn.
func (r *Room) scheduleBotLocked() {
	r.stopBotLocked()
	if !r.VsBot || r.phase != PhasePlaying || r.graceSlot >= 0 {
		return
	}
	if !r.slots[r.turn].IsBot {
		return
	}
	seq := r.botSeq
	r.botTimer = time.AfterFunc(r.server.botThinkDelay(), func() { r.botThink(seq) })
}

func (r *Room) stopBotLocked() {
	if r.botTimer != nil {
		r.botTimer.Stop()
		r.botTimer = nil
	}
	r.botSeq++
}

func (r *Room) botThink(seq int) {
	r.safeRun("bot_think", func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if seq != r.botSeq || r.phase != PhasePlaying || r.graceSlot >= 0 {
			return
		}
		bot := r.slots[r.turn]
		if !bot.IsBot {
			return
		}
		c := game.NextShot(r.slots[1-r.turn].Board, bot.Ai)
		if c == game.NoShot {
			return
		}
		if err := r.resolveShotLocked(r.turn, c); err != nil {
			r.server.logger.Warn("bot shot rejected",
				zap.String("room", r.ID), zap.Error(err))
		}
	})
}

// Emission helpers. Sends never block: a full client buffer drops the frame.

func (r *Room) sendToSlotLocked(idx int, typ string, data interface{}) {
	sl := r.slots[idx]
	if sl == nil || sl.IsBot || sl.ConnID == "" {
		return
	}
	r.server.sendToConn(sl.ConnID, ServerMessage{Type: typ, Data: data})
}

func (r *Room) broadcastLocked(typ string, data interface{}) {
	for i := range r.slots {
		r.sendToSlotLocked(i, typ, data)
	}
}

func (r *Room) broadcastStateLocked() {
	for i, sl := range r.slots {
		if sl.IsBot || sl.ConnID == "" {
			continue
		}
		r.server.sendToConn(sl.ConnID, ServerMessage{Type: MsgGameState, Data: r.stateLocked(i)})
	}
}

func (r *Room) emitTurnLocked() {
	for i, sl := range r.slots {
		if sl.IsBot || sl.ConnID == "" {
			continue
		}
		r.server.sendToConn(sl.ConnID, ServerMessage{Type: MsgGameTurn, Data: TurnData{
			RoomID:   r.ID,
			Turn:     r.slots[r.turn].PlayerID,
			YourTurn: i == r.turn,
			Phase:    r.phase,
			Counters: r.countersLocked(i),
		}})
	}
}

func (r *Room) countersLocked(viewer int) Counters {
	return Counters{You: r.slots[viewer].Shots, Opponent: r.slots[1-viewer].Shots}
}

// stateLocked builds the snapshot one seat is allowed to see. The opponent
// board is always the masked form, whatever the phase.
func (r *Room) stateLocked(viewer int) StateData {
	me := r.slots[viewer]
	opp := r.slots[1-viewer]
	st := StateData{
		RoomID:   r.ID,
		Phase:    r.phase,
		VsBot:    r.VsBot,
		Winner:   r.winner,
		Reason:   r.reason,
		Counters: r.countersLocked(viewer),
	}
	if r.phase == PhasePlaying {
		st.Turn = r.slots[r.turn].PlayerID
		st.YourTurn = r.turn == viewer
	}
	st.You = PlayerView{PlayerID: me.PlayerID, Nickname: me.Nickname, Ready: me.Ready}
	if me.Board != nil {
		b := me.Board.Serialize()
		st.You.Board = &b
	}
	st.Opponent = OpponentView{
		PlayerID:  opp.PlayerID,
		Nickname:  opp.Nickname,
		Ready:     opp.Ready,
		Connected: opp.Connected(),
	}
	if opp.Board != nil {
		mb := opp.Board.SerializeMasked()
		st.Opponent.Board = &mb
	}
	return st
}

func (r *Room) saveSnapshotLocked() {
	snap := store.RoomSnapshot{
		ID:        r.ID,
		Phase:     r.phase,
		VsBot:     r.VsBot,
		Winner:    r.winner,
		Reason:    r.reason,
		UpdatedAt: time.Now().UnixMilli(),
	}
	for i, sl := range r.slots {
		snap.Slots[i] = store.SlotSnapshot{
			PlayerID:  sl.PlayerID,
			Nickname:  sl.Nickname,
			Token:     sl.Token,
			Connected: sl.Connected(),
			Ready:     sl.Ready,
		}
	}
	if r.phase == PhasePlaying {
		snap.Turn = r.slots[r.turn].PlayerID
	}
	r.server.mirrorSave(snap)
}
