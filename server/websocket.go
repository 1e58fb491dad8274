package server

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/config"
	"github.com/lab1702/battleship-web/store"
)

const (
	// sendBufferSize is the per-connection outbound queue.
	sendBufferSize = 256

	// storeOpTimeout bounds shared-store calls made off the game path.
	storeOpTimeout = 2 * time.Second

	// banCloseDelay gives writePump a moment to flush the soft_ban notice
	// before the connection is torn down.
	banCloseDelay = 250 * time.Millisecond
)

// Server owns the connections, the matchmaking queue and the live rooms.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *RoomRegistry
	queue     store.QueueStore
	roomStore store.RoomStore
	sink      store.EventSink
	limiter   Limiter

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	players map[string]*Client // playerID -> live connection

	register   chan *Client
	unregister chan *Client
	nudge      chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	nickSeq atomic.Int64
}

// Options wires the server's dependencies. Zero fields fall back to the
// in-process implementations, which is what the tests use.
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Queue   store.QueueStore
	Rooms   store.RoomStore
	Sink    store.EventSink
	Limiter Limiter
}

// New creates a server. Call Run to start it.
func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		logger:     opts.Logger,
		registry:   NewRoomRegistry(),
		queue:      opts.Queue,
		roomStore:  opts.Rooms,
		sink:       opts.Sink,
		limiter:    opts.Limiter,
		clients:    make(map[string]*Client),
		players:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client, 256),
		nudge:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.queue == nil {
		s.queue = store.NewMemoryQueue()
	}
	if s.roomStore == nil {
		s.roomStore = store.NewMemoryRooms()
	}
	if s.sink == nil {
		s.sink = store.NewMemorySink()
	}
	if s.limiter == nil {
		s.limiter = NewLocalLimiter()
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       s.isValidOrigin,
		EnableCompression: true,
	}
	return s
}

// isValidOrigin allows same-origin and localhost connections.
func (s *Server) isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No origin header, could be a non-browser client.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("invalid origin url", zap.String("origin", origin))
		return false
	}

	if r.Host == originURL.Host {
		return true
	}

	if strings.HasPrefix(originURL.Host, "localhost:") ||
		strings.HasPrefix(originURL.Host, "127.0.0.1:") ||
		originURL.Host == "localhost" ||
		originURL.Host == "127.0.0.1" {
		return true
	}

	s.logger.Warn("rejected websocket origin", zap.String("origin", origin))
	return false
}

// Run starts the matchmaker and the connection bookkeeping loop.
func (s *Server) Run() {
	go s.runMatchmaker()

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.ID] = client
			n := len(s.clients)
			s.mu.Unlock()
			s.logger.Info("client connected",
				zap.String("conn", client.ID), zap.Int("clients", n))

		case client := <-s.unregister:
			if s.dropClient(client) {
				go s.handleDisconnect(client)
			}

		case <-s.done:
			return
		}
	}
}

// dropClient removes the connection from the lookup tables. It reports
// whether this call was the one that removed it.
func (s *Server) dropClient(client *Client) bool {
	b := client.binding()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client.ID]; !ok {
		return false
	}
	delete(s.clients, client.ID)
	if b.PlayerID != "" && s.players[b.PlayerID] == client {
		delete(s.players, b.PlayerID)
	}
	client.closeSend()
	s.logger.Info("client disconnected",
		zap.String("conn", client.ID), zap.Int("clients", len(s.clients)))
	return true
}

// handleDisconnect routes a closed connection to room grace handling or to
// queue parking.
func (s *Server) handleDisconnect(client *Client) {
	b := client.binding()
	switch {
	case b.RoomID != "":
		if room, ok := s.registry.Get(b.RoomID); ok {
			room.Disconnect(client.ID)
		}
	case b.Queued:
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		entry, err := s.queue.GetByPlayerID(ctx, b.PlayerID)
		if err != nil {
			if err != store.ErrNotFound {
				s.logger.Warn("queue lookup on disconnect failed", zap.Error(err))
			}
			return
		}
		s.parkQueueEntry(entry)
	}
}

// parkQueueEntry moves a waiting entry to the parked set for the grace
// window, keeping its seniority for a resume.
func (s *Server) parkQueueEntry(e store.QueueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.queue.RemoveByPlayerID(ctx, e.PlayerID); err != nil && err != store.ErrNotFound {
		s.logger.Warn("queue remove on disconnect failed", zap.Error(err))
	}
	if err := s.queue.Park(ctx, e, s.cfg.ReconnectGrace); err != nil {
		s.logger.Warn("queue park failed", zap.Error(err))
		return
	}
	s.logger.Info("queue entry parked",
		zap.String("player", e.PlayerID))
}

// HandleWebSocket upgrades an HTTP request and hands the connection to the
// read and write pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		server: s,
		conn:   conn,
		send:   make(chan ServerMessage, sendBufferSize),
	}
	s.register <- client

	go client.writePump()
	go client.readPump()
}

// sendToConn queues a frame for one connection. Unknown ids drop silently:
// the peer is already gone and room code treats that like any other
// disconnected seat.
func (s *Server) sendToConn(connID string, msg ServerMessage) bool {
	if connID == "" {
		return false
	}
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	c.sendMessage(msg)
	return true
}

func (s *Server) clientAlive(connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[connID]
	return ok
}

// playerConn resolves a player id to its live connection, if any.
func (s *Server) playerConn(playerID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.players[playerID]
}

func (s *Server) indexPlayer(playerID string, c *Client) {
	s.mu.Lock()
	s.players[playerID] = c
	s.mu.Unlock()
}

func (s *Server) unindexPlayer(playerID string, c *Client) {
	s.mu.Lock()
	if s.players[playerID] == c {
		delete(s.players, playerID)
	}
	s.mu.Unlock()
}

// allowAction enforces the per-kind request budget. Chat overruns answer on
// chat:error so they never surface as a game error.
func (s *Server) allowAction(c *Client, kind ActionKind) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	ok, retry := s.limiter.Allow(ctx, c.ID, kind)
	if ok {
		return true
	}
	s.sink.RecordSecurity(store.SecurityEvent{
		ConnID: c.ID,
		Kind:   "rate_limited",
		Detail: string(kind),
		At:     time.Now(),
	})
	data := ErrorData{Code: CodeRateLimited, Message: "Too many requests, slow down", RemainingMs: retry.Milliseconds()}
	typ := MsgGameError
	if kind == KindChatSend {
		typ = MsgChatError
		data.Code = CodeChatRateLimited
	}
	c.sendMessage(ServerMessage{Type: typ, Data: data})
	return false
}

// fault reports a client mistake and charges the soft-ban budget. Overruns
// close the connection.
func (s *Server) fault(c *Client, roomID, code, message string) {
	c.sendError(roomID, code, message)
	s.chargeFault(c, code)
}

// chargeFault spends one unit of the connection's invalid-request budget.
// Exhausting it triggers the soft ban.
func (s *Server) chargeFault(c *Client, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if ok, _ := s.limiter.Allow(ctx, c.ID, KindInvalidRequests); ok {
		return
	}
	s.softBan(c, code)
}

func (s *Server) softBan(c *Client, lastCode string) {
	s.sink.RecordSecurity(store.SecurityEvent{
		ConnID: c.ID,
		Kind:   "soft_ban",
		Detail: lastCode,
		At:     time.Now(),
	})
	s.logger.Warn("soft ban",
		zap.String("conn", c.ID), zap.String("lastCode", lastCode))
	c.sendError("", CodeSoftBan, "Too many invalid requests, disconnecting")
	if c.conn != nil {
		conn := c.conn
		time.AfterFunc(banCloseDelay, func() { conn.Close() })
	}
}

// mirrorSave refreshes the room's snapshot in the shared store. Best effort
// and off the lock path.
func (s *Server) mirrorSave(snap store.RoomSnapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := s.roomStore.Save(ctx, snap, roomMirrorTTL); err != nil {
			s.logger.Warn("room mirror save failed",
				zap.String("room", snap.ID), zap.Error(err))
		}
	}()
}

func (s *Server) mirrorDelete(roomID string, tokens []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		if err := s.roomStore.Delete(ctx, roomID, tokens...); err != nil {
			s.logger.Warn("room mirror delete failed",
				zap.String("room", roomID), zap.Error(err))
		}
	}()
}

func (s *Server) botThinkDelay() time.Duration {
	min, max := s.cfg.BotThinkMin, s.cfg.BotThinkMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// Shutdown ends every live room and closes all connections. The final
// game:over frames are queued before the sockets drop.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)

		for _, room := range s.registry.Snapshot() {
			room.Terminate(ReasonGeneral)
			s.registry.Remove(room.ID)
		}

		s.mu.RLock()
		conns := make([]*websocket.Conn, 0, len(s.clients))
		for _, c := range s.clients {
			if c.conn != nil {
				conns = append(conns, c.conn)
			}
		}
		s.mu.RUnlock()

		time.Sleep(banCloseDelay)
		for _, conn := range conns {
			conn.Close()
		}
		s.logger.Info("server shut down", zap.Int("connections", len(conns)))
	})
}
