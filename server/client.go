package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Placements carry a full
	// serialized board.
	maxMessageSize = 8192
)

// Client is one WebSocket connection.
type Client struct {
	ID     string
	server *Server
	conn   *websocket.Conn
	send   chan ServerMessage

	// Session binding, set on queue join or room entry. The mutex also
	// serializes sends against closeSend so a room broadcast racing a
	// disconnect can never hit a closed channel.
	mu         sync.Mutex
	playerID   string
	nickname   string
	token      string
	roomID     string
	queued     bool
	sendClosed bool
}

// clientBinding is a consistent snapshot of where a connection belongs.
type clientBinding struct {
	PlayerID string
	Nickname string
	Token    string
	RoomID   string
	Queued   bool
}

func (c *Client) binding() clientBinding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clientBinding{
		PlayerID: c.playerID,
		Nickname: c.nickname,
		Token:    c.token,
		RoomID:   c.roomID,
		Queued:   c.queued,
	}
}

func (c *Client) setQueued(playerID, nickname, token string) {
	c.mu.Lock()
	c.playerID = playerID
	c.nickname = nickname
	c.token = token
	c.roomID = ""
	c.queued = true
	c.mu.Unlock()
	c.server.indexPlayer(playerID, c)
}

func (c *Client) setRoom(roomID, playerID, nickname, token string) {
	c.mu.Lock()
	c.playerID = playerID
	c.nickname = nickname
	c.token = token
	c.roomID = roomID
	c.queued = false
	c.mu.Unlock()
	c.server.indexPlayer(playerID, c)
}

func (c *Client) clearBinding() {
	c.mu.Lock()
	playerID := c.playerID
	c.playerID = ""
	c.nickname = ""
	c.token = ""
	c.roomID = ""
	c.queued = false
	c.mu.Unlock()
	if playerID != "" {
		c.server.unindexPlayer(playerID, c)
	}
}

// sendMessage queues one frame for delivery. It never blocks: when the
// buffer is full the frame is dropped and the slow client eventually falls
// off the ping cycle.
func (c *Client) sendMessage(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.server.logger.Warn("send buffer full, dropping frame",
			zap.String("conn", c.ID), zap.String("type", msg.Type))
	}
}

// closeSend shuts the outbound queue exactly once, letting writePump drain
// and exit.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *Client) sendError(roomID, code, message string) {
	c.sendMessage(ServerMessage{Type: MsgGameError, Data: ErrorData{
		RoomID:  roomID,
		Code:    code,
		Message: message,
	}})
}

// readPump pumps messages from the WebSocket connection to the handlers.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.server.logger.Debug("websocket read error",
					zap.String("conn", c.ID), zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.server.fault(c, "", CodeInvalidPayload, "Malformed message")
			continue
		}
		c.server.handleMessage(c, msg)
	}
}

// writePump pumps messages from the send channel to the WebSocket
// connection and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
