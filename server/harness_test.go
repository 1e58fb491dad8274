package server

import (
	"testing"
	"time"

	"github.com/lab1702/battleship-web/config"
	"github.com/lab1702/battleship-web/game"
	"github.com/lab1702/battleship-web/store"
)

// testConfig returns short but non-flaky timings. Tests that exercise a
// specific timer shrink the relevant field before triggering it.
func testConfig() *config.Config {
	return &config.Config{
		Addr:           ":0",
		QueueWait:      150 * time.Millisecond,
		ReconnectGrace: 600 * time.Millisecond,
		Inactivity:     2 * time.Second,
		ChatTTL:        300 * time.Millisecond,
		MatchTick:      10 * time.Millisecond,
		BotThinkMin:    time.Millisecond,
		BotThinkMax:    2 * time.Millisecond,
		RedisPrefix:    "test",
		StorePing:      100 * time.Millisecond,
		LogLevel:       "error",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(Options{Config: testConfig()})
}

// newTestClient registers a connection-less client. Without a socket the
// write pump never runs, so emitted frames pile up in the send channel for
// the test to inspect.
func newTestClient(s *Server, id string) *Client {
	c := &Client{
		ID:     id,
		server: s,
		send:   make(chan ServerMessage, sendBufferSize),
	}
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()
	return c
}

// testFleet builds a deterministic valid fleet: all ships horizontal on
// even rows with water between them.
func testFleet(t *testing.T) *game.Board {
	t.Helper()
	b := game.NewBoard()
	for _, sp := range []struct {
		id   int
		bow  game.Coord
		size int
	}{
		{0, game.Coord{Row: 0, Col: 0}, 4},
		{1, game.Coord{Row: 0, Col: 5}, 3},
		{2, game.Coord{Row: 2, Col: 0}, 3},
		{3, game.Coord{Row: 2, Col: 4}, 2},
		{4, game.Coord{Row: 2, Col: 7}, 2},
		{5, game.Coord{Row: 4, Col: 0}, 2},
		{6, game.Coord{Row: 4, Col: 3}, 1},
		{7, game.Coord{Row: 4, Col: 5}, 1},
		{8, game.Coord{Row: 4, Col: 7}, 1},
		{9, game.Coord{Row: 4, Col: 9}, 1},
	} {
		if _, err := b.PlaceShip(sp.id, sp.bow, sp.size, game.Horizontal); err != nil {
			t.Fatalf("placing fixture ship %d: %v", sp.id, err)
		}
	}
	return b
}

func testPlacement(t *testing.T) game.BoardState {
	t.Helper()
	return testFleet(t).Serialize()
}

// testFleetCells returns every ship cell of the fixture fleet in firing
// order, 20 cells total.
func testFleetCells(t *testing.T) []game.Coord {
	t.Helper()
	var cells []game.Coord
	for _, s := range testFleet(t).Ships {
		cells = append(cells, s.Cells...)
	}
	return cells
}

// newTestRoom wires two clients into a PvP room the way the matchmaker
// does: bind seats, register, start.
func newTestRoom(t *testing.T, s *Server, c0, c1 *Client) *Room {
	t.Helper()
	a := store.QueueEntry{PlayerID: "p0", Nickname: "Alice", Token: "tok0", JoinedAt: 1}
	b := store.QueueEntry{PlayerID: "p1", Nickname: "Bob", Token: "tok1", JoinedAt: 2}
	room := newRoom(s, a, b)
	room.slots[0].ConnID = c0.ID
	room.slots[1].ConnID = c1.ID
	c0.setRoom(room.ID, a.PlayerID, a.Nickname, a.Token)
	c1.setRoom(room.ID, b.PlayerID, b.Nickname, b.Token)
	s.registry.Add(room)
	room.Start()
	return room
}

func newTestBotRoom(t *testing.T, s *Server, c0 *Client) *Room {
	t.Helper()
	e := store.QueueEntry{PlayerID: "p0", Nickname: "Alice", Token: "tok0", JoinedAt: 1}
	room := newBotRoom(s, e, "Salty Sam")
	room.slots[0].ConnID = c0.ID
	c0.setRoom(room.ID, e.PlayerID, e.Nickname, e.Token)
	s.registry.Add(room)
	room.Start()
	return room
}

// placeBoth installs the fixture fleet for both seats, moving the room into
// the playing phase.
func placeBoth(t *testing.T, r *Room, c0, c1 *Client) {
	t.Helper()
	if err := r.PlaceShips(c0.ID, testPlacement(t)); err != nil {
		t.Fatalf("placing first fleet: %v", err)
	}
	if err := r.PlaceShips(c1.ID, testPlacement(t)); err != nil {
		t.Fatalf("placing second fleet: %v", err)
	}
}

// forceTurn pins the turn to one seat and reschedules the bot clock.
func forceTurn(r *Room, idx int) {
	r.mu.Lock()
	r.turn = idx
	r.scheduleBotLocked()
	r.mu.Unlock()
}

// collect drains whatever frames are queued for the client right now.
func collect(c *Client) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

// nextOfType discards frames until one of the wanted type arrives.
func nextOfType(t *testing.T, c *Client, typ string) ServerMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", typ)
			}
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s frame arrived", typ)
		}
	}
}

// errorWithCode discards frames until a game:error or chat:error with the
// given code arrives.
func errorWithCode(t *testing.T, c *Client, code string) ErrorData {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				t.Fatalf("connection closed while waiting for code %s", code)
			}
			if m.Type != MsgGameError && m.Type != MsgChatError {
				continue
			}
			data, ok := m.Data.(ErrorData)
			if !ok {
				t.Fatalf("%s frame carries %T, expected ErrorData", m.Type, m.Data)
			}
			if data.Code == code {
				return data
			}
		case <-deadline:
			t.Fatalf("no error frame with code %s arrived", code)
		}
	}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
