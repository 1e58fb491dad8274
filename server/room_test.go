package server

import (
	"errors"
	"testing"
	"time"

	"github.com/lab1702/battleship-web/game"
	"github.com/lab1702/battleship-web/store"
)

func codeOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var derr *domainError
	if !errors.As(err, &derr) {
		t.Fatalf("error %v is not a domain error", err)
	}
	return derr.Code
}

func framesOfType(frames []ServerMessage, typ string) []ServerMessage {
	var out []ServerMessage
	for _, m := range frames {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func TestPlaceShipsValidation(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	collect(c0)
	collect(c1)

	// Wrong fleet composition: drop one ship.
	short := testPlacement(t)
	short.Ships = short.Ships[:9]
	if code := codeOf(t, room.PlaceShips(c0.ID, short)); code != CodeInvalidShipPlacement {
		t.Errorf("short fleet rejected with %s, expected %s", code, CodeInvalidShipPlacement)
	}

	// Touching ships: shift the second ship against the first.
	touching := testPlacement(t)
	for i := range touching.Ships[1].Cells {
		touching.Ships[1].Cells[i].Col -= 1
	}
	if code := codeOf(t, room.PlaceShips(c0.ID, touching)); code != CodeInvalidShipPlacement {
		t.Errorf("touching fleet rejected with %s, expected %s", code, CodeInvalidShipPlacement)
	}

	// Placements must not carry shots.
	preshot := testPlacement(t)
	preshot.Shots = []game.Coord{{Row: 9, Col: 9}}
	if code := codeOf(t, room.PlaceShips(c0.ID, preshot)); code != CodeInvalidShipPlacement {
		t.Errorf("pre-shot fleet rejected with %s, expected %s", code, CodeInvalidShipPlacement)
	}

	// A rejected placement leaves the seat free to retry.
	if err := room.PlaceShips(c0.ID, testPlacement(t)); err != nil {
		t.Fatalf("valid retry after rejection: %v", err)
	}
	if code := codeOf(t, room.PlaceShips(c0.ID, testPlacement(t))); code != CodeAlreadyReady {
		t.Errorf("second placement rejected with %s, expected %s", code, CodeAlreadyReady)
	}

	// One fleet placed: still setup, no turn announced.
	if room.phase != PhaseSetup {
		t.Errorf("phase = %s after one placement, expected setup", room.phase)
	}
	if frames := framesOfType(collect(c0), MsgGameTurn); len(frames) != 0 {
		t.Errorf("%d game:turn frames during setup, expected none", len(frames))
	}

	if err := room.PlaceShips(c1.ID, testPlacement(t)); err != nil {
		t.Fatalf("placing second fleet: %v", err)
	}
	if room.phase != PhasePlaying {
		t.Errorf("phase = %s after both placements, expected playing", room.phase)
	}
	turn := nextOfType(t, c1, MsgGameTurn).Data.(TurnData)
	if turn.Turn != "p0" && turn.Turn != "p1" {
		t.Errorf("turn announces unknown player %q", turn.Turn)
	}

	// Too late to rearrange.
	if code := codeOf(t, room.PlaceShips(c0.ID, testPlacement(t))); code != CodeNotInSetup {
		t.Errorf("placement while playing rejected with %s, expected %s", code, CodeNotInSetup)
	}
}

func TestShotOutcomes(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	placeBoth(t, room, c0, c1)
	forceTurn(room, 0)
	collect(c0)
	collect(c1)

	if code := codeOf(t, room.Shoot(c0.ID, game.Coord{Row: -1, Col: 3})); code != CodeInvalidCoord {
		t.Errorf("off-board shot rejected with %s, expected %s", code, CodeInvalidCoord)
	}

	// Miss passes the turn.
	if err := room.Shoot(c0.ID, game.Coord{Row: 9, Col: 9}); err != nil {
		t.Fatalf("miss shot: %v", err)
	}
	res := nextOfType(t, c1, MsgGameShotRes).Data.(ShotResultData)
	if res.Outcome != "miss" || res.Shooter != "p0" || res.ShipID != -1 {
		t.Errorf("miss frame = %+v", res)
	}
	if code := codeOf(t, room.Shoot(c0.ID, game.Coord{Row: 8, Col: 8})); code != CodeNotYourTurn {
		t.Errorf("out-of-turn shot rejected with %s, expected %s", code, CodeNotYourTurn)
	}

	// Hit keeps the turn.
	if err := room.Shoot(c1.ID, game.Coord{Row: 0, Col: 0}); err != nil {
		t.Fatalf("hit shot: %v", err)
	}
	res = nextOfType(t, c0, MsgGameShotRes).Data.(ShotResultData)
	if res.Outcome != "hit" || res.ShipID != 0 {
		t.Errorf("hit frame = %+v", res)
	}
	if code := codeOf(t, room.Shoot(c1.ID, game.Coord{Row: 0, Col: 0})); code != CodeAlreadyShot {
		t.Errorf("repeat shot rejected with %s, expected %s", code, CodeAlreadyShot)
	}

	// Sinking the 1-master reports its cells and the auto-marked ring.
	if err := room.Shoot(c1.ID, game.Coord{Row: 4, Col: 9}); err != nil {
		t.Fatalf("sink shot: %v", err)
	}
	res = nextOfType(t, c0, MsgGameShotRes).Data.(ShotResultData)
	if res.Outcome != "sink" || res.ShipID != 9 {
		t.Errorf("sink frame = %+v", res)
	}
	if len(res.SunkCells) != 1 || res.SunkCells[0] != (game.Coord{Row: 4, Col: 9}) {
		t.Errorf("sunk cells = %v", res.SunkCells)
	}
	wantRing := []game.Coord{{Row: 3, Col: 8}, {Row: 3, Col: 9}, {Row: 4, Col: 8}, {Row: 5, Col: 8}, {Row: 5, Col: 9}}
	if len(res.Marked) != len(wantRing) {
		t.Fatalf("marked ring = %v, expected %v", res.Marked, wantRing)
	}
	for i, c := range wantRing {
		if res.Marked[i] != c {
			t.Errorf("marked[%d] = %v, expected %v", i, res.Marked[i], c)
		}
	}

	// Ring cells count as shot.
	if code := codeOf(t, room.Shoot(c1.ID, game.Coord{Row: 5, Col: 9})); code != CodeAlreadyShot {
		t.Errorf("ring-cell shot rejected with %s, expected %s", code, CodeAlreadyShot)
	}

	// Only resolved shots count.
	if got := room.slots[0].Shots; got != 1 {
		t.Errorf("p0 shot counter = %d, expected 1", got)
	}
	if got := room.slots[1].Shots; got != 2 {
		t.Errorf("p1 shot counter = %d, expected 2", got)
	}
}

func TestFleetSunkEndsGame(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	placeBoth(t, room, c0, c1)
	forceTurn(room, 0)
	collect(c0)
	collect(c1)

	// Hits and sinks keep the turn, so one player can run the board.
	for _, c := range testFleetCells(t) {
		if err := room.Shoot(c0.ID, c); err != nil {
			t.Fatalf("shot at %v: %v", c, err)
		}
	}

	if !room.Over() {
		t.Fatal("room not over after the whole fleet sank")
	}
	frames := collect(c1)
	shotFrames := framesOfType(frames, MsgGameShotRes)
	last := shotFrames[len(shotFrames)-1].Data.(ShotResultData)
	if !last.GameOver || last.Outcome != "sink" {
		t.Errorf("final shot frame = %+v, expected a game-ending sink", last)
	}

	overs := framesOfType(frames, MsgGameOver)
	if len(overs) != 1 {
		t.Fatalf("%d game:over frames for the loser, expected 1", len(overs))
	}
	over := overs[0].Data.(OverData)
	if over.Winner != "p0" || over.Reason != ReasonFleetSunk {
		t.Errorf("game:over = %+v, expected winner p0 by fleet_sunk", over)
	}
	if over.TotalShots != 20 {
		t.Errorf("total shots = %d, expected 20", over.TotalShots)
	}
	if over.Message != "Alice wins" {
		t.Errorf("loser message = %q", over.Message)
	}
	winnerOver := framesOfType(collect(c0), MsgGameOver)[0].Data.(OverData)
	if winnerOver.Message != "You win!" {
		t.Errorf("winner message = %q", winnerOver.Message)
	}

	// Tokens stop resolving the moment the game ends.
	if _, ok := s.registry.ByToken("tok0"); ok {
		t.Error("winner token still resolves after game over")
	}
	if _, ok := s.registry.ByToken("tok1"); ok {
		t.Error("loser token still resolves after game over")
	}

	if code := codeOf(t, room.Shoot(c1.ID, game.Coord{Row: 9, Col: 9})); code != CodeNotInPlaying {
		t.Errorf("post-over shot rejected with %s, expected %s", code, CodeNotInPlaying)
	}

	events := s.sink.(*store.MemorySink).MatchEvents()
	if len(events) != 2 || events[0].Event != "started" || events[1].Event != "ended" {
		t.Fatalf("match events = %+v, expected started then ended", events)
	}
	if e := events[1]; e.Winner != "p0" || e.Reason != ReasonFleetSunk || e.Shots != 20 {
		t.Errorf("ended event = %+v", e)
	}
}

func TestCancelEndsWithNoWinner(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	placeBoth(t, room, c0, c1)
	collect(c0)
	collect(c1)

	if err := room.Cancel(c1.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	for _, c := range []*Client{c0, c1} {
		frames := collect(c)
		overs := framesOfType(frames, MsgGameOver)
		if len(overs) != 1 {
			t.Fatalf("%d game:over frames, expected 1", len(overs))
		}
		over := overs[0].Data.(OverData)
		if over.Winner != "" || over.Reason != ReasonManualCancel {
			t.Errorf("game:over = %+v, expected no winner by manual_cancel", over)
		}
		cancels := framesOfType(frames, MsgGameCancelled)
		if len(cancels) != 1 {
			t.Fatalf("%d game:cancelled frames, expected 1", len(cancels))
		}
		if msg := cancels[0].Data.(CancelledData).Message; msg != "Bob cancelled the game" {
			t.Errorf("cancel message = %q", msg)
		}
	}

	if code := codeOf(t, room.Cancel(c0.ID)); code != CodeNotInPlaying {
		t.Errorf("second cancel rejected with %s, expected %s", code, CodeNotInPlaying)
	}
}

func TestOpponentViewStaysMasked(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	placeBoth(t, room, c0, c1)
	forceTurn(room, 0)
	collect(c0)
	collect(c1)

	room.Shoot(c0.ID, game.Coord{Row: 0, Col: 0}) // hit on p1's 4-master

	room.mu.Lock()
	st := room.stateLocked(0)
	room.mu.Unlock()

	if st.You.Board == nil || len(st.You.Board.Ships) != 10 {
		t.Fatal("own board must carry the full fleet")
	}
	opp := st.Opponent.Board
	if opp == nil {
		t.Fatal("opponent board missing from state")
	}
	if opp.ShipsAfloat != 10 {
		t.Errorf("opponent ships afloat = %d, expected 10", opp.ShipsAfloat)
	}
	if len(opp.Hits) != 1 || opp.Hits[0] != (game.Coord{Row: 0, Col: 0}) {
		t.Errorf("opponent hits = %v", opp.Hits)
	}
	if len(opp.Sunk) != 0 {
		t.Errorf("opponent sunk cells = %v before any sink", opp.Sunk)
	}
	if !st.YourTurn {
		t.Error("viewer kept the turn after a hit, state disagrees")
	}
}

func TestInactivityEndsGame(t *testing.T) {
	t.Run("no shots, no winner", func(t *testing.T) {
		s := newTestServer(t)
		s.cfg.Inactivity = 40 * time.Millisecond
		c0 := newTestClient(s, "conn0")
		c1 := newTestClient(s, "conn1")
		room := newTestRoom(t, s, c0, c1)
		placeBoth(t, room, c0, c1)

		waitFor(t, 2*time.Second, "inactivity expiry", room.Over)
		room.mu.Lock()
		winner, reason := room.winner, room.reason
		room.mu.Unlock()
		if winner != "" || reason != ReasonInactivity {
			t.Errorf("over with winner=%q reason=%s, expected no winner by inactivity_timeout", winner, reason)
		}
	})

	t.Run("last mover wins", func(t *testing.T) {
		s := newTestServer(t)
		s.cfg.Inactivity = 40 * time.Millisecond
		c0 := newTestClient(s, "conn0")
		c1 := newTestClient(s, "conn1")
		room := newTestRoom(t, s, c0, c1)
		placeBoth(t, room, c0, c1)
		forceTurn(room, 0)
		if err := room.Shoot(c0.ID, game.Coord{Row: 9, Col: 9}); err != nil {
			t.Fatalf("shot: %v", err)
		}

		waitFor(t, 2*time.Second, "inactivity expiry", room.Over)
		room.mu.Lock()
		winner, reason := room.winner, room.reason
		room.mu.Unlock()
		if winner != "p0" || reason != ReasonInactivity {
			t.Errorf("over with winner=%q reason=%s, expected p0 by inactivity_timeout", winner, reason)
		}
	})

	t.Run("setup has no clock", func(t *testing.T) {
		s := newTestServer(t)
		s.cfg.Inactivity = 20 * time.Millisecond
		c0 := newTestClient(s, "conn0")
		c1 := newTestClient(s, "conn1")
		room := newTestRoom(t, s, c0, c1)

		time.Sleep(80 * time.Millisecond)
		if room.Over() {
			t.Fatal("room ended during setup, inactivity applies to playing only")
		}
	})
}

func TestStateAnswersSetupProgress(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	collect(c0)
	collect(c1)

	if err := room.PlaceShips(c0.ID, testPlacement(t)); err != nil {
		t.Fatalf("placing fleet: %v", err)
	}

	// The opponent sees the ready flag flip without seeing the board.
	st := nextOfType(t, c1, MsgGameState).Data.(StateData)
	if !st.Opponent.Ready {
		t.Error("opponent ready flag not visible after first placement")
	}
	if st.You.Ready {
		t.Error("own ready flag set without placing")
	}
	if st.Phase != PhaseSetup {
		t.Errorf("phase = %s, expected setup", st.Phase)
	}
}
