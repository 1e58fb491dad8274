package game

import "math/rand"

// AiMode is the bot's targeting mode.
type AiMode int

const (
	// AiIdle hunts for an undamaged ship with parity-filtered random picks.
	AiIdle AiMode = iota
	// AiTarget works through the orthogonal neighbors of a confirmed hit.
	AiTarget
	// AiTrack extends an inferred ship line toward its endpoints.
	AiTrack
)

func (m AiMode) String() string {
	switch m {
	case AiTarget:
		return "target"
	case AiTrack:
		return "track"
	default:
		return "idle"
	}
}

// Hunt-mode sampling bound before falling back to a scan.
const huntAttempts = 128

// NoShot is returned when the board has no cell left to fire at.
var NoShot = Coord{Row: -1, Col: -1}

// AiState carries the bot's targeting memory between shots. One state per
// game; it always refers to the human player's board.
type AiState struct {
	Mode        AiMode
	Queue       []Coord // candidate cells pending trial, oldest first
	HitStreak   []Coord // confirmed hits on the pursued ship, kept sorted on the axis
	Axis        Orientation
	AxisKnown   bool
	FwdBlocked  bool
	BackBlocked bool

	// ParitySeed selects which checkerboard color hunt mode prefers.
	ParitySeed int

	// True when the last TRACK shot extended past the newest hit rather
	// than the oldest.
	triedForward bool
}

// NewAiState returns a fresh hunting state with a random parity seed.
func NewAiState() *AiState {
	return &AiState{ParitySeed: rand.Intn(2)}
}

// reset drops all targeting memory and returns to hunt mode. The parity
// seed survives for the rest of the game.
func (a *AiState) reset() {
	a.Mode = AiIdle
	a.Queue = nil
	a.HitStreak = nil
	a.Axis = ""
	a.AxisKnown = false
	a.FwdBlocked = false
	a.BackBlocked = false
	a.triedForward = false
}

// onParity reports whether hunt mode prefers c under the current seed.
func (a *AiState) onParity(c Coord) bool {
	return (c.Row+c.Col+a.ParitySeed)%2 == 0
}

// NextShot picks the bot's next target on b, the opponent's board. It never
// returns a cell that was already fired at; when the whole board has been
// fired at it returns NoShot.
func NextShot(b *Board, a *AiState) Coord {
	switch a.Mode {
	case AiTrack:
		if c, ok := nextTrackShot(b, a); ok {
			return c
		}
		// Both endpoints exhausted without a sink. Fall back to working
		// the remaining neighbors of the buffered hits.
		a.demoteToTarget(b)
		fallthrough
	case AiTarget:
		for len(a.Queue) > 0 {
			c := a.Queue[0]
			a.Queue = a.Queue[1:]
			if !b.Shots[c.Key()] {
				return c
			}
		}
		// Queue exhausted; hunt again.
		a.Mode = AiIdle
	}
	return huntShot(b, a)
}

// nextTrackShot proposes the next extension of the inferred line. An
// endpoint that is off the board or already fired at is treated as blocked.
func nextTrackShot(b *Board, a *AiState) (Coord, bool) {
	fwd, back := a.lineEndpoints()
	if !a.FwdBlocked {
		if fwd.InBounds() && !b.Shots[fwd.Key()] {
			a.triedForward = true
			return fwd, true
		}
		a.FwdBlocked = true
	}
	if !a.BackBlocked {
		if back.InBounds() && !b.Shots[back.Key()] {
			a.triedForward = false
			return back, true
		}
		a.BackBlocked = true
	}
	return Coord{}, false
}

// lineEndpoints computes the cells one step beyond each end of the hit
// streak. The streak is kept sorted along the axis, so forward extends past
// the high end and backward past the low end.
func (a *AiState) lineEndpoints() (fwd, back Coord) {
	first := a.HitStreak[0]
	last := a.HitStreak[len(a.HitStreak)-1]
	dr := sign(last.Row - first.Row)
	dc := sign(last.Col - first.Col)
	fwd = Coord{Row: last.Row + dr, Col: last.Col + dc}
	back = Coord{Row: first.Row - dr, Col: first.Col - dc}
	return fwd, back
}

// demoteToTarget rebuilds the candidate queue from every unshot orthogonal
// neighbor of the buffered hits and drops the line inference.
func (a *AiState) demoteToTarget(b *Board) {
	a.Mode = AiTarget
	a.Queue = nil
	a.AxisKnown = false
	a.Axis = ""
	a.FwdBlocked = false
	a.BackBlocked = false
	for _, h := range a.HitStreak {
		for _, n := range neighbors4(h) {
			if !b.Shots[n.Key()] {
				a.Queue = append(a.Queue, n)
			}
		}
	}
}

// huntShot samples random parity cells, then falls back to a deterministic
// row-major scan so every cell is eventually covered.
func huntShot(b *Board, a *AiState) Coord {
	for i := 0; i < huntAttempts; i++ {
		c := Coord{Row: rand.Intn(BoardHeight), Col: rand.Intn(BoardWidth)}
		if a.onParity(c) && !b.Shots[c.Key()] {
			return c
		}
	}
	// Parity cells first, then anything still unshot.
	for _, parityOnly := range []bool{true, false} {
		for row := 0; row < BoardHeight; row++ {
			for col := 0; col < BoardWidth; col++ {
				c := Coord{Row: row, Col: col}
				if parityOnly && !a.onParity(c) {
					continue
				}
				if !b.Shots[c.Key()] {
					return c
				}
			}
		}
	}
	return NoShot
}

// RegisterAiShot folds the outcome of the bot's shot at c back into the
// targeting state. The board must already reflect the shot.
func RegisterAiShot(b *Board, a *AiState, c Coord, outcome ShotOutcome) {
	switch outcome {
	case ShotSink:
		// Pursuit over. Anything left in the queue bordered the sunk ship
		// and was auto-marked, so it is stale anyway.
		a.reset()
	case ShotHit:
		a.HitStreak = append(a.HitStreak, c)
		if len(a.HitStreak) >= 2 && !a.AxisKnown {
			a.AxisKnown = true
			if a.HitStreak[0].Row == a.HitStreak[1].Row {
				a.Axis = Horizontal
			} else {
				a.Axis = Vertical
			}
		}
		if a.AxisKnown {
			a.Mode = AiTrack
			a.sortStreakAlongAxis()
			return
		}
		a.Mode = AiTarget
		for _, n := range neighbors4(c) {
			if !b.Shots[n.Key()] {
				a.Queue = append(a.Queue, n)
			}
		}
	case ShotMiss:
		if a.Mode == AiTrack {
			if a.triedForward {
				a.FwdBlocked = true
			} else {
				a.BackBlocked = true
			}
			if a.FwdBlocked && a.BackBlocked {
				a.demoteToTarget(b)
			}
		}
	}
}

// sortStreakAlongAxis orders the hit streak so index 0 is the lowest cell on
// the inferred axis. Keeps endpoint math simple when a queued neighbor hit
// lands between earlier hits.
func (a *AiState) sortStreakAlongAxis() {
	if !a.AxisKnown || len(a.HitStreak) < 2 {
		return
	}
	less := func(x, y Coord) bool {
		if a.Axis == Horizontal {
			return x.Col < y.Col
		}
		return x.Row < y.Row
	}
	for i := 1; i < len(a.HitStreak); i++ {
		for j := i; j > 0 && less(a.HitStreak[j], a.HitStreak[j-1]); j-- {
			a.HitStreak[j], a.HitStreak[j-1] = a.HitStreak[j-1], a.HitStreak[j]
		}
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
