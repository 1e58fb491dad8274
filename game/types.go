package game

import "fmt"

// Board dimensions and fleet composition (classic rules)
const (
	BoardWidth  = 10
	BoardHeight = 10

	// Standard fleet: one 4-master, two 3-masters, three 2-masters,
	// four 1-masters
	FleetShips = 10
	FleetCells = 20

	MaxMasts = 4
)

// FleetSpec maps mast count to how many ships of that size a fleet carries.
var FleetSpec = map[int]int{
	4: 1,
	3: 2,
	2: 3,
	1: 4,
}

// FleetSizes returns the mast counts of a standard fleet, largest first.
func FleetSizes() []int {
	return []int{4, 3, 3, 2, 2, 2, 1, 1, 1, 1}
}

// Orientation of a ship on the board.
type Orientation string

const (
	Horizontal Orientation = "h"
	Vertical   Orientation = "v"
)

// Coord is a single cell position. Row and Col are zero-based.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Key returns the map key form of a coordinate ("row,col").
func (c Coord) Key() string {
	return fmt.Sprintf("%d,%d", c.Row, c.Col)
}

// InBounds reports whether the coordinate lies on the board.
func (c Coord) InBounds() bool {
	return c.Row >= 0 && c.Row < BoardHeight && c.Col >= 0 && c.Col < BoardWidth
}

// ShotOutcome is the result of firing at a cell.
type ShotOutcome int

const (
	ShotInvalid ShotOutcome = iota
	ShotAlready
	ShotMiss
	ShotHit
	ShotSink
)

func (o ShotOutcome) String() string {
	switch o {
	case ShotMiss:
		return "miss"
	case ShotHit:
		return "hit"
	case ShotSink:
		return "sink"
	case ShotAlready:
		return "already_shot"
	default:
		return "invalid"
	}
}

// Ship is a placed ship with per-cell hit flags. Cells run bow to stern,
// left to right for horizontal ships and top to bottom for vertical ones.
type Ship struct {
	ID          int
	Size        int
	Orientation Orientation
	Cells       []Coord
	Hits        []bool
}

// Sunk reports whether every cell of the ship has been hit.
func (s *Ship) Sunk() bool {
	for _, h := range s.Hits {
		if !h {
			return false
		}
	}
	return len(s.Hits) > 0
}

// CellIndex returns the index of c within the ship, or -1.
func (s *Ship) CellIndex(c Coord) int {
	for i, cell := range s.Cells {
		if cell == c {
			return i
		}
	}
	return -1
}

// Board holds one player's ships and everything the opponent has fired at.
// Shots is every cell fired upon regardless of outcome; Hits is the subset
// that struck a ship. Keys are Coord.Key() strings.
type Board struct {
	Width  int
	Height int
	Ships  []*Ship
	Shots  map[string]bool
	Hits   map[string]bool
}

// NewBoard returns an empty standard board.
func NewBoard() *Board {
	return &Board{
		Width:  BoardWidth,
		Height: BoardHeight,
		Shots:  make(map[string]bool),
		Hits:   make(map[string]bool),
	}
}

// ShipAt returns the ship occupying c, or nil.
func (b *Board) ShipAt(c Coord) *Ship {
	for _, s := range b.Ships {
		if s.CellIndex(c) >= 0 {
			return s
		}
	}
	return nil
}

// FleetSunk reports whether every ship on the board has been sunk.
// A board with no ships is never considered sunk.
func (b *Board) FleetSunk() bool {
	if len(b.Ships) == 0 {
		return false
	}
	for _, s := range b.Ships {
		if !s.Sunk() {
			return false
		}
	}
	return true
}

// ShipsAfloat returns how many ships have not been sunk yet.
func (b *Board) ShipsAfloat() int {
	n := 0
	for _, s := range b.Ships {
		if !s.Sunk() {
			n++
		}
	}
	return n
}
