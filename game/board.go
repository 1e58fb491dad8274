package game

import (
	"errors"
	"fmt"
)

// Placement failure reasons
var (
	ErrBadShipSize = errors.New("ship size must be between 1 and 4 masts")
	ErrOutOfBounds = errors.New("ship extends outside the board")
	ErrOverlap     = errors.New("ship overlaps another ship")
	ErrTouching    = errors.New("ship touches another ship")
)

// ShipCells expands a bow position, size and orientation into the cells the
// ship would occupy. It fails when any cell falls outside the board.
func ShipCells(bow Coord, size int, orient Orientation) ([]Coord, error) {
	if size < 1 || size > MaxMasts {
		return nil, ErrBadShipSize
	}
	cells := make([]Coord, size)
	for i := 0; i < size; i++ {
		c := bow
		if orient == Vertical {
			c.Row += i
		} else {
			c.Col += i
		}
		if !c.InBounds() {
			return nil, ErrOutOfBounds
		}
		cells[i] = c
	}
	return cells, nil
}

// PlaceShip validates and places a ship on the board. Ships may not overlap
// and may not touch another ship, diagonals included.
func (b *Board) PlaceShip(id int, bow Coord, size int, orient Orientation) (*Ship, error) {
	cells, err := ShipCells(bow, size, orient)
	if err != nil {
		return nil, err
	}

	occupied := make(map[string]bool, FleetCells)
	for _, s := range b.Ships {
		for _, c := range s.Cells {
			occupied[c.Key()] = true
		}
	}
	for _, c := range cells {
		if occupied[c.Key()] {
			return nil, ErrOverlap
		}
	}
	for _, c := range cells {
		for _, n := range neighbors8(c) {
			if occupied[n.Key()] {
				return nil, ErrTouching
			}
		}
	}

	ship := &Ship{
		ID:          id,
		Size:        size,
		Orientation: orient,
		Cells:       cells,
		Hits:        make([]bool, size),
	}
	b.Ships = append(b.Ships, ship)
	return ship, nil
}

// FireShot records a shot at c and reports the outcome. A sink additionally
// marks every cell around the sunk ship as shot, since the no-touch rule
// guarantees those cells are water.
func (b *Board) FireShot(c Coord) (ShotOutcome, *Ship) {
	if !c.InBounds() {
		return ShotInvalid, nil
	}
	key := c.Key()
	if b.Shots[key] {
		return ShotAlready, nil
	}
	b.Shots[key] = true

	ship := b.ShipAt(c)
	if ship == nil {
		return ShotMiss, nil
	}

	ship.Hits[ship.CellIndex(c)] = true
	b.Hits[key] = true
	if ship.Sunk() {
		b.MarkAroundSunk(ship)
		return ShotSink, ship
	}
	return ShotHit, ship
}

// MarkAroundSunk marks every in-bounds neighbor of the ship's cells as shot
// and returns the cells that were newly marked.
func (b *Board) MarkAroundSunk(ship *Ship) []Coord {
	var marked []Coord
	for _, c := range ship.Cells {
		for _, n := range neighbors8(c) {
			key := n.Key()
			if !b.Shots[key] {
				b.Shots[key] = true
				marked = append(marked, n)
			}
		}
	}
	return marked
}

// ShipRing returns the in-bounds water cells bordering the ship. With the
// no-touch rule these are exactly the cells MarkAroundSunk marks.
func (b *Board) ShipRing(ship *Ship) []Coord {
	seen := make(map[string]bool, len(ship.Cells)*3)
	var ring []Coord
	for _, c := range ship.Cells {
		for _, n := range neighbors8(c) {
			if b.ShipAt(n) == nil && !seen[n.Key()] {
				seen[n.Key()] = true
				ring = append(ring, n)
			}
		}
	}
	return sortCoords(ring)
}

// SunkCells returns the cells of every sunk ship on the board.
func (b *Board) SunkCells() []Coord {
	var cells []Coord
	for _, s := range b.Ships {
		if s.Sunk() {
			cells = append(cells, s.Cells...)
		}
	}
	return cells
}

// neighbors8 returns the in-bounds cells adjacent to c, diagonals included.
func neighbors8(c Coord) []Coord {
	out := make([]Coord, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			n := Coord{Row: c.Row + dr, Col: c.Col + dc}
			if n.InBounds() {
				out = append(out, n)
			}
		}
	}
	return out
}

// neighbors4 returns the in-bounds orthogonal neighbors of c.
func neighbors4(c Coord) []Coord {
	out := make([]Coord, 0, 4)
	for _, n := range []Coord{
		{Row: c.Row - 1, Col: c.Col},
		{Row: c.Row + 1, Col: c.Col},
		{Row: c.Row, Col: c.Col - 1},
		{Row: c.Row, Col: c.Col + 1},
	} {
		if n.InBounds() {
			out = append(out, n)
		}
	}
	return out
}

// FleetComposition counts ships per mast count and reports whether the board
// carries exactly the standard fleet.
func (b *Board) FleetComposition() (map[int]int, error) {
	counts := make(map[int]int)
	for _, s := range b.Ships {
		counts[s.Size]++
	}
	for size, want := range FleetSpec {
		if counts[size] != want {
			return counts, fmt.Errorf("fleet needs %d ships of size %d, got %d", want, size, counts[size])
		}
	}
	if len(b.Ships) != FleetShips {
		return counts, fmt.Errorf("fleet needs %d ships, got %d", FleetShips, len(b.Ships))
	}
	return counts, nil
}
