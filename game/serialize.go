package game

import (
	"fmt"
	"sort"
)

// ShipState is the wire form of a placed ship.
type ShipState struct {
	ID          int         `json:"id"`
	Size        int         `json:"size"`
	Orientation Orientation `json:"orientation"`
	Cells       []Coord     `json:"cells"`
	Hits        []bool      `json:"hits"`
	Sunk        bool        `json:"sunk"`
}

// BoardState is the full wire form of a board. Only the owning player may
// ever see it.
type BoardState struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Ships  []ShipState `json:"ships"`
	Shots  []Coord     `json:"shots"`
	Hits   []Coord     `json:"hits"`
	Sunk   []Coord     `json:"sunkCells"`
}

// MaskedBoardState is the opponent view of a board: shots, hits and sunk
// ship cells only. Cells of ships still afloat are never included.
type MaskedBoardState struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Shots       []Coord `json:"shots"`
	Hits        []Coord `json:"hits"`
	Sunk        []Coord `json:"sunkCells"`
	ShipsAfloat int     `json:"shipsAfloat"`
}

// Serialize returns the full wire form of the board. Coordinate lists are
// row-major sorted so output is deterministic.
func (b *Board) Serialize() BoardState {
	st := BoardState{
		Width:  b.Width,
		Height: b.Height,
		Ships:  make([]ShipState, 0, len(b.Ships)),
		Shots:  sortedCoords(b.Shots),
		Hits:   sortedCoords(b.Hits),
		Sunk:   sortCoords(b.SunkCells()),
	}
	for _, s := range b.Ships {
		hits := make([]bool, len(s.Hits))
		copy(hits, s.Hits)
		cells := make([]Coord, len(s.Cells))
		copy(cells, s.Cells)
		st.Ships = append(st.Ships, ShipState{
			ID:          s.ID,
			Size:        s.Size,
			Orientation: s.Orientation,
			Cells:       cells,
			Hits:        hits,
			Sunk:        s.Sunk(),
		})
	}
	return st
}

// SerializeMasked returns the opponent view of the board.
func (b *Board) SerializeMasked() MaskedBoardState {
	return MaskedBoardState{
		Width:       b.Width,
		Height:      b.Height,
		Shots:       sortedCoords(b.Shots),
		Hits:        sortedCoords(b.Hits),
		Sunk:        sortCoords(b.SunkCells()),
		ShipsAfloat: b.ShipsAfloat(),
	}
}

// Deserialize rebuilds a board from its wire form, re-validating every ship
// placement and the shot/hit sets.
func Deserialize(st BoardState) (*Board, error) {
	if st.Width != BoardWidth || st.Height != BoardHeight {
		return nil, fmt.Errorf("board must be %dx%d, got %dx%d", BoardWidth, BoardHeight, st.Width, st.Height)
	}
	b := NewBoard()
	for _, ss := range st.Ships {
		if len(ss.Cells) == 0 {
			return nil, fmt.Errorf("ship %d has no cells", ss.ID)
		}
		ship, err := b.PlaceShip(ss.ID, ss.Cells[0], ss.Size, ss.Orientation)
		if err != nil {
			return nil, fmt.Errorf("ship %d: %w", ss.ID, err)
		}
		if len(ss.Cells) != len(ship.Cells) {
			return nil, fmt.Errorf("ship %d cell count does not match size", ss.ID)
		}
		for i, c := range ship.Cells {
			if ss.Cells[i] != c {
				return nil, fmt.Errorf("ship %d cells are not contiguous from the bow", ss.ID)
			}
		}
		if len(ss.Hits) != len(ship.Cells) {
			return nil, fmt.Errorf("ship %d hit flags do not match size", ss.ID)
		}
	}
	for _, c := range st.Shots {
		if !c.InBounds() {
			return nil, fmt.Errorf("shot %s out of bounds", c.Key())
		}
		b.Shots[c.Key()] = true
	}
	for _, c := range st.Hits {
		if !b.Shots[c.Key()] {
			return nil, fmt.Errorf("hit %s was never shot", c.Key())
		}
		ship := b.ShipAt(c)
		if ship == nil {
			return nil, fmt.Errorf("hit %s strikes no ship", c.Key())
		}
		ship.Hits[ship.CellIndex(c)] = true
		b.Hits[c.Key()] = true
	}
	// Hit flags riding on the ship entries must agree with the hit set.
	for i, ss := range st.Ships {
		ship := b.Ships[i]
		for j, flag := range ss.Hits {
			if flag != ship.Hits[j] {
				return nil, fmt.Errorf("ship %d hit flags disagree with hit set", ss.ID)
			}
		}
	}
	return b, nil
}

// FleetFromPlacement validates a client-submitted placement: a standard
// fleet, validly placed, with nothing fired yet.
func FleetFromPlacement(st BoardState) (*Board, error) {
	if len(st.Shots) != 0 || len(st.Hits) != 0 {
		return nil, fmt.Errorf("placement must not carry shots")
	}
	b, err := Deserialize(st)
	if err != nil {
		return nil, err
	}
	if _, err := b.FleetComposition(); err != nil {
		return nil, err
	}
	return b, nil
}

func sortedCoords(set map[string]bool) []Coord {
	out := make([]Coord, 0, len(set))
	for key := range set {
		var c Coord
		if _, err := fmt.Sscanf(key, "%d,%d", &c.Row, &c.Col); err == nil {
			out = append(out, c)
		}
	}
	return sortCoords(out)
}

func sortCoords(cells []Coord) []Coord {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
	return cells
}
