package server

import "sync"

// RoomRegistry indexes live rooms by ID and by the reconnect tokens of their
// seats. Tokens are unindexed when a game ends so they stop resolving even
// while the room lingers for post-game chat.
type RoomRegistry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	byToken map[string]string
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:   make(map[string]*Room),
		byToken: make(map[string]string),
	}
}

// Add registers the room and indexes the tokens of its occupied seats. The
// tokens are read before taking the registry lock so room locks always nest
// inside it, never around it.
func (r *RoomRegistry) Add(room *Room) {
	tokens := room.Tokens()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
	for _, t := range tokens {
		r.byToken[t] = room.ID
	}
}

func (r *RoomRegistry) Get(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// ByToken resolves a reconnect token to the room holding its seat.
func (r *RoomRegistry) ByToken(token string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	room, ok := r.rooms[id]
	return room, ok
}

// InvalidateTokens drops token index entries without touching the room.
func (r *RoomRegistry) InvalidateTokens(tokens ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		delete(r.byToken, t)
	}
}

// Remove drops the room and any tokens still pointing at it.
func (r *RoomRegistry) Remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	for t, id := range r.byToken {
		if id == roomID {
			delete(r.byToken, t)
		}
	}
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Snapshot returns the live rooms for shutdown sweeps.
func (r *RoomRegistry) Snapshot() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}
