package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout under the configured prefix:
//
//	room:<id>           string room snapshot JSON, refreshed on every save
//	room:token:<token>  string room id, same TTL
const (
	keyRoom      = "room:"
	keyRoomToken = "room:token:"
)

// SlotSnapshot is the persisted view of one seat in a room.
type SlotSnapshot struct {
	PlayerID  string `json:"playerId"`
	Nickname  string `json:"nickname"`
	Token     string `json:"token,omitempty"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
}

// RoomSnapshot is the persisted view of a room. Rooms are owned by exactly
// one server instance; snapshots exist so other instances can answer token
// lookups and operators can inspect live rooms.
type RoomSnapshot struct {
	ID        string          `json:"id"`
	Phase     string          `json:"phase"`
	VsBot     bool            `json:"vsBot"`
	Slots     [2]SlotSnapshot `json:"slots"`
	Turn      string          `json:"turn,omitempty"`
	Winner    string          `json:"winner,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	UpdatedAt int64           `json:"updatedAt"` // unix milliseconds
}

// RoomStore mirrors room state. Writes are best effort: the in-process room
// registry stays authoritative for rooms this instance owns.
type RoomStore interface {
	Save(ctx context.Context, snap RoomSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, roomID string, tokens ...string) error
	// FindByToken resolves a reconnect token to a room id.
	FindByToken(ctx context.Context, token string) (string, error)
}

// MemoryRooms is the in-process RoomStore.
type MemoryRooms struct {
	mu     sync.Mutex
	rooms  map[string]RoomSnapshot
	tokens map[string]string
}

func NewMemoryRooms() *MemoryRooms {
	return &MemoryRooms{
		rooms:  make(map[string]RoomSnapshot),
		tokens: make(map[string]string),
	}
}

func (m *MemoryRooms) Save(ctx context.Context, snap RoomSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rooms[snap.ID]; ok {
		for _, s := range old.Slots {
			if s.Token != "" {
				delete(m.tokens, s.Token)
			}
		}
	}
	m.rooms[snap.ID] = snap
	for _, s := range snap.Slots {
		if s.Token != "" {
			m.tokens[s.Token] = snap.ID
		}
	}
	return nil
}

func (m *MemoryRooms) Delete(ctx context.Context, roomID string, tokens ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rooms[roomID]; ok {
		for _, s := range old.Slots {
			if s.Token != "" {
				delete(m.tokens, s.Token)
			}
		}
	}
	delete(m.rooms, roomID)
	for _, t := range tokens {
		delete(m.tokens, t)
	}
	return nil
}

func (m *MemoryRooms) FindByToken(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Get returns a saved snapshot. Used by tests and the readiness surface.
func (m *MemoryRooms) Get(roomID string) (RoomSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.rooms[roomID]
	return snap, ok
}

// RedisRooms is the shared RoomStore.
type RedisRooms struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRooms(rdb *redis.Client, prefix string) *RedisRooms {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisRooms{rdb: rdb, prefix: prefix}
}

func (r *RedisRooms) Save(ctx context.Context, snap RoomSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding room snapshot: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.prefix+keyRoom+snap.ID, raw, ttl)
	for _, s := range snap.Slots {
		if s.Token != "" {
			pipe.Set(ctx, r.prefix+keyRoomToken+s.Token, snap.ID, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving room snapshot: %w", err)
	}
	return nil
}

func (r *RedisRooms) Delete(ctx context.Context, roomID string, tokens ...string) error {
	keys := []string{r.prefix + keyRoom + roomID}
	for _, t := range tokens {
		keys = append(keys, r.prefix+keyRoomToken+t)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting room snapshot: %w", err)
	}
	return nil
}

func (r *RedisRooms) FindByToken(ctx context.Context, token string) (string, error) {
	id, err := r.rdb.Get(ctx, r.prefix+keyRoomToken+token).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving room token: %w", err)
	}
	return id, nil
}
