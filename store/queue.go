// Package store holds the persistence boundary: the matchmaking queue, room
// snapshots, the match event sink and dependency health checks. Every store
// has an in-process implementation so the server runs with no external
// services at all, and a Redis or Postgres implementation for multi-instance
// deployments.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a queue entry, token or room is unknown.
var ErrNotFound = errors.New("store: not found")

// QueueEntry is one player waiting for a match.
type QueueEntry struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Token    string `json:"token"`
	JoinedAt int64  `json:"joinedAt"` // unix milliseconds
}

// QueueStore is the matchmaking queue. Entries wait in FIFO order by
// JoinedAt; a parked entry belongs to a player who disconnected while
// waiting and may resume within the park TTL. TakeMatch and TakeTimedOut
// are atomic: no entry is ever handed out twice, even across instances.
type QueueStore interface {
	// Upsert adds the entry or refreshes it in place, keeping its position.
	Upsert(ctx context.Context, e QueueEntry) error
	GetByPlayerID(ctx context.Context, playerID string) (QueueEntry, error)
	GetByToken(ctx context.Context, token string) (QueueEntry, error)
	RemoveByPlayerID(ctx context.Context, playerID string) error

	// RemoveByToken drops whatever the token points at, waiting or parked.
	RemoveByToken(ctx context.Context, token string) error

	// TakeMatch atomically removes and returns the two oldest waiting
	// entries. ok is false when fewer than two players are waiting.
	TakeMatch(ctx context.Context) (a, b QueueEntry, ok bool, err error)

	// TakeTimedOut atomically removes and returns up to limit entries that
	// joined at or before cutoff (unix milliseconds).
	TakeTimedOut(ctx context.Context, cutoff int64, limit int) ([]QueueEntry, error)

	// Park moves a disconnected player's entry aside under its token.
	Park(ctx context.Context, e QueueEntry, ttl time.Duration) error

	// TakeParked removes and returns the parked entry for token, if it is
	// still within its TTL.
	TakeParked(ctx context.Context, token string) (QueueEntry, bool, error)
}

type parkedEntry struct {
	entry    QueueEntry
	deadline time.Time
}

// MemoryQueue is the in-process QueueStore used when Redis is not
// configured. Safe for concurrent use.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]QueueEntry // playerID -> entry
	tokens  map[string]string     // token -> playerID
	parked  map[string]parkedEntry
	now     func() time.Time
}

// NewMemoryQueue returns an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]QueueEntry),
		tokens:  make(map[string]string),
		parked:  make(map[string]parkedEntry),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Upsert(ctx context.Context, e QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.entries[e.PlayerID]; ok {
		// Keep the original position in line.
		e.JoinedAt = old.JoinedAt
		delete(q.tokens, old.Token)
	}
	q.entries[e.PlayerID] = e
	q.tokens[e.Token] = e.PlayerID
	return nil
}

func (q *MemoryQueue) GetByPlayerID(ctx context.Context, playerID string) (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[playerID]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	return e, nil
}

func (q *MemoryQueue) GetByToken(ctx context.Context, token string) (QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	playerID, ok := q.tokens[token]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	e, ok := q.entries[playerID]
	if !ok {
		delete(q.tokens, token)
		return QueueEntry{}, ErrNotFound
	}
	return e, nil
}

func (q *MemoryQueue) RemoveByPlayerID(ctx context.Context, playerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[playerID]
	if !ok {
		return nil
	}
	delete(q.entries, playerID)
	delete(q.tokens, e.Token)
	return nil
}

func (q *MemoryQueue) RemoveByToken(ctx context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if playerID, ok := q.tokens[token]; ok {
		delete(q.entries, playerID)
		delete(q.tokens, token)
	}
	delete(q.parked, token)
	return nil
}

func (q *MemoryQueue) TakeMatch(ctx context.Context) (QueueEntry, QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	waiting := q.sortedLocked()
	if len(waiting) < 2 {
		return QueueEntry{}, QueueEntry{}, false, nil
	}
	a, b := waiting[0], waiting[1]
	q.removeLocked(a)
	q.removeLocked(b)
	return a, b, true, nil
}

func (q *MemoryQueue) TakeTimedOut(ctx context.Context, cutoff int64, limit int) ([]QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneParkedLocked()

	var out []QueueEntry
	for _, e := range q.sortedLocked() {
		if e.JoinedAt > cutoff || len(out) >= limit {
			break
		}
		q.removeLocked(e)
		out = append(out, e)
	}
	return out, nil
}

func (q *MemoryQueue) Park(ctx context.Context, e QueueEntry, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(e)
	q.parked[e.Token] = parkedEntry{entry: e, deadline: q.now().Add(ttl)}
	return nil
}

func (q *MemoryQueue) TakeParked(ctx context.Context, token string) (QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.parked[token]
	if !ok {
		return QueueEntry{}, false, nil
	}
	delete(q.parked, token)
	if q.now().After(p.deadline) {
		return QueueEntry{}, false, nil
	}
	return p.entry, true, nil
}

// sortedLocked returns the waiting entries oldest first. The queue is small
// so sorting on demand beats keeping an ordered structure in sync.
func (q *MemoryQueue) sortedLocked() []QueueEntry {
	out := make([]QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

func (q *MemoryQueue) removeLocked(e QueueEntry) {
	delete(q.entries, e.PlayerID)
	delete(q.tokens, e.Token)
}

// pruneParkedLocked drops parked entries past their deadline. Runs on the
// matchmaker tick via TakeTimedOut.
func (q *MemoryQueue) pruneParkedLocked() {
	now := q.now()
	for token, p := range q.parked {
		if now.After(p.deadline) {
			delete(q.parked, token)
		}
	}
}
