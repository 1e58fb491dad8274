package store

import (
	"context"
	"testing"
	"time"
)

func entry(player, token string, joinedAt int64) QueueEntry {
	return QueueEntry{PlayerID: player, Nickname: "nick-" + player, Token: token, JoinedAt: joinedAt}
}

func TestMemoryQueueMatchesOldestFirst(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for _, e := range []QueueEntry{
		entry("p3", "t3", 300),
		entry("p1", "t1", 100),
		entry("p2", "t2", 200),
	} {
		if err := q.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert(%s): %v", e.PlayerID, err)
		}
	}

	a, b, ok, err := q.TakeMatch(ctx)
	if err != nil || !ok {
		t.Fatalf("TakeMatch() = ok=%v err=%v, expected a match", ok, err)
	}
	if a.PlayerID != "p1" || b.PlayerID != "p2" {
		t.Errorf("TakeMatch() = %s, %s, expected p1, p2", a.PlayerID, b.PlayerID)
	}

	if _, _, ok, _ := q.TakeMatch(ctx); ok {
		t.Error("TakeMatch() with one player waiting: expected no match")
	}
	if _, err := q.GetByPlayerID(ctx, "p3"); err != nil {
		t.Errorf("p3 should still be waiting: %v", err)
	}
	if _, err := q.GetByPlayerID(ctx, "p1"); err != ErrNotFound {
		t.Errorf("GetByPlayerID(p1) after match: %v, expected ErrNotFound", err)
	}
	if _, err := q.GetByToken(ctx, "t1"); err != ErrNotFound {
		t.Errorf("GetByToken(t1) after match: %v, expected ErrNotFound", err)
	}
}

func TestMemoryQueueUpsertKeepsPosition(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	q.Upsert(ctx, entry("p1", "t1", 100))
	q.Upsert(ctx, entry("p2", "t2", 200))

	// p1 rejoins later with a fresh token; position in line must not reset.
	q.Upsert(ctx, entry("p1", "t1b", 999))

	a, _, ok, _ := q.TakeMatch(ctx)
	if !ok || a.PlayerID != "p1" {
		t.Fatalf("TakeMatch() first = %s (ok=%v), expected p1", a.PlayerID, ok)
	}
	if a.JoinedAt != 100 {
		t.Errorf("rejoined entry JoinedAt = %d, expected original 100", a.JoinedAt)
	}
	if a.Token != "t1b" {
		t.Errorf("rejoined entry token = %s, expected refreshed t1b", a.Token)
	}
	if _, err := q.GetByToken(ctx, "t1"); err != ErrNotFound {
		t.Errorf("old token still resolves after refresh: %v", err)
	}
}

func TestMemoryQueueTakeTimedOut(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	q.Upsert(ctx, entry("p1", "t1", 100))
	q.Upsert(ctx, entry("p2", "t2", 200))
	q.Upsert(ctx, entry("p3", "t3", 300))

	out, err := q.TakeTimedOut(ctx, 250, 10)
	if err != nil {
		t.Fatalf("TakeTimedOut(): %v", err)
	}
	if len(out) != 2 || out[0].PlayerID != "p1" || out[1].PlayerID != "p2" {
		t.Fatalf("TakeTimedOut() = %+v, expected p1 then p2", out)
	}
	if _, err := q.GetByPlayerID(ctx, "p3"); err != nil {
		t.Errorf("p3 should survive the cutoff: %v", err)
	}

	// The limit is respected.
	q.Upsert(ctx, entry("p4", "t4", 10))
	q.Upsert(ctx, entry("p5", "t5", 20))
	out, _ = q.TakeTimedOut(ctx, 250, 1)
	if len(out) != 1 || out[0].PlayerID != "p4" {
		t.Errorf("TakeTimedOut(limit=1) = %+v, expected just p4", out)
	}
}

func TestMemoryQueueParkAndResume(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	e := entry("p1", "t1", 100)
	q.Upsert(ctx, e)
	if err := q.Park(ctx, e, time.Minute); err != nil {
		t.Fatalf("Park(): %v", err)
	}

	// Parked entries are out of the waiting line.
	if _, err := q.GetByPlayerID(ctx, "p1"); err != ErrNotFound {
		t.Errorf("parked entry still waiting: %v", err)
	}

	got, ok, err := q.TakeParked(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("TakeParked() = ok=%v err=%v, expected the entry", ok, err)
	}
	if got.PlayerID != "p1" {
		t.Errorf("TakeParked() = %s, expected p1", got.PlayerID)
	}

	// Single use.
	if _, ok, _ := q.TakeParked(ctx, "t1"); ok {
		t.Error("TakeParked() twice with the same token: expected miss")
	}
}

func TestMemoryQueueParkedExpiry(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Unix(1000, 0)
	q.now = func() time.Time { return now }

	e := entry("p1", "t1", 100)
	q.Park(ctx, e, 30*time.Second)

	now = now.Add(31 * time.Second)
	if _, ok, _ := q.TakeParked(ctx, "t1"); ok {
		t.Error("TakeParked() after the TTL: expected miss")
	}

	// Expired entries are also pruned by the matchmaker sweep.
	q.Park(ctx, entry("p2", "t2", 100), 30*time.Second)
	now = now.Add(31 * time.Second)
	q.TakeTimedOut(ctx, 0, 10)
	q.mu.Lock()
	left := len(q.parked)
	q.mu.Unlock()
	if left != 0 {
		t.Errorf("%d parked entries survive the sweep, expected 0", left)
	}
}

func TestMemoryQueueRemoveByPlayerID(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	q.Upsert(ctx, entry("p1", "t1", 100))
	if err := q.RemoveByPlayerID(ctx, "p1"); err != nil {
		t.Fatalf("RemoveByPlayerID(): %v", err)
	}
	if _, err := q.GetByToken(ctx, "t1"); err != ErrNotFound {
		t.Errorf("token resolves after removal: %v", err)
	}
	// Removing an absent player is not an error.
	if err := q.RemoveByPlayerID(ctx, "ghost"); err != nil {
		t.Errorf("RemoveByPlayerID(ghost): %v", err)
	}
}

func TestMemoryQueueRemoveByToken(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	// Waiting entry.
	q.Upsert(ctx, entry("p1", "t1", 100))
	if err := q.RemoveByToken(ctx, "t1"); err != nil {
		t.Fatalf("RemoveByToken(): %v", err)
	}
	if _, err := q.GetByPlayerID(ctx, "p1"); err != ErrNotFound {
		t.Errorf("entry survives token removal: %v", err)
	}

	// Parked entry.
	q.Park(ctx, entry("p2", "t2", 200), time.Minute)
	if err := q.RemoveByToken(ctx, "t2"); err != nil {
		t.Fatalf("RemoveByToken() on a parked entry: %v", err)
	}
	if _, ok, _ := q.TakeParked(ctx, "t2"); ok {
		t.Error("parked entry survives token removal")
	}

	// Removing an unknown token is not an error.
	if err := q.RemoveByToken(ctx, "ghost"); err != nil {
		t.Errorf("RemoveByToken(ghost): %v", err)
	}
}
