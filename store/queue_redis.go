package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout under the configured prefix:
//
//	queue:entries        hash  playerID -> entry JSON
//	queue:joined         zset  playerID scored by JoinedAt
//	queue:token:<token>  string playerID, expires with the entry
//	queue:parked:<token> string entry JSON, expires with the grace window
const (
	keyQueueEntries = "queue:entries"
	keyQueueJoined  = "queue:joined"
	keyQueueToken   = "queue:token:"
	keyQueueParked  = "queue:parked:"
)

// takeMatchScript pops the two oldest waiting entries in one atomic step so
// two server instances can never match the same player twice. Stale zset
// members without a hash entry are dropped and the call reports no match.
var takeMatchScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[2], 0, 1)
if #ids < 2 then return {} end
local a = redis.call('HGET', KEYS[1], ids[1])
local b = redis.call('HGET', KEYS[1], ids[2])
redis.call('ZREM', KEYS[2], ids[1], ids[2])
redis.call('HDEL', KEYS[1], ids[1], ids[2])
if not a or not b then
  local out = {}
  if a then table.insert(out, a) end
  if b then table.insert(out, b) end
  for i, e in ipairs(out) do
    redis.call('DEL', ARGV[1] .. cjson.decode(e)['token'])
  end
  return {}
end
redis.call('DEL', ARGV[1] .. cjson.decode(a)['token'])
redis.call('DEL', ARGV[1] .. cjson.decode(b)['token'])
return {a, b}
`)

// takeTimedOutScript pops up to ARGV[3] entries that joined at or before
// ARGV[2], atomically with their token index.
var takeTimedOutScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[2], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for i, id in ipairs(ids) do
  local e = redis.call('HGET', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('HDEL', KEYS[1], id)
  if e then
    redis.call('DEL', ARGV[1] .. cjson.decode(e)['token'])
    table.insert(out, e)
  end
end
return out
`)

// RedisQueue is the shared QueueStore. All multi-step mutations run as
// server-side scripts; everything else is plain commands.
type RedisQueue struct {
	rdb      *redis.Client
	prefix   string
	entryTTL time.Duration
}

// NewRedisQueue wraps rdb. entryTTL bounds how long a waiting entry's token
// index may outlive matchmaker activity; it should comfortably exceed the
// queue wait timeout.
func NewRedisQueue(rdb *redis.Client, prefix string, entryTTL time.Duration) *RedisQueue {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, entryTTL: entryTTL}
}

func (q *RedisQueue) key(parts ...string) string {
	key := q.prefix
	for _, p := range parts {
		key += p
	}
	return key
}

func (q *RedisQueue) Upsert(ctx context.Context, e QueueEntry) error {
	if old, err := q.GetByPlayerID(ctx, e.PlayerID); err == nil {
		e.JoinedAt = old.JoinedAt
		if old.Token != e.Token {
			if err := q.rdb.Del(ctx, q.key(keyQueueToken, old.Token)).Err(); err != nil {
				return fmt.Errorf("dropping stale token index: %w", err)
			}
		}
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding queue entry: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key(keyQueueEntries), e.PlayerID, raw)
	pipe.ZAdd(ctx, q.key(keyQueueJoined), redis.Z{Score: float64(e.JoinedAt), Member: e.PlayerID})
	pipe.Set(ctx, q.key(keyQueueToken, e.Token), e.PlayerID, q.entryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upserting queue entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) GetByPlayerID(ctx context.Context, playerID string) (QueueEntry, error) {
	raw, err := q.rdb.HGet(ctx, q.key(keyQueueEntries), playerID).Bytes()
	if err == redis.Nil {
		return QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("reading queue entry: %w", err)
	}
	var e QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return QueueEntry{}, fmt.Errorf("decoding queue entry: %w", err)
	}
	return e, nil
}

func (q *RedisQueue) GetByToken(ctx context.Context, token string) (QueueEntry, error) {
	playerID, err := q.rdb.Get(ctx, q.key(keyQueueToken, token)).Result()
	if err == redis.Nil {
		return QueueEntry{}, ErrNotFound
	}
	if err != nil {
		return QueueEntry{}, fmt.Errorf("resolving queue token: %w", err)
	}
	return q.GetByPlayerID(ctx, playerID)
}

func (q *RedisQueue) RemoveByPlayerID(ctx context.Context, playerID string) error {
	e, err := q.GetByPlayerID(ctx, playerID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key(keyQueueEntries), playerID)
	pipe.ZRem(ctx, q.key(keyQueueJoined), playerID)
	pipe.Del(ctx, q.key(keyQueueToken, e.Token))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing queue entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) RemoveByToken(ctx context.Context, token string) error {
	playerID, err := q.rdb.Get(ctx, q.key(keyQueueToken, token)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("resolving queue token: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	if err == nil {
		pipe.HDel(ctx, q.key(keyQueueEntries), playerID)
		pipe.ZRem(ctx, q.key(keyQueueJoined), playerID)
	}
	pipe.Del(ctx, q.key(keyQueueToken, token))
	pipe.Del(ctx, q.key(keyQueueParked, token))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing queue entry by token: %w", err)
	}
	return nil
}

func (q *RedisQueue) TakeMatch(ctx context.Context) (QueueEntry, QueueEntry, bool, error) {
	keys := []string{q.key(keyQueueEntries), q.key(keyQueueJoined)}
	res, err := takeMatchScript.Run(ctx, q.rdb, keys, q.key(keyQueueToken)).Result()
	if err != nil {
		return QueueEntry{}, QueueEntry{}, false, fmt.Errorf("taking match: %w", err)
	}
	raws, ok := res.([]interface{})
	if !ok || len(raws) < 2 {
		return QueueEntry{}, QueueEntry{}, false, nil
	}
	var a, b QueueEntry
	if err := decodeScriptEntry(raws[0], &a); err != nil {
		return QueueEntry{}, QueueEntry{}, false, err
	}
	if err := decodeScriptEntry(raws[1], &b); err != nil {
		return QueueEntry{}, QueueEntry{}, false, err
	}
	return a, b, true, nil
}

func (q *RedisQueue) TakeTimedOut(ctx context.Context, cutoff int64, limit int) ([]QueueEntry, error) {
	keys := []string{q.key(keyQueueEntries), q.key(keyQueueJoined)}
	res, err := takeTimedOutScript.Run(ctx, q.rdb, keys, q.key(keyQueueToken), cutoff, limit).Result()
	if err != nil {
		return nil, fmt.Errorf("taking timed out entries: %w", err)
	}
	raws, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]QueueEntry, 0, len(raws))
	for _, raw := range raws {
		var e QueueEntry
		if err := decodeScriptEntry(raw, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *RedisQueue) Park(ctx context.Context, e QueueEntry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding parked entry: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key(keyQueueEntries), e.PlayerID)
	pipe.ZRem(ctx, q.key(keyQueueJoined), e.PlayerID)
	pipe.Del(ctx, q.key(keyQueueToken, e.Token))
	pipe.Set(ctx, q.key(keyQueueParked, e.Token), raw, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("parking queue entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) TakeParked(ctx context.Context, token string) (QueueEntry, bool, error) {
	raw, err := q.rdb.GetDel(ctx, q.key(keyQueueParked, token)).Bytes()
	if err == redis.Nil {
		return QueueEntry{}, false, nil
	}
	if err != nil {
		return QueueEntry{}, false, fmt.Errorf("taking parked entry: %w", err)
	}
	var e QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return QueueEntry{}, false, fmt.Errorf("decoding parked entry: %w", err)
	}
	return e, true, nil
}

func decodeScriptEntry(raw interface{}, e *QueueEntry) error {
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("script returned %T, expected string", raw)
	}
	if err := json.Unmarshal([]byte(s), e); err != nil {
		return fmt.Errorf("decoding script entry: %w", err)
	}
	return nil
}
