package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ActionKind names one rate-limited request class.
type ActionKind string

const (
	KindSearchJoin      ActionKind = "search_join"
	KindPlaceShips      ActionKind = "game_place_ships"
	KindShot            ActionKind = "game_shot"
	KindCancel          ActionKind = "game_cancel"
	KindChatSend        ActionKind = "chat_send"
	KindReconnect       ActionKind = "reconnect_attempt"
	KindInvalidRequests ActionKind = "invalid_requests"
)

// limitSpec is a budget of Max requests per Window.
type limitSpec struct {
	Max    int
	Window time.Duration
}

// actionLimits holds the per-kind budgets. invalid_requests is the soft-ban
// budget: exceeding it closes the connection.
var actionLimits = map[ActionKind]limitSpec{
	KindSearchJoin:      {Max: 3, Window: 10 * time.Second},
	KindPlaceShips:      {Max: 5, Window: 10 * time.Second},
	KindShot:            {Max: 10, Window: 5 * time.Second},
	KindCancel:          {Max: 5, Window: 30 * time.Second},
	KindChatSend:        {Max: 6, Window: 10 * time.Second},
	KindReconnect:       {Max: 6, Window: 30 * time.Second},
	KindInvalidRequests: {Max: 20, Window: 60 * time.Second},
}

// Limiter bounds request rates per connection and action kind.
type Limiter interface {
	// Allow consumes one unit of kind's budget for connID. When the budget
	// is spent it reports false plus how long until a retry may pass.
	Allow(ctx context.Context, connID string, kind ActionKind) (bool, time.Duration)
}

const (
	limiterTableSize = 16384
	limiterEntryTTL  = 5 * time.Minute
)

// LocalLimiter keeps per-connection token buckets in an expirable LRU so
// counters for dead connections age out on their own.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewLocalLimiter returns the in-process Limiter used when no shared store
// is configured.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](limiterTableSize, nil, limiterEntryTTL),
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, connID string, kind ActionKind) (bool, time.Duration) {
	spec, ok := actionLimits[kind]
	if !ok {
		return true, 0
	}

	key := connID + ":" + string(kind)
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(spec.Window/time.Duration(spec.Max)), spec.Max)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()

	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// RedisLimiter counts in fixed windows shared across instances, keyed
// rl:<connID>:<kind>:<windowStart>. A Redis failure fails open: limiting is
// protection, not correctness.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter returns the shared Limiter.
func NewRedisLimiter(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisLimiter {
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, logger: logger, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, connID string, kind ActionKind) (bool, time.Duration) {
	spec, ok := actionLimits[kind]
	if !ok {
		return true, 0
	}

	nowMs := l.now().UnixMilli()
	windowMs := spec.Window.Milliseconds()
	win := nowMs / windowMs
	key := fmt.Sprintf("%srl:%s:%s:%d", l.prefix, connID, kind, win)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request",
			zap.String("kind", string(kind)), zap.Error(err))
		return true, 0
	}
	if n == 1 {
		// Expiry a little past the window end keeps stragglers countable.
		l.rdb.PExpire(ctx, key, spec.Window+time.Second)
	}
	if n > int64(spec.Max) {
		retry := time.Duration((win+1)*windowMs-nowMs) * time.Millisecond
		return false, retry
	}
	return true, 0
}
