package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Pinger is one external dependency the readiness endpoint reports on.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
	// Required dependencies gate readiness; optional ones only report.
	Required() bool
}

// DepStatus is the checked state of one dependency.
type DepStatus struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Health pings registered dependencies with a per-check timeout.
type Health struct {
	timeout time.Duration
	pingers []Pinger
}

func NewHealth(timeout time.Duration) *Health {
	return &Health{timeout: timeout}
}

func (h *Health) Register(p Pinger) {
	h.pingers = append(h.pingers, p)
}

// Check pings every dependency. ready is false when any required dependency
// fails.
func (h *Health) Check(ctx context.Context) (statuses []DepStatus, ready bool) {
	statuses = make([]DepStatus, 0, len(h.pingers))
	ready = true
	for _, p := range h.pingers {
		st := DepStatus{Name: p.Name(), Required: p.Required(), OK: true}
		pctx, cancel := context.WithTimeout(ctx, h.timeout)
		if err := p.Ping(pctx); err != nil {
			st.OK = false
			st.Error = err.Error()
			if st.Required {
				ready = false
			}
		}
		cancel()
		statuses = append(statuses, st)
	}
	return statuses, ready
}

// RedisPinger reports on a Redis client.
type RedisPinger struct {
	Client *redis.Client
	Req    bool
}

func (p RedisPinger) Name() string                   { return "redis" }
func (p RedisPinger) Required() bool                 { return p.Req }
func (p RedisPinger) Ping(ctx context.Context) error { return p.Client.Ping(ctx).Err() }

// PostgresPinger reports on a pgx pool.
type PostgresPinger struct {
	Pool *pgxpool.Pool
	Req  bool
}

func (p PostgresPinger) Name() string                   { return "postgres" }
func (p PostgresPinger) Required() bool                 { return p.Req }
func (p PostgresPinger) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }
