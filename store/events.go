package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MatchEvent is one row of the append-only match history.
type MatchEvent struct {
	RoomID   string
	Event    string // "started" or "ended"
	VsBot    bool
	Winner   string // player id, empty for no winner
	Reason   string // terminal reason, empty for "started"
	Shots    int    // total shots fired in the room so far
	Duration time.Duration
	At       time.Time
}

// SecurityEvent records rate-limit bans and similar incidents.
type SecurityEvent struct {
	ConnID string
	Kind   string
	Detail string
	At     time.Time
}

// EventSink receives events off the game path. Implementations must never
// block the caller.
type EventSink interface {
	RecordMatch(e MatchEvent)
	RecordSecurity(e SecurityEvent)
	// Stop flushes buffered events and releases workers.
	Stop()
}

// MemorySink buffers events in memory. Used when Postgres is not configured
// and by tests.
type MemorySink struct {
	mu       sync.Mutex
	match    []MatchEvent
	security []SecurityEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) RecordMatch(e MatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.match = append(s.match, e)
}

func (s *MemorySink) RecordSecurity(e SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = append(s.security, e)
}

func (s *MemorySink) Stop() {}

// MatchEvents returns a copy of the recorded match events.
func (s *MemorySink) MatchEvents() []MatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MatchEvent, len(s.match))
	copy(out, s.match)
	return out
}

// SecurityEvents returns a copy of the recorded security events.
func (s *MemorySink) SecurityEvents() []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SecurityEvent, len(s.security))
	copy(out, s.security)
	return out
}

// sinkJob wraps either event kind for the worker queue.
type sinkJob struct {
	match    *MatchEvent
	security *SecurityEvent
}

// SinkConfig configures the Postgres sink.
type SinkConfig struct {
	Workers       int
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Pool          *pgxpool.Pool
	Logger        *zap.Logger
}

// PostgresSink writes events to Postgres in batches from background
// workers. RecordMatch and RecordSecurity drop the event when the buffer is
// full rather than stall the game path; drops are counted and logged.
type PostgresSink struct {
	cfg     SinkConfig
	jobs    chan sinkJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.SugaredLogger
	dropped atomic.Int64

	stopOnce sync.Once
}

// NewPostgresSink creates the sink and starts its workers.
func NewPostgresSink(ctx context.Context, cfg SinkConfig) *PostgresSink {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	s := &PostgresSink{
		cfg:    cfg,
		jobs:   make(chan sinkJob, cfg.QueueSize),
		logger: cfg.Logger.Sugar(),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// EnsureSchema creates the event tables for local development. Production
// deployments manage the schema externally.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS match_events (
			id          bigserial PRIMARY KEY,
			room_id     text        NOT NULL,
			event       text        NOT NULL,
			vs_bot      boolean     NOT NULL,
			winner      text        NOT NULL DEFAULT '',
			reason      text        NOT NULL DEFAULT '',
			shots       integer     NOT NULL DEFAULT 0,
			duration_ms bigint      NOT NULL DEFAULT 0,
			at          timestamptz NOT NULL
		);
		CREATE TABLE IF NOT EXISTS security_events (
			id      bigserial PRIMARY KEY,
			conn_id text        NOT NULL,
			kind    text        NOT NULL,
			detail  text        NOT NULL DEFAULT '',
			at      timestamptz NOT NULL
		);
	`)
	return err
}

func (s *PostgresSink) RecordMatch(e MatchEvent) {
	s.enqueue(sinkJob{match: &e})
}

func (s *PostgresSink) RecordSecurity(e SecurityEvent) {
	s.enqueue(sinkJob{security: &e})
}

func (s *PostgresSink) enqueue(job sinkJob) {
	// The channel may already be closed during shutdown.
	defer func() {
		if r := recover(); r != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.jobs <- job:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warnw("event sink buffer full, dropping", "dropped", n)
		}
	}
}

// Dropped returns how many events were shed since startup.
func (s *PostgresSink) Dropped() int64 { return s.dropped.Load() }

// Stop flushes buffered events and waits for the workers.
func (s *PostgresSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.jobs)
		s.wg.Wait()
		s.cancel()
	})
}

func (s *PostgresSink) worker(id int) {
	defer s.wg.Done()

	batch := make([]sinkJob, 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(batch); err != nil {
			s.logger.Errorw("event batch write failed", "worker", id, "size", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				flush()
				return
			}
			batch = append(batch, job)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.ctx.Done():
			flush()
			return
		}
	}
}

func (s *PostgresSink) writeBatch(jobs []sinkJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := &pgx.Batch{}
	for _, job := range jobs {
		switch {
		case job.match != nil:
			e := job.match
			b.Queue(`INSERT INTO match_events (room_id, event, vs_bot, winner, reason, shots, duration_ms, at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.RoomID, e.Event, e.VsBot, e.Winner, e.Reason, e.Shots, e.Duration.Milliseconds(), e.At)
		case job.security != nil:
			e := job.security
			b.Queue(`INSERT INTO security_events (conn_id, kind, detail, at)
				VALUES ($1, $2, $3, $4)`,
				e.ConnID, e.Kind, e.Detail, e.At)
		}
	}
	return s.cfg.Pool.SendBatch(ctx, b).Close()
}
