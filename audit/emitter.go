package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Sink is an append-only destination for audit events. No read path is
// required by the core.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter writes audit events to a sink on a best-effort basis. A sink
// failure is logged and swallowed: the state transition already committed and
// must not appear failed to the caller.
type Emitter struct {
	sink Sink
	log  zerolog.Logger
}

func NewEmitter(sink Sink, log zerolog.Logger) *Emitter {
	return &Emitter{sink: sink, log: log}
}

// Emit appends the event, reporting failures through the logger only.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if err := e.sink.Append(ctx, event); err != nil {
		e.log.Error().
			Err(err).
			Str("action", event.Action).
			Str("resource_type", event.ResourceType).
			Str("resource_id", event.ResourceID).
			Msg("audit append failed")
	}
}

// PGSink appends events to the audit_events table.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Append(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO audit_events (actor_id, actor_role, action, resource_type, resource_id, status_before, status_after, occurred_at)
		VALUES ($1::uuid, $2::user_role, $3, $4, $5::uuid, NULLIF($6, ''), NULLIF($7, ''), $8)
	`

	_, err := s.pool.Exec(ctx, query,
		event.ActorID,
		event.ActorRole,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.StatusBefore,
		event.StatusAfter,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append event: %w", err)
	}
	return nil
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes every subsequent Append return err.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
