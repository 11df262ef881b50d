package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// EventStore persists emitted events with their full JSON payload.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore over the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert writes one event.
func (s *EventStore) Insert(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event: %w", err)
	}

	const q = `
		INSERT INTO microstructure_events (id, symbol, kind, event_time_ms, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, ev.ID, ev.Symbol, string(ev.Kind), ev.EventTimeMs, payload); err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// ListBefore returns all events created strictly before the cutoff, for
// archival.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	const q = `
		SELECT payload FROM microstructure_events
		WHERE created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteBefore removes events created strictly before the cutoff and
// returns the count. Called after a verified archive upload.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM microstructure_events WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListRecent returns the latest events for a symbol, newest first.
func (s *EventStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT payload FROM microstructure_events
		WHERE symbol = $1
		ORDER BY event_time_ms DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
