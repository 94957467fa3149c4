package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundarb/fundarb/internal/domain"
)

// EventStore implements domain.PositionEventStore using PostgreSQL. It is
// the append-only audit trail of OPEN/CLOSE transitions that Stats-Service
// reads to compute both its dynamic aggregate and its daily archives.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new OPEN or CLOSE event row.
func (s *EventStore) Append(ctx context.Context, evt domain.PositionEvent) error {
	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal event data: %w", err)
	}

	var logicReason *string
	if evt.LogicReason != nil {
		reason := string(*evt.LogicReason)
		logicReason = &reason
	}

	const insert = `
		INSERT INTO position_events (group_id, symbol, event_type, logic_reason, realized_pnl, data)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, insert,
		evt.GroupID, evt.Symbol, evt.EventType, logicReason, evt.RealizedPnL, dataJSON,
	); err != nil {
		return fmt.Errorf("postgres: append position event for %s: %w", evt.GroupID, err)
	}
	return nil
}

const selectEventColumns = `
	id, group_id, symbol, event_type, logic_reason, realized_pnl, data, created_at`

func scanEvent(rows pgx.Rows) (domain.PositionEvent, error) {
	var e domain.PositionEvent
	var logicReason *string
	var dataJSON []byte
	if err := rows.Scan(
		&e.ID, &e.GroupID, &e.Symbol, &e.EventType, &logicReason, &e.RealizedPnL, &dataJSON, &e.CreatedAt,
	); err != nil {
		return domain.PositionEvent{}, err
	}
	if logicReason != nil {
		reason := domain.CloseReason(*logicReason)
		e.LogicReason = &reason
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
			return domain.PositionEvent{}, fmt.Errorf("unmarshal event data: %w", err)
		}
	}
	return e, nil
}

// ListRecent returns up to limit events, most recent first. limit <= 0
// means unbounded (used by Stats-Service's dynamic aggregate, which needs
// every event rather than a capped page).
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.PositionEvent, error) {
	query := "SELECT " + selectEventColumns + " FROM position_events ORDER BY created_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	defer rows.Close()

	var events []domain.PositionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan recent event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSince returns all events with created_at in [since, until), used by
// the daily archiver (one calendar day).
func (s *EventStore) ListSince(ctx context.Context, since, until time.Time) ([]domain.PositionEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+selectEventColumns+" FROM position_events WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events since %s: %w", since, err)
	}
	defer rows.Close()

	var events []domain.PositionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionEventStore = (*EventStore)(nil)
