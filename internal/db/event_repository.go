package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/models"
)

// Event repository errors.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidEvent  = errors.New("invalid event")
)

// RecordedEvent is one row of the realtime event log.
type RecordedEvent struct {
	ID       string
	Envelope events.Envelope
}

// EventRepository persists published realtime envelopes. It implements
// events.Recorder.
type EventRepository struct {
	db *DB
}

var _ events.Recorder = (*EventRepository)(nil)

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventQuery defines filters for querying events.
type EventQuery struct {
	Name   *models.EventName // Filter by event name
	Scope  *events.Scope     // Filter by scope
	Target *string           // Filter by room or user id
	Since  *time.Time        // Events at or after this time (inclusive)
	Until  *time.Time        // Events before this time (exclusive)
	Cursor string            // Pagination cursor (event ID)
	Limit  int               // Max results to return
}

// EventPage represents a page of query results.
type EventPage struct {
	Events     []*RecordedEvent
	NextCursor string
}

// RecordEvent appends an envelope to the log.
func (r *EventRepository) RecordEvent(ctx context.Context, env events.Envelope) error {
	_, err := r.Append(ctx, env)
	return err
}

// Append adds an envelope to the log and returns its id.
func (r *EventRepository) Append(ctx context.Context, env events.Envelope) (string, error) {
	if env.Event.Name == "" || env.Scope == "" {
		return "", ErrInvalidEvent
	}

	id := uuid.New().String()
	ts := env.Event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var payloadJSON *string
	if len(env.Event.Payload) > 0 {
		s := string(env.Event.Payload)
		payloadJSON = &s
	}

	err := DefaultRetryPolicy.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO events (id, timestamp, name, scope, target, payload_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, formatTime(ts), string(env.Event.Name), string(env.Scope), env.Target, payloadJSON)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// Get retrieves an event by ID.
func (r *EventRepository) Get(ctx context.Context, id string) (*RecordedEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, timestamp, name, scope, target, payload_json
		FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// Query retrieves events matching the given filters with cursor-based pagination.
func (r *EventRepository) Query(ctx context.Context, q EventQuery) (*EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, name, scope, target, payload_json FROM events WHERE 1=1`
	args := []any{}

	if q.Name != nil {
		query += ` AND name = ?`
		args = append(args, string(*q.Name))
	}
	if q.Scope != nil {
		query += ` AND scope = ?`
		args = append(args, string(*q.Scope))
	}
	if q.Target != nil {
		query += ` AND target = ?`
		args = append(args, *q.Target)
	}
	if q.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(*q.Since))
	}
	if q.Until != nil {
		query += ` AND timestamp < ?`
		args = append(args, formatTime(*q.Until))
	}
	if q.Cursor != "" {
		query += ` AND (timestamp, id) > (SELECT timestamp, id FROM events WHERE id = ?)`
		args = append(args, q.Cursor)
	}

	query += ` ORDER BY timestamp, id LIMIT ?`
	args = append(args, limit+1) // one extra decides whether a next page exists

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*RecordedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	page := &EventPage{}
	if len(out) > limit {
		page.Events = out[:limit]
		page.NextCursor = out[limit-1].ID
	} else {
		page.Events = out
	}
	return page, nil
}

// Count returns the total number of events.
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan deletes up to limit events older than before.
// Returns the number of events deleted.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE timestamp < ? ORDER BY timestamp LIMIT ?
		)
	`, formatTime(before), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*RecordedEvent, error) {
	var (
		event                  RecordedEvent
		timestamp, name, scope string
		payloadJSON            sql.NullString
	)
	if err := row.Scan(&event.ID, &timestamp, &name, &scope, &event.Envelope.Target, &payloadJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Envelope.Scope = events.Scope(scope)
	event.Envelope.Event.Name = models.EventName(name)
	event.Envelope.Event.Timestamp = parseTime(timestamp)
	if payloadJSON.Valid {
		event.Envelope.Event.Payload = json.RawMessage(payloadJSON.String)
	}
	return &event, nil
}
