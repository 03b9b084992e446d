package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/models"
)

// StreamConfig configures event streaming behavior.
type StreamConfig struct {
	// PollInterval is how often to check for new events.
	PollInterval time.Duration

	// Names filters to specific event names (nil = all).
	Names []models.EventName

	// Scope filters to one addressing scope (empty = all).
	Scope events.Scope

	// Target filters to one room or user id.
	Target string

	// Since streams events at or after this timestamp.
	Since *time.Time

	// IncludeExisting includes events before streaming starts.
	IncludeExisting bool

	// BatchSize is the max events per poll.
	BatchSize int
}

// DefaultStreamConfig returns sensible defaults for streaming.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval:    500 * time.Millisecond,
		IncludeExisting: false,
		BatchSize:       100,
	}
}

// EventStreamer tails the event log and hands each new event to a sink.
type EventStreamer struct {
	repo   *db.EventRepository
	config StreamConfig
	sink   func(*db.RecordedEvent) error
	now    func() time.Time
}

// NewEventStreamer creates a streamer that writes events to out as JSONL.
func NewEventStreamer(repo *db.EventRepository, out io.Writer, config StreamConfig) *EventStreamer {
	s := newStreamer(repo, config)
	s.sink = func(event *db.RecordedEvent) error { return writeEvent(out, event) }
	return s
}

// newRelayStreamer creates a streamer that redelivers logged events through hub.
func newRelayStreamer(repo *db.EventRepository, hub *events.Hub, config StreamConfig) *EventStreamer {
	s := newStreamer(repo, config)
	s.sink = func(event *db.RecordedEvent) error {
		if err := hub.Relay(event.Envelope); err != nil {
			cmdLogger("relay").Debug().Err(err).Str("event_id", event.ID).Msg("skipping event")
		}
		return nil
	}
	return s
}

func newStreamer(repo *db.EventRepository, config StreamConfig) *EventStreamer {
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &EventStreamer{repo: repo, config: config, now: time.Now}
}

// Stream polls until the context is cancelled. Returns nil on cancellation.
func (s *EventStreamer) Stream(ctx context.Context) error {
	var cursor string
	var since *time.Time
	if s.config.IncludeExisting {
		since = s.config.Since
	} else {
		now := s.now().UTC()
		since = &now
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			batch, nextCursor, err := s.poll(ctx, cursor, since)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to poll events: %w", err)
			}
			for _, event := range batch {
				if err := s.sink(event); err != nil {
					return fmt.Errorf("failed to handle event: %w", err)
				}
			}
			if nextCursor != "" {
				cursor = nextCursor
				since = nil
			}
		}
	}
}

// poll fetches the next batch of events. The returned cursor is the last
// event seen, filtered or not, so the next poll resumes after it.
func (s *EventStreamer) poll(ctx context.Context, cursor string, since *time.Time) ([]*db.RecordedEvent, string, error) {
	query := db.EventQuery{
		Cursor: cursor,
		Since:  since,
		Limit:  s.config.BatchSize,
	}
	if cursor != "" {
		query.Since = nil
	}
	if len(s.config.Names) == 1 {
		query.Name = &s.config.Names[0]
	}
	if s.config.Scope != "" {
		query.Scope = &s.config.Scope
	}
	if s.config.Target != "" {
		query.Target = &s.config.Target
	}

	page, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if n := len(page.Events); n > 0 {
		next = page.Events[n-1].ID
	}

	filtered := page.Events
	if len(s.config.Names) > 1 {
		filtered = filtered[:0:0]
		for _, e := range page.Events {
			if slices.Contains(s.config.Names, e.Envelope.Event.Name) {
				filtered = append(filtered, e)
			}
		}
	}
	return filtered, next, nil
}

type eventLine struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"ts"`
	Event     models.EventName `json:"event"`
	Scope     events.Scope     `json:"scope"`
	Target    string           `json:"target,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

func toEventLine(event *db.RecordedEvent) eventLine {
	return eventLine{
		ID:        event.ID,
		Timestamp: event.Envelope.Event.Timestamp,
		Event:     event.Envelope.Event.Name,
		Scope:     event.Envelope.Scope,
		Target:    event.Envelope.Target,
		Payload:   event.Envelope.Event.Payload,
	}
}

func writeEvent(out io.Writer, event *db.RecordedEvent) error {
	data, err := json.Marshal(toEventLine(event))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// MustBeJSONLForWatch ensures JSONL mode is used with --watch.
func MustBeJSONLForWatch() error {
	if IsWatchMode() && !IsJSONLOutput() {
		return fmt.Errorf("--watch requires --jsonl output format")
	}
	return nil
}

// StreamEvents streams every new event to stdout until ctx is cancelled.
func StreamEvents(ctx context.Context, repo *db.EventRepository, config StreamConfig) error {
	return NewEventStreamer(repo, os.Stdout, config).Stream(ctx)
}
