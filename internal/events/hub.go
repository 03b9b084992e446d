// Package events provides the in-process realtime hub: per-user client
// connections, project-update rooms and observer subscriptions.
package events

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/models"
)

// Scope says who an envelope was addressed to.
type Scope string

const (
	ScopeRoom      Scope = "room"
	ScopeUser      Scope = "user"
	ScopeBroadcast Scope = "broadcast"
)

// Envelope is one published event with its addressing.
type Envelope struct {
	Scope  Scope
	Target string
	Event  models.Event
}

// EventHandler is invoked for each envelope matching a subscription.
type EventHandler func(env Envelope)

// Filter defines criteria for matching envelopes.
type Filter struct {
	// Names filters by event name (nil = all names).
	Names []models.EventName

	// Scope filters by addressing scope (empty = all).
	Scope Scope

	// Target filters to one room or user id (empty = all).
	Target string
}

// Matches returns true if the envelope matches the filter criteria.
func (f *Filter) Matches(env Envelope) bool {
	if len(f.Names) > 0 && !slices.Contains(f.Names, env.Event.Name) {
		return false
	}
	if f.Scope != "" && env.Scope != f.Scope {
		return false
	}
	if f.Target != "" && env.Target != f.Target {
		return false
	}
	return true
}

// Recorder persists published events.
type Recorder interface {
	RecordEvent(ctx context.Context, env Envelope) error
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// Hub fans events out to connected clients and observers.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	rooms         map[string]map[string]*Client
	subscriptions map[string]*subscription
	recorder      Recorder
	logger        zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRecorder persists every published event.
func WithRecorder(recorder Recorder) HubOption {
	return func(h *Hub) {
		h.recorder = recorder
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:       make(map[string]*Client),
		rooms:         make(map[string]map[string]*Client),
		subscriptions: make(map[string]*subscription),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PublishProjectUpdate notifies every client in the project's room.
func (h *Hub) PublishProjectUpdate(ctx context.Context, notice models.ProjectUpdateNotice) error {
	if notice.ProjectID == "" {
		return ErrMissingTarget
	}
	event, err := models.NewEvent(models.EventProjectNewUpdate, notice)
	if err != nil {
		return err
	}
	h.publish(ctx, Envelope{Scope: ScopeRoom, Target: notice.ProjectID, Event: event})
	return nil
}

// PublishToUser delivers an event to every connection of one user.
func (h *Hub) PublishToUser(ctx context.Context, userID string, name models.EventName, payload any) error {
	if userID == "" {
		return ErrMissingTarget
	}
	event, err := models.NewEvent(name, payload)
	if err != nil {
		return err
	}
	h.publish(ctx, Envelope{Scope: ScopeUser, Target: userID, Event: event})
	return nil
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(ctx context.Context, name models.EventName, payload any) error {
	event, err := models.NewEvent(name, payload)
	if err != nil {
		return err
	}
	h.publish(ctx, Envelope{Scope: ScopeBroadcast, Event: event})
	return nil
}

// Relay delivers an envelope that was published elsewhere, such as one read
// back from the event log. It is not recorded again.
func (h *Hub) Relay(env Envelope) error {
	if env.Event.Name == "" {
		return ErrUnsupportedEvent
	}
	if env.Scope != ScopeBroadcast && env.Target == "" {
		return ErrMissingTarget
	}
	h.deliver(env)
	return nil
}

func (h *Hub) publish(ctx context.Context, env Envelope) {
	if h.recorder != nil {
		// Best effort: delivery does not depend on persistence.
		if err := h.recorder.RecordEvent(ctx, env); err != nil {
			h.logger.Warn().Err(err).Str("event", string(env.Event.Name)).Msg("record event failed")
		}
	}
	h.deliver(env)
}

func (h *Hub) deliver(env Envelope) {
	h.mu.RLock()
	var targets []*Client
	switch env.Scope {
	case ScopeRoom:
		for _, c := range h.rooms[env.Target] {
			targets = append(targets, c)
		}
	case ScopeUser:
		for _, c := range h.clients {
			if c.userID == env.Target {
				targets = append(targets, c)
			}
		}
	case ScopeBroadcast:
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	}
	var handlers []EventHandler
	for _, sub := range h.subscriptions {
		if sub.filter.Matches(env) {
			handlers = append(handlers, sub.handler)
		}
	}
	h.mu.RUnlock()

	h.logger.Debug().
		Str("event", string(env.Event.Name)).
		Str("scope", string(env.Scope)).
		Str("target", env.Target).
		Int("clients", len(targets)).
		Msg("publish")

	// Invoke handlers outside the lock; they may call back into the hub.
	for _, c := range targets {
		c.dispatch(env.Event)
	}
	for _, handler := range handlers {
		handler(env)
	}
}

// Subscribe registers an observer for envelopes matching filter.
func (h *Hub) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	h.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes an observer by id.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(h.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of observers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the user ids joined to a project room, sorted.
func (h *Hub) RoomMembers(projectID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[projectID]))
	for _, c := range h.rooms[projectID] {
		out = append(out, c.userID)
	}
	slices.Sort(out)
	return out
}

// Close disconnects every client and removes all observers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]*Client)
	h.subscriptions = make(map[string]*subscription)
	h.mu.Unlock()

	for _, c := range clients {
		c.markClosed()
	}
}

func (h *Hub) join(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[projectID] = room
	}
	room[c.id] = c
}

func (h *Hub) leave(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, projectID)
}

func (h *Hub) leaveLocked(c *Client, projectID string) {
	room := h.rooms[projectID]
	if room == nil {
		return
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, projectID)
	}
}

func (h *Hub) leaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for projectID := range h.rooms {
		h.leaveLocked(c, projectID)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
	for projectID := range h.rooms {
		h.leaveLocked(c, projectID)
	}
}

// Errors for hub operations.
var (
	ErrInvalidSubscriptionID = &HubError{Message: "subscription ID is required"}
	ErrNilHandler            = &HubError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &HubError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &HubError{Message: "subscription not found"}
	ErrMissingTarget         = &HubError{Message: "event target is required"}
	ErrUnsupportedEvent      = &HubError{Message: "event cannot be emitted by a client"}
	ErrClientClosed          = &HubError{Message: "client is closed"}
)

// HubError represents an error from hub operations.
type HubError struct {
	Message string
}

func (e *HubError) Error() string {
	return e.Message
}
