package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/models"
)

// Client is one user's connection to the hub. It implements inbox.Transport.
type Client struct {
	id     string
	userID string
	hub    *Hub

	mu       sync.Mutex
	handlers map[inbox.SubscriptionID]clientHandler
	closed   bool
}

type clientHandler struct {
	name    models.EventName
	handler inbox.Handler
}

var _ inbox.Transport = (*Client)(nil)

// Connect registers a new client for userID. The client counts as connected
// immediately; handlers registered for EventConnected are told so on
// registration.
func (h *Hub) Connect(userID string) *Client {
	c := &Client{
		id:       uuid.NewString(),
		userID:   userID,
		hub:      h,
		handlers: make(map[inbox.SubscriptionID]clientHandler),
	}
	h.register(c)
	h.logger.Debug().Str("client_id", c.id).Str("user_id", userID).Msg("client connected")
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the connected user.
func (c *Client) UserID() string { return c.userID }

// On registers handler for name.
func (c *Client) On(name models.EventName, handler inbox.Handler) inbox.SubscriptionID {
	id := inbox.SubscriptionID(uuid.NewString())

	c.mu.Lock()
	c.handlers[id] = clientHandler{name: name, handler: handler}
	connected := !c.closed
	c.mu.Unlock()

	if name == models.EventConnected && connected {
		handler(models.Event{Name: models.EventConnected})
	}
	return id
}

// Off removes a handler. Unknown ids are ignored.
func (c *Client) Off(id inbox.SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// Emit handles room requests. Other events cannot originate from a client.
func (c *Client) Emit(ctx context.Context, name models.EventName, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	room, ok := payload.(models.ProjectRoom)
	if !ok {
		if ptr, isPtr := payload.(*models.ProjectRoom); isPtr && ptr != nil {
			room, ok = *ptr, true
		}
	}

	switch name {
	case models.EventJoinProjectUpdates, models.EventLeaveProjectUpdates:
		if !ok || room.ProjectID == "" {
			return fmt.Errorf("%s: %w", name, ErrMissingTarget)
		}
		if name == models.EventJoinProjectUpdates {
			c.hub.join(c, room.ProjectID)
		} else {
			c.hub.leave(c, room.ProjectID)
		}
		return nil
	default:
		return fmt.Errorf("%s: %w", name, ErrUnsupportedEvent)
	}
}

// Reconnect simulates a dropped connection: every room is forgotten and
// EventConnected is delivered again.
func (c *Client) Reconnect() {
	c.hub.leaveAll(c)
	c.dispatch(models.Event{Name: models.EventConnected})
}

// Close disconnects the client from the hub.
func (c *Client) Close() {
	c.hub.unregister(c)
	c.markClosed()
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) dispatch(event models.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var handlers []inbox.Handler
	for _, h := range c.handlers {
		if h.name == event.Name {
			handlers = append(handlers, h.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}
