// Package ws carries realtime events over websockets. The server bridges an
// events.Hub to remote clients; Client is the matching inbox.Transport.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
)

const (
	defaultWriteTimeout = 10 * time.Second
	outboundBuffer      = 64
)

// forwarded lists the hub events pushed to remote clients.
var forwarded = []models.EventName{
	models.EventProjectNewUpdate,
	models.EventNewUpdate,
	models.EventNewMessage,
}

// Handler upgrades HTTP requests to websocket sessions on a hub.
type Handler struct {
	hub          *events.Hub
	logger       zerolog.Logger
	writeTimeout time.Duration
	origins      []string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) { h.origins = append(h.origins, patterns...) }
}

// NewHandler creates a websocket handler for hub.
func NewHandler(hub *events.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:          hub,
		logger:       logging.Component("ws"),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP runs one session. The user is taken from the "user" query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	logger := logging.WithUser(h.logger, userID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := h.hub.Connect(userID)
	defer client.Close()

	out := make(chan models.Event, outboundBuffer)
	for _, name := range forwarded {
		client.On(name, func(event models.Event) {
			select {
			case out <- event:
			default:
				logger.Warn().Str("event", string(event.Name)).Msg("outbound buffer full, dropping event")
			}
		})
	}

	go h.writeLoop(ctx, cancel, conn, out, logger)

	logger.Debug().Str("client_id", client.ID()).Msg("session started")
	err = h.readLoop(ctx, conn, client, logger)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Debug().Msg("session closed")
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("session cancelled")
	default:
		logger.Debug().Err(err).Msg("session ended")
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *events.Client, logger zerolog.Logger) error {
	for {
		var event models.Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return err
		}

		var room models.ProjectRoom
		if err := event.Decode(&room); err != nil {
			logger.Warn().Err(err).Str("event", string(event.Name)).Msg("invalid payload")
			continue
		}
		if err := client.Emit(ctx, event.Name, room); err != nil {
			logger.Warn().Err(err).Str("event", string(event.Name)).Msg("rejected client event")
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan models.Event, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-out:
			writeCtx, done := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			done()
			if err != nil {
				logger.Debug().Err(err).Msg("write failed")
				cancel()
				return
			}
		}
	}
}

// encodeEvent builds the wire form of an outbound client request.
func encodeEvent(name models.EventName, payload any) (models.Event, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return models.Event{Name: name, Payload: raw, Timestamp: time.Now().UTC()}, nil
	}
	return models.NewEvent(name, payload)
}
