package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-querystring/query"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
)

// ErrNotConnected is returned by Emit while the client is between connections.
var ErrNotConnected = errors.New("websocket not connected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("websocket client closed")

// ClientOptions configure Dial.
type ClientOptions struct {
	URL    string
	UserID string
	Header http.Header

	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	Logger *zerolog.Logger
}

type dialParams struct {
	User string `url:"user"`
}

// Client is a reconnecting websocket transport. It implements inbox.Transport.
// EventConnected is delivered locally after each reconnect, and to handlers
// registered while connected.
type Client struct {
	url    string
	header http.Header
	opts   ClientOptions
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[inbox.SubscriptionID]clientHandler
	closed   bool
}

type clientHandler struct {
	name    models.EventName
	handler inbox.Handler
}

var _ inbox.Transport = (*Client)(nil)

// Dial connects to the server and keeps the connection alive until Close.
// The first dial is synchronous so configuration errors surface immediately.
func Dial(ctx context.Context, opts ClientOptions) (*Client, error) {
	target, err := buildURL(opts.URL, opts.UserID)
	if err != nil {
		return nil, err
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 10 * time.Second
	}
	logger := logging.Component("ws")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Client{
		url:      target,
		header:   opts.Header,
		opts:     opts,
		logger:   logger.With().Str("url", logging.RedactURL(target)).Logger(),
		done:     make(chan struct{}),
		handlers: make(map[inbox.SubscriptionID]clientHandler),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func buildURL(raw, userID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid websocket url scheme %q", u.Scheme)
	}
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	values, err := query.Values(dialParams{User: userID})
	if err != nil {
		return "", err
	}
	existing := u.Query()
	for k, v := range values {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// On registers handler for name. An EventConnected handler registered while
// connected is invoked immediately.
func (c *Client) On(name models.EventName, handler inbox.Handler) inbox.SubscriptionID {
	id := inbox.SubscriptionID(uuid.NewString())

	c.mu.Lock()
	c.handlers[id] = clientHandler{name: name, handler: handler}
	connected := c.conn != nil && !c.closed
	c.mu.Unlock()

	if name == models.EventConnected && connected {
		handler(models.Event{Name: models.EventConnected})
	}
	return id
}

// Off removes a handler.
func (c *Client) Off(id inbox.SubscriptionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// Emit sends a request to the server.
func (c *Client) Emit(ctx context.Context, name models.EventName, payload any) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	event, err := encodeEvent(name, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsjson.Write(ctx, conn, event); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close shuts the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	<-c.done
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", logging.RedactURL(c.url), err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.session(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		conn.CloseNow()
		if closed || c.ctx.Err() != nil {
			return
		}
		c.logger.Info().Err(err).Msg("connection lost, reconnecting")

		conn = c.reconnect()
		if conn == nil {
			return
		}
		c.logger.Info().Msg("reconnected")
		c.dispatch(models.Event{Name: models.EventConnected})
	}
}

func (c *Client) session(conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	if c.opts.PingInterval > 0 {
		go c.keepalive(ctx, cancel, conn)
	}
	for {
		var event models.Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return err
		}
		if event.Name == models.EventConnected {
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) keepalive(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, done := context.WithTimeout(ctx, c.opts.PingInterval)
			err := conn.Ping(pingCtx)
			done()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				cancel()
				return
			}
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	backoff := c.opts.MinBackoff
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.dial(c.ctx)
		if err == nil {
			if !c.setConn(conn) {
				conn.CloseNow()
				return nil
			}
			return conn
		}
		c.logger.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
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
