package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
	"github.com/tOgg1/backlot/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type invalidations struct {
	mu      sync.Mutex
	reasons []models.EventName
}

func (r *invalidations) record(reason models.EventName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *invalidations) has(reason models.EventName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.reasons, reason)
}

// droppableServer serves the hub and can sever every live session.
type droppableServer struct {
	*httptest.Server

	mu      sync.Mutex
	cancels []context.CancelFunc
}

func newServer(t *testing.T, hub *events.Hub) *droppableServer {
	t.Helper()
	testutil.SkipIfNoNetwork(t)

	s := &droppableServer{}
	handler := NewHandler(hub, WithHandlerLogger(logging.Nop()))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		s.mu.Lock()
		s.cancels = append(s.cancels, cancel)
		s.mu.Unlock()
		handler.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *droppableServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func dial(t *testing.T, url, userID string) *Client {
	t.Helper()

	logger := logging.Nop()
	client, err := Dial(context.Background(), ClientOptions{
		URL:        url,
		UserID:     userID,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     &logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		user    string
		want    string
		wantErr bool
	}{
		{name: "http becomes ws", raw: "http://localhost:8080/ws", user: "u1", want: "ws://localhost:8080/ws?user=u1"},
		{name: "https becomes wss", raw: "https://example.com/ws?token=abc", user: "u 2", want: "wss://example.com/ws?token=abc&user=u+2"},
		{name: "ws kept", raw: "ws://h/ws", user: "u1", want: "ws://h/ws?user=u1"},
		{name: "bad scheme", raw: "ftp://h/ws", user: "u1", wantErr: true},
		{name: "missing user", raw: "ws://h/ws", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildURL(tt.raw, tt.user)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlerRequiresUser(t *testing.T) {
	srv := newServer(t, events.NewHub())

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientDrivesListener(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(events.WithLogger(logging.Nop()))
	srv := newServer(t, hub)
	client := dial(t, srv.URL, "u1")

	rec := &invalidations{}
	listener := inbox.NewListener(client, rec.record, logging.Nop())
	listener.Start()
	listener.Sync(ctx, []string{"p1"})

	require.Eventually(t, func() bool {
		return slices.Equal(hub.RoomMembers("p1"), []string{"u1"})
	}, waitFor, tick)
	assert.Equal(t, []string{"p1"}, listener.Joined())
	assert.False(t, rec.has(models.EventConnected), "initial connect must not invalidate")

	require.NoError(t, hub.PublishProjectUpdate(ctx, models.ProjectUpdateNotice{ProjectID: "p1"}))
	require.Eventually(t, func() bool { return rec.has(models.EventProjectNewUpdate) }, waitFor, tick)

	require.NoError(t, hub.PublishToUser(ctx, "u1", models.EventNewMessage, models.MessageNotice{ConversationID: "c1"}))
	require.Eventually(t, func() bool { return rec.has(models.EventNewMessage) }, waitFor, tick)

	listener.Sync(ctx, nil)
	require.Eventually(t, func() bool { return len(hub.RoomMembers("p1")) == 0 }, waitFor, tick)
}

func TestClientReconnectsAndRejoins(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(events.WithLogger(logging.Nop()))
	srv := newServer(t, hub)
	client := dial(t, srv.URL, "u1")

	rec := &invalidations{}
	listener := inbox.NewListener(client, rec.record, logging.Nop())
	listener.Start()
	listener.Sync(ctx, []string{"p1", "p2"})
	require.Eventually(t, func() bool { return len(hub.RoomMembers("p2")) == 1 }, waitFor, tick)

	srv.dropAll()

	require.Eventually(t, func() bool { return rec.has(models.EventConnected) }, waitFor, tick)
	require.Eventually(t, func() bool {
		return slices.Equal(hub.RoomMembers("p1"), []string{"u1"}) &&
			slices.Equal(hub.RoomMembers("p2"), []string{"u1"}) &&
			hub.ClientCount() == 1
	}, waitFor, tick)
	assert.True(t, client.Connected())
}

func TestClientClose(t *testing.T) {
	hub := events.NewHub(events.WithLogger(logging.Nop()))
	srv := newServer(t, hub)
	client := dial(t, srv.URL, "u1")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, waitFor, tick)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	err := client.Emit(context.Background(), models.EventJoinProjectUpdates, models.ProjectRoom{ProjectID: "p1"})
	require.ErrorIs(t, err, ErrClosed)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, waitFor, tick)
}

func TestDialFailure(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), ClientOptions{URL: srv.URL, UserID: "u1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dial"))
}
