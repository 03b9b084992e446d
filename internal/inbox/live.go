package inbox

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/models"
)

// Handler receives one realtime event.
type Handler func(models.Event)

// SubscriptionID identifies a handler registered with Transport.On.
type SubscriptionID string

// Transport is the push channel the inbox listens on. Implementations
// deliver EventConnected locally on every (re)connect.
type Transport interface {
	On(name models.EventName, handler Handler) SubscriptionID
	Off(id SubscriptionID)
	Emit(ctx context.Context, name models.EventName, payload any) error
}

// Listener keeps one project-update room joined per project present in the
// merged collection, and turns push notifications into invalidations. Push
// payloads are never merged into the list.
type Listener struct {
	transport  Transport
	invalidate func(models.EventName)
	logger     zerolog.Logger

	syncMu sync.Mutex

	mu       sync.Mutex
	desired  map[string]struct{}
	joined   map[string]struct{}
	subs     []SubscriptionID
	started  bool
	connects int
}

// NewListener creates a listener. A nil transport yields a listener whose
// methods are no-ops.
func NewListener(transport Transport, invalidate func(models.EventName), logger zerolog.Logger) *Listener {
	if invalidate == nil {
		invalidate = func(models.EventName) {}
	}
	return &Listener{
		transport:  transport,
		invalidate: invalidate,
		logger:     logger,
		desired:    map[string]struct{}{},
		joined:     map[string]struct{}{},
	}
}

// Start registers event handlers. It is safe to call more than once.
func (l *Listener) Start() {
	if l.transport == nil {
		return
	}
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	subs := []SubscriptionID{
		l.transport.On(models.EventConnected, l.handleConnected),
		l.transport.On(models.EventProjectNewUpdate, l.handleProjectUpdate),
		l.transport.On(models.EventNewUpdate, l.handleInvalidate),
		l.transport.On(models.EventNewMessage, l.handleInvalidate),
	}

	l.mu.Lock()
	l.subs = subs
	l.mu.Unlock()
}

// Sync makes the joined rooms match projectIDs: rooms no longer wanted are
// left, new ones are joined. A failed join stays pending until the next Sync
// or reconnect.
func (l *Listener) Sync(ctx context.Context, projectIDs []string) {
	if l.transport == nil {
		return
	}
	l.syncMu.Lock()
	defer l.syncMu.Unlock()
	l.syncLocked(ctx, projectIDs)
}

// syncLocked diffs and emits. The caller holds syncMu, so a reconnect can
// never reset joined state while a join is in flight.
func (l *Listener) syncLocked(ctx context.Context, projectIDs []string) {
	desired := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		if id != "" {
			desired[id] = struct{}{}
		}
	}

	l.mu.Lock()
	l.desired = desired
	var leave, join []string
	for id := range l.joined {
		if _, ok := desired[id]; !ok {
			leave = append(leave, id)
		}
	}
	for id := range desired {
		if _, ok := l.joined[id]; !ok {
			join = append(join, id)
		}
	}
	l.mu.Unlock()

	slices.Sort(leave)
	slices.Sort(join)

	for _, id := range leave {
		if err := l.transport.Emit(ctx, models.EventLeaveProjectUpdates, models.ProjectRoom{ProjectID: id}); err != nil {
			l.logger.Debug().Err(err).Str("project_id", id).Msg("leave project room failed")
		}
		l.mu.Lock()
		delete(l.joined, id)
		l.mu.Unlock()
	}
	for _, id := range join {
		if err := l.transport.Emit(ctx, models.EventJoinProjectUpdates, models.ProjectRoom{ProjectID: id}); err != nil {
			l.logger.Warn().Err(err).Str("project_id", id).Msg("join project room failed")
			continue
		}
		l.mu.Lock()
		l.joined[id] = struct{}{}
		l.mu.Unlock()
	}
}

// Joined returns the rooms currently joined, sorted.
func (l *Listener) Joined() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.joined))
	for id := range l.joined {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Close leaves every joined room and unregisters all handlers.
func (l *Listener) Close(ctx context.Context) {
	if l.transport == nil {
		return
	}
	l.Sync(ctx, nil)

	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.started = false
	l.mu.Unlock()

	for _, id := range subs {
		l.transport.Off(id)
	}
}

// handleConnected rejoins every desired room. The server forgets rooms across
// a reconnect, so joined state is rebuilt from scratch. Anything pushed while
// disconnected was missed, so a reconnect also invalidates.
func (l *Listener) handleConnected(models.Event) {
	l.syncMu.Lock()
	l.mu.Lock()
	ids := make([]string, 0, len(l.desired))
	for id := range l.desired {
		ids = append(ids, id)
	}
	l.joined = map[string]struct{}{}
	l.connects++
	reconnect := l.connects > 1
	l.mu.Unlock()

	l.logger.Debug().Int("rooms", len(ids)).Bool("reconnect", reconnect).Msg("transport connected")
	l.syncLocked(context.Background(), ids)
	l.syncMu.Unlock()

	if reconnect {
		l.invalidate(models.EventConnected)
	}
}

func (l *Listener) handleProjectUpdate(event models.Event) {
	var notice models.ProjectUpdateNotice
	if err := event.Decode(&notice); err != nil {
		l.logger.Debug().Err(err).Msg("malformed project update notice")
	}
	if notice.ProjectID != "" {
		l.mu.Lock()
		_, wanted := l.desired[notice.ProjectID]
		l.mu.Unlock()
		if !wanted {
			return
		}
	}
	l.invalidate(event.Name)
}

func (l *Listener) handleInvalidate(event models.Event) {
	l.invalidate(event.Name)
}
