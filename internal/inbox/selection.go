package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/deeplink"
	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

// State is the selection controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateResolvingDeepLink
	StateSelected
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolvingDeepLink:
		return "resolving_deep_link"
	case StateSelected:
		return "selected"
	case StateNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fallback is the action offered when a selection cannot be opened.
type Fallback string

const (
	FallbackNone       Fallback = ""
	FallbackNewMessage Fallback = "new_message"
)

var (
	// ErrBootstrapInProgress is returned when a deep-link resolve is already running.
	ErrBootstrapInProgress = errors.New("deep link is already being resolved")
	// ErrMissingTarget is returned when a deep link names no user.
	ErrMissingTarget = errors.New("deep link target user is required")
)

// DeepLinkError reports a failed resolve-or-create call.
type DeepLinkError struct {
	TargetUserID string
	Err          error
}

func (e *DeepLinkError) Error() string {
	return fmt.Sprintf("could not open a conversation with %s: %v", e.TargetUserID, e.Err)
}

func (e *DeepLinkError) Unwrap() error { return e.Err }

// EntryContext is the transient banner describing where a conversation was
// opened from. It belongs to one selection.
type EntryContext struct {
	Kind      string           `json:"kind,omitempty"`
	Role      string           `json:"role,omitempty"`
	Name      string           `json:"name,omitempty"`
	Selection models.Selection `json:"-"`
}

// Target is the detail view an open selection resolves to. Exactly one of the
// item pointers is set.
type Target struct {
	Selection     models.Selection
	DirectMessage *models.DirectMessageItem
	ProjectUpdate *models.ProjectUpdateItem
	Channel       *models.ChannelItem
}

// Kind returns the kind of the resolved item.
func (t *Target) Kind() models.ItemKind {
	switch {
	case t.DirectMessage != nil:
		return models.ItemKindDirectMessage
	case t.ProjectUpdate != nil:
		return models.ItemKindProjectUpdate
	default:
		return models.ItemKindChannel
	}
}

// Provisional reports whether the target is the synthetic placeholder.
func (t *Target) Provisional() bool {
	return t.DirectMessage != nil && t.DirectMessage.Provisional
}

// Resolve finds the item an open selection points at. It returns nil when
// nothing matches, which renders as the empty "pick a conversation" state.
func Resolve(open models.Selection, items []models.Item, placeholder *models.SyntheticConversation) *Target {
	switch open.Kind {
	case models.SelectionDirectMessage:
		for _, item := range items {
			if dm, ok := item.(*models.DirectMessageItem); ok && dm.ID == open.ID {
				return &Target{Selection: open, DirectMessage: dm}
			}
		}
		if placeholder != nil && placeholder.ID == open.ID {
			return &Target{Selection: open, DirectMessage: placeholder.AsItem()}
		}
	case models.SelectionProject:
		for _, item := range items {
			if pu, ok := item.(*models.ProjectUpdateItem); ok && pu.ProjectID == open.ID {
				return &Target{Selection: open, ProjectUpdate: pu}
			}
		}
	case models.SelectionChannel:
		want := models.ChannelItemID(open.ID)
		for _, item := range items {
			if ch, ok := item.(*models.ChannelItem); ok && ch.ID == want {
				return &Target{Selection: open, Channel: ch}
			}
		}
	}
	return nil
}

// SelectionSnapshot is a copy of the controller's observable state.
type SelectionSnapshot struct {
	State     State
	Open      models.Selection
	Entry     *EntryContext
	Err       error
	Fallback  Fallback
	HasSynth  bool
	SynthUser string
}

// Controller owns the open selection, the synthetic placeholder and the entry
// context, and mirrors them into the deep-link location.
type Controller struct {
	resolver source.ConversationResolver
	location deeplink.Location
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	open        models.Selection
	placeholder *models.SyntheticConversation
	entry       *EntryContext
	err         error
	fallback    Fallback
	// attempt increments on every bootstrap and on every explicit selection so
	// a late bootstrap result cannot override a newer choice.
	attempt uint64
}

// NewController creates an idle controller.
func NewController(resolver source.ConversationResolver, location deeplink.Location, logger zerolog.Logger) *Controller {
	if location == nil {
		location = deeplink.NewMemoryLocation(deeplink.State{})
	}
	return &Controller{
		resolver: resolver,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// Select opens raw (flat deep-link form). An empty raw clears the selection.
// The location is updated and an entry context scoped to a different
// selection is dropped.
func (c *Controller) Select(raw string) error {
	next := models.ParseSelection(raw)

	c.mu.Lock()
	c.attempt++
	c.open = next
	c.err = nil
	c.fallback = FallbackNone
	if next.IsZero() {
		c.state = StateIdle
	} else {
		c.state = StateSelected
	}
	if c.entry != nil && c.entry.Selection != next {
		c.entry = nil
	}
	entry := c.entry
	c.mu.Unlock()

	return c.writeLocation(next, entry)
}

// SetEntryContext attaches an entry banner to the current selection and
// mirrors it into the location. Empty values clear it.
func (c *Controller) SetEntryContext(kind, role, name string) error {
	c.mu.Lock()
	if kind == "" && role == "" && name == "" {
		c.entry = nil
	} else {
		c.entry = &EntryContext{Kind: kind, Role: role, Name: name, Selection: c.open}
	}
	open, entry := c.open, c.entry
	c.mu.Unlock()

	return c.writeLocation(open, entry)
}

// Bootstrap resolves or creates the conversation with targetUserID and then
// selects it. It calls the resolver exactly once; on failure the controller
// moves to NotFound, records the error and offers FallbackNewMessage.
func (c *Controller) Bootstrap(ctx context.Context, targetUserID, currentUserID string) error {
	if targetUserID == "" {
		return ErrMissingTarget
	}

	c.mu.Lock()
	if c.state == StateResolvingDeepLink {
		c.mu.Unlock()
		return ErrBootstrapInProgress
	}
	c.attempt++
	attempt := c.attempt
	c.state = StateResolvingDeepLink
	c.open = models.Selection{}
	c.err = nil
	c.fallback = FallbackNone
	c.mu.Unlock()

	handle, err := c.resolver.ResolveOrCreateConversation(ctx, targetUserID, currentUserID)

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		c.logger.Debug().Str("target_user", targetUserID).Msg("deep link superseded by a newer selection")
		return nil
	}
	if err != nil {
		dlErr := &DeepLinkError{TargetUserID: targetUserID, Err: err}
		c.state = StateNotFound
		c.err = dlErr
		c.fallback = FallbackNewMessage
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("target_user", targetUserID).Msg("deep link resolve failed")
		return dlErr
	}

	selection := models.DirectSelection(handle.ConversationID)
	c.placeholder = &models.SyntheticConversation{
		ID:           handle.ConversationID,
		OtherContact: handle.Target,
		Folder:       models.FolderPersonal,
		CreatedAt:    c.now().UTC(),
	}
	c.open = selection
	c.state = StateSelected
	if c.entry != nil {
		c.entry.Selection = selection
	}
	entry := c.entry
	c.mu.Unlock()

	c.logger.Debug().
		Str("conversation_id", handle.ConversationID).
		Bool("created", handle.Created).
		Msg("deep link resolved")
	return c.writeLocation(selection, entry)
}

// Reconcile runs one resolve pass against the merged collection. It discards
// the placeholder once a real conversation with its id is present, and moves
// between Selected and NotFound. settled reports whether every source has
// answered for the current fetch key; a missing item is only NotFound then.
func (c *Controller) Reconcile(items []models.Item, settled bool) *Target {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.placeholder != nil && hasDirectMessage(items, c.placeholder.ID) {
		c.logger.Debug().Str("conversation_id", c.placeholder.ID).Msg("synthetic conversation converged")
		c.placeholder = nil
	}

	target := Resolve(c.open, items, c.placeholder)
	switch c.state {
	case StateSelected:
		if target == nil && settled {
			c.state = StateNotFound
		}
	case StateNotFound:
		if target != nil {
			c.state = StateSelected
		}
	}
	return target
}

// Reset returns to Idle, dropping the error and fallback. The placeholder is kept.
func (c *Controller) Reset() error {
	return c.Select("")
}

// Placeholder returns the synthetic conversation, if any.
func (c *Controller) Placeholder() *models.SyntheticConversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.placeholder == nil {
		return nil
	}
	cp := *c.placeholder
	return &cp
}

// Snapshot returns the observable state.
func (c *Controller) Snapshot() SelectionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := SelectionSnapshot{
		State:    c.state,
		Open:     c.open,
		Err:      c.err,
		Fallback: c.fallback,
	}
	if c.entry != nil {
		entry := *c.entry
		snap.Entry = &entry
	}
	if c.placeholder != nil {
		snap.HasSynth = true
		snap.SynthUser = c.placeholder.OtherContact.ID
	}
	return snap
}

func (c *Controller) writeLocation(selection models.Selection, entry *EntryContext) error {
	state := c.location.Read()
	state.ID = selection.String()
	state.User = ""
	if entry == nil {
		state = state.WithoutEntryContext()
	} else {
		state.Context, state.Role, state.Name = entry.Kind, entry.Role, entry.Name
	}
	if err := c.location.Write(state); err != nil {
		return fmt.Errorf("write deep link: %w", err)
	}
	return nil
}
