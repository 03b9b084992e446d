// Package inboxtest provides a scriptable in-memory backend for inbox tests.
package inboxtest

import (
	"context"
	"sync"

	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

// Backend implements source.Backend from in-memory fixtures. Per-folder
// fixtures take precedence over the folder-less defaults. Gates, when set,
// block the matching fetch until the gate channel is closed or receives.
type Backend struct {
	mu sync.Mutex

	DMs      map[models.Folder][]source.DirectMessageRecord
	Projects map[models.Folder][]source.ProjectUpdateRecord
	Channels []source.ChannelRecord
	Counts   map[models.Folder]int

	DMErr      error
	ProjectErr error
	ChannelErr error
	ResolveErr error
	CountErr   error

	Resolved source.ConversationHandle

	// Gates block a fetch for a folder until released.
	Gates map[source.Kind]map[models.Folder]chan struct{}

	calls map[string]int
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		DMs:      map[models.Folder][]source.DirectMessageRecord{},
		Projects: map[models.Folder][]source.ProjectUpdateRecord{},
		Counts:   map[models.Folder]int{},
		Gates:    map[source.Kind]map[models.Folder]chan struct{}{},
		calls:    map[string]int{},
	}
}

// Gate installs a gate for kind/folder and returns it.
func (b *Backend) Gate(kind source.Kind, folder models.Folder) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Gates[kind] == nil {
		b.Gates[kind] = map[models.Folder]chan struct{}{}
	}
	gate := make(chan struct{})
	b.Gates[kind][folder] = gate
	return gate
}

// Calls returns how many times the named operation ran.
func (b *Backend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// Set mutates fixtures under the backend lock.
func (b *Backend) Set(fn func(b *Backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *Backend) wait(ctx context.Context, kind source.Kind, folder models.Folder) error {
	b.mu.Lock()
	gate := b.Gates[kind][folder]
	b.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) record(op string) {
	b.mu.Lock()
	b.calls[op]++
	b.mu.Unlock()
}

func displayFolder(folder models.Folder) models.Folder {
	if folder == "" {
		return models.FolderAll
	}
	return folder
}

func (b *Backend) FetchDirectMessageInbox(ctx context.Context, userID string, folder models.Folder) ([]source.DirectMessageRecord, error) {
	b.record("dm")
	if err := b.wait(ctx, source.KindDirectMessages, displayFolder(folder)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DMErr != nil {
		return nil, b.DMErr
	}
	return append([]source.DirectMessageRecord(nil), b.DMs[displayFolder(folder)]...), nil
}

func (b *Backend) FetchProjectUpdateInbox(ctx context.Context, userID string, folder models.Folder) ([]source.ProjectUpdateRecord, error) {
	b.record("project")
	if err := b.wait(ctx, source.KindProjectUpdates, displayFolder(folder)); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProjectErr != nil {
		return nil, b.ProjectErr
	}
	return append([]source.ProjectUpdateRecord(nil), b.Projects[displayFolder(folder)]...), nil
}

func (b *Backend) FetchChannels(ctx context.Context, userID string, kindFilter string) ([]source.ChannelRecord, error) {
	b.record("channel")
	folder := models.FolderAll
	if kindFilter != "" {
		folder = models.Folder(kindFilter)
	}
	if err := b.wait(ctx, source.KindChannels, folder); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ChannelErr != nil {
		return nil, b.ChannelErr
	}
	var out []source.ChannelRecord
	for _, ch := range b.Channels {
		if kindFilter == "" || ch.ChannelType == kindFilter {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (b *Backend) ResolveOrCreateConversation(ctx context.Context, targetUserID, currentUserID string) (source.ConversationHandle, error) {
	b.record("resolve")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ResolveErr != nil {
		return source.ConversationHandle{}, b.ResolveErr
	}
	return b.Resolved, nil
}

func (b *Backend) FetchFolderUnreadCounts(ctx context.Context, userID string) (map[models.Folder]int, error) {
	b.record("counts")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CountErr != nil {
		return nil, b.CountErr
	}
	out := make(map[models.Folder]int, len(b.Counts))
	for k, v := range b.Counts {
		out[k] = v
	}
	return out, nil
}

var _ source.Backend = (*Backend)(nil)
