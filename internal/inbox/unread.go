package inbox

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

const defaultUnreadTTL = 30 * time.Second

type timedEntry[T any] struct {
	value   T
	expires time.Time
	ok      bool
}

// UnreadCounts caches per-folder unread badges for a short TTL.
type UnreadCounts struct {
	counter source.UnreadCounter
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]timedEntry[map[models.Folder]int]
}

// NewUnreadCounts creates a cache in front of counter.
func NewUnreadCounts(counter source.UnreadCounter, ttl time.Duration) *UnreadCounts {
	if ttl <= 0 {
		ttl = defaultUnreadTTL
	}
	return &UnreadCounts{
		counter: counter,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]timedEntry[map[models.Folder]int]),
	}
}

// Get returns cached counts while fresh, otherwise refetches. When the fetch
// fails the last value is returned along with the error.
func (u *UnreadCounts) Get(ctx context.Context, userID string) (map[models.Folder]int, error) {
	if counts, ok := u.cached(userID); ok {
		return counts, nil
	}

	counts, err := u.counter.FetchFolderUnreadCounts(ctx, userID)
	if err != nil {
		u.mu.Lock()
		stale := maps.Clone(u.entries[userID].value)
		u.mu.Unlock()
		return stale, err
	}
	for folder, n := range counts {
		counts[folder] = models.ClampUnread(n)
	}

	u.mu.Lock()
	u.entries[userID] = timedEntry[map[models.Folder]int]{
		value:   maps.Clone(counts),
		expires: u.now().Add(u.ttl),
		ok:      true,
	}
	u.mu.Unlock()
	return counts, nil
}

// Invalidate marks every entry stale without dropping its value.
func (u *UnreadCounts) Invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for key, entry := range u.entries {
		entry.ok = false
		u.entries[key] = entry
	}
}

func (u *UnreadCounts) cached(userID string) (map[models.Folder]int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	entry, ok := u.entries[userID]
	if !ok || !entry.ok || u.now().After(entry.expires) {
		return nil, false
	}
	return maps.Clone(entry.value), true
}
