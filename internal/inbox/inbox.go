// Package inbox implements the unified inbox view-model: three independently
// fetched sources merged into one activity-ordered list, a deep-linkable
// selection, and live invalidation over a push transport.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/deeplink"
	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
)

// ErrClosed is returned by operations on a closed inbox.
var ErrClosed = errors.New("inbox is closed")

// Options configures an Inbox.
type Options struct {
	UserID  string
	Backend source.Backend
	// Transport is optional; without it the inbox does not receive live updates.
	Transport Transport
	// Location defaults to an in-memory location.
	Location deeplink.Location

	DefaultFolder  models.Folder
	ChannelFolders []models.Folder
	FetchTimeout   time.Duration
	UnreadTTL      time.Duration

	Logger zerolog.Logger
	// OnChange receives a snapshot after every state change.
	OnChange func(View)
}

// Notice is a dismissible, non-blocking failure message for one source.
type Notice struct {
	ID      string        `json:"id"`
	Source  source.Kind   `json:"source"`
	Folder  models.Folder `json:"folder"`
	Message string        `json:"message"`
	At      time.Time     `json:"at"`
}

// View is an immutable snapshot of the inbox.
type View struct {
	Folder       models.Folder
	Items        []models.Item
	Target       *Target
	Selection    SelectionSnapshot
	Notices      []Notice
	FolderUnread map[models.Folder]int
	TotalUnread  int
	// Loading is true until every source has answered for the current fetch key.
	Loading bool
}

type fetchKey struct {
	folder     models.Folder
	generation uint64
}

// Inbox owns all view state. Source results are applied only when their
// fetch key still matches, so a folder switch discards in-flight responses.
type Inbox struct {
	userID     string
	loader     *source.Loader
	controller *Controller
	listener   *Listener
	unread     *UnreadCounts
	location   deeplink.Location
	logger     zerolog.Logger
	onChange   func(View)
	now        func() time.Time

	lifeCtx context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	// publishMu serializes listener syncs and observer callbacks so the last
	// one always reflects the latest state.
	publishMu sync.Mutex

	mu           sync.Mutex
	folder       models.Folder
	key          fetchKey
	lists        map[source.Kind][]models.Item
	reported     map[source.Kind]bool
	merged       []models.Item
	target       *Target
	notices      []Notice
	folderUnread map[models.Folder]int
	closed       bool

	// refreshing is set while a live refetch runs; pending asks it to run again.
	refreshing bool
	pending    bool
}

// New creates an inbox. Call Start to load it.
func New(opts Options) (*Inbox, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	location := opts.Location
	if location == nil {
		location = deeplink.NewMemoryLocation(deeplink.State{})
	}
	folder := opts.DefaultFolder
	if folder == "" {
		folder = models.FolderAll
	}
	if err := models.ValidateFolder(folder); err != nil {
		return nil, err
	}

	logger := logging.WithUser(opts.Logger.With().Str("component", "inbox").Logger(), opts.UserID)
	lifeCtx, cancel := context.WithCancel(context.Background())

	i := &Inbox{
		userID: opts.UserID,
		loader: source.NewLoader(source.LoaderConfig{
			Backend:        opts.Backend,
			ChannelFolders: opts.ChannelFolders,
			Timeout:        opts.FetchTimeout,
			Logger:         logger,
		}),
		controller: NewController(opts.Backend, location, logger),
		unread:     NewUnreadCounts(opts.Backend, opts.UnreadTTL),
		location:   location,
		logger:     logger,
		onChange:   opts.OnChange,
		now:        time.Now,
		lifeCtx:    lifeCtx,
		cancel:     cancel,
		folder:     folder,
		key:        fetchKey{folder: folder},
		lists:      map[source.Kind][]models.Item{},
		reported:   map[source.Kind]bool{},
	}
	i.listener = NewListener(opts.Transport, i.invalidate, logger)
	return i, nil
}

// Start reads the deep link, opens its selection (resolving a conversation
// with the linked user when needed), subscribes to live updates and loads
// the active folder. A failed deep-link resolve is reported in the view and
// in the returned error; it is never retried automatically.
func (i *Inbox) Start(ctx context.Context) error {
	state := i.location.Read()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	if state.Folder != "" {
		folder := models.ParseFolder(state.Folder)
		if models.ValidateFolder(folder) == nil {
			i.folder = folder
			i.key = fetchKey{folder: folder}
		} else {
			i.logger.Warn().Str("folder", state.Folder).Msg("ignoring unknown folder in deep link")
		}
	}
	i.mu.Unlock()

	i.listener.Start()

	var bootErr error
	switch {
	case state.ID != "":
		bootErr = i.controller.Select(state.ID)
		if bootErr == nil && state.HasEntryContext() {
			bootErr = i.controller.SetEntryContext(state.Context, state.Role, state.Name)
		}
	case state.User != "":
		if state.HasEntryContext() {
			if err := i.controller.SetEntryContext(state.Context, state.Role, state.Name); err != nil {
				i.logger.Debug().Err(err).Msg("write entry context")
			}
		}
		bootErr = i.controller.Bootstrap(ctx, state.User, i.userID)
	}

	refreshErr := i.Refresh(ctx)
	return errors.Join(bootErr, refreshErr)
}

// OpenWithUser resolves or creates the conversation with targetUserID and
// selects it, showing a placeholder until the conversation is listed.
func (i *Inbox) OpenWithUser(ctx context.Context, targetUserID string) error {
	err := i.controller.Bootstrap(ctx, targetUserID, i.userID)
	i.reconcile()
	return err
}

// Refresh refetches every source for the active folder. Results are applied
// as they arrive; the returned error joins every source failure. A refresh
// superseded by a newer one or by a folder switch returns nil.
func (i *Inbox) Refresh(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.key.generation++
	key := i.key
	i.reported = map[source.Kind]bool{}
	i.mu.Unlock()

	logger := i.logger.With().Str("folder", string(key.folder)).Uint64("generation", key.generation).Logger()
	logger.Debug().Msg("refreshing inbox")

	results := i.loader.FetchAll(ctx, i.userID, key.folder, func(res source.Result) {
		i.apply(key, res)
	})

	counts, countErr := i.unread.Get(ctx, i.userID)
	if countErr != nil {
		logger.Debug().Err(countErr).Msg("unread counts unavailable")
	}
	i.mu.Lock()
	current := i.key == key
	if current && counts != nil {
		i.folderUnread = counts
	}
	i.mu.Unlock()
	if !current {
		logger.Debug().Msg("refresh superseded")
		return nil
	}
	i.publish()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// SetFolder switches the active folder. In-flight results for the previous
// folder are discarded and every source starts empty for the new one.
func (i *Inbox) SetFolder(ctx context.Context, folder models.Folder) error {
	if err := models.ValidateFolder(folder); err != nil {
		return err
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	if folder != i.folder {
		i.folder = folder
		i.key = fetchKey{folder: folder, generation: i.key.generation + 1}
		i.lists = map[source.Kind][]models.Item{}
		i.reported = map[source.Kind]bool{}
		i.notices = nil
		i.rebuildLocked()
	}
	i.mu.Unlock()

	state := i.location.Read()
	state.Folder = string(folder)
	if err := i.location.Write(state); err != nil {
		i.logger.Warn().Err(err).Msg("write deep link folder")
	}

	i.publish()
	return i.Refresh(ctx)
}

// Select opens raw (flat deep-link form; empty clears the selection).
func (i *Inbox) Select(raw string) error {
	err := i.controller.Select(raw)
	i.reconcile()
	return err
}

// ClearSelection returns to the empty state, dismissing any deep-link error.
func (i *Inbox) ClearSelection() error {
	err := i.controller.Reset()
	i.reconcile()
	return err
}

// DismissNotice removes a notice by id.
func (i *Inbox) DismissNotice(id string) {
	i.mu.Lock()
	for idx, notice := range i.notices {
		if notice.ID == id {
			i.notices = append(i.notices[:idx:idx], i.notices[idx+1:]...)
			break
		}
	}
	i.mu.Unlock()
	i.publish()
}

// View returns the current snapshot.
func (i *Inbox) View() View {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.viewLocked()
}

// Close leaves every project room, unregisters handlers and waits for
// background refreshes.
func (i *Inbox) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	i.bg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	i.listener.Close(ctx)
}

func (i *Inbox) apply(key fetchKey, res source.Result) {
	i.mu.Lock()
	if key != i.key {
		i.mu.Unlock()
		i.logger.Debug().
			Str("source", string(res.Source)).
			Str("folder", string(key.folder)).
			Msg("discarding stale source result")
		return
	}

	i.reported[res.Source] = true
	if res.Err != nil {
		// The previous list for this folder, if any, stays as last-known-good.
		i.setNoticeLocked(res)
	} else {
		i.lists[res.Source] = res.Items
		i.clearNoticeLocked(res.Source)
	}
	i.rebuildLocked()
	i.mu.Unlock()

	i.publish()
}

func (i *Inbox) reconcile() {
	i.mu.Lock()
	i.rebuildLocked()
	i.mu.Unlock()
	i.publish()
}

func (i *Inbox) rebuildLocked() {
	placeholder := i.controller.Placeholder()
	if !placeholderVisible(placeholder, i.folder) {
		placeholder = nil
	}
	i.merged = Merge(
		i.lists[source.KindDirectMessages],
		i.lists[source.KindProjectUpdates],
		i.lists[source.KindChannels],
		placeholder,
	)
	i.target = i.controller.Reconcile(i.merged, i.settledLocked())
}

func (i *Inbox) settledLocked() bool {
	return len(i.reported) == len(source.Kinds)
}

func (i *Inbox) setNoticeLocked(res source.Result) {
	notice := Notice{
		ID:      uuid.NewString(),
		Source:  res.Source,
		Folder:  res.Folder,
		Message: noticeMessage(res.Source),
		At:      i.now().UTC(),
	}
	for idx, existing := range i.notices {
		if existing.Source == res.Source {
			i.notices[idx] = notice
			return
		}
	}
	i.notices = append(i.notices, notice)
}

func (i *Inbox) clearNoticeLocked(kind source.Kind) {
	kept := i.notices[:0]
	for _, notice := range i.notices {
		if notice.Source != kind {
			kept = append(kept, notice)
		}
	}
	i.notices = kept
}

func noticeMessage(kind source.Kind) string {
	switch kind {
	case source.KindDirectMessages:
		return "Messages could not be loaded."
	case source.KindProjectUpdates:
		return "Project updates could not be loaded."
	case source.KindChannels:
		return "Channels could not be loaded."
	default:
		return "Part of the inbox could not be loaded."
	}
}

func (i *Inbox) viewLocked() View {
	total := 0
	for _, item := range i.merged {
		total += item.Unread()
	}
	var folderUnread map[models.Folder]int
	if i.folderUnread != nil {
		folderUnread = make(map[models.Folder]int, len(i.folderUnread))
		for k, v := range i.folderUnread {
			folderUnread[k] = v
		}
	}
	return View{
		Folder:       i.folder,
		Items:        append([]models.Item(nil), i.merged...),
		Target:       i.target,
		Selection:    i.controller.Snapshot(),
		Notices:      append([]Notice(nil), i.notices...),
		FolderUnread: folderUnread,
		TotalUnread:  total,
		Loading:      !i.settledLocked(),
	}
}

// publish syncs project rooms with the merged list and notifies the observer.
func (i *Inbox) publish() {
	i.publishMu.Lock()
	defer i.publishMu.Unlock()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	view := i.viewLocked()
	projectIDs := projectIDsOf(i.merged)
	i.mu.Unlock()

	i.listener.Sync(i.lifeCtx, projectIDs)
	if i.onChange != nil {
		i.onChange(view)
	}
}

// invalidate is called by the listener on push events. It never merges the
// payload; it refetches. At most one live refetch runs at a time, and pushes
// arriving meanwhile collapse into a single trailing refetch.
func (i *Inbox) invalidate(reason models.EventName) {
	i.unread.Invalidate()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	if i.refreshing {
		i.pending = true
		i.mu.Unlock()
		i.logger.Debug().Str("reason", string(reason)).Msg("live update, refetch queued")
		return
	}
	i.refreshing = true
	i.bg.Add(1)
	i.mu.Unlock()

	i.logger.Debug().Str("reason", string(reason)).Msg("live update, refetching")
	go i.liveRefresh()
}

func (i *Inbox) liveRefresh() {
	defer i.bg.Done()
	for {
		if err := i.Refresh(i.lifeCtx); err != nil && !errors.Is(err, ErrClosed) {
			i.logger.Debug().Err(err).Msg("live refetch incomplete")
		}

		i.mu.Lock()
		if !i.pending || i.closed {
			i.refreshing = false
			i.pending = false
			i.mu.Unlock()
			return
		}
		i.pending = false
		i.mu.Unlock()
	}
}

func projectIDsOf(items []models.Item) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		pu, ok := item.(*models.ProjectUpdateItem)
		if !ok || pu.ProjectID == "" || seen[pu.ProjectID] {
			continue
		}
		seen[pu.ProjectID] = true
		out = append(out, pu.ProjectID)
	}
	return out
}
