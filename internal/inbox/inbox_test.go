package inbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/backlot/internal/deeplink"
	"github.com/tOgg1/backlot/internal/inbox/inboxtest"
	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
)

func strPtr(s string) *string { return &s }

func seededBackend() *inboxtest.Backend {
	backend := inboxtest.New()
	backend.DMs[models.FolderAll] = []source.DirectMessageRecord{
		{ConversationID: "c1", OtherUser: source.UserRecord{ID: "u2", FullName: "Dana K"}, LastMessage: strPtr("see you on set"), LastMessageAt: "2026-03-01T12:03:00Z", UnreadCount: 2},
	}
	backend.DMs[models.FolderPersonal] = []source.DirectMessageRecord{
		{ConversationID: "c9", OtherUser: source.UserRecord{ID: "u3"}, LastMessageAt: "2026-03-01T12:09:00Z"},
	}
	backend.Projects[models.FolderAll] = []source.ProjectUpdateRecord{
		{ID: "t1", ProjectID: "42", ProjectTitle: "Night Shoot", LastMessageAt: "2026-03-01T12:01:00Z", UpdateType: "milestone", UnreadCount: 1},
	}
	backend.Channels = []source.ChannelRecord{
		{ID: "ch1", Name: "Lighting", ChannelType: "community", LastMessageAt: "2026-03-01T12:02:00Z"},
	}
	backend.Counts[models.FolderPersonal] = 2
	backend.Counts[models.FolderBacklot] = 1
	return backend
}

func newInbox(t *testing.T, backend *inboxtest.Backend, mutate func(*Options)) *Inbox {
	t.Helper()
	opts := Options{
		UserID:  "u1",
		Backend: backend,
		Logger:  logging.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	i, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(i.Close)
	return i
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Backend: inboxtest.New()})
	require.Error(t, err)

	_, err = New(Options{UserID: "u1"})
	require.Error(t, err)

	_, err = New(Options{UserID: "u1", Backend: inboxtest.New(), DefaultFolder: "drafts"})
	require.ErrorIs(t, err, models.ErrInvalidFolder)
}

func TestInboxStartMergesSources(t *testing.T) {
	var changes atomic.Int32
	i := newInbox(t, seededBackend(), func(o *Options) {
		o.OnChange = func(View) { changes.Add(1) }
	})

	require.NoError(t, i.Start(context.Background()))

	view := i.View()
	require.Equal(t, models.FolderAll, view.Folder)
	require.Equal(t, []string{"c1", "channel:ch1", "t1"}, ids(view.Items))
	require.False(t, view.Loading)
	require.Equal(t, 3, view.TotalUnread)
	require.Equal(t, 2, view.FolderUnread[models.FolderPersonal])
	require.Empty(t, view.Notices)
	require.Nil(t, view.Target)
	require.Equal(t, StateIdle, view.Selection.State)
	require.Positive(t, changes.Load())
}

func TestInboxStartOpensDeepLinkedProject(t *testing.T) {
	loc := deeplink.NewMemoryLocation(deeplink.State{ID: "project:42", Context: "application", Role: "gaffer"})
	i := newInbox(t, seededBackend(), func(o *Options) { o.Location = loc })

	require.NoError(t, i.Start(context.Background()))

	view := i.View()
	require.NotNil(t, view.Target)
	require.Equal(t, models.ItemKindProjectUpdate, view.Target.Kind())
	require.Equal(t, "t1", view.Target.ProjectUpdate.ID)
	require.Equal(t, StateSelected, view.Selection.State)
	require.NotNil(t, view.Selection.Entry)
	require.Equal(t, "gaffer", loc.Read().Role)

	require.NoError(t, i.Select("c1"))
	require.Equal(t, "c1", loc.Read().ID)
	require.False(t, loc.Read().HasEntryContext())
	require.Equal(t, models.ItemKindDirectMessage, i.View().Target.Kind())
}

func TestInboxSelectMissingItemIsNotFound(t *testing.T) {
	i := newInbox(t, seededBackend(), nil)
	require.NoError(t, i.Start(context.Background()))

	require.NoError(t, i.Select("channel:gone"))
	view := i.View()
	require.Nil(t, view.Target)
	require.Equal(t, StateNotFound, view.Selection.State)
}

func TestInboxFolderSwitchDiscardsStaleResults(t *testing.T) {
	backend := seededBackend()
	gate := backend.Gate(source.KindDirectMessages, models.FolderAll)
	i := newInbox(t, backend, nil)

	started := make(chan error, 1)
	go func() { started <- i.Start(context.Background()) }()

	require.Eventually(t, func() bool { return backend.Calls("dm") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, i.SetFolder(context.Background(), models.FolderPersonal))
	require.Equal(t, []string{"c9"}, ids(i.View().Items))

	close(gate)
	require.NoError(t, <-started)

	view := i.View()
	require.Equal(t, models.FolderPersonal, view.Folder)
	require.Equal(t, []string{"c9"}, ids(view.Items))
	require.False(t, view.Loading)
}

func TestInboxPartialFailureKeepsOtherSources(t *testing.T) {
	backend := seededBackend()
	backend.ChannelErr = errors.New("channels unavailable")
	i := newInbox(t, backend, nil)

	err := i.Start(context.Background())
	var srcErr *source.SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, source.KindChannels, srcErr.Source)

	view := i.View()
	require.Equal(t, []string{"c1", "t1"}, ids(view.Items))
	require.Len(t, view.Notices, 1)
	require.Equal(t, source.KindChannels, view.Notices[0].Source)

	// Selection keeps working against the sources that did answer.
	require.NoError(t, i.Select("c1"))
	view = i.View()
	require.NotNil(t, view.Target)
	require.NotNil(t, view.Target.DirectMessage)
	require.Equal(t, "c1", view.Target.DirectMessage.ID)
	require.Equal(t, StateSelected, view.Selection.State)

	i.DismissNotice(view.Notices[0].ID)
	require.Empty(t, i.View().Notices)
}

func TestInboxDeepLinkedDirectMessageSurvivesChannelFailure(t *testing.T) {
	backend := seededBackend()
	backend.ChannelErr = errors.New("channels unavailable")
	loc := deeplink.NewMemoryLocation(deeplink.State{ID: "c1"})
	i := newInbox(t, backend, func(o *Options) { o.Location = loc })

	var srcErr *source.SourceError
	require.ErrorAs(t, i.Start(context.Background()), &srcErr)

	view := i.View()
	require.NotNil(t, view.Target)
	require.Equal(t, "c1", view.Target.DirectMessage.ID)
	require.Equal(t, StateSelected, view.Selection.State)
}

func TestInboxFailedSourceKeepsLastKnownGood(t *testing.T) {
	backend := seededBackend()
	i := newInbox(t, backend, nil)
	require.NoError(t, i.Start(context.Background()))

	backend.Set(func(b *inboxtest.Backend) { b.DMErr = errors.New("timeout") })
	require.Error(t, i.Refresh(context.Background()))

	view := i.View()
	require.Equal(t, []string{"c1", "channel:ch1", "t1"}, ids(view.Items))
	require.Len(t, view.Notices, 1)

	backend.Set(func(b *inboxtest.Backend) { b.DMErr = nil })
	require.NoError(t, i.Refresh(context.Background()))
	require.Empty(t, i.View().Notices)

	// A folder switch drops last-known-good: the failing source is empty.
	backend.Set(func(b *inboxtest.Backend) { b.DMErr = errors.New("timeout") })
	require.Error(t, i.SetFolder(context.Background(), models.FolderCommunity))
	require.Equal(t, []string{"channel:ch1"}, ids(i.View().Items))
}

func TestInboxDeepLinkBootstrapFailure(t *testing.T) {
	backend := seededBackend()
	backend.ResolveErr = errors.New("user not found")
	loc := deeplink.NewMemoryLocation(deeplink.State{User: "u9"})
	i := newInbox(t, backend, func(o *Options) { o.Location = loc })

	err := i.Start(context.Background())
	var dlErr *DeepLinkError
	require.ErrorAs(t, err, &dlErr)

	view := i.View()
	require.Equal(t, StateNotFound, view.Selection.State)
	require.Equal(t, FallbackNewMessage, view.Selection.Fallback)
	require.Len(t, view.Items, 3)

	require.NoError(t, i.Refresh(context.Background()))
	require.NoError(t, i.Refresh(context.Background()))
	require.Equal(t, 1, backend.Calls("resolve"))
	require.Equal(t, StateNotFound, i.View().Selection.State)

	require.NoError(t, i.ClearSelection())
	require.Equal(t, StateIdle, i.View().Selection.State)
}

func TestInboxSyntheticConversationConverges(t *testing.T) {
	backend := seededBackend()
	backend.Resolved = source.ConversationHandle{
		ConversationID: "X",
		Target:         models.Contact{ID: "u9", DisplayName: "Sam"},
		Created:        true,
	}
	loc := deeplink.NewMemoryLocation(deeplink.State{User: "u9", Context: "application", Name: "Night Shoot"})
	i := newInbox(t, backend, func(o *Options) { o.Location = loc })
	i.controller.now = func() time.Time { return at(20) }

	require.NoError(t, i.Start(context.Background()))

	view := i.View()
	require.NotNil(t, view.Target)
	require.True(t, view.Target.Provisional())
	require.Equal(t, "X", loc.Read().ID)
	require.Equal(t, "Night Shoot", loc.Read().Name)
	require.Equal(t, []string{"X", "c1", "channel:ch1", "t1"}, ids(view.Items))

	backend.Set(func(b *inboxtest.Backend) {
		b.DMs[models.FolderAll] = append(b.DMs[models.FolderAll], source.DirectMessageRecord{
			ConversationID: "X",
			OtherUser:      source.UserRecord{ID: "u9", FullName: "Sam"},
			LastMessage:    strPtr("hi"),
			LastMessageAt:  "2026-03-01T12:10:00Z",
		})
	})
	require.NoError(t, i.Refresh(context.Background()))

	view = i.View()
	require.False(t, view.Target.Provisional())
	require.Equal(t, "X", view.Items[0].ItemID())
	count := 0
	for _, item := range view.Items {
		if item.ItemID() == "X" {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.False(t, view.Selection.HasSynth)
}

func TestInboxPlaceholderListedOnlyInItsFolder(t *testing.T) {
	backend := seededBackend()
	backend.Resolved = source.ConversationHandle{
		ConversationID: "X",
		Target:         models.Contact{ID: "u9", DisplayName: "Sam"},
		Created:        true,
	}
	i := newInbox(t, backend, nil)
	i.controller.now = func() time.Time { return at(20) }

	require.NoError(t, i.Start(context.Background()))
	require.NoError(t, i.OpenWithUser(context.Background(), "u9"))
	require.Contains(t, ids(i.View().Items), "X")

	require.NoError(t, i.SetFolder(context.Background(), models.FolderCommunity))
	view := i.View()
	require.Equal(t, []string{"channel:ch1"}, ids(view.Items))
	require.True(t, view.Selection.HasSynth)
	require.NotNil(t, view.Target)
	require.True(t, view.Target.Provisional())

	require.NoError(t, i.SetFolder(context.Background(), models.FolderPersonal))
	require.Equal(t, []string{"X", "c9"}, ids(i.View().Items))
}

func TestInboxCoalescesBurstOfPushes(t *testing.T) {
	backend := seededBackend()
	transport := newFakeTransport()
	i := newInbox(t, backend, func(o *Options) { o.Transport = transport })
	require.NoError(t, i.Start(context.Background()))

	before := backend.Calls("dm")
	gate := backend.Gate(source.KindDirectMessages, models.FolderAll)

	transport.fire(t, models.EventNewMessage, models.MessageNotice{ConversationID: "c1"})
	require.Eventually(t, func() bool { return backend.Calls("dm") == before+1 }, time.Second, 5*time.Millisecond)
	for range 10 {
		transport.fire(t, models.EventNewMessage, models.MessageNotice{ConversationID: "c1"})
	}
	close(gate)

	// One refresh in flight plus one trailing refresh for the whole burst.
	require.Eventually(t, func() bool { return backend.Calls("dm") == before+2 }, time.Second, 5*time.Millisecond)
	i.Close()
	require.Equal(t, before+2, backend.Calls("dm"))
}

func TestInboxJoinsProjectRoomsAndRefetchesOnPush(t *testing.T) {
	backend := seededBackend()
	transport := newFakeTransport()
	i := newInbox(t, backend, func(o *Options) { o.Transport = transport })

	require.NoError(t, i.Start(context.Background()))
	require.Equal(t, []string{"42"}, i.listener.Joined())
	require.Contains(t, transport.takeEmits(), emitted{models.EventJoinProjectUpdates, "42"})

	before := backend.Calls("project")
	backend.Set(func(b *inboxtest.Backend) {
		b.Projects[models.FolderAll][0].LastMessageAt = "2026-03-01T12:30:00Z"
	})
	transport.fire(t, models.EventProjectNewUpdate, models.ProjectUpdateNotice{ProjectID: "42"})

	require.Eventually(t, func() bool {
		items := i.View().Items
		return backend.Calls("project") > before && len(items) > 0 && items[0].ItemID() == "t1"
	}, time.Second, 5*time.Millisecond)

	i.Close()
	require.Contains(t, transport.takeEmits(), emitted{models.EventLeaveProjectUpdates, "42"})
	require.Zero(t, transport.handlerCount())
	require.ErrorIs(t, i.Refresh(context.Background()), ErrClosed)
}
