package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

type fixture struct {
	store *Store
	alice *User
	bob   *User
	carol *User
}

// newFixture returns a store whose clock advances one second per call.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := NewStore(setupTestDB(t))
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ctx := context.Background()
	f := &fixture{store: store}
	for _, u := range []**User{&f.alice, &f.bob, &f.carol} {
		*u = &User{}
	}
	f.alice.Username, f.alice.FullName = "alice", "Alice Grip"
	f.bob.Username, f.bob.FullName = "bob", "Bob Gaffer"
	f.carol.Username, f.carol.FullName = "carol", "Carol Scout"
	for _, u := range []*User{f.alice, f.bob, f.carol} {
		require.NoError(t, store.CreateUser(ctx, u))
	}
	return f
}

func TestStoreUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byName, err := f.store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, byName.ID)
	assert.Equal(t, models.Contact{ID: f.bob.ID, Handle: "bob", DisplayName: "Bob Gaffer"}, byName.Contact())

	byID, err := f.store.GetUser(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", byID.Username)

	_, err = f.store.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	err = f.store.CreateUser(ctx, &User{Username: "bob"})
	assert.ErrorIs(t, err, ErrUserExists)

	err = f.store.CreateUser(ctx, &User{Username: "  "})
	assert.ErrorIs(t, err, models.ErrEmptyID)

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
}

func TestStoreResolveOrCreateConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.store.ResolveOrCreateConversation(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, f.bob.ID, first.Target.ID)

	again, err := f.store.ResolveOrCreateConversation(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.ConversationID, again.ConversationID)
	assert.Equal(t, f.alice.ID, again.Target.ID)

	_, err = f.store.ResolveOrCreateConversation(ctx, f.alice.ID, f.alice.ID)
	assert.ErrorIs(t, err, models.ErrSelfConversation)

	_, err = f.store.ResolveOrCreateConversation(ctx, "ghost", f.alice.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.store.OpenConversation(ctx, f.alice.ID, f.carol.ID, ConversationOptions{Folder: "nowhere"})
	assert.ErrorIs(t, err, models.ErrInvalidFolder)
}

func TestStoreDirectMessageInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Empty conversations stay out of the inbox.
	_, err := f.store.ResolveOrCreateConversation(ctx, f.carol.ID, f.alice.ID)
	require.NoError(t, err)

	contextID := "job-7"
	_, err = f.store.OpenConversation(ctx, f.bob.ID, f.alice.ID, ConversationOptions{
		Folder:          models.FolderJobs,
		ContextID:       &contextID,
		ContextMetadata: map[string]string{"role": "Gaffer"},
	})
	require.NoError(t, err)
	_, err = f.store.SendMessage(ctx, f.bob.ID, f.alice.ID, "first")
	require.NoError(t, err)
	msg, err := f.store.SendMessage(ctx, f.bob.ID, f.alice.ID, " call time is 6am ")
	require.NoError(t, err)

	records, err := f.store.FetchDirectMessageInbox(ctx, f.alice.ID, models.FolderAll)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, msg.ConversationID, rec.ConversationID)
	assert.Equal(t, "jobs", rec.Folder)
	assert.Equal(t, f.bob.ID, rec.OtherUser.ID)
	require.NotNil(t, rec.LastMessage)
	assert.Equal(t, "call time is 6am", *rec.LastMessage)
	assert.Equal(t, 2, rec.UnreadCount)
	require.NotNil(t, rec.ContextID)
	assert.Equal(t, "job-7", *rec.ContextID)
	assert.Equal(t, map[string]string{"role": "Gaffer"}, rec.ContextMetadata)
	assert.True(t, source.ParseTimestamp(rec.LastMessageAt).Equal(msg.CreatedAt))

	senderView, err := f.store.FetchDirectMessageInbox(ctx, f.bob.ID, models.FolderJobs)
	require.NoError(t, err)
	require.Len(t, senderView, 1)
	assert.Zero(t, senderView[0].UnreadCount)

	personal, err := f.store.FetchDirectMessageInbox(ctx, f.alice.ID, models.FolderPersonal)
	require.NoError(t, err)
	assert.Empty(t, personal)

	require.NoError(t, f.store.MarkConversationRead(ctx, msg.ConversationID, f.alice.ID))
	records, err = f.store.FetchDirectMessageInbox(ctx, f.alice.ID, models.FolderAll)
	require.NoError(t, err)
	assert.Zero(t, records[0].UnreadCount)

	assert.ErrorIs(t, f.store.MarkConversationRead(ctx, "missing", f.alice.ID), ErrConversationNotFound)

	history, err := f.store.ListMessages(ctx, msg.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Body)
}

func TestStoreSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SendMessage(ctx, f.alice.ID, f.bob.ID, "   ")
	assert.ErrorIs(t, err, models.ErrEmptyBody)

	_, err = f.store.SendMessage(ctx, f.alice.ID, f.alice.ID, "hi")
	assert.ErrorIs(t, err, models.ErrSelfConversation)
}

func TestStoreProjectUpdateInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	thumb := "https://cdn.example/p.png"
	project := &Project{Title: "Night Shoot", ThumbnailURL: &thumb}
	require.NoError(t, f.store.CreateProject(ctx, project, f.alice.ID, f.bob.ID))
	quiet := &Project{Title: "Quiet One", Folder: models.FolderApplications}
	require.NoError(t, f.store.CreateProject(ctx, quiet, f.alice.ID))

	_, err := f.store.PostProjectUpdate(ctx, project.ID, f.carol.ID, models.UpdateKindGeneral, "hello")
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = f.store.PostProjectUpdate(ctx, project.ID, f.bob.ID, models.UpdateKindMilestone, "wrapped day 1")
	require.NoError(t, err)
	latest, err := f.store.PostProjectUpdate(ctx, project.ID, f.bob.ID, models.UpdateKindScheduleChange, "day 2 moved")
	require.NoError(t, err)

	records, err := f.store.FetchProjectUpdateInbox(ctx, f.alice.ID, models.FolderAll)
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec := records[0]
	assert.Equal(t, project.UpdateThreadID, rec.ID)
	assert.Equal(t, project.ID, rec.ProjectID)
	assert.Equal(t, "backlot", rec.Folder)
	assert.Equal(t, "Night Shoot", rec.ProjectTitle)
	require.NotNil(t, rec.ProjectThumbnailURL)
	require.NotNil(t, rec.LastMessage)
	assert.Equal(t, "day 2 moved", *rec.LastMessage)
	assert.Equal(t, "schedule_change", rec.UpdateType)
	assert.Equal(t, 2, rec.UnreadCount)
	assert.True(t, source.ParseTimestamp(rec.LastMessageAt).Equal(latest.CreatedAt))

	// Projects without updates carry no activity and sort last.
	assert.Equal(t, quiet.UpdateThreadID, records[1].ID)
	assert.Empty(t, records[1].LastMessageAt)
	assert.Nil(t, records[1].LastMessage)

	filtered, err := f.store.FetchProjectUpdateInbox(ctx, f.alice.ID, models.FolderApplications)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, quiet.ID, filtered[0].ProjectID)

	require.NoError(t, f.store.MarkProjectRead(ctx, project.ID, f.alice.ID))
	records, err = f.store.FetchProjectUpdateInbox(ctx, f.alice.ID, models.FolderBacklot)
	require.NoError(t, err)
	assert.Zero(t, records[0].UnreadCount)

	require.NoError(t, f.store.AddProjectMember(ctx, project.ID, f.carol.ID))
	members, err := f.store.ProjectMembers(ctx, project.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	assert.ErrorIs(t, f.store.AddProjectMember(ctx, "missing", f.carol.ID), ErrProjectNotFound)
	assert.ErrorIs(t, f.store.AddProjectMember(ctx, project.ID, "ghost"), ErrUserNotFound)
}

func TestStoreChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	community := &Channel{Name: "Lighting Talk", ChannelType: "community"}
	require.NoError(t, f.store.CreateChannel(ctx, community))
	assert.Equal(t, "lighting-talk", community.Slug)
	greenroom := &Channel{Name: "Green Room", ChannelType: "greenroom"}
	require.NoError(t, f.store.CreateChannel(ctx, greenroom))

	for _, ch := range []*Channel{community, greenroom} {
		require.NoError(t, f.store.JoinChannel(ctx, ch.ID, f.alice.ID))
		require.NoError(t, f.store.JoinChannel(ctx, ch.Slug, f.bob.ID))
	}
	require.NoError(t, f.store.JoinChannel(ctx, community.ID, f.alice.ID))

	_, err := f.store.PostChannelMessage(ctx, community.ID, f.carol.ID, "hi")
	assert.ErrorIs(t, err, ErrNotAMember)
	_, err = f.store.PostChannelMessage(ctx, community.ID, f.bob.ID, "who has a haze machine?")
	require.NoError(t, err)

	all, err := f.store.FetchChannels(ctx, f.alice.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, community.ID, all[0].ID)
	assert.Equal(t, "community", all[0].Folder)
	assert.Equal(t, 1, all[0].UnreadCount)
	assert.Zero(t, all[1].UnreadCount)

	onlyGreen, err := f.store.FetchChannels(ctx, f.alice.ID, "greenroom")
	require.NoError(t, err)
	require.Len(t, onlyGreen, 1)
	assert.Equal(t, greenroom.ID, onlyGreen[0].ID)

	require.NoError(t, f.store.MarkChannelRead(ctx, community.ID, f.alice.ID))
	assert.ErrorIs(t, f.store.MarkChannelRead(ctx, "missing", f.alice.ID), ErrChannelNotFound)

	_, err = f.store.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestStoreFolderUnreadCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SendMessage(ctx, f.bob.ID, f.alice.ID, "one")
	require.NoError(t, err)
	_, err = f.store.SendMessage(ctx, f.carol.ID, f.alice.ID, "two")
	require.NoError(t, err)

	project := &Project{Title: "Pilot"}
	require.NoError(t, f.store.CreateProject(ctx, project, f.alice.ID, f.bob.ID))
	_, err = f.store.PostProjectUpdate(ctx, project.ID, f.bob.ID, models.UpdateKindAnnouncement, "we are greenlit")
	require.NoError(t, err)

	counts, err := f.store.FetchFolderUnreadCounts(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, map[models.Folder]int{
		models.FolderPersonal: 2,
		models.FolderBacklot:  1,
	}, counts)
}

func TestStoreDrivesInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SendMessage(ctx, f.bob.ID, f.alice.ID, "see you on set")
	require.NoError(t, err)
	project := &Project{Title: "Pilot"}
	require.NoError(t, f.store.CreateProject(ctx, project, f.alice.ID, f.bob.ID))
	_, err = f.store.PostProjectUpdate(ctx, project.ID, f.bob.ID, models.UpdateKindGeneral, "schedule posted")
	require.NoError(t, err)

	box, err := inbox.New(inbox.Options{UserID: f.alice.ID, Backend: f.store})
	require.NoError(t, err)
	t.Cleanup(box.Close)

	require.NoError(t, box.Start(ctx))
	view := box.View()
	require.Len(t, view.Items, 2)
	assert.Equal(t, project.UpdateThreadID, view.Items[0].ItemID())
	assert.Equal(t, 2, view.TotalUnread)

	// Deep-linking to a contact with no conversation yet creates it.
	require.NoError(t, box.OpenWithUser(ctx, f.carol.ID))
	snap := box.View().Selection
	assert.Equal(t, inbox.StateSelected, snap.State)

	handle, err := f.store.ResolveOrCreateConversation(ctx, f.carol.ID, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, handle.Created)
}
