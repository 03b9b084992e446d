package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		raw  string
		want Selection
	}{
		{raw: "", want: Selection{}},
		{raw: "project:42", want: Selection{Kind: SelectionProject, ID: "42"}},
		{raw: "channel:abc", want: Selection{Kind: SelectionChannel, ID: "abc"}},
		{raw: "conv-9", want: Selection{Kind: SelectionDirectMessage, ID: "conv-9"}},
		{raw: "project:", want: Selection{Kind: SelectionProject, ID: ""}},
		{raw: "Project:42", want: Selection{Kind: SelectionDirectMessage, ID: "Project:42"}},
		{raw: "projects:42", want: Selection{Kind: SelectionDirectMessage, ID: "projects:42"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			require.Equal(t, tt.want, ParseSelection(tt.raw))
		})
	}
}

func TestSelectionStringRoundTrip(t *testing.T) {
	for _, raw := range []string{"project:42", "channel:abc", "conv-9"} {
		require.Equal(t, raw, ParseSelection(raw).String())
	}
	require.Equal(t, "", Selection{}.String())
	require.True(t, Selection{}.IsZero())
}

func TestSelectionFor(t *testing.T) {
	require.Equal(t, DirectSelection("c1"), SelectionFor(&DirectMessageItem{ID: "c1"}))
	require.Equal(t, ProjectSelection("p1"), SelectionFor(&ProjectUpdateItem{ID: "t1", ProjectID: "p1"}))
	require.Equal(t, ChannelSelection("ch1"), SelectionFor(&ChannelItem{ID: ChannelItemID("ch1")}))
}

func TestSyntheticConversationAsItem(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	placeholder := &SyntheticConversation{
		ID:           "c9",
		OtherContact: Contact{ID: "u9", Handle: "nina"},
		CreatedAt:    created,
	}

	item := placeholder.AsItem()
	require.Equal(t, "c9", item.ItemID())
	require.Equal(t, FolderPersonal, item.ItemFolder())
	require.True(t, item.Provisional)
	require.Equal(t, created, item.ActivityAt())
	require.Zero(t, item.Unread())
	require.Equal(t, "@nina", item.OtherContact.Label())
}

func TestParseUpdateKind(t *testing.T) {
	require.Equal(t, UpdateKindScheduleChange, ParseUpdateKind("scheduleChange"))
	require.Equal(t, UpdateKindAnnouncement, ParseUpdateKind(" Announcement "))
	require.Equal(t, UpdateKindNone, ParseUpdateKind("poll"))
	require.Equal(t, UpdateKindNone, ParseUpdateKind(""))
}

func TestParseFolder(t *testing.T) {
	require.Equal(t, FolderAll, ParseFolder(""))
	require.Equal(t, FolderPersonal, ParseFolder(" Personal "))
}
