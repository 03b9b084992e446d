package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/backlot/internal/inbox"
	"github.com/tOgg1/backlot/internal/models"
)

func strPtr(s string) *string { return &s }

func TestFormatUnread(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{-3, "-"},
		{0, "-"},
		{1, "1"},
		{99, "99"},
		{100, "99+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUnread(tt.in), "unread %d", tt.in)
	}
}

func TestFormatActivity(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"hours", now.Add(-3 * time.Hour), "3h ago"},
		{"days", now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatActivity(tt.ts, now))
		})
	}
}

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "short", truncateCell("short", 10))
	assert.Equal(t, "a b c", truncateCell("a\n  b\tc", 10))
	got := truncateCell("a very long preview line", 10)
	assert.Equal(t, "a very lo…", got)
	assert.Equal(t, "日本…", truncateCell("日本語のテキスト", 6))
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "bold", stripANSI(ansiBold+"bold"+ansiReset))
	assert.Equal(t, "plain", stripANSI("plain"))
}

func TestWriteTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"A", "B"}, [][]string{{"日本", "x"}, {"ab", "y"}}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A     B", lines[0])
	assert.Equal(t, "日本  x", lines[1])
	assert.Equal(t, "ab    y", lines[2])
}

func TestWriteInboxTableMarksOpenAndProvisionalRows(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	placeholder := &models.DirectMessageItem{
		ID:             "conv-new",
		Folder:         models.FolderPersonal,
		OtherContact:   models.Contact{ID: "u2", Handle: "carol"},
		LastActivityAt: now,
		Provisional:    true,
	}
	project := &models.ProjectUpdateItem{
		ID:                 "thread-1",
		Folder:             models.FolderBacklot,
		ProjectID:          "p1",
		ProjectTitle:       "Night Shoot",
		LastMessagePreview: strPtr("Day 3 moved"),
		LastActivityAt:     now.Add(-2 * time.Hour),
		UpdateKind:         models.UpdateKindScheduleChange,
		UnreadCount:        2,
	}
	channel := &models.ChannelItem{
		ID:     models.ChannelItemID("ch1"),
		Folder: models.FolderCommunity,
		Name:   "Lighting Talk",
		Slug:   "lighting-talk",
	}
	view := inbox.View{
		Folder: models.FolderAll,
		Items:  []models.Item{placeholder, project, channel},
		Target: &inbox.Target{Selection: models.DirectSelection("conv-new"), DirectMessage: placeholder},
	}

	var buf bytes.Buffer
	require.NoError(t, writeInboxTable(&buf, view, false, now))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.True(t, strings.HasPrefix(lines[1], ">~"), lines[1])
	assert.Contains(t, lines[1], "@carol")
	assert.Contains(t, lines[1], "(new conversation)")
	assert.Contains(t, lines[2], "project:p1")
	assert.Contains(t, lines[2], "[schedule_change] Day 3 moved")
	assert.Contains(t, lines[2], "2h ago")
	assert.Contains(t, lines[3], "channel:ch1")
	assert.Contains(t, lines[3], "#lighting-talk")
	assert.NotContains(t, buf.String(), ansiBold)
}

func TestToInboxOutput(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	dm := &models.DirectMessageItem{
		ID:                 "conv-1",
		Folder:             models.FolderPersonal,
		OtherContact:       models.Contact{ID: "u2", DisplayName: "Bob Gaffer"},
		LastMessagePreview: strPtr("see you at 7"),
		LastActivityAt:     now,
		UnreadCount:        1,
	}
	view := inbox.View{
		Folder: models.FolderPersonal,
		Items:  []models.Item{dm},
		Target: &inbox.Target{Selection: models.DirectSelection("conv-1"), DirectMessage: dm},
		Selection: inbox.SelectionSnapshot{
			State: inbox.StateSelected,
			Open:  models.DirectSelection("conv-1"),
			Entry: &inbox.EntryContext{Kind: "application", Role: "Gaffer"},
		},
		TotalUnread: 1,
	}

	out := toInboxOutput(view)
	assert.Equal(t, "selected", out.State)
	assert.Equal(t, "conv-1", out.Open)
	require.Len(t, out.Items, 1)
	assert.True(t, out.Items[0].Open)
	assert.Equal(t, "Bob Gaffer", out.Items[0].Title)
	assert.Equal(t, "conv-1", out.Items[0].Select)
	require.NotNil(t, out.Items[0].ActivityAt)
	assert.Equal(t, "application · Gaffer", describeEntry(out.Entry))
}
