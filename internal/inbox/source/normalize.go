package source

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/tOgg1/backlot/internal/models"
)

// NormalizeDirectMessages maps DM records into items. Records without a
// conversation id are dropped.
func NormalizeDirectMessages(records []DirectMessageRecord, folder models.Folder) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		id := strings.TrimSpace(rec.ConversationID)
		if id == "" {
			continue
		}
		items = append(items, &models.DirectMessageItem{
			ID:     id,
			Folder: recordFolder(rec.Folder, folder, models.FolderPersonal),
			OtherContact: models.Contact{
				ID:          rec.OtherUser.ID,
				Handle:      rec.OtherUser.Username,
				DisplayName: rec.OtherUser.FullName,
				AvatarRef:   rec.OtherUser.AvatarURL,
			},
			LastMessagePreview: rec.LastMessage,
			LastActivityAt:     ParseTimestamp(rec.LastMessageAt),
			UnreadCount:        models.ClampUnread(rec.UnreadCount),
			ContextID:          rec.ContextID,
			ContextMetadata:    cloneMetadata(rec.ContextMetadata),
		})
	}
	return items
}

// NormalizeProjectUpdates maps project update records into items.
func NormalizeProjectUpdates(records []ProjectUpdateRecord, folder models.Folder) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			continue
		}
		items = append(items, &models.ProjectUpdateItem{
			ID:                  id,
			Folder:              recordFolder(rec.Folder, folder, models.FolderBacklot),
			ProjectID:           rec.ProjectID,
			ProjectTitle:        rec.ProjectTitle,
			ProjectThumbnailRef: rec.ProjectThumbnailURL,
			LastMessagePreview:  rec.LastMessage,
			LastActivityAt:      ParseTimestamp(rec.LastMessageAt),
			UpdateKind:          models.ParseUpdateKind(rec.UpdateType),
			UnreadCount:         models.ClampUnread(rec.UnreadCount),
		})
	}
	return items
}

// NormalizeChannels maps channel records into items and prefixes their ids so
// they cannot collide with conversation ids.
func NormalizeChannels(records []ChannelRecord, folder models.Folder) []models.Item {
	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			continue
		}
		items = append(items, &models.ChannelItem{
			ID:             models.ChannelItemID(id),
			Folder:         recordFolder(rec.Folder, folder, models.FolderCommunity),
			Name:           rec.Name,
			Slug:           rec.Slug,
			ChannelKind:    rec.ChannelType,
			LastActivityAt: ParseTimestamp(rec.LastMessageAt),
			UnreadCount:    models.ClampUnread(rec.UnreadCount),
		})
	}
	return items
}

// ParseTimestamp parses backend timestamps leniently. Empty or unparseable
// input yields the zero time, which sorts last.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC()
	}
	ts, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// recordFolder prefers the record's own folder, then the requested folder
// unless it is "all", then the variant's home folder.
func recordFolder(raw string, requested models.Folder, home models.Folder) models.Folder {
	if strings.TrimSpace(raw) != "" {
		return models.ParseFolder(raw)
	}
	if requested != "" && requested != models.FolderAll {
		return requested
	}
	return home
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
