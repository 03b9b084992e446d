package inbox

import (
	"slices"
	"strings"

	"github.com/tOgg1/backlot/internal/models"
)

// Merge unions the three source lists, appends the synthetic placeholder when
// no item of any kind carries its id yet, and stable-sorts the result by
// last activity, newest first. Unknown activity sorts last; ties keep input order.
func Merge(dms, projects, channels []models.Item, placeholder *models.SyntheticConversation) []models.Item {
	merged := make([]models.Item, 0, len(dms)+len(projects)+len(channels)+1)
	merged = append(merged, dms...)
	merged = append(merged, projects...)
	merged = append(merged, channels...)

	if placeholder != nil && !hasItem(merged, placeholder.ID) {
		merged = append(merged, placeholder.AsItem())
	}

	slices.SortStableFunc(merged, func(a, b models.Item) int {
		return compareActivity(a, b)
	})
	return merged
}

// compareActivity orders newest first with the zero time after everything else.
func compareActivity(a, b models.Item) int {
	ta, tb := a.ActivityAt(), b.ActivityAt()
	switch {
	case ta.IsZero() && tb.IsZero():
		return 0
	case ta.IsZero():
		return 1
	case tb.IsZero():
		return -1
	}
	return tb.Compare(ta)
}

func hasItem(items []models.Item, id string) bool {
	return slices.ContainsFunc(items, func(item models.Item) bool {
		if dm, ok := item.(*models.DirectMessageItem); ok && dm.Provisional {
			return false
		}
		return item.ItemID() == id
	})
}

// placeholderVisible reports whether the placeholder belongs in folder.
func placeholderVisible(placeholder *models.SyntheticConversation, folder models.Folder) bool {
	if placeholder == nil {
		return false
	}
	return folder == models.FolderAll || folder == placeholder.AsItem().Folder
}

func hasDirectMessage(items []models.Item, id string) bool {
	for _, item := range items {
		if dm, ok := item.(*models.DirectMessageItem); ok && dm.ID == id && !dm.Provisional {
			return true
		}
	}
	return false
}

// FilterOptions narrows a merged collection.
type FilterOptions struct {
	// Query matches contact, project and channel names and message previews, case-insensitively.
	Query      string
	UnreadOnly bool
	Kinds      []models.ItemKind
}

// Filter returns the items matching opts, preserving order.
func Filter(items []models.Item, opts FilterOptions) []models.Item {
	query := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]models.Item, 0, len(items))
	for _, item := range items {
		if opts.UnreadOnly && item.Unread() == 0 {
			continue
		}
		if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, item.Kind()) {
			continue
		}
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func matchesQuery(item models.Item, query string) bool {
	var fields []string
	switch it := item.(type) {
	case *models.DirectMessageItem:
		fields = []string{it.OtherContact.DisplayName, it.OtherContact.Handle, deref(it.LastMessagePreview)}
	case *models.ProjectUpdateItem:
		fields = []string{it.ProjectTitle, deref(it.LastMessagePreview)}
	case *models.ChannelItem:
		fields = []string{it.Name, it.Slug}
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
