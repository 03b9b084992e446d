package models

import "strings"

const (
	projectPrefix = "project:"
	channelPrefix = "channel:"
)

// SelectionKind is the kind of item a selection points at. The zero value means nothing is selected.
type SelectionKind string

const (
	SelectionNone          SelectionKind = ""
	SelectionDirectMessage SelectionKind = "dm"
	SelectionProject       SelectionKind = "project"
	SelectionChannel       SelectionKind = "channel"
)

// Selection is the typed identifier of the open inbox item. The prefixed
// string form exists only at the deep-link boundary (String / ParseSelection).
type Selection struct {
	Kind SelectionKind
	ID   string
}

// ParseSelection classifies a raw selection string. It is total: every input
// yields a Selection, and empty input yields the zero Selection.
func ParseSelection(raw string) Selection {
	if raw == "" {
		return Selection{}
	}
	if rest, ok := strings.CutPrefix(raw, projectPrefix); ok {
		return Selection{Kind: SelectionProject, ID: rest}
	}
	if rest, ok := strings.CutPrefix(raw, channelPrefix); ok {
		return Selection{Kind: SelectionChannel, ID: rest}
	}
	return Selection{Kind: SelectionDirectMessage, ID: raw}
}

// DirectSelection selects a conversation by id.
func DirectSelection(conversationID string) Selection {
	return Selection{Kind: SelectionDirectMessage, ID: conversationID}
}

// ProjectSelection selects a project update thread by project id.
func ProjectSelection(projectID string) Selection {
	return Selection{Kind: SelectionProject, ID: projectID}
}

// ChannelSelection selects a channel by raw channel id.
func ChannelSelection(channelID string) Selection {
	return Selection{Kind: SelectionChannel, ID: channelID}
}

// IsZero reports whether nothing is selected.
func (s Selection) IsZero() bool {
	return s.Kind == SelectionNone
}

// String returns the flat deep-link form.
func (s Selection) String() string {
	switch s.Kind {
	case SelectionProject:
		return projectPrefix + s.ID
	case SelectionChannel:
		return channelPrefix + s.ID
	case SelectionDirectMessage:
		return s.ID
	default:
		return ""
	}
}

// ChannelItemID builds the disambiguated id a ChannelItem carries in the merged collection.
func ChannelItemID(rawID string) string {
	return channelPrefix + rawID
}

// SelectionFor returns the selection that opens the given item.
func SelectionFor(item Item) Selection {
	switch it := item.(type) {
	case *DirectMessageItem:
		return DirectSelection(it.ID)
	case *ProjectUpdateItem:
		return ProjectSelection(it.ProjectID)
	case *ChannelItem:
		return ChannelSelection(strings.TrimPrefix(it.ID, channelPrefix))
	default:
		return Selection{}
	}
}
