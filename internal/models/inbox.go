// Package models defines the inbox domain types shared by the view-model,
// the reference backend and the realtime transports.
package models

import (
	"strings"
	"time"
)

// Folder is a named partition of the inbox, used as a server-side filter and a tab.
type Folder string

const (
	FolderAll          Folder = "all"
	FolderPersonal     Folder = "personal"
	FolderBacklot      Folder = "backlot"
	FolderApplications Folder = "applications"
	FolderCommunity    Folder = "community"
	FolderGreenRoom    Folder = "greenroom"
	FolderJobs         Folder = "jobs"
)

// ParseFolder normalizes a folder name; empty input maps to FolderAll.
func ParseFolder(raw string) Folder {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return FolderAll
	}
	return Folder(trimmed)
}

// ItemKind discriminates the inbox item variants.
type ItemKind string

const (
	ItemKindDirectMessage ItemKind = "dm"
	ItemKindProjectUpdate ItemKind = "project"
	ItemKindChannel       ItemKind = "channel"
)

// Item is one row of the unified inbox. It is implemented only by
// *DirectMessageItem, *ProjectUpdateItem and *ChannelItem; consumers switch on
// the concrete type.
type Item interface {
	Kind() ItemKind
	ItemID() string
	ItemFolder() Folder
	// ActivityAt is the last activity time; the zero time means unknown.
	ActivityAt() time.Time
	Unread() int
	isItem()
}

// Contact is the other participant of a direct conversation.
type Contact struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Label returns the best human-readable name for the contact.
func (c Contact) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.Handle != "" {
		return "@" + c.Handle
	}
	return c.ID
}

// DirectMessageItem is a one-to-one conversation.
type DirectMessageItem struct {
	ID                 string
	Folder             Folder
	OtherContact       Contact
	LastMessagePreview *string
	LastActivityAt     time.Time
	UnreadCount        int
	// ContextID and ContextMetadata tag the conversation's origin, e.g. a job application.
	ContextID       *string
	ContextMetadata map[string]string
	// Provisional marks a synthetic conversation standing in for a real one.
	Provisional bool
}

func (i *DirectMessageItem) Kind() ItemKind        { return ItemKindDirectMessage }
func (i *DirectMessageItem) ItemID() string        { return i.ID }
func (i *DirectMessageItem) ItemFolder() Folder    { return i.Folder }
func (i *DirectMessageItem) ActivityAt() time.Time { return i.LastActivityAt }
func (i *DirectMessageItem) Unread() int           { return i.UnreadCount }
func (*DirectMessageItem) isItem()                 {}

// UpdateKind classifies a project update thread.
type UpdateKind string

const (
	UpdateKindAnnouncement   UpdateKind = "announcement"
	UpdateKindMilestone      UpdateKind = "milestone"
	UpdateKindScheduleChange UpdateKind = "schedule_change"
	UpdateKindGeneral        UpdateKind = "general"
	UpdateKindNone           UpdateKind = "none"
)

// ParseUpdateKind maps backend spellings to an UpdateKind; unknown values become UpdateKindNone.
func ParseUpdateKind(raw string) UpdateKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "announcement":
		return UpdateKindAnnouncement
	case "milestone":
		return UpdateKindMilestone
	case "schedule_change", "schedulechange", "schedule-change":
		return UpdateKindScheduleChange
	case "general":
		return UpdateKindGeneral
	default:
		return UpdateKindNone
	}
}

// ProjectUpdateItem is a project's update thread.
type ProjectUpdateItem struct {
	ID                  string
	Folder              Folder
	ProjectID           string
	ProjectTitle        string
	ProjectThumbnailRef *string
	LastMessagePreview  *string
	LastActivityAt      time.Time
	UpdateKind          UpdateKind
	UnreadCount         int
}

func (i *ProjectUpdateItem) Kind() ItemKind        { return ItemKindProjectUpdate }
func (i *ProjectUpdateItem) ItemID() string        { return i.ID }
func (i *ProjectUpdateItem) ItemFolder() Folder    { return i.Folder }
func (i *ProjectUpdateItem) ActivityAt() time.Time { return i.LastActivityAt }
func (i *ProjectUpdateItem) Unread() int           { return i.UnreadCount }
func (*ProjectUpdateItem) isItem()                 {}

// ChannelItem is a topic channel. ID is already prefixed (see ChannelItemID).
type ChannelItem struct {
	ID             string
	Folder         Folder
	Name           string
	Slug           string
	ChannelKind    string
	LastActivityAt time.Time
	UnreadCount    int
}

func (i *ChannelItem) Kind() ItemKind        { return ItemKindChannel }
func (i *ChannelItem) ItemID() string        { return i.ID }
func (i *ChannelItem) ItemFolder() Folder    { return i.Folder }
func (i *ChannelItem) ActivityAt() time.Time { return i.LastActivityAt }
func (i *ChannelItem) Unread() int           { return i.UnreadCount }
func (*ChannelItem) isItem()                 {}

// SyntheticConversation is a conversation that exists server-side but has no
// message yet.
type SyntheticConversation struct {
	ID           string
	OtherContact Contact
	Folder       Folder
	CreatedAt    time.Time
}

// AsItem renders the placeholder as a provisional direct-message item.
func (s *SyntheticConversation) AsItem() *DirectMessageItem {
	folder := s.Folder
	if folder == "" {
		folder = FolderPersonal
	}
	return &DirectMessageItem{
		ID:             s.ID,
		Folder:         folder,
		OtherContact:   s.OtherContact,
		LastActivityAt: s.CreatedAt,
		Provisional:    true,
	}
}

// ClampUnread keeps unread counts non-negative.
func ClampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
