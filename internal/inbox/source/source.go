// Package source defines the inbox's backend collaborators and normalizes their
// payloads into models.Item values.
package source

import (
	"context"
	"fmt"

	"github.com/tOgg1/backlot/internal/models"
)

// Kind names one of the three inbox sources.
type Kind string

const (
	KindDirectMessages Kind = "direct_messages"
	KindProjectUpdates Kind = "project_updates"
	KindChannels       Kind = "channels"
)

// Kinds lists the sources in merge order.
var Kinds = []Kind{KindDirectMessages, KindProjectUpdates, KindChannels}

// DirectMessageRecord is the backend shape of one DM conversation.
type DirectMessageRecord struct {
	ConversationID  string            `json:"conversation_id"`
	Folder          string            `json:"folder"`
	OtherUser       UserRecord        `json:"other_user"`
	LastMessage     *string           `json:"last_message"`
	LastMessageAt   string            `json:"last_message_at"`
	UnreadCount     int               `json:"unread_count"`
	ContextID       *string           `json:"context_id"`
	ContextMetadata map[string]string `json:"context_metadata"`
}

// UserRecord is the backend shape of a user profile.
type UserRecord struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// ProjectUpdateRecord is the backend shape of one project update thread.
type ProjectUpdateRecord struct {
	ID                  string  `json:"id"`
	Folder              string  `json:"folder"`
	ProjectID           string  `json:"project_id"`
	ProjectTitle        string  `json:"project_title"`
	ProjectThumbnailURL *string `json:"project_thumbnail_url"`
	LastMessage         *string `json:"last_message"`
	LastMessageAt       string  `json:"last_message_at"`
	UpdateType          string  `json:"update_type"`
	UnreadCount         int     `json:"unread_count"`
}

// ChannelRecord is the backend shape of one topic channel.
type ChannelRecord struct {
	ID            string `json:"id"`
	Folder        string `json:"folder"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	ChannelType   string `json:"channel_type"`
	LastMessageAt string `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
}

// ConversationHandle is returned by ResolveOrCreateConversation.
type ConversationHandle struct {
	ConversationID string
	Target         models.Contact
	// Created is true when the conversation did not exist before the call.
	Created bool
}

// DirectMessageSource lists a user's DM conversations.
type DirectMessageSource interface {
	FetchDirectMessageInbox(ctx context.Context, userID string, folder models.Folder) ([]DirectMessageRecord, error)
}

// ProjectUpdateSource lists a user's project update threads.
type ProjectUpdateSource interface {
	FetchProjectUpdateInbox(ctx context.Context, userID string, folder models.Folder) ([]ProjectUpdateRecord, error)
}

// ChannelSource lists channels the user belongs to. An empty kindFilter means all kinds.
type ChannelSource interface {
	FetchChannels(ctx context.Context, userID string, kindFilter string) ([]ChannelRecord, error)
}

// ConversationResolver opens or creates a DM conversation between two users.
type ConversationResolver interface {
	ResolveOrCreateConversation(ctx context.Context, targetUserID, currentUserID string) (ConversationHandle, error)
}

// UnreadCounter reports unread totals per folder.
type UnreadCounter interface {
	FetchFolderUnreadCounts(ctx context.Context, userID string) (map[models.Folder]int, error)
}

// Backend is every collaborator the inbox consumes.
type Backend interface {
	DirectMessageSource
	ProjectUpdateSource
	ChannelSource
	ConversationResolver
	UnreadCounter
}

// SourceError records which source failed.
type SourceError struct {
	Source Kind
	Folder models.Folder
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetch %s (folder %s): %v", e.Source, e.Folder, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
