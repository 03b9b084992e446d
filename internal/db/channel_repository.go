package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/backlot/internal/models"
)

// Channel is a topic channel. Its type doubles as the folder it is listed in.
type Channel struct {
	ID          string
	Name        string
	Slug        string
	ChannelType string
	CreatedAt   time.Time
}

// ChannelMessage is one post in a channel.
type ChannelMessage struct {
	ID        string
	ChannelID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// CreateChannel inserts a channel. The slug defaults to a lowercased name.
func (s *Store) CreateChannel(ctx context.Context, channel *Channel) error {
	validation := &models.ValidationErrors{}
	if strings.TrimSpace(channel.Name) == "" {
		validation.AddMessage("name", "name is required")
	}
	if strings.TrimSpace(channel.ChannelType) == "" {
		validation.AddMessage("channel_type", "channel type is required")
	}
	if err := validation.Err(); err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}
	if channel.ID == "" {
		channel.ID = uuid.New().String()
	}
	if channel.Slug == "" {
		channel.Slug = strings.Join(strings.Fields(strings.ToLower(channel.Name)), "-")
	}
	channel.CreatedAt = s.now().UTC()

	err := s.exec(ctx, `
		INSERT INTO channels (id, name, slug, channel_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, channel.ID, channel.Name, channel.Slug, channel.ChannelType, formatTime(channel.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert channel: %w", err)
	}
	return nil
}

// GetChannel retrieves a channel by id or slug.
func (s *Store) GetChannel(ctx context.Context, idOrSlug string) (*Channel, error) {
	var channel Channel
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, channel_type, created_at
		FROM channels WHERE id = ? OR slug = ?
		LIMIT 1
	`, idOrSlug, idOrSlug).Scan(&channel.ID, &channel.Name, &channel.Slug, &channel.ChannelType, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}
	channel.CreatedAt = parseTime(createdAt)
	return &channel, nil
}

// JoinChannel adds userID to the channel. Joining twice is a no-op.
func (s *Store) JoinChannel(ctx context.Context, channelID, userID string) error {
	channel, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		return addMember(ctx, tx, "channel_members", "channel_id", channel.ID, userID)
	})
}

// PostChannelMessage appends a message to a channel. The sender must be a member.
func (s *Store) PostChannelMessage(ctx context.Context, channelID, senderID, body string) (*ChannelMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("invalid message: %w", models.ErrEmptyBody)
	}
	channel, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	msg := &ChannelMessage{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		SenderID:  senderID,
		Body:      strings.TrimSpace(body),
		CreatedAt: s.now().UTC(),
	}
	err = s.tx(ctx, func(tx *sql.Tx) error {
		if err := requireMember(ctx, tx, "channel_members", "channel_id", channel.ID, senderID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO channel_messages (id, channel_id, sender_id, body, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.ChannelID, msg.SenderID, msg.Body, formatTime(msg.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert channel message: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE channel_members SET last_read_at = ? WHERE channel_id = ? AND user_id = ?
		`, formatTime(msg.CreatedAt), channel.ID, senderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkChannelRead records that userID has read the channel.
func (s *Store) MarkChannelRead(ctx context.Context, channelID, userID string) error {
	return s.markRead(ctx, "channel_members", "channel_id", channelID, userID, ErrChannelNotFound)
}
