package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

// ConversationOptions apply when a conversation is created.
type ConversationOptions struct {
	Folder          models.Folder
	ContextID       *string
	ContextMetadata map[string]string
}

// Message is one direct message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Body           string
	CreatedAt      time.Time
}

// ResolveOrCreateConversation returns the conversation between the two users,
// creating an empty one when none exists.
func (s *Store) ResolveOrCreateConversation(ctx context.Context, targetUserID, currentUserID string) (source.ConversationHandle, error) {
	return s.OpenConversation(ctx, currentUserID, targetUserID, ConversationOptions{})
}

// OpenConversation finds or creates the one-to-one conversation between
// userID and otherID.
func (s *Store) OpenConversation(ctx context.Context, userID, otherID string, opts ConversationOptions) (source.ConversationHandle, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(otherID) == "" {
		return source.ConversationHandle{}, models.ErrEmptyID
	}
	if userID == otherID {
		return source.ConversationHandle{}, models.ErrSelfConversation
	}
	folder := opts.Folder
	if folder == "" {
		folder = models.FolderPersonal
	}
	if err := models.ValidateFolder(folder); err != nil {
		return source.ConversationHandle{}, err
	}

	other, err := s.GetUser(ctx, otherID)
	if err != nil {
		return source.ConversationHandle{}, fmt.Errorf("target %s: %w", otherID, err)
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return source.ConversationHandle{}, fmt.Errorf("user %s: %w", userID, err)
	}

	var metadataJSON *string
	if opts.ContextMetadata != nil {
		data, err := json.Marshal(opts.ContextMetadata)
		if err != nil {
			return source.ConversationHandle{}, fmt.Errorf("failed to marshal context metadata: %w", err)
		}
		v := string(data)
		metadataJSON = &v
	}

	handle := source.ConversationHandle{Target: other.Contact()}
	err = s.tx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT c.id FROM conversations c
			JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = ?
			JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = ?
			ORDER BY c.created_at
			LIMIT 1
		`, userID, other.ID).Scan(&existing)
		switch {
		case err == nil:
			handle.ConversationID = existing
			handle.Created = false
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up conversation: %w", err)
		}

		id := uuid.New().String()
		now := formatTime(s.now())
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, folder, context_id, context_metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, string(folder), opts.ContextID, metadataJSON, now); err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		for _, participant := range []string{userID, other.ID} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)
			`, id, participant); err != nil {
				return fmt.Errorf("failed to insert participant: %w", err)
			}
		}
		handle.ConversationID = id
		handle.Created = true
		return nil
	})
	if err != nil {
		return source.ConversationHandle{}, err
	}

	s.logger.Debug().
		Str("conversation_id", handle.ConversationID).
		Bool("created", handle.Created).
		Msg("conversation opened")
	return handle, nil
}

// SendMessage appends a message from senderID to recipientID, opening the
// conversation if needed.
func (s *Store) SendMessage(ctx context.Context, senderID, recipientID, body string) (*Message, error) {
	if err := models.ValidateDirectMessage(senderID, recipientID, body); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	handle, err := s.OpenConversation(ctx, senderID, recipientID, ConversationOptions{})
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: handle.ConversationID,
		SenderID:       senderID,
		RecipientID:    handle.Target.ID,
		Body:           strings.TrimSpace(body),
		CreatedAt:      s.now().UTC(),
	}
	err = s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, formatTime(msg.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		// Sending implies the sender has read the conversation.
		_, err := tx.ExecContext(ctx, `
			UPDATE conversation_participants SET last_read_at = ?
			WHERE conversation_id = ? AND user_id = ?
		`, formatTime(msg.CreatedAt), msg.ConversationID, senderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkConversationRead records that userID has read everything so far.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	var affected int64
	err := DefaultRetryPolicy.Do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE conversation_participants SET last_read_at = ?
			WHERE conversation_id = ? AND user_id = ?
		`, formatTime(s.now()), conversationID, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListMessages returns a conversation's messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at, id
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}
