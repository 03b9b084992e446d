package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/models"
)

// FetchDirectMessageInbox lists the user's conversations that have at least
// one message, newest first.
func (s *Store) FetchDirectMessageInbox(ctx context.Context, userID string, folder models.Folder) ([]source.DirectMessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.folder, c.context_id, c.context_metadata_json,
			u.id, u.username, u.full_name, u.avatar_url,
			(SELECT m.body FROM messages m WHERE m.conversation_id = c.id
				ORDER BY m.created_at DESC, m.id DESC LIMIT 1),
			(SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id) AS last_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id
				AND m.sender_id != me.user_id
				AND m.created_at > COALESCE(me.last_read_at, ''))
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = ?
		JOIN conversation_participants other ON other.conversation_id = c.id AND other.user_id != me.user_id
		JOIN users u ON u.id = other.user_id
		WHERE EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)
			AND (? = 'all' OR c.folder = ?)
		ORDER BY last_at DESC, c.id
	`, userID, string(folder), string(folder))
	if err != nil {
		return nil, fmt.Errorf("failed to query direct messages: %w", err)
	}
	defer rows.Close()

	var out []source.DirectMessageRecord
	for rows.Next() {
		var (
			rec          source.DirectMessageRecord
			contextID    sql.NullString
			metadataJSON sql.NullString
			lastMessage  sql.NullString
			lastAt       sql.NullString
		)
		if err := rows.Scan(&rec.ConversationID, &rec.Folder, &contextID, &metadataJSON,
			&rec.OtherUser.ID, &rec.OtherUser.Username, &rec.OtherUser.FullName, &rec.OtherUser.AvatarURL,
			&lastMessage, &lastAt, &rec.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan direct message: %w", err)
		}
		rec.ContextID = nullString(contextID)
		rec.LastMessage = nullString(lastMessage)
		rec.LastMessageAt = lastAt.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.ContextMetadata); err != nil {
				s.logger.Warn().Err(err).Str("conversation_id", rec.ConversationID).Msg("invalid context metadata")
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating direct messages: %w", err)
	}
	return out, nil
}

// FetchProjectUpdateInbox lists the update threads of the user's projects.
// Each record is keyed by the project's update thread id.
func (s *Store) FetchProjectUpdateInbox(ctx context.Context, userID string, folder models.Folder) ([]source.ProjectUpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.update_thread_id, p.folder, p.id, p.title, p.thumbnail_url,
			latest.body, latest.created_at, latest.kind,
			(SELECT COUNT(*) FROM project_updates pu WHERE pu.project_id = p.id
				AND pu.author_id != pm.user_id
				AND pu.created_at > COALESCE(pm.last_read_at, ''))
		FROM projects p
		JOIN project_members pm ON pm.project_id = p.id AND pm.user_id = ?
		LEFT JOIN project_updates latest ON latest.id = (
			SELECT pu.id FROM project_updates pu WHERE pu.project_id = p.id
			ORDER BY pu.created_at DESC, pu.id DESC LIMIT 1
		)
		WHERE (? = 'all' OR p.folder = ?)
		ORDER BY COALESCE(latest.created_at, '') DESC, p.id
	`, userID, string(folder), string(folder))
	if err != nil {
		return nil, fmt.Errorf("failed to query project updates: %w", err)
	}
	defer rows.Close()

	var out []source.ProjectUpdateRecord
	for rows.Next() {
		var (
			rec         source.ProjectUpdateRecord
			thumbnail   sql.NullString
			lastMessage sql.NullString
			lastAt      sql.NullString
			kind        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Folder, &rec.ProjectID, &rec.ProjectTitle, &thumbnail,
			&lastMessage, &lastAt, &kind, &rec.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan project update: %w", err)
		}
		rec.ProjectThumbnailURL = nullString(thumbnail)
		rec.LastMessage = nullString(lastMessage)
		rec.LastMessageAt = lastAt.String
		rec.UpdateType = kind.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project updates: %w", err)
	}
	return out, nil
}

// FetchChannels lists channels the user has joined, optionally restricted to
// one channel type.
func (s *Store) FetchChannels(ctx context.Context, userID string, kindFilter string) ([]source.ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.slug, c.channel_type,
			COALESCE((SELECT MAX(m.created_at) FROM channel_messages m WHERE m.channel_id = c.id), c.created_at) AS last_at,
			(SELECT COUNT(*) FROM channel_messages m WHERE m.channel_id = c.id
				AND m.sender_id != cm.user_id
				AND m.created_at > COALESCE(cm.last_read_at, ''))
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = ?
		WHERE (? = '' OR c.channel_type = ?)
		ORDER BY last_at DESC, c.id
	`, userID, kindFilter, kindFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var out []source.ChannelRecord
	for rows.Next() {
		var rec source.ChannelRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Slug, &rec.ChannelType, &rec.LastMessageAt, &rec.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		rec.Folder = rec.ChannelType
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}
	return out, nil
}

// FetchFolderUnreadCounts sums unread counts of every source by folder.
func (s *Store) FetchFolderUnreadCounts(ctx context.Context, userID string) (map[models.Folder]int, error) {
	var (
		dms      []source.DirectMessageRecord
		projects []source.ProjectUpdateRecord
		channels []source.ChannelRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		dms, err = s.FetchDirectMessageInbox(gctx, userID, models.FolderAll)
		return err
	})
	g.Go(func() (err error) {
		projects, err = s.FetchProjectUpdateInbox(gctx, userID, models.FolderAll)
		return err
	})
	g.Go(func() (err error) {
		channels, err = s.FetchChannels(gctx, userID, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[models.Folder]int)
	add := func(folder string, n int) {
		if n > 0 {
			counts[models.Folder(folder)] += n
		}
	}
	for _, rec := range dms {
		add(rec.Folder, rec.UnreadCount)
	}
	for _, rec := range projects {
		add(rec.Folder, rec.UnreadCount)
	}
	for _, rec := range channels {
		add(rec.Folder, rec.UnreadCount)
	}
	return counts, nil
}
