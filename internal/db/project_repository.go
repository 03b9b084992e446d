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

// Project is a production with a single update thread shared by its members.
type Project struct {
	ID             string
	Title          string
	ThumbnailURL   *string
	Folder         models.Folder
	UpdateThreadID string
	CreatedAt      time.Time
}

// ProjectUpdate is one post to a project's update thread.
type ProjectUpdate struct {
	ID        string
	ProjectID string
	AuthorID  string
	Kind      models.UpdateKind
	Body      string
	CreatedAt time.Time
}

// CreateProject inserts a project and its initial members.
func (s *Store) CreateProject(ctx context.Context, project *Project, memberIDs ...string) error {
	if strings.TrimSpace(project.Title) == "" {
		return fmt.Errorf("invalid project: %w", &models.ValidationErrors{Errors: []models.ValidationError{{Field: "title", Message: "title is required"}}})
	}
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.Folder == "" {
		project.Folder = models.FolderBacklot
	}
	if err := models.ValidateFolder(project.Folder); err != nil {
		return err
	}
	project.UpdateThreadID = uuid.New().String()
	project.CreatedAt = s.now().UTC()

	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, title, thumbnail_url, folder, update_thread_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, project.ID, project.Title, project.ThumbnailURL, string(project.Folder),
			project.UpdateThreadID, formatTime(project.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		for _, member := range memberIDs {
			if err := addMember(ctx, tx, "project_members", "project_id", project.ID, member); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var (
		project   Project
		thumbnail sql.NullString
		folder    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, thumbnail_url, folder, update_thread_id, created_at
		FROM projects WHERE id = ?
	`, id).Scan(&project.ID, &project.Title, &thumbnail, &folder, &project.UpdateThreadID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	project.ThumbnailURL = nullString(thumbnail)
	project.Folder = models.Folder(folder)
	project.CreatedAt = parseTime(createdAt)
	return &project, nil
}

// AddProjectMember adds userID to the project. Adding an existing member is a no-op.
func (s *Store) AddProjectMember(ctx context.Context, projectID, userID string) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		return addMember(ctx, tx, "project_members", "project_id", projectID, userID)
	})
}

// ProjectMembers returns the user ids of a project's members.
func (s *Store) ProjectMembers(ctx context.Context, projectID string) ([]string, error) {
	return s.memberIDs(ctx, `SELECT user_id FROM project_members WHERE project_id = ? ORDER BY user_id`, projectID)
}

// PostProjectUpdate appends an update to a project's thread. The author must
// be a member.
func (s *Store) PostProjectUpdate(ctx context.Context, projectID, authorID string, kind models.UpdateKind, body string) (*ProjectUpdate, error) {
	if err := models.ValidateProjectUpdate(projectID, kind, body); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	update := &ProjectUpdate{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		AuthorID:  authorID,
		Kind:      kind,
		Body:      strings.TrimSpace(body),
		CreatedAt: s.now().UTC(),
	}
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if err := requireMember(ctx, tx, "project_members", "project_id", projectID, authorID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_updates (id, project_id, author_id, kind, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, update.ID, update.ProjectID, update.AuthorID, string(update.Kind), update.Body,
			formatTime(update.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert project update: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE project_members SET last_read_at = ? WHERE project_id = ? AND user_id = ?
		`, formatTime(update.CreatedAt), projectID, authorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// MarkProjectRead records that userID has read the project's updates.
func (s *Store) MarkProjectRead(ctx context.Context, projectID, userID string) error {
	return s.markRead(ctx, "project_members", "project_id", projectID, userID, ErrProjectNotFound)
}

func addMember(ctx context.Context, tx *sql.Tx, table, column, parentID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyID
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("member %s: %w", userID, ErrUserNotFound)
	}
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, user_id) VALUES (?, ?)`, table, column)
	if _, err := tx.ExecContext(ctx, query, parentID, userID); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func requireMember(ctx context.Context, tx *sql.Tx, table, column, parentID, userID string) error {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ? AND user_id = ?`, table, column)
	if err := tx.QueryRowContext(ctx, query, parentID, userID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if count == 0 {
		return ErrNotAMember
	}
	return nil
}

func (s *Store) markRead(ctx context.Context, table, column, parentID, userID string, notFound error) error {
	var affected int64
	query := fmt.Sprintf(`UPDATE %s SET last_read_at = ? WHERE %s = ? AND user_id = ?`, table, column)
	err := DefaultRetryPolicy.Do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, formatTime(s.now()), parentID, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func (s *Store) memberIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
