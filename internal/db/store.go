package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/backlot/internal/inbox/source"
	"github.com/tOgg1/backlot/internal/logging"
	"github.com/tOgg1/backlot/internal/models"
)

// Store errors.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user with this username already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrProjectNotFound      = errors.New("project not found")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrNotAMember           = errors.New("user is not a member")
)

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Store is the reference messaging backend. It implements source.Backend.
type Store struct {
	db     *DB
	now    func() time.Time
	logger zerolog.Logger
}

var _ source.Backend = (*Store)(nil)

// NewStore creates a store over an open, migrated database.
func NewStore(db *DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logging.Component("store"),
	}
}

// DB returns the underlying database.
func (s *Store) DB() *DB { return s.db }

// User is a profile row.
type User struct {
	ID        string
	Username  string
	FullName  string
	AvatarURL string
	CreatedAt time.Time
}

// Contact returns the inbox contact for the user.
func (u *User) Contact() models.Contact {
	return models.Contact{ID: u.ID, Handle: u.Username, DisplayName: u.FullName, AvatarRef: u.AvatarURL}
}

// CreateUser inserts a user, assigning an id when empty.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	validation := &models.ValidationErrors{}
	if strings.TrimSpace(user.Username) == "" {
		validation.Add("username", models.ErrEmptyID)
	}
	if err := validation.Err(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = s.now().UTC()

	err := s.exec(ctx, `
		INSERT INTO users (id, username, full_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.FullName, user.AvatarURL, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id or username.
func (s *Store) GetUser(ctx context.Context, idOrUsername string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, avatar_url, created_at
		FROM users WHERE id = ? OR username = ?
		ORDER BY id = ? DESC
		LIMIT 1
	`, idOrUsername, idOrUsername, idOrUsername)

	var user User
	var createdAt string
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.AvatarURL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

// ListUsers returns every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, avatar_url, created_at
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var createdAt string
		if err := rows.Scan(&user.ID, &user.Username, &user.FullName, &user.AvatarURL, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.CreatedAt = parseTime(createdAt)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return DefaultRetryPolicy.Do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.db.TransactionWithRetry(ctx, DefaultRetryPolicy.Attempts, DefaultRetryPolicy.Backoff, fn)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
