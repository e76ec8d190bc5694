package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

// PutUser upserts the full presence row. JoinedAt is preserved across
// re-joins of the same user so roster ordering stays stable.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	user = user.Normalize()
	if err := user.Validate(); err != nil {
		return err
	}

	now := s.nowUTC()
	if user.JoinedAt.IsZero() {
		user.JoinedAt = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session_presence (session_id, user_id, name, color, is_dm, cursor_x, cursor_y, joined_at, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, user_id) DO UPDATE SET
    name = excluded.name,
    color = excluded.color,
    is_dm = excluded.is_dm,
    cursor_x = excluded.cursor_x,
    cursor_y = excluded.cursor_y,
    last_seen = excluded.last_seen
`, user.SessionID, user.ID, user.Name, user.Color, user.IsDM,
		user.CursorX, user.CursorY, toMillis(user.JoinedAt), toMillis(user.LastSeen)); err != nil {
		return fmt.Errorf("put presence: %w", err)
	}
	return nil
}

// TouchUser refreshes LastSeen and the cursor position for an existing row.
// Returns storage.ErrNotFound when the user never joined or already aged out.
func (s *Store) TouchUser(ctx context.Context, sessionID, userID string, cursorX, cursorY float64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if at.IsZero() {
		at = s.nowUTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE session_presence
SET last_seen = $1, cursor_x = $2, cursor_y = $3
WHERE session_id = $4 AND user_id = $5
`, toMillis(at), cursorX, cursorY, sessionID, userID)
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch presence rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteUser removes the presence row. Deleting an absent row is not an error.
func (s *Store) DeleteUser(ctx context.Context, sessionID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM session_presence WHERE session_id = $1 AND user_id = $2
`, sessionID, userID); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

// ListUsers returns users whose LastSeen is at or after activeSince, ordered
// by JoinedAt ascending. Rows that fail the cutoff are evicted on the way.
func (s *Store) ListUsers(ctx context.Context, sessionID string, activeSince time.Time) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	cutoff := toMillis(activeSince)

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM session_presence WHERE session_id = $1 AND last_seen < $2
`, sessionID, cutoff); err != nil {
		return nil, fmt.Errorf("evict stale presence: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, name, color, is_dm, cursor_x, cursor_y, joined_at, last_seen
FROM session_presence
WHERE session_id = $1 AND last_seen >= $2
ORDER BY joined_at ASC, user_id ASC
`, sessionID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			user     domain.User
			joinedAt int64
			lastSeen int64
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Color, &user.IsDM, &user.CursorX, &user.CursorY, &joinedAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		user.SessionID = sessionID
		user.JoinedAt = fromMillis(joinedAt)
		user.LastSeen = fromMillis(lastSeen)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence: %w", err)
	}
	return users, nil
}
