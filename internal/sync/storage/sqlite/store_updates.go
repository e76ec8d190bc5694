package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

// AppendUpdate atomically appends a record and returns it with its sequence
// and creation time set. Sequences are per-session and assigned inside the
// append transaction so concurrent writers never observe gaps or duplicates.
func (s *Store) AppendUpdate(ctx context.Context, update domain.Update) (domain.Update, error) {
	if err := ctx.Err(); err != nil {
		return domain.Update{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Update{}, fmt.Errorf("storage is not configured")
	}
	if err := domain.ValidateSessionID(update.SessionID); err != nil {
		return domain.Update{}, err
	}
	if err := update.Validate(); err != nil {
		return domain.Update{}, err
	}

	if update.CreatedAt.IsZero() {
		update.CreatedAt = s.nowUTC()
	}
	update.CreatedAt = update.CreatedAt.UTC().Truncate(time.Millisecond)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Update{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO session_update_seq (session_id, next_seq) VALUES (?, 1)
`, update.SessionID); err != nil {
		return domain.Update{}, fmt.Errorf("init update seq: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
SELECT next_seq FROM session_update_seq WHERE session_id = ?
`, update.SessionID).Scan(&seq); err != nil {
		return domain.Update{}, fmt.Errorf("get update seq: %w", err)
	}
	update.Seq = uint64(seq)

	if _, err := tx.ExecContext(ctx, `
UPDATE session_update_seq SET next_seq = next_seq + 1 WHERE session_id = ?
`, update.SessionID); err != nil {
		return domain.Update{}, fmt.Errorf("increment update seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO session_updates (session_id, seq, update_type, updated_by, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, update.SessionID, seq, string(update.Type), update.UpdatedBy, string(update.Payload), toMillis(update.CreatedAt)); err != nil {
		return domain.Update{}, fmt.Errorf("append update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Update{}, fmt.Errorf("commit append: %w", err)
	}
	return update, nil
}

// ListUpdates returns records with sequence greater than afterSeq in ascending
// sequence order, optionally excluding one author's own records.
func (s *Store) ListUpdates(ctx context.Context, sessionID, excludeAuthor string, afterSeq uint64, limit int) ([]domain.Update, error) {
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
	if limit <= 0 {
		limit = storage.DefaultUpdatePageLimit
	}

	excludeAuthor = strings.TrimSpace(excludeAuthor)
	query := `
SELECT seq, update_type, updated_by, payload_json, created_at
FROM session_updates
WHERE session_id = ? AND seq > ?
`
	args := []any{sessionID, int64(afterSeq)}
	if excludeAuthor != "" {
		query += "  AND updated_by != ?\n"
		args = append(args, excludeAuthor)
	}
	query += "ORDER BY seq ASC\nLIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var updates []domain.Update
	for rows.Next() {
		var (
			seq         int64
			updateType  string
			updatedBy   string
			payloadJSON string
			createdAt   int64
		)
		if err := rows.Scan(&seq, &updateType, &updatedBy, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, domain.Update{
			Seq:       uint64(seq),
			SessionID: sessionID,
			Type:      domain.UpdateType(updateType),
			UpdatedBy: updatedBy,
			CreatedAt: fromMillis(createdAt),
			Payload:   []byte(payloadJSON),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return updates, nil
}

// LatestUpdateSeq returns the highest sequence appended for a session, or 0
// when the session has no records.
func (s *Store) LatestUpdateSeq(ctx context.Context, sessionID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return 0, err
	}

	var seq sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT MAX(seq) FROM session_updates WHERE session_id = ?
`, sessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("latest update seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
