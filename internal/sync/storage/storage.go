// Package storage defines the persistence boundary for the sync service: the
// append-only update log and the heartbeat-driven presence registry. Backends
// implement these interfaces; callers never see driver types.
package storage

import (
	"context"
	"time"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity" states
// and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// DefaultUpdatePageLimit bounds a ListUpdates call when the caller passes a
// non-positive limit. Polling clients read at most this many records per cycle
// and catch up across cycles via the sequence watermark.
const DefaultUpdatePageLimit = 500

// UpdateLog owns the per-session append-only record stream. Appends assign a
// session-scoped monotonic sequence; reads return records in ascending
// sequence order so replaying a page converges under last-write-wins.
type UpdateLog interface {
	// AppendUpdate atomically appends a record and returns it with its
	// sequence and creation time set.
	AppendUpdate(ctx context.Context, update domain.Update) (domain.Update, error)
	// ListUpdates returns records with sequence greater than afterSeq,
	// ascending. A non-empty excludeAuthor filters out that author's own
	// records. A non-positive limit falls back to DefaultUpdatePageLimit.
	ListUpdates(ctx context.Context, sessionID, excludeAuthor string, afterSeq uint64, limit int) ([]domain.Update, error)
	// LatestUpdateSeq returns the highest sequence appended for a session,
	// or 0 when the session has no records.
	LatestUpdateSeq(ctx context.Context, sessionID string) (uint64, error)
}

// PresenceRegistry owns the session roster. Rows live as long as their owner
// heartbeats; ListUsers filters by the activity cutoff so an abandoned tab
// ages out without an explicit leave.
type PresenceRegistry interface {
	// PutUser upserts the full presence row, stamping JoinedAt on first
	// insert and refreshing LastSeen.
	PutUser(ctx context.Context, user domain.User) error
	// TouchUser refreshes LastSeen and the cursor position for an existing
	// row. Returns ErrNotFound when the user never joined or already aged
	// out; callers treat that as a signal to rejoin.
	TouchUser(ctx context.Context, sessionID, userID string, cursorX, cursorY float64, at time.Time) error
	// DeleteUser removes the presence row. Deleting an absent row is not an
	// error; leave must be idempotent.
	DeleteUser(ctx context.Context, sessionID, userID string) error
	// ListUsers returns users whose LastSeen is at or after activeSince,
	// ordered by JoinedAt ascending. Implementations may evict rows that
	// fail the cutoff.
	ListUsers(ctx context.Context, sessionID string, activeSince time.Time) ([]domain.User, error)
}

// Store is the composite persistence interface the sync service runs against.
type Store interface {
	UpdateLog
	PresenceRegistry
	Close() error
}
