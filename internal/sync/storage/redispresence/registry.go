// Package redispresence provides a Redis-backed presence registry. Rows
// expire through key TTLs, so stale users age out without a sweeper even if
// no reader ever lists the session again.
package redispresence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

const keyPrefix = "sync:presence"

// DefaultTTL bounds how long a presence row survives without a heartbeat.
const DefaultTTL = 60 * time.Second

// Registry implements storage.PresenceRegistry on Redis.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
}

// Options configures the Redis connection and row lifetime.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL is the presence row lifetime. Zero means DefaultTTL.
	TTL time.Duration
}

// Open connects to Redis and verifies the connection before handing the
// registry to higher layers.
func Open(ctx context.Context, opts Options) (*Registry, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Registry{client: client, ttl: opts.TTL}, nil
}

// Close closes the underlying Redis client.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (r *Registry) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func userKey(sessionID, userID string) string {
	return keyPrefix + ":" + sessionID + ":" + userID
}

func rosterKey(sessionID string) string {
	return keyPrefix + ":" + sessionID
}

// PutUser upserts the full presence row and registers the user in the session
// roster set. The roster set outlives individual rows by one TTL so expired
// members can still be swept on the next list.
func (r *Registry) PutUser(ctx context.Context, user domain.User) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry is not configured")
	}
	user = user.Normalize()
	if err := user.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if user.JoinedAt.IsZero() {
		user.JoinedAt = now
	}
	if user.LastSeen.IsZero() {
		user.LastSeen = now
	}

	// Preserve the original JoinedAt across re-joins.
	existing, err := r.getUser(ctx, user.SessionID, user.ID)
	if err == nil && !existing.JoinedAt.IsZero() {
		user.JoinedAt = existing.JoinedAt
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, userKey(user.SessionID, user.ID), payload, r.ttl)
	pipe.SAdd(ctx, rosterKey(user.SessionID), user.ID)
	pipe.Expire(ctx, rosterKey(user.SessionID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put presence: %w", err)
	}
	return nil
}

// TouchUser refreshes LastSeen and the cursor position for an existing row,
// extending its TTL. Returns storage.ErrNotFound when the row expired.
func (r *Registry) TouchUser(ctx context.Context, sessionID, userID string, cursorX, cursorY float64, at time.Time) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry is not configured")
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
		at = time.Now().UTC()
	}

	user, err := r.getUser(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	user.LastSeen = at.UTC()
	user.CursorX = cursorX
	user.CursorY = cursorY

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, userKey(sessionID, userID), payload, r.ttl)
	pipe.Expire(ctx, rosterKey(sessionID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

// DeleteUser removes the presence row and the roster membership. Deleting an
// absent row is not an error.
func (r *Registry) DeleteUser(ctx context.Context, sessionID, userID string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("registry is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, userKey(sessionID, userID))
	pipe.SRem(ctx, rosterKey(sessionID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

// ListUsers returns users whose LastSeen is at or after activeSince, ordered
// by JoinedAt ascending. Roster members whose rows already expired are
// removed from the set on the way.
func (r *Registry) ListUsers(ctx context.Context, sessionID string, activeSince time.Time) ([]domain.User, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("registry is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	memberIDs, err := r.client.SMembers(ctx, rosterKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	if len(memberIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		keys = append(keys, userKey(sessionID, memberID))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence rows: %w", err)
	}

	var users []domain.User
	var expired []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			expired = append(expired, memberIDs[i])
			continue
		}
		var user domain.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			expired = append(expired, memberIDs[i])
			continue
		}
		if !user.Active(activeSince) {
			continue
		}
		users = append(users, user)
	}
	if len(expired) > 0 {
		// Roster cleanup is opportunistic; a failure only delays it.
		_ = r.client.SRem(ctx, rosterKey(sessionID), expired...).Err()
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].JoinedAt.Before(users[j].JoinedAt)
	})
	return users, nil
}

func (r *Registry) getUser(ctx context.Context, sessionID, userID string) (domain.User, error) {
	raw, err := r.client.Get(ctx, userKey(sessionID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.User{}, storage.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get presence: %w", err)
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return domain.User{}, fmt.Errorf("decode presence: %w", err)
	}
	return user, nil
}
