package domain

import (
	"strings"
	"time"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
	"github.com/hearthgrid/hearthgrid/internal/platform/id"
)

// NewUserID mints a fresh opaque participant identifier. Clients keep the id
// for the lifetime of the tab that generated it.
func NewUserID() (string, error) {
	generated, err := id.NewID()
	if err != nil {
		return "", err
	}
	return "user_" + generated, nil
}

// User is one participant's presence record in a session.
//
// The id is opaque and client-generated, stable for the lifetime of the
// browser tab that minted it. A user belongs to one session at a time from
// the client's perspective; the registry does not enforce single-session
// membership.
type User struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	IsDM      bool      `json:"isDM"`
	CursorX   float64   `json:"cursor_x"`
	CursorY   float64   `json:"cursor_y"`
	JoinedAt  time.Time `json:"joined_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Normalize trims identity fields in place and returns the user.
func (u User) Normalize() User {
	u.ID = strings.TrimSpace(u.ID)
	u.SessionID = strings.TrimSpace(u.SessionID)
	u.Name = strings.TrimSpace(u.Name)
	u.Color = strings.TrimSpace(u.Color)
	return u
}

// Validate checks the fields required to join a session.
func (u User) Validate() error {
	if err := ValidateSessionID(u.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return apperrors.New(apperrors.CodeUserEmptyID, "user id is required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return apperrors.New(apperrors.CodeUserEmptyName, "user name is required")
	}
	if strings.TrimSpace(u.Color) == "" {
		return apperrors.New(apperrors.CodeUserEmptyColor, "user color is required")
	}
	return nil
}

// Active reports whether the user heartbeated at or after the cutoff.
func (u User) Active(cutoff time.Time) bool {
	return !u.LastSeen.Before(cutoff)
}
