package domain

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
)

// sessionIDPrefix marks identifiers minted by NewSessionID. Foreign session
// ids without the prefix are still accepted; the id is opaque to the server.
const sessionIDPrefix = "session"

// NewSessionID returns a fresh session identifier of the form
// session_<epoch-millis>_<random-base36>.
//
// The format only needs to be unique enough to avoid accidental collision
// between independently created sessions; it carries no cryptographic
// guarantees.
func NewSessionID() string {
	return NewSessionIDAt(time.Now())
}

// NewSessionIDAt mints a session identifier using the provided creation time.
func NewSessionIDAt(at time.Time) string {
	suffix := strconv.FormatInt(rand.Int63(), 36)
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return fmt.Sprintf("%s_%d_%s", sessionIDPrefix, at.UnixMilli(), suffix)
}

// ValidateSessionID reports whether the id can scope log and presence records.
func ValidateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperrors.New(apperrors.CodeSessionEmptyID, "session id is required")
	}
	return nil
}
