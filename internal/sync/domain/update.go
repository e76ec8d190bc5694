package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
)

// UpdateType tags an update record with the mutation it describes.
type UpdateType string

const (
	UpdateTypeCharacterUpdated UpdateType = "character_updated"
	UpdateTypeCharacterDeleted UpdateType = "character_deleted"
	UpdateTypeGameStateUpdated UpdateType = "game_state_updated"
	UpdateTypeUserJoined       UpdateType = "user_joined"
	UpdateTypeUserLeft         UpdateType = "user_left"
)

// Known reports whether the type is part of the update record union.
func (t UpdateType) Known() bool {
	switch t {
	case UpdateTypeCharacterUpdated, UpdateTypeCharacterDeleted,
		UpdateTypeGameStateUpdated, UpdateTypeUserJoined, UpdateTypeUserLeft:
		return true
	default:
		return false
	}
}

// Update is one immutable, append-only log entry scoped to a session.
//
// Seq is assigned by the store at append time and is monotonic per session;
// it, not CreatedAt, defines delivery order and the client watermark.
// CreatedAt is the server-assigned append wall-clock time, kept for display.
type Update struct {
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"session_id"`
	Type      UpdateType      `json:"update_type"`
	UpdatedBy string          `json:"updated_by"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"data"`
}

var jsonNull = []byte("null")

// PayloadPresent reports whether the record carries a non-null payload.
func (u Update) PayloadPresent() bool {
	return len(u.Payload) > 0 && !bytes.Equal(bytes.TrimSpace(u.Payload), jsonNull)
}

// Validate applies the intake discipline for records read back from the log:
// a record is accepted only with a known non-empty type, a non-empty author,
// and a non-null payload. Consumers skip (never crash on) records that fail.
func (u Update) Validate() error {
	if strings.TrimSpace(string(u.Type)) == "" {
		return apperrors.New(apperrors.CodeUpdateEmptyType, "update type is required")
	}
	if !u.Type.Known() {
		return apperrors.New(apperrors.CodeUpdateUnknownType, "unknown update type "+string(u.Type))
	}
	if strings.TrimSpace(u.UpdatedBy) == "" {
		return apperrors.New(apperrors.CodeUpdateEmptyAuthor, "update author is required")
	}
	if !u.PayloadPresent() {
		return apperrors.New(apperrors.CodeUpdateNullPayload, "update payload is required")
	}
	return nil
}

// CharacterDoc is the character payload as the sync layer sees it: an opaque
// JSON document keyed by id. Deleted marks the tombstone synthesized from
// character_deleted records so replaying a log in order converges under
// last-write-wins.
type CharacterDoc struct {
	ID      string          `json:"id"`
	Deleted bool            `json:"_deleted,omitempty"`
	Doc     json.RawMessage `json:"-"`
}

// characterIDProbe extracts just the id field from an opaque character document.
type characterIDProbe struct {
	ID string `json:"id"`
}

// CharacterID returns the non-empty id of an opaque character document.
func CharacterID(doc json.RawMessage) (string, error) {
	var probe characterIDProbe
	if err := json.Unmarshal(doc, &probe); err != nil {
		return "", apperrors.Wrap(apperrors.CodeUpdateBadPayload, "decode character payload", err)
	}
	if strings.TrimSpace(probe.ID) == "" {
		return "", apperrors.New(apperrors.CodeCharacterEmptyID, "character id is required")
	}
	return strings.TrimSpace(probe.ID), nil
}

// DecodeCharacter interprets a character_updated or character_deleted record.
func DecodeCharacter(u Update) (CharacterDoc, error) {
	switch u.Type {
	case UpdateTypeCharacterUpdated:
		characterID, err := CharacterID(u.Payload)
		if err != nil {
			return CharacterDoc{}, err
		}
		return CharacterDoc{ID: characterID, Doc: u.Payload}, nil
	case UpdateTypeCharacterDeleted:
		characterID, err := CharacterID(u.Payload)
		if err != nil {
			return CharacterDoc{}, err
		}
		return CharacterDoc{ID: characterID, Deleted: true}, nil
	default:
		return CharacterDoc{}, apperrors.New(apperrors.CodeUpdateBadPayload, "record is not a character update")
	}
}

// DecodeGameState interprets a game_state_updated record. The document is
// opaque (terrain, grid size, chat tails, UI flags); only JSON-object shape is
// enforced here.
func DecodeGameState(u Update) (json.RawMessage, error) {
	if u.Type != UpdateTypeGameStateUpdated {
		return nil, apperrors.New(apperrors.CodeUpdateBadPayload, "record is not a game state update")
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(u.Payload, &probe); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpdateBadPayload, "decode game state payload", err)
	}
	return u.Payload, nil
}

// MembershipPayload is the data carried by user_joined and user_left records.
type MembershipPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	IsDM  bool   `json:"isDM,omitempty"`
}

// DecodeMembership interprets a user_joined or user_left record.
func DecodeMembership(u Update) (MembershipPayload, error) {
	if u.Type != UpdateTypeUserJoined && u.Type != UpdateTypeUserLeft {
		return MembershipPayload{}, apperrors.New(apperrors.CodeUpdateBadPayload, "record is not a membership update")
	}
	var payload MembershipPayload
	if err := json.Unmarshal(u.Payload, &payload); err != nil {
		return MembershipPayload{}, apperrors.Wrap(apperrors.CodeUpdateBadPayload, "decode membership payload", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return MembershipPayload{}, apperrors.New(apperrors.CodeUserEmptyID, "membership user id is required")
	}
	payload.ID = strings.TrimSpace(payload.ID)
	return payload, nil
}

// NewCharacterUpdate builds an unappended character_updated record.
func NewCharacterUpdate(sessionID, updatedBy string, character json.RawMessage) (Update, error) {
	if _, err := CharacterID(character); err != nil {
		return Update{}, err
	}
	return newUpdate(sessionID, UpdateTypeCharacterUpdated, updatedBy, character)
}

// NewCharacterDelete builds an unappended character_deleted record carrying a
// tombstone payload.
func NewCharacterDelete(sessionID, updatedBy, characterID string) (Update, error) {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" {
		return Update{}, apperrors.New(apperrors.CodeCharacterEmptyID, "character id is required")
	}
	payload, err := json.Marshal(map[string]any{"id": characterID, "_deleted": true})
	if err != nil {
		return Update{}, apperrors.Wrap(apperrors.CodeUpdateBadPayload, "encode tombstone payload", err)
	}
	return newUpdate(sessionID, UpdateTypeCharacterDeleted, updatedBy, payload)
}

// NewGameStateUpdate builds an unappended game_state_updated record.
func NewGameStateUpdate(sessionID, updatedBy string, state json.RawMessage) (Update, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(state, &probe); err != nil {
		return Update{}, apperrors.Wrap(apperrors.CodeGameStateEmptyBody, "game state must be a JSON object", err)
	}
	return newUpdate(sessionID, UpdateTypeGameStateUpdated, updatedBy, state)
}

// NewMembershipUpdate builds an unappended user_joined or user_left record.
func NewMembershipUpdate(updateType UpdateType, sessionID string, member MembershipPayload) (Update, error) {
	if updateType != UpdateTypeUserJoined && updateType != UpdateTypeUserLeft {
		return Update{}, apperrors.New(apperrors.CodeUpdateUnknownType, "membership updates must be user_joined or user_left")
	}
	member.ID = strings.TrimSpace(member.ID)
	if member.ID == "" {
		return Update{}, apperrors.New(apperrors.CodeUserEmptyID, "membership user id is required")
	}
	payload, err := json.Marshal(member)
	if err != nil {
		return Update{}, apperrors.Wrap(apperrors.CodeUpdateBadPayload, "encode membership payload", err)
	}
	return newUpdate(sessionID, updateType, member.ID, payload)
}

func newUpdate(sessionID string, updateType UpdateType, updatedBy string, payload json.RawMessage) (Update, error) {
	update := Update{
		SessionID: strings.TrimSpace(sessionID),
		Type:      updateType,
		UpdatedBy: strings.TrimSpace(updatedBy),
		Payload:   payload,
	}
	if err := ValidateSessionID(update.SessionID); err != nil {
		return Update{}, err
	}
	if err := update.Validate(); err != nil {
		return Update{}, err
	}
	return update, nil
}
