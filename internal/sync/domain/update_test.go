package domain

import (
	"encoding/json"
	"testing"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
)

func TestUpdateTypeKnown(t *testing.T) {
	known := []UpdateType{
		UpdateTypeCharacterUpdated,
		UpdateTypeCharacterDeleted,
		UpdateTypeGameStateUpdated,
		UpdateTypeUserJoined,
		UpdateTypeUserLeft,
	}
	for _, updateType := range known {
		if !updateType.Known() {
			t.Errorf("Known(%q) = false, want true", updateType)
		}
	}
	if UpdateType("token_moved").Known() {
		t.Error("Known(token_moved) = true, want false")
	}
	if UpdateType("").Known() {
		t.Error("Known(empty) = true, want false")
	}
}

func TestUpdateValidate(t *testing.T) {
	valid := Update{
		SessionID: "session_123_abc",
		Type:      UpdateTypeCharacterUpdated,
		UpdatedBy: "user-1",
		Payload:   json.RawMessage(`{"id":"char-1"}`),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name     string
		mutate   func(u *Update)
		wantCode apperrors.Code
	}{
		{
			name:     "empty type",
			mutate:   func(u *Update) { u.Type = "" },
			wantCode: apperrors.CodeUpdateEmptyType,
		},
		{
			name:     "whitespace type",
			mutate:   func(u *Update) { u.Type = "   " },
			wantCode: apperrors.CodeUpdateEmptyType,
		},
		{
			name:     "unknown type",
			mutate:   func(u *Update) { u.Type = "dice_rolled" },
			wantCode: apperrors.CodeUpdateUnknownType,
		},
		{
			name:     "empty author",
			mutate:   func(u *Update) { u.UpdatedBy = "" },
			wantCode: apperrors.CodeUpdateEmptyAuthor,
		},
		{
			name:     "missing payload",
			mutate:   func(u *Update) { u.Payload = nil },
			wantCode: apperrors.CodeUpdateNullPayload,
		},
		{
			name:     "null payload",
			mutate:   func(u *Update) { u.Payload = json.RawMessage("null") },
			wantCode: apperrors.CodeUpdateNullPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update := valid
			tt.mutate(&update)
			err := update.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if got := apperrors.CodeOf(err); got != tt.wantCode {
				t.Errorf("CodeOf(err) = %v, want %v", got, tt.wantCode)
			}
		})
	}
}

func TestCharacterID(t *testing.T) {
	id, err := CharacterID(json.RawMessage(`{"id":"char-9","name":"Tally","hp":12}`))
	if err != nil {
		t.Fatalf("CharacterID() error = %v, want nil", err)
	}
	if id != "char-9" {
		t.Errorf("CharacterID() = %q, want %q", id, "char-9")
	}

	if _, err := CharacterID(json.RawMessage(`{"name":"no id"}`)); apperrors.CodeOf(err) != apperrors.CodeCharacterEmptyID {
		t.Errorf("CodeOf(err) = %v, want %v", apperrors.CodeOf(err), apperrors.CodeCharacterEmptyID)
	}
	if _, err := CharacterID(json.RawMessage(`not json`)); apperrors.CodeOf(err) != apperrors.CodeUpdateBadPayload {
		t.Errorf("CodeOf(err) = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUpdateBadPayload)
	}
}

func TestDecodeCharacter(t *testing.T) {
	updated, err := NewCharacterUpdate("session_1_a", "user-1", json.RawMessage(`{"id":"char-1","hp":7}`))
	if err != nil {
		t.Fatalf("NewCharacterUpdate() error = %v", err)
	}
	doc, err := DecodeCharacter(updated)
	if err != nil {
		t.Fatalf("DecodeCharacter() error = %v", err)
	}
	if doc.ID != "char-1" || doc.Deleted {
		t.Errorf("DecodeCharacter() = %+v, want id char-1 and not deleted", doc)
	}
	if len(doc.Doc) == 0 {
		t.Error("DecodeCharacter() dropped the document body")
	}

	deleted, err := NewCharacterDelete("session_1_a", "user-1", "char-1")
	if err != nil {
		t.Fatalf("NewCharacterDelete() error = %v", err)
	}
	tombstone, err := DecodeCharacter(deleted)
	if err != nil {
		t.Fatalf("DecodeCharacter(tombstone) error = %v", err)
	}
	if tombstone.ID != "char-1" || !tombstone.Deleted {
		t.Errorf("DecodeCharacter(tombstone) = %+v, want id char-1 and deleted", tombstone)
	}

	state, err := NewGameStateUpdate("session_1_a", "user-1", json.RawMessage(`{"grid":20}`))
	if err != nil {
		t.Fatalf("NewGameStateUpdate() error = %v", err)
	}
	if _, err := DecodeCharacter(state); apperrors.CodeOf(err) != apperrors.CodeUpdateBadPayload {
		t.Errorf("DecodeCharacter(game state) code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUpdateBadPayload)
	}
}

func TestDecodeGameState(t *testing.T) {
	update, err := NewGameStateUpdate("session_1_a", "dm-1", json.RawMessage(`{"terrain":[],"gridSize":25}`))
	if err != nil {
		t.Fatalf("NewGameStateUpdate() error = %v", err)
	}
	state, err := DecodeGameState(update)
	if err != nil {
		t.Fatalf("DecodeGameState() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(state, &decoded); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if _, ok := decoded["gridSize"]; !ok {
		t.Error("DecodeGameState() lost the gridSize field")
	}

	if _, err := NewGameStateUpdate("session_1_a", "dm-1", json.RawMessage(`[1,2,3]`)); apperrors.CodeOf(err) != apperrors.CodeGameStateEmptyBody {
		t.Errorf("NewGameStateUpdate(array) code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeGameStateEmptyBody)
	}
}

func TestMembershipRoundTrip(t *testing.T) {
	joined, err := NewMembershipUpdate(UpdateTypeUserJoined, "session_1_a", MembershipPayload{
		ID:    "user-2",
		Name:  "Bryn",
		Color: "#aa33ff",
		IsDM:  true,
	})
	if err != nil {
		t.Fatalf("NewMembershipUpdate() error = %v", err)
	}
	if joined.UpdatedBy != "user-2" {
		t.Errorf("UpdatedBy = %q, want %q", joined.UpdatedBy, "user-2")
	}
	member, err := DecodeMembership(joined)
	if err != nil {
		t.Fatalf("DecodeMembership() error = %v", err)
	}
	if member.ID != "user-2" || member.Name != "Bryn" || !member.IsDM {
		t.Errorf("DecodeMembership() = %+v", member)
	}

	if _, err := NewMembershipUpdate(UpdateTypeGameStateUpdated, "session_1_a", MembershipPayload{ID: "user-2"}); err == nil {
		t.Error("NewMembershipUpdate(game_state_updated) error = nil, want error")
	}
	if _, err := NewMembershipUpdate(UpdateTypeUserLeft, "session_1_a", MembershipPayload{}); apperrors.CodeOf(err) != apperrors.CodeUserEmptyID {
		t.Errorf("NewMembershipUpdate(empty id) code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeUserEmptyID)
	}
}

func TestNewUpdateTrimsFields(t *testing.T) {
	update, err := NewCharacterUpdate("  session_1_a  ", "  user-1  ", json.RawMessage(`{"id":" char-1 "}`))
	if err != nil {
		t.Fatalf("NewCharacterUpdate() error = %v", err)
	}
	if update.SessionID != "session_1_a" {
		t.Errorf("SessionID = %q, want trimmed", update.SessionID)
	}
	if update.UpdatedBy != "user-1" {
		t.Errorf("UpdatedBy = %q, want trimmed", update.UpdatedBy)
	}
}
