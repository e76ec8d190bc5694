package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
)

const maxRequestBodyBytes = 256 * 1024

type joinRequest struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Color   string  `json:"color"`
	IsDM    bool    `json:"isDM"`
	CursorX float64 `json:"cursor_x"`
	CursorY float64 `json:"cursor_y"`
}

type joinResponse struct {
	User      domain.User `json:"user"`
	LatestSeq uint64      `json:"latest_seq"`
}

type leaveRequest struct {
	UserID string `json:"user_id"`
}

type heartbeatRequest struct {
	UserID  string  `json:"user_id"`
	CursorX float64 `json:"cursor_x"`
	CursorY float64 `json:"cursor_y"`
}

type heartbeatResponse struct {
	ServerTime time.Time `json:"server_time"`
}

type usersResponse struct {
	Users []domain.User `json:"users"`
}

type updatesResponse struct {
	Updates   []domain.Update `json:"updates"`
	LatestSeq uint64          `json:"latest_seq"`
}

type saveCharacterRequest struct {
	UserID    string          `json:"user_id"`
	Character json.RawMessage `json:"character"`
}

type saveStateRequest struct {
	UserID string          `json:"user_id"`
	State  json.RawMessage `json:"state"`
}

type updateResponse struct {
	Update domain.Update `json:"update"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := err.Error()
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInternal
		message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:    string(code),
		Message: message,
	}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "decode request body", err)
	}
	return nil
}

// handleJoin registers the user in the session roster and appends a
// user_joined record so other clients learn about the arrival through their
// regular poll.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	var req joinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user := domain.User{
		ID:        req.ID,
		SessionID: sessionID,
		Name:      req.Name,
		Color:     req.Color,
		IsDM:      req.IsDM,
		CursorX:   req.CursorX,
		CursorY:   req.CursorY,
	}.Normalize()
	if err := user.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := s.presence.PutUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	joined, err := domain.NewMembershipUpdate(domain.UpdateTypeUserJoined, sessionID, domain.MembershipPayload{
		ID:    user.ID,
		Name:  user.Name,
		Color: user.Color,
		IsDM:  user.IsDM,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	appended, err := s.updates.AppendUpdate(r.Context(), joined)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.notify(sessionID, appended.Seq)

	// LatestSeq tells the joiner how far behind the session head it is;
	// clients that replay the whole log still start their poll at zero.
	writeJSON(w, http.StatusOK, joinResponse{User: user, LatestSeq: appended.Seq})
}

// handleLeave removes the roster row and appends a user_left record. Leaving
// twice, or leaving without having joined, succeeds quietly.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	var req leaveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, apperrors.New(apperrors.CodeUserEmptyID, "user id is required"))
		return
	}

	if err := s.presence.DeleteUser(r.Context(), sessionID, userID); err != nil {
		writeError(w, err)
		return
	}

	left, err := domain.NewMembershipUpdate(domain.UpdateTypeUserLeft, sessionID, domain.MembershipPayload{ID: userID})
	if err != nil {
		writeError(w, err)
		return
	}
	appended, err := s.updates.AppendUpdate(r.Context(), left)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.notify(sessionID, appended.Seq)

	writeJSON(w, http.StatusOK, struct{}{})
}

// handleHeartbeat refreshes the presence row. A miss means the row aged out
// or never existed, which the client resolves by rejoining.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	var req heartbeatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, apperrors.New(apperrors.CodeUserEmptyID, "user id is required"))
		return
	}

	now := time.Now().UTC()
	if err := s.presence.TouchUser(r.Context(), sessionID, userID, req.CursorX, req.CursorY, now); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{ServerTime: now})
}

// handleListUsers returns the active roster, hiding rows that stopped
// heartbeating within the presence TTL.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	cutoff := time.Now().UTC().Add(-s.presenceTTL)
	users, err := s.presence.ListUsers(r.Context(), sessionID, cutoff)
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users})
}

// handleListUpdates serves the poll: records after the caller's watermark in
// ascending order, excluding the caller's own writes when user_id is given.
func (s *Server) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	query := r.URL.Query()

	excludeAuthor := strings.TrimSpace(query.Get("user_id"))
	afterSeq := uint64(0)
	if raw := strings.TrimSpace(query.Get("after_seq")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeInvalidRequest, "parse after_seq", err))
			return
		}
		afterSeq = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeInvalidRequest, "parse limit", err))
			return
		}
		limit = parsed
	}

	updates, err := s.updates.ListUpdates(r.Context(), sessionID, excludeAuthor, afterSeq, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	latestSeq, err := s.updates.LatestUpdateSeq(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if updates == nil {
		updates = []domain.Update{}
	}
	writeJSON(w, http.StatusOK, updatesResponse{Updates: updates, LatestSeq: latestSeq})
}

// handleSaveCharacter appends a character_updated record. The document is
// opaque beyond its required id; last write wins on replay.
func (s *Server) handleSaveCharacter(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	var req saveCharacterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	update, err := domain.NewCharacterUpdate(sessionID, req.UserID, req.Character)
	if err != nil {
		writeError(w, err)
		return
	}
	appended, err := s.updates.AppendUpdate(r.Context(), update)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.notify(sessionID, appended.Seq)
	writeJSON(w, http.StatusOK, updateResponse{Update: appended})
}

// handleDeleteCharacter appends a character_deleted tombstone.
func (s *Server) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))
	characterID := strings.TrimSpace(r.PathValue("characterID"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	update, err := domain.NewCharacterDelete(sessionID, userID, characterID)
	if err != nil {
		writeError(w, err)
		return
	}
	appended, err := s.updates.AppendUpdate(r.Context(), update)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.notify(sessionID, appended.Seq)
	writeJSON(w, http.StatusOK, updateResponse{Update: appended})
}

// handleSaveState appends a game_state_updated record carrying the full
// shared board document.
func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("sessionID"))

	var req saveStateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	update, err := domain.NewGameStateUpdate(sessionID, req.UserID, req.State)
	if err != nil {
		writeError(w, err)
		return
	}
	appended, err := s.updates.AppendUpdate(r.Context(), update)
	if err != nil {
		writeError(w, err)
		return
	}
	s.hub.notify(sessionID, appended.Seq)
	writeJSON(w, http.StatusOK, updateResponse{Update: appended})
}
