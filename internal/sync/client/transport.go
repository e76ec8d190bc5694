package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
	"github.com/hearthgrid/hearthgrid/internal/platform/timeouts"
	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

// Store is the transport boundary the sync client runs against. The HTTP
// implementation talks to the sync server; tests substitute an in-memory one.
type Store interface {
	JoinSession(ctx context.Context, user domain.User) error
	LeaveSession(ctx context.Context, sessionID, userID string) error
	SendHeartbeat(ctx context.Context, sessionID, userID string, cursorX, cursorY float64) error
	SessionUsers(ctx context.Context, sessionID string) ([]domain.User, error)
	SessionUpdates(ctx context.Context, sessionID, excludeUserID string, afterSeq uint64) ([]domain.Update, error)
	SaveCharacter(ctx context.Context, sessionID, userID string, character json.RawMessage) error
	DeleteCharacter(ctx context.Context, sessionID, userID, characterID string) error
	SaveGameState(ctx context.Context, sessionID, userID string, state json.RawMessage) error
}

// HTTPStore implements Store against the sync server's JSON API.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore builds a transport for the sync server at baseURL.
func NewHTTPStore(baseURL string) (*HTTPStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	return &HTTPStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeouts.Request,
		},
	}, nil
}

type httpErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *HTTPStore) sessionPath(sessionID, suffix string) string {
	return s.baseURL + "/api/v1/sessions/" + url.PathEscape(sessionID) + suffix
}

func (s *HTTPStore) do(ctx context.Context, method, rawURL string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call sync server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure httpErrorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error.Code != "" {
			if failure.Error.Code == string(apperrors.CodeNotFound) {
				return storage.ErrNotFound
			}
			return apperrors.New(apperrors.Code(failure.Error.Code), failure.Error.Message)
		}
		return fmt.Errorf("sync server status %d", resp.StatusCode)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type joinRequestBody struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Color   string  `json:"color"`
	IsDM    bool    `json:"isDM"`
	CursorX float64 `json:"cursor_x"`
	CursorY float64 `json:"cursor_y"`
}

// JoinSession registers the user in the session roster.
func (s *HTTPStore) JoinSession(ctx context.Context, user domain.User) error {
	user = user.Normalize()
	if err := user.Validate(); err != nil {
		return err
	}
	return s.do(ctx, http.MethodPost, s.sessionPath(user.SessionID, "/join"), joinRequestBody{
		ID:      user.ID,
		Name:    user.Name,
		Color:   user.Color,
		IsDM:    user.IsDM,
		CursorX: user.CursorX,
		CursorY: user.CursorY,
	}, nil)
}

// LeaveSession removes the user from the session roster.
func (s *HTTPStore) LeaveSession(ctx context.Context, sessionID, userID string) error {
	return s.do(ctx, http.MethodPost, s.sessionPath(sessionID, "/leave"), map[string]string{
		"user_id": userID,
	}, nil)
}

// SendHeartbeat refreshes the user's presence row and cursor position.
func (s *HTTPStore) SendHeartbeat(ctx context.Context, sessionID, userID string, cursorX, cursorY float64) error {
	return s.do(ctx, http.MethodPost, s.sessionPath(sessionID, "/heartbeat"), map[string]any{
		"user_id":  userID,
		"cursor_x": cursorX,
		"cursor_y": cursorY,
	}, nil)
}

type usersResponseBody struct {
	Users []domain.User `json:"users"`
}

// SessionUsers returns the active roster for the session.
func (s *HTTPStore) SessionUsers(ctx context.Context, sessionID string) ([]domain.User, error) {
	var body usersResponseBody
	if err := s.do(ctx, http.MethodGet, s.sessionPath(sessionID, "/users"), nil, &body); err != nil {
		return nil, err
	}
	return body.Users, nil
}

type updatesResponseBody struct {
	Updates   []domain.Update `json:"updates"`
	LatestSeq uint64          `json:"latest_seq"`
}

// SessionUpdates returns foreign records appended after afterSeq in ascending
// sequence order.
func (s *HTTPStore) SessionUpdates(ctx context.Context, sessionID, excludeUserID string, afterSeq uint64) ([]domain.Update, error) {
	query := url.Values{}
	if strings.TrimSpace(excludeUserID) != "" {
		query.Set("user_id", strings.TrimSpace(excludeUserID))
	}
	query.Set("after_seq", strconv.FormatUint(afterSeq, 10))

	var body updatesResponseBody
	if err := s.do(ctx, http.MethodGet, s.sessionPath(sessionID, "/updates")+"?"+query.Encode(), nil, &body); err != nil {
		return nil, err
	}
	return body.Updates, nil
}

// SaveCharacter appends a character_updated record for the opaque document.
func (s *HTTPStore) SaveCharacter(ctx context.Context, sessionID, userID string, character json.RawMessage) error {
	return s.do(ctx, http.MethodPost, s.sessionPath(sessionID, "/characters"), map[string]any{
		"user_id":   userID,
		"character": character,
	}, nil)
}

// DeleteCharacter appends a character_deleted tombstone.
func (s *HTTPStore) DeleteCharacter(ctx context.Context, sessionID, userID, characterID string) error {
	target := s.sessionPath(sessionID, "/characters/"+url.PathEscape(characterID)) + "?user_id=" + url.QueryEscape(userID)
	return s.do(ctx, http.MethodDelete, target, nil, nil)
}

// SaveGameState appends a game_state_updated record for the shared board.
func (s *HTTPStore) SaveGameState(ctx context.Context, sessionID, userID string, state json.RawMessage) error {
	return s.do(ctx, http.MethodPost, s.sessionPath(sessionID, "/state"), map[string]any{
		"user_id": userID,
		"state":   state,
	}, nil)
}
