package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage/sqlite"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Fatalf("close store: %v", closeErr)
		}
	})

	server, err := NewServer(Config{HTTPAddr: "127.0.0.1:0", PresenceTTL: time.Minute}, store, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return server, srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string, target any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want 200", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
}

func decodeResponse(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("GET /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestJoinHeartbeatLeaveFlow(t *testing.T) {
	_, srv := newTestServer(t)
	sessionID := "session_1_a"
	base := "/api/v1/sessions/" + sessionID

	resp := postJSON(t, srv, base+"/join", joinRequest{
		ID: "alice", Name: "Alice", Color: "#ff0000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d, want 200", resp.StatusCode)
	}
	var joined joinResponse
	decodeResponse(t, resp, &joined)
	if joined.User.ID != "alice" {
		t.Errorf("joined user id = %q, want alice", joined.User.ID)
	}
	if joined.LatestSeq == 0 {
		t.Error("join did not return a watermark")
	}

	resp = postJSON(t, srv, base+"/heartbeat", heartbeatRequest{UserID: "alice", CursorX: 12, CursorY: 34})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %d, want 200", resp.StatusCode)
	}

	var roster usersResponse
	getJSON(t, srv, base+"/users", &roster)
	if len(roster.Users) != 1 || roster.Users[0].ID != "alice" {
		t.Fatalf("roster = %+v, want only alice", roster.Users)
	}
	if roster.Users[0].CursorX != 12 || roster.Users[0].CursorY != 34 {
		t.Errorf("cursor = (%v,%v), want (12,34)", roster.Users[0].CursorX, roster.Users[0].CursorY)
	}

	resp = postJSON(t, srv, base+"/leave", leaveRequest{UserID: "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave status = %d, want 200", resp.StatusCode)
	}
	getJSON(t, srv, base+"/users", &roster)
	if len(roster.Users) != 0 {
		t.Errorf("roster after leave = %+v, want empty", roster.Users)
	}

	// Leaving again is idempotent.
	resp = postJSON(t, srv, base+"/leave", leaveRequest{UserID: "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat leave status = %d, want 200", resp.StatusCode)
	}
}

func TestHeartbeatWithoutJoinIsNotFound(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/v1/sessions/session_1_a/heartbeat", heartbeatRequest{UserID: "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("heartbeat status = %d, want 404", resp.StatusCode)
	}
	var body errorResponse
	decodeResponse(t, resp, &body)
	if body.Error.Code != "NOT_FOUND" {
		t.Errorf("error code = %q, want NOT_FOUND", body.Error.Code)
	}
}

func TestJoinValidatesUser(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/v1/sessions/session_1_a/join", joinRequest{ID: "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("join status = %d, want 400", resp.StatusCode)
	}
}

func TestCharacterAndStateUpdatesFlowThroughPoll(t *testing.T) {
	_, srv := newTestServer(t)
	sessionID := "session_1_a"
	base := "/api/v1/sessions/" + sessionID

	resp := postJSON(t, srv, base+"/characters", saveCharacterRequest{
		UserID:    "alice",
		Character: json.RawMessage(`{"id":"char-1","name":"Tally","hp":12}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save character status = %d, want 200", resp.StatusCode)
	}
	var saved updateResponse
	decodeResponse(t, resp, &saved)
	if saved.Update.Type != domain.UpdateTypeCharacterUpdated {
		t.Errorf("update type = %q, want character_updated", saved.Update.Type)
	}

	resp = postJSON(t, srv, base+"/state", saveStateRequest{
		UserID: "dm-1",
		State:  json.RawMessage(`{"terrain":[],"gridSize":25}`),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save state status = %d, want 200", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+base+"/characters/char-1?user_id=alice", nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	deleteResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE character: %v", err)
	}
	defer deleteResp.Body.Close()
	if deleteResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", deleteResp.StatusCode)
	}

	// Bob's poll excludes nothing of the above: all three records are foreign.
	var poll updatesResponse
	getJSON(t, srv, base+"/updates?user_id=bob&after_seq=0", &poll)
	if len(poll.Updates) != 3 {
		t.Fatalf("len(updates) = %d, want 3", len(poll.Updates))
	}
	wantTypes := []domain.UpdateType{
		domain.UpdateTypeCharacterUpdated,
		domain.UpdateTypeGameStateUpdated,
		domain.UpdateTypeCharacterDeleted,
	}
	for i, update := range poll.Updates {
		if update.Type != wantTypes[i] {
			t.Errorf("updates[%d].Type = %q, want %q", i, update.Type, wantTypes[i])
		}
	}
	if poll.LatestSeq != 3 {
		t.Errorf("latest seq = %d, want 3", poll.LatestSeq)
	}

	// Alice's own poll sees none of her writes.
	getJSON(t, srv, base+"/updates?user_id=alice&after_seq=0", &poll)
	for _, update := range poll.Updates {
		if update.UpdatedBy == "alice" {
			t.Errorf("alice received her own record: %+v", update)
		}
	}

	// Watermark advances: after the head, the poll is empty.
	getJSON(t, srv, fmt.Sprintf(base+"/updates?user_id=bob&after_seq=%d", poll.LatestSeq), &poll)
	if len(poll.Updates) != 0 {
		t.Errorf("updates after head = %+v, want empty", poll.Updates)
	}
}

func TestSaveCharacterRequiresID(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/v1/sessions/session_1_a/characters", saveCharacterRequest{
		UserID:    "alice",
		Character: json.RawMessage(`{"name":"no id"}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSaveStateRejectsNonObject(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/v1/sessions/session_1_a/state", saveStateRequest{
		UserID: "dm-1",
		State:  json.RawMessage(`[1,2,3]`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMembershipRecordsAppendedOnJoinAndLeave(t *testing.T) {
	_, srv := newTestServer(t)
	base := "/api/v1/sessions/session_1_a"

	postJSON(t, srv, base+"/join", joinRequest{ID: "alice", Name: "Alice", Color: "#f00"})
	postJSON(t, srv, base+"/leave", leaveRequest{UserID: "alice"})

	var poll updatesResponse
	getJSON(t, srv, base+"/updates?user_id=bob&after_seq=0", &poll)
	if len(poll.Updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(poll.Updates))
	}
	if poll.Updates[0].Type != domain.UpdateTypeUserJoined {
		t.Errorf("updates[0].Type = %q, want user_joined", poll.Updates[0].Type)
	}
	if poll.Updates[1].Type != domain.UpdateTypeUserLeft {
		t.Errorf("updates[1].Type = %q, want user_left", poll.Updates[1].Type)
	}
	member, err := domain.DecodeMembership(poll.Updates[0])
	if err != nil {
		t.Fatalf("decode membership: %v", err)
	}
	if member.ID != "alice" || member.Name != "Alice" {
		t.Errorf("membership payload = %+v", member)
	}
}

func TestServerShutdownOnContextCancel(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	server, err := NewServer(Config{HTTPAddr: "127.0.0.1:0"}, store, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.ListenAndServe(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
