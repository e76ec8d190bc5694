package app

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func writeTestFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readTestFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func TestSubscribeReturnsLatestSeq(t *testing.T) {
	_, srv := newTestServer(t)
	base := "/api/v1/sessions/session_1_a"

	postJSON(t, srv, base+"/characters", saveCharacterRequest{
		UserID:    "alice",
		Character: json.RawMessage(`{"id":"char-1"}`),
	})

	conn := dialWS(t, srv)
	writeTestFrame(t, conn, map[string]any{
		"type":    frameTypeSubscribe,
		"payload": map[string]any{"session_id": "session_1_a"},
	})

	frame := readTestFrame(t, conn)
	if frame.Type != frameTypeSubscribed {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypeSubscribed)
	}
	var payload subscribedPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SessionID != "session_1_a" || payload.LatestSeq != 1 {
		t.Errorf("payload = %+v, want session_1_a at seq 1", payload)
	}
}

func TestAppendBroadcastsPing(t *testing.T) {
	_, srv := newTestServer(t)
	base := "/api/v1/sessions/session_1_a"

	conn := dialWS(t, srv)
	writeTestFrame(t, conn, map[string]any{
		"type":    frameTypeSubscribe,
		"payload": map[string]any{"session_id": "session_1_a"},
	})
	if frame := readTestFrame(t, conn); frame.Type != frameTypeSubscribed {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypeSubscribed)
	}

	postJSON(t, srv, base+"/characters", saveCharacterRequest{
		UserID:    "alice",
		Character: json.RawMessage(`{"id":"char-1"}`),
	})

	frame := readTestFrame(t, conn)
	if frame.Type != frameTypePing {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypePing)
	}
	var payload pingPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode ping payload: %v", err)
	}
	if payload.LatestSeq != 1 {
		t.Errorf("ping latest seq = %d, want 1", payload.LatestSeq)
	}
}

func TestPingNotSentToOtherSessions(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeTestFrame(t, conn, map[string]any{
		"type":    frameTypeSubscribe,
		"payload": map[string]any{"session_id": "session_2_b"},
	})
	if frame := readTestFrame(t, conn); frame.Type != frameTypeSubscribed {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypeSubscribed)
	}

	postJSON(t, srv, "/api/v1/sessions/session_1_a/characters", saveCharacterRequest{
		UserID:    "alice",
		Character: json.RawMessage(`{"id":"char-1"}`),
	})

	_ = conn.SetDeadline(time.Now().Add(300 * time.Millisecond))
	var got wsFrame
	if err := json.NewDecoder(conn).Decode(&got); err == nil {
		t.Errorf("received unexpected frame %+v", got)
	}
}

func TestUnsupportedFrameTypeReturnsError(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeTestFrame(t, conn, map[string]any{"type": "sync.bogus"})

	frame := readTestFrame(t, conn)
	if frame.Type != frameTypeError {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypeError)
	}
}

func TestSubscribeRequiresSessionID(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dialWS(t, srv)
	writeTestFrame(t, conn, map[string]any{
		"type":    frameTypeSubscribe,
		"payload": map[string]any{"session_id": "  "},
	})

	frame := readTestFrame(t, conn)
	if frame.Type != frameTypeError {
		t.Fatalf("frame type = %q, want %q", frame.Type, frameTypeError)
	}
}
