package app

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
)

const (
	frameTypeSubscribe   = "sync.subscribe"
	frameTypeSubscribed  = "sync.subscribed"
	frameTypeUnsubscribe = "sync.unsubscribe"
	frameTypePing        = "sync.ping"
	frameTypeError       = "sync.error"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	SessionID string `json:"session_id"`
}

type subscribedPayload struct {
	SessionID string `json:"session_id"`
	LatestSeq uint64 `json:"latest_seq"`
}

type pingPayload struct {
	SessionID string `json:"session_id"`
	LatestSeq uint64 `json:"latest_seq"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer serializes frame writes for one websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func mustMarshal(payload any) json.RawMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func writeWSError(peer *wsPeer, code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:    frameTypeError,
		Payload: mustMarshal(wsErrorPayload{Code: code, Message: message}),
	})
}

// handleWSConn runs one websocket connection until it closes. A connection
// may subscribe to several sessions; every subscription is dropped when the
// connection goes away.
func (s *Server) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	subscribed := make(map[string]struct{})
	defer func() {
		for sessionID := range subscribed {
			s.hub.unsubscribe(sessionID, peer)
		}
	}()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameTypeSubscribe:
			var payload subscribePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				_ = writeWSError(peer, "INVALID_ARGUMENT", "invalid subscribe payload")
				continue
			}
			sessionID := strings.TrimSpace(payload.SessionID)
			if err := domain.ValidateSessionID(sessionID); err != nil {
				_ = writeWSError(peer, "INVALID_ARGUMENT", "session id is required")
				continue
			}

			latestSeq, err := s.updates.LatestUpdateSeq(conn.Request().Context(), sessionID)
			if err != nil {
				_ = writeWSError(peer, "INTERNAL", "resolve latest sequence")
				continue
			}

			s.hub.subscribe(sessionID, peer)
			subscribed[sessionID] = struct{}{}
			_ = peer.writeFrame(wsFrame{
				Type:    frameTypeSubscribed,
				Payload: mustMarshal(subscribedPayload{SessionID: sessionID, LatestSeq: latestSeq}),
			})
		case frameTypeUnsubscribe:
			var payload subscribePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				_ = writeWSError(peer, "INVALID_ARGUMENT", "invalid unsubscribe payload")
				continue
			}
			sessionID := strings.TrimSpace(payload.SessionID)
			s.hub.unsubscribe(sessionID, peer)
			delete(subscribed, sessionID)
		default:
			_ = writeWSError(peer, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}
