package app

import (
	"strings"
	"sync"
)

// sessionHub fans append notifications out to websocket subscribers.
//
// Notifications are advisory pings carrying the latest sequence; the poll
// loop stays the source of truth, so a dropped ping only costs latency.
type sessionHub struct {
	mu       sync.Mutex
	sessions map[string]map[*wsPeer]struct{}
}

func newSessionHub() *sessionHub {
	return &sessionHub{sessions: make(map[string]map[*wsPeer]struct{})}
}

func (h *sessionHub) subscribe(sessionID string, peer *wsPeer) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || peer == nil {
		return
	}
	h.mu.Lock()
	subscribers, ok := h.sessions[sessionID]
	if !ok {
		subscribers = make(map[*wsPeer]struct{})
		h.sessions[sessionID] = subscribers
	}
	subscribers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *sessionHub) unsubscribe(sessionID string, peer *wsPeer) {
	h.mu.Lock()
	if subscribers, ok := h.sessions[sessionID]; ok {
		delete(subscribers, peer)
		if len(subscribers) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
}

// notify delivers a sync.ping with the latest sequence to every subscriber of
// the session. Writes happen outside the hub lock so one slow peer cannot
// stall the rest.
func (h *sessionHub) notify(sessionID string, latestSeq uint64) {
	h.mu.Lock()
	peers := make([]*wsPeer, 0, len(h.sessions[sessionID]))
	for peer := range h.sessions[sessionID] {
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	for _, peer := range peers {
		_ = peer.writeFrame(wsFrame{
			Type:    frameTypePing,
			Payload: mustMarshal(pingPayload{SessionID: sessionID, LatestSeq: latestSeq}),
		})
	}
}
