package client

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

const notifyRetryDelay = time.Second

type notifyFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NotifyListener keeps a websocket subscription to the sync server and wakes
// the client for an immediate poll whenever the server pings a new append.
//
// The listener is purely an acceleration: if the socket is down the client
// still converges on its poll timer, just with more latency.
type NotifyListener struct {
	wsURL     string
	origin    string
	sessionID string
	client    *Client
	logger    *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// StartNotifyListener dials wsURL (a ws:// or wss:// endpoint), subscribes to
// the session, and forwards pings to the client until Stop is called.
func StartNotifyListener(wsURL, origin, sessionID string, syncClient *Client, logger *log.Logger) (*NotifyListener, error) {
	wsURL = strings.TrimSpace(wsURL)
	sessionID = strings.TrimSpace(sessionID)
	if wsURL == "" {
		return nil, errNotifyURLRequired
	}
	if sessionID == "" {
		return nil, errNotifySessionRequired
	}
	if syncClient == nil {
		return nil, errNotifyClientRequired
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener := &NotifyListener{
		wsURL:     wsURL,
		origin:    strings.TrimSpace(origin),
		sessionID: sessionID,
		client:    syncClient,
		logger:    logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go listener.run(ctx)
	return listener, nil
}

// Stop closes the subscription and waits for the listener goroutine to exit.
func (l *NotifyListener) Stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *NotifyListener) run(ctx context.Context) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			return
		}
		l.consume(ctx)
		if !waitNotifyRetry(ctx, notifyRetryDelay) {
			return
		}
	}
}

// consume holds one websocket connection: subscribe, then forward pings until
// the connection drops.
func (l *NotifyListener) consume(ctx context.Context) {
	conn, err := websocket.Dial(l.wsURL, "", l.origin)
	if err != nil {
		l.logger.Printf("sync notify dial failed: %v", err)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	subscribe := notifyFrame{
		Type:    "sync.subscribe",
		Payload: mustMarshalNotify(map[string]string{"session_id": l.sessionID}),
	}
	if err := json.NewEncoder(conn).Encode(subscribe); err != nil {
		l.logger.Printf("sync notify subscribe failed: %v", err)
		return
	}

	decoder := json.NewDecoder(conn)
	for {
		var frame notifyFrame
		if err := decoder.Decode(&frame); err != nil {
			if ctx.Err() == nil {
				l.logger.Printf("sync notify connection lost: %v", err)
			}
			return
		}
		if frame.Type == "sync.ping" {
			l.client.Notify()
		}
	}
}

func mustMarshalNotify(payload any) json.RawMessage {
	raw, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func waitNotifyRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
