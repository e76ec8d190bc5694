// Package app hosts the sync HTTP/WebSocket process: the JSON API clients
// poll and write through, and the advisory websocket ping channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hearthgrid/hearthgrid/internal/platform/timeouts"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

// DefaultPresenceTTL bounds how long a user stays on the roster without a
// heartbeat. Two heartbeat intervals of slack keeps one dropped beat from
// flickering the roster.
const DefaultPresenceTTL = 60 * time.Second

// Config defines the inputs for the sync transport boundary.
type Config struct {
	HTTPAddr          string
	PresenceTTL       time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the sync HTTP/WebSocket process.
//
// It owns no domain state beyond the hub of websocket subscribers; the update
// log and presence registry are injected so backends stay swappable.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	presenceTTL     time.Duration
	updates         storage.UpdateLog
	presence        storage.PresenceRegistry
	hub             *sessionHub
}

// NewServer builds a configured sync server around the provided stores.
func NewServer(config Config, updates storage.UpdateLog, presence storage.PresenceRegistry) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if updates == nil {
		return nil, errors.New("update log is required")
	}
	if presence == nil {
		return nil, errors.New("presence registry is required")
	}
	if config.PresenceTTL <= 0 {
		config.PresenceTTL = DefaultPresenceTTL
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		presenceTTL:     config.PresenceTTL,
		updates:         updates,
		presence:        presence,
		hub:             newSessionHub(),
	}
	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return server, nil
}

// Handler exposes the route table for tests and embedding callers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc(http.MethodPost+" /api/v1/sessions/{sessionID}/join", s.handleJoin)
	mux.HandleFunc(http.MethodPost+" /api/v1/sessions/{sessionID}/leave", s.handleLeave)
	mux.HandleFunc(http.MethodPost+" /api/v1/sessions/{sessionID}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc(http.MethodGet+" /api/v1/sessions/{sessionID}/users", s.handleListUsers)
	mux.HandleFunc(http.MethodGet+" /api/v1/sessions/{sessionID}/updates", s.handleListUpdates)
	mux.HandleFunc(http.MethodPost+" /api/v1/sessions/{sessionID}/characters", s.handleSaveCharacter)
	mux.HandleFunc(http.MethodDelete+" /api/v1/sessions/{sessionID}/characters/{characterID}", s.handleDeleteCharacter)
	mux.HandleFunc(http.MethodPost+" /api/v1/sessions/{sessionID}/state", s.handleSaveState)

	wsHandler := websocket.Handler(s.handleWSConn)
	mux.HandleFunc(http.MethodGet+" /ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// Run creates and serves a sync server until the context ends.
func Run(ctx context.Context, config Config, updates storage.UpdateLog, presence storage.PresenceRegistry) error {
	server, err := NewServer(config, updates, presence)
	if err != nil {
		return fmt.Errorf("init sync server: %w", err)
	}
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve sync: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("sync server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("sync server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
