package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	apperrors "github.com/hearthgrid/hearthgrid/internal/platform/errors"
	"github.com/hearthgrid/hearthgrid/internal/sync/app"
	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage/sqlite"
)

func TestNewHTTPStoreRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPStore("  "); err == nil {
		t.Error("NewHTTPStore(blank) error = nil, want error")
	}
}

func TestHTTPStoreErrorMapping(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	server, err := app.NewServer(app.Config{HTTPAddr: "127.0.0.1:0"}, store, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	transport, err := NewHTTPStore(srv.URL)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	ctx := context.Background()
	sessionID := domain.NewSessionID()

	// Heartbeat for a user the server never saw maps to the missing-record
	// sentinel so the client can re-register.
	err = transport.SendHeartbeat(ctx, sessionID, "ghost", 0, 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SendHeartbeat() error = %v, want storage.ErrNotFound", err)
	}

	// Validation failures keep their server-side code.
	err = transport.SaveGameState(ctx, sessionID, "alice", []byte(`[]`))
	if got := apperrors.CodeOf(err); got != apperrors.CodeGameStateEmptyBody {
		t.Errorf("SaveGameState([]) code = %v, want %v", got, apperrors.CodeGameStateEmptyBody)
	}
}
