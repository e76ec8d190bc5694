// Package client implements the browser-facing sync loop: join a session,
// poll the update log on a timer, heartbeat presence, and replay foreign
// records through callbacks in append order so every peer converges under
// last-write-wins.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hearthgrid/hearthgrid/internal/sync/domain"
	"github.com/hearthgrid/hearthgrid/internal/sync/storage"
)

// State is the connection lifecycle of a sync client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSyncing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSyncing:
		return "syncing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultPollInterval is the cadence of the update poll.
const DefaultPollInterval = 3 * time.Second

// DefaultHeartbeatInterval is the cadence of presence heartbeats.
const DefaultHeartbeatInterval = 30 * time.Second

// Callbacks deliver replayed records and lifecycle changes to the embedding
// application. All callbacks run on the client's sync goroutine; a nil field
// drops that event class.
type Callbacks struct {
	// CharacterUpdated receives character documents in append order. A doc
	// with Deleted set is a tombstone for a removed character.
	CharacterUpdated func(domain.CharacterDoc)
	// GameStateUpdated receives the full shared board document.
	GameStateUpdated func(json.RawMessage)
	// UserJoined and UserLeft receive membership changes from the log.
	UserJoined func(domain.MembershipPayload)
	UserLeft   func(domain.MembershipPayload)
	// StateChanged fires on every lifecycle transition.
	StateChanged func(State)
}

// Options tunes the client's timers.
type Options struct {
	// PollInterval is the update poll cadence. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// HeartbeatInterval is the presence heartbeat cadence. Zero means
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// Logger receives background poll and heartbeat failures. Nil means the
	// process default logger.
	Logger *log.Logger
}

// Client drives one user's participation in one session.
type Client struct {
	store             Store
	callbacks         Callbacks
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *log.Logger

	// kick wakes the sync loop for an immediate poll, used by the websocket
	// notify listener. Capacity one: a pending kick already covers any burst.
	kick chan struct{}

	mu         sync.Mutex
	state      State
	sessionID  string
	user       domain.User
	afterSeq   uint64
	inFlight   bool
	generation uint64
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// New builds a sync client over the provided transport.
func New(store Store, callbacks Callbacks, opts Options) (*Client, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Client{
		store:             store,
		callbacks:         callbacks,
		pollInterval:      opts.PollInterval,
		heartbeatInterval: opts.HeartbeatInterval,
		logger:            opts.Logger,
		kick:              make(chan struct{}, 1),
		state:             StateDisconnected,
	}, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watermark returns the highest sequence the client has replayed.
func (c *Client) Watermark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.afterSeq
}

// SessionID returns the joined session id, or empty when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UserID returns the local user's id, minted at join when the caller did not
// supply one. Empty when disconnected.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user.ID
}

// JoinSession registers the user and starts the poll and heartbeat timers.
//
// The watermark starts at zero, so the first poll replays the session's whole
// log; applying it in order rebuilds current state for a late joiner. A
// failed join leaves the client disconnected.
func (c *Client) JoinSession(ctx context.Context, sessionID string, user domain.User) error {
	sessionID = strings.TrimSpace(sessionID)
	user.SessionID = sessionID
	user = user.Normalize()
	if user.ID == "" {
		generated, err := domain.NewUserID()
		if err != nil {
			return fmt.Errorf("mint user id: %w", err)
		}
		user.ID = generated
	}
	if err := user.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("join session: already %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	if err := c.store.JoinSession(ctx, user); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.notifyState(StateDisconnected)
		return fmt.Errorf("join session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.sessionID = sessionID
	c.user = user
	c.afterSeq = 0
	c.inFlight = false
	c.state = StateConnected
	c.cancelLoop = cancel
	c.loopDone = done
	generation := c.generation
	c.mu.Unlock()
	c.notifyState(StateConnected)

	go c.run(loopCtx, generation, done)
	// First poll happens right away so a late joiner replays the log without
	// waiting out the first tick.
	c.Notify()
	return nil
}

// LeaveSession stops the timers, clears local state, and deregisters the user.
//
// Local state resets even when the transport call fails; the server roster
// self-heals through the presence TTL. Leaving while disconnected is a no-op.
func (c *Client) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.sessionID
	userID := c.user.ID
	cancel := c.cancelLoop
	done := c.loopDone

	c.generation++
	c.state = StateDisconnected
	c.sessionID = ""
	c.user = domain.User{}
	c.afterSeq = 0
	c.inFlight = false
	c.cancelLoop = nil
	c.loopDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.notifyState(StateDisconnected)

	if err := c.store.LeaveSession(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("leave session: %w", err)
	}
	return nil
}

// SetCursor records the local cursor position carried by the next heartbeat.
func (c *Client) SetCursor(x, y float64) {
	c.mu.Lock()
	c.user.CursorX = x
	c.user.CursorY = y
	c.mu.Unlock()
}

// Notify wakes the sync loop for an immediate poll. Safe to call from any
// goroutine; a poll already in flight absorbs the wake-up.
func (c *Client) Notify() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// OtherUsers returns the session roster without the local user and without
// rows that carry no id.
func (c *Client) OtherUsers(ctx context.Context) ([]domain.User, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	selfID := c.user.ID
	connected := c.state == StateConnected || c.state == StateSyncing
	c.mu.Unlock()
	if !connected {
		return nil, errors.New("not connected to a session")
	}

	users, err := c.store.SessionUsers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session users: %w", err)
	}
	others := make([]domain.User, 0, len(users))
	for _, user := range users {
		if strings.TrimSpace(user.ID) == "" || user.ID == selfID {
			continue
		}
		others = append(others, user)
	}
	return others, nil
}

// SaveCharacter publishes the opaque character document to the session log.
// Malformed documents are rejected before any network call.
func (c *Client) SaveCharacter(ctx context.Context, character json.RawMessage) error {
	sessionID, userID, err := c.writer()
	if err != nil {
		return err
	}
	if _, err := domain.NewCharacterUpdate(sessionID, userID, character); err != nil {
		return err
	}
	if err := c.store.SaveCharacter(ctx, sessionID, userID, character); err != nil {
		return fmt.Errorf("save character: %w", err)
	}
	return nil
}

// DeleteCharacter publishes a tombstone for the character.
func (c *Client) DeleteCharacter(ctx context.Context, characterID string) error {
	sessionID, userID, err := c.writer()
	if err != nil {
		return err
	}
	if _, err := domain.NewCharacterDelete(sessionID, userID, characterID); err != nil {
		return err
	}
	if err := c.store.DeleteCharacter(ctx, sessionID, userID, characterID); err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	return nil
}

// SaveGameState publishes the full shared board document to the session log.
func (c *Client) SaveGameState(ctx context.Context, state json.RawMessage) error {
	sessionID, userID, err := c.writer()
	if err != nil {
		return err
	}
	if _, err := domain.NewGameStateUpdate(sessionID, userID, state); err != nil {
		return err
	}
	if err := c.store.SaveGameState(ctx, sessionID, userID, state); err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

func (c *Client) writer() (sessionID, userID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected && c.state != StateSyncing {
		return "", "", errors.New("not connected to a session")
	}
	return c.sessionID, c.user.ID, nil
}

func (c *Client) notifyState(state State) {
	if c.callbacks.StateChanged != nil {
		c.callbacks.StateChanged(state)
	}
}

// run is the sync loop: poll on a timer or on an external wake-up, heartbeat
// on a slower timer, until the session is left.
func (c *Client) run(ctx context.Context, generation uint64, done chan struct{}) {
	defer close(done)

	pollTicker := time.NewTicker(c.pollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(c.heartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			c.poll(ctx, generation)
		case <-c.kick:
			c.poll(ctx, generation)
		case <-heartbeatTicker.C:
			c.heartbeat(ctx, generation)
		}
	}
}

// poll fetches foreign records past the watermark and replays them in order.
// At most one poll runs at a time; an overlapping tick is skipped rather than
// queued. A failed poll leaves the client connected for the next tick.
func (c *Client) poll(ctx context.Context, generation uint64) {
	c.mu.Lock()
	if c.generation != generation || c.state != StateConnected || c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.state = StateSyncing
	sessionID := c.sessionID
	selfID := c.user.ID
	afterSeq := c.afterSeq
	c.mu.Unlock()
	c.notifyState(StateSyncing)

	updates, err := c.store.SessionUpdates(ctx, sessionID, selfID, afterSeq)

	c.mu.Lock()
	if c.generation != generation {
		// The session was left mid-flight; drop the page.
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.inFlight = false
		c.state = StateConnected
		c.mu.Unlock()
		c.notifyState(StateConnected)
		c.logger.Printf("sync poll failed for session %s: %v", sessionID, err)
		return
	}
	c.mu.Unlock()

	maxSeq := afterSeq
	for _, update := range updates {
		if update.Seq > maxSeq {
			maxSeq = update.Seq
		}
		c.dispatch(update)
	}

	c.mu.Lock()
	settled := c.generation == generation
	if settled {
		if maxSeq > c.afterSeq {
			c.afterSeq = maxSeq
		}
		c.inFlight = false
		c.state = StateConnected
	}
	c.mu.Unlock()
	if settled {
		c.notifyState(StateConnected)
	}
}

// dispatch replays one record through the matching callback. Records that
// fail validation or decoding are logged and skipped so one malformed write
// cannot stall the stream behind it.
func (c *Client) dispatch(update domain.Update) {
	if err := update.Validate(); err != nil {
		c.logger.Printf("sync skipping invalid record seq %d: %v", update.Seq, err)
		return
	}

	switch update.Type {
	case domain.UpdateTypeCharacterUpdated, domain.UpdateTypeCharacterDeleted:
		doc, err := domain.DecodeCharacter(update)
		if err != nil {
			c.logger.Printf("sync skipping character record seq %d: %v", update.Seq, err)
			return
		}
		if c.callbacks.CharacterUpdated != nil {
			c.callbacks.CharacterUpdated(doc)
		}
	case domain.UpdateTypeGameStateUpdated:
		state, err := domain.DecodeGameState(update)
		if err != nil {
			c.logger.Printf("sync skipping game state record seq %d: %v", update.Seq, err)
			return
		}
		if c.callbacks.GameStateUpdated != nil {
			c.callbacks.GameStateUpdated(state)
		}
	case domain.UpdateTypeUserJoined:
		member, err := domain.DecodeMembership(update)
		if err != nil {
			c.logger.Printf("sync skipping membership record seq %d: %v", update.Seq, err)
			return
		}
		if c.callbacks.UserJoined != nil {
			c.callbacks.UserJoined(member)
		}
	case domain.UpdateTypeUserLeft:
		member, err := domain.DecodeMembership(update)
		if err != nil {
			c.logger.Printf("sync skipping membership record seq %d: %v", update.Seq, err)
			return
		}
		if c.callbacks.UserLeft != nil {
			c.callbacks.UserLeft(member)
		}
	}
}

// heartbeat refreshes the presence row. A NOT_FOUND answer means the row aged
// out, so the client re-registers with its current identity.
func (c *Client) heartbeat(ctx context.Context, generation uint64) {
	c.mu.Lock()
	if c.generation != generation || (c.state != StateConnected && c.state != StateSyncing) {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	user := c.user
	c.mu.Unlock()

	err := c.store.SendHeartbeat(ctx, sessionID, user.ID, user.CursorX, user.CursorY)
	if err == nil {
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		if rejoinErr := c.store.JoinSession(ctx, user); rejoinErr != nil {
			c.logger.Printf("sync rejoin after expired presence failed for session %s: %v", sessionID, rejoinErr)
		}
		return
	}
	c.logger.Printf("sync heartbeat failed for session %s: %v", sessionID, err)
}
