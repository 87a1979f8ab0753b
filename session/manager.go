// Package session implements the conversation session manager: it owns
// SessionState exclusively, serializes planner steps per conversation, and
// persists state before any output reaches the caller.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/planner"
	"github.com/gatherkit/gather-go/store"
)

// DefaultInactivityWindow is how long a conversation may idle before the
// cleanup sweep closes it.
const DefaultInactivityWindow = 24 * time.Hour

// conversation tracks the per-conversation lock and activity clock. The
// lock guarantees at most one in-flight Advance per conversation while
// distinct conversations proceed concurrently.
type conversation struct {
	mu           sync.Mutex
	lastActivity time.Time
	refs         int
}

// Manager coordinates planner steps against persisted session state.
type Manager struct {
	planner  *planner.Planner
	sessions store.SessionStore
	window   time.Duration

	mu    sync.Mutex
	convs map[string]*conversation
}

// Option configures the manager.
type Option func(*Manager)

// WithInactivityWindow overrides how long sessions may idle before the
// cleanup sweep closes them.
func WithInactivityWindow(window time.Duration) Option {
	return func(m *Manager) {
		if window > 0 {
			m.window = window
		}
	}
}

// NewManager creates a session manager over the given planner and store.
func NewManager(p *planner.Planner, sessions store.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		planner:  p,
		sessions: sessions,
		window:   DefaultInactivityWindow,
		convs:    make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the existing session for a conversation, or a fresh one in
// the initial Clarify node if none exists or the previous one was closed.
func (m *Manager) Load(ctx context.Context, conversationID string) (*core.SessionState, error) {
	state, err := m.sessions.Get(ctx, conversationID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.NewSessionState(conversationID), nil
	case err != nil:
		return nil, err
	case state.Closed:
		return core.NewSessionState(conversationID), nil
	}
	return state, nil
}

// Advance runs exactly one planner step for an inbound message and persists
// the resulting state before returning the output. Failures leave the
// persisted state untouched so the session stays where it was.
func (m *Manager) Advance(ctx context.Context, conversationID, sender, text string) (planner.Output, error) {
	conv := m.acquire(conversationID)
	defer m.release(conv)

	state, err := m.Load(ctx, conversationID)
	if err != nil {
		return planner.Output{}, err
	}

	result, err := m.planner.Step(ctx, state, sender, text)
	if err != nil {
		log.Printf("[SESSION] step failed for %s: %v", conversationID, err)
		return planner.Output{}, err
	}

	if err := m.sessions.Put(ctx, result.State); err != nil {
		log.Printf("[SESSION] persist failed for %s: %v", conversationID, err)
		return planner.Output{}, err
	}

	return result.Output, nil
}

// Close marks the session terminal. The next Load creates a fresh session
// instead of resuming.
func (m *Manager) Close(ctx context.Context, conversationID string) error {
	conv := m.acquire(conversationID)
	defer m.release(conv)

	state, err := m.sessions.Get(ctx, conversationID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if state.Closed {
		return nil
	}

	state.Closed = true
	state.UpdatedAt = time.Now().UTC()
	return m.sessions.Put(ctx, state)
}

// CleanupExpired closes conversations that have idled past the inactivity
// window and drops their lock entries. Returns how many were closed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	m.mu.Lock()
	var expired []string
	now := time.Now()
	for id, conv := range m.convs {
		if conv.refs == 0 && now.Sub(conv.lastActivity) > m.window {
			delete(m.convs, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range expired {
		if err := m.Close(ctx, id); err != nil {
			log.Printf("[SESSION] cleanup close failed for %s: %v", id, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		log.Printf("[SESSION] closed %d idle conversation(s)", closed)
	}
	return closed
}

// StartCleanup runs the inactivity sweep on the given interval until the
// returned stop function is called.
func (m *Manager) StartCleanup(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.CleanupExpired(context.Background())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// acquire takes the per-conversation lock, creating the entry on first use.
// The refcount keeps CleanupExpired from deleting an entry with waiters.
func (m *Manager) acquire(conversationID string) *conversation {
	m.mu.Lock()
	conv, ok := m.convs[conversationID]
	if !ok {
		conv = &conversation{}
		m.convs[conversationID] = conv
	}
	conv.refs++
	m.mu.Unlock()

	conv.mu.Lock()
	return conv
}

func (m *Manager) release(conv *conversation) {
	conv.mu.Unlock()

	m.mu.Lock()
	conv.refs--
	conv.lastActivity = time.Now()
	m.mu.Unlock()
}
