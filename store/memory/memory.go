// Package memory provides map-backed stores for tests and offline
// development. They satisfy the same contracts as the sqlite backend,
// including error classification, minus durability.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/store"
)

// Stores bundles all four in-memory stores over one mutex.
type Stores struct {
	mu       sync.RWMutex
	events   map[string]core.Event
	busy     map[string][]core.BusyInterval
	users    map[string]core.UserProfile
	sessions map[string]*core.SessionState
}

// New creates empty in-memory stores.
func New() *Stores {
	return &Stores{
		events:   make(map[string]core.Event),
		busy:     make(map[string][]core.BusyInterval),
		users:    make(map[string]core.UserProfile),
		sessions: make(map[string]*core.SessionState),
	}
}

// Events returns the EventStore view.
func (s *Stores) Events() store.EventStore { return (*eventStore)(s) }

// Availability returns the AvailabilityStore view.
func (s *Stores) Availability() store.AvailabilityStore { return (*availabilityStore)(s) }

// Users returns the UserStore view.
func (s *Stores) Users() store.UserStore { return (*userStore)(s) }

// Sessions returns the SessionStore view.
func (s *Stores) Sessions() store.SessionStore { return (*sessionStore)(s) }

type eventStore Stores

func (s *eventStore) Get(ctx context.Context, id string) (*core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &ev, nil
}

func (s *eventStore) List(ctx context.Context, q store.EventQuery) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Event
	for _, ev := range s.events {
		if q.Window != nil && !ev.Window().Overlaps(*q.Window) {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(ev.Tags, q.Tags) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *eventStore) Upsert(ctx context.Context, event core.Event) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.events[event.ID]
	s.events[event.ID] = event
	return !existed || !eventsEqual(prev, event), nil
}

func (s *eventStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
	return nil
}

type availabilityStore Stores

func (s *availabilityStore) ListByUsers(ctx context.Context, userIDs []string, window *core.Interval) ([]core.BusyInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.BusyInterval
	for _, uid := range userIDs {
		for _, iv := range s.busy[uid] {
			if window != nil && !iv.Interval().Overlaps(*window) {
				continue
			}
			out = append(out, iv)
		}
	}
	return out, nil
}

func (s *availabilityStore) Add(ctx context.Context, interval core.BusyInterval) error {
	if err := interval.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[interval.UserID] = append(s.busy[interval.UserID], interval)
	return nil
}

func (s *availabilityStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, userID)
	return nil
}

type userStore Stores

func (s *userStore) Get(ctx context.Context, id string) (*core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

func (s *userStore) Upsert(ctx context.Context, profile core.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
	return nil
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

type sessionStore Stores

func (s *sessionStore) Get(ctx context.Context, conversationID string) (*core.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[conversationID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return state.Clone(), nil
}

func (s *sessionStore) Put(ctx context.Context, state *core.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ConversationID] = state.Clone()
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

func hasAnyTag(tags, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func eventsEqual(a, b core.Event) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Description != b.Description ||
		a.Location != b.Location || !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}
