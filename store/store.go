// Package store defines the durable-store contracts the recommendation core
// consumes. The planner and availability matcher only ever see these
// operations, never raw storage details.
//
// Failures other than not-found surface as core.ErrStoreUnavailable so
// callers can apply the retry-then-surface policy uniformly.
package store

import (
	"context"

	"github.com/gatherkit/gather-go/core"
)

// EventQuery filters an event listing.
type EventQuery struct {
	// Window, when set, restricts to events overlapping it.
	Window *core.Interval

	// Tags, when non-empty, restricts to events carrying at least one tag.
	Tags []string

	// Limit caps the result count; <= 0 means no cap.
	Limit int
}

// EventStore is the durable event catalog.
type EventStore interface {
	// Get returns the event or core.ErrNotFound.
	Get(ctx context.Context, id string) (*core.Event, error)

	// List returns events matching the query, ordered by start time.
	List(ctx context.Context, q EventQuery) ([]core.Event, error)

	// Upsert inserts or replaces the event. It reports whether stored
	// content changed, so callers know to re-index the vector store.
	Upsert(ctx context.Context, event core.Event) (changed bool, err error)

	// Delete removes the event. Deleting an absent event is not an error.
	Delete(ctx context.Context, id string) error
}

// AvailabilityStore holds per-user busy intervals. Overlapping intervals for
// one user are allowed; merging happens at query time, never at storage time.
type AvailabilityStore interface {
	// ListByUsers returns all busy intervals for the given users, optionally
	// restricted to those overlapping the window.
	ListByUsers(ctx context.Context, userIDs []string, window *core.Interval) ([]core.BusyInterval, error)

	// Add appends one busy interval.
	Add(ctx context.Context, interval core.BusyInterval) error

	// Clear removes all busy intervals for the user.
	Clear(ctx context.Context, userID string) error
}

// UserStore holds group membership and profile records.
type UserStore interface {
	// Get returns the profile or core.ErrNotFound.
	Get(ctx context.Context, id string) (*core.UserProfile, error)

	// Upsert inserts or replaces the profile.
	Upsert(ctx context.Context, profile core.UserProfile) error

	// Delete removes the profile. Deleting an absent profile is not an error.
	Delete(ctx context.Context, id string) error
}

// SessionStore persists conversation session state. The session manager is
// the only caller.
type SessionStore interface {
	// Get returns the session or core.ErrNotFound.
	Get(ctx context.Context, conversationID string) (*core.SessionState, error)

	// Put inserts or replaces the session.
	Put(ctx context.Context, state *core.SessionState) error

	// Delete removes the session record.
	Delete(ctx context.Context, conversationID string) error
}
