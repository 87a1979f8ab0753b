package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event is a catalog entry that can be recommended to a group.
// Events are immutable once stored; updates go through the event store's
// Upsert, which also triggers re-indexing in the vector index.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location"`
	Tags        []string  `json:"tags,omitempty"`
}

// Validate checks the event's time-window invariant.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event has empty id", ErrInvariantViolation)
	}
	if !e.Start.Before(e.End) {
		return fmt.Errorf("%w: event %s start %s is not before end %s",
			ErrInvariantViolation, e.ID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return nil
}

// Window returns the event's time window as an interval.
func (e *Event) Window() Interval {
	return Interval{Start: e.Start, End: e.End}
}

// Document renders the event as text for embedding. The shape mirrors what
// the index was originally built from: title first, then the details that
// make semantic queries land.
func (e *Event) Document() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s.", e.Title)
	if e.Description != "" {
		fmt.Fprintf(&b, " %s.", e.Description)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, " Location: %s.", e.Location)
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, " Tags: %s.", strings.Join(e.Tags, ", "))
	}
	fmt.Fprintf(&b, " Date: %s.", e.Start.Format("Mon, Jan 2 15:04"))
	return b.String()
}

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals intersect:
// [s1,e1) and [s2,e2) conflict iff s1 < e2 && s2 < e1.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// BusyInterval is one blocked span on a user's calendar. Many per user;
// overlapping intervals are permitted and merged logically at query time.
type BusyInterval struct {
	UserID string    `json:"user_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Validate checks the busy interval's invariant.
func (b *BusyInterval) Validate() error {
	if b.UserID == "" {
		return fmt.Errorf("%w: busy interval has empty user id", ErrInvariantViolation)
	}
	if !b.Start.Before(b.End) {
		return fmt.Errorf("%w: busy interval for %s start %s is not before end %s",
			ErrInvariantViolation, b.UserID, b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339))
	}
	return nil
}

// Interval returns the busy span without its owner.
func (b *BusyInterval) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// UserProfile holds group membership metadata and retrieval context for one
// user. Notes are free text and feed retrieval only, never filtering.
type UserProfile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Preferences []string `json:"preferences,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Group is the set of user identifiers a recommendation is being sought for.
// It is derived per conversation and never persisted on its own.
type Group []string

// NewGroup builds a group from member IDs, deduplicated and sorted so that
// equal member sets compare equal.
func NewGroup(members ...string) Group {
	seen := make(map[string]struct{}, len(members))
	var g Group
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		g = append(g, m)
	}
	sort.Strings(g)
	return g
}

// Contains reports membership.
func (g Group) Contains(userID string) bool {
	for _, m := range g {
		if m == userID {
			return true
		}
	}
	return false
}

// Verdict classifies a candidate's availability for the group.
type Verdict int

const (
	// VerdictFitsAll means every group member is free for the event window.
	VerdictFitsAll Verdict = iota

	// VerdictFitsSubset means at least one but not all members are free.
	VerdictFitsSubset

	// VerdictConflictsAll means no member is free.
	VerdictConflictsAll
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case VerdictFitsAll:
		return "fits-all"
	case VerdictFitsSubset:
		return "fits-subset"
	case VerdictConflictsAll:
		return "conflicts-all"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// MarshalJSON encodes the verdict as its string form so stored sessions and
// gateway replies stay readable.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts the string forms produced by MarshalJSON.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "fits-all":
		*v = VerdictFitsAll
	case "fits-subset":
		*v = VerdictFitsSubset
	case "conflicts-all":
		*v = VerdictConflictsAll
	default:
		return fmt.Errorf("%w: unknown verdict %q", ErrInvariantViolation, s)
	}
	return nil
}

// Candidate is an event proposed by retrieval together with its relevance
// score (higher is more relevant) and availability verdict. FreeMembers is
// populated only for fits-subset verdicts, in sorted order.
type Candidate struct {
	Event       Event    `json:"event"`
	Score       float64  `json:"score"`
	Verdict     Verdict  `json:"verdict"`
	FreeMembers []string `json:"free_members,omitempty"`
}
