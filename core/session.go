package core

import (
	"fmt"
	"time"
)

// Node names a planner state. The conversational loop is an explicit state
// machine: a session idles at its current node between turns, so no resume
// machinery is needed beyond persisting the state.
type Node string

const (
	NodeClarify  Node = "clarify"
	NodeRetrieve Node = "retrieve"
	NodeFilter   Node = "filter"
	NodeRank     Node = "rank"
	NodePresent  Node = "present"
	NodeRefine   Node = "refine"
)

// Valid reports whether n is one of the defined planner nodes.
func (n Node) Valid() bool {
	switch n {
	case NodeClarify, NodeRetrieve, NodeFilter, NodeRank, NodePresent, NodeRefine:
		return true
	}
	return false
}

// Turn records one processed inbound message: what was said, how it was
// read, and which node handled it.
type Turn struct {
	At     time.Time `json:"at"`
	Sender string    `json:"sender"`
	Input  string    `json:"input"`
	Intent Intent    `json:"intent"`
	Node   Node      `json:"node"`
}

// SessionState is the persisted planning state for one conversation. The
// session manager owns it exclusively; the planner receives it for a single
// step and returns an updated copy.
type SessionState struct {
	ConversationID string      `json:"conversation_id"`
	Node           Node        `json:"node"`
	Group          Group       `json:"group,omitempty"`
	Query          string      `json:"query,omitempty"`
	Window         *Interval   `json:"window,omitempty"`
	Turns          []Turn      `json:"turns,omitempty"`
	Candidates     []Candidate `json:"candidates,omitempty"`

	// ClarifyAttempts counts consecutive unresolved Clarify loops;
	// EmptyRetries counts consecutive empty post-filter results. Both reset
	// whenever the loop they bound makes progress.
	ClarifyAttempts int `json:"clarify_attempts,omitempty"`
	EmptyRetries    int `json:"empty_retries,omitempty"`

	Closed    bool      `json:"closed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState creates a fresh session in the initial Clarify node.
func NewSessionState(conversationID string) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		ConversationID: conversationID,
		Node:           NodeClarify,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so a planner step can mutate freely without
// touching the committed state.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.Group = append(Group(nil), s.Group...)
	out.Turns = append([]Turn(nil), s.Turns...)
	out.Candidates = append([]Candidate(nil), s.Candidates...)
	if s.Window != nil {
		w := *s.Window
		out.Window = &w
	}
	return &out
}

// Validate sanity-checks a session loaded from storage.
func (s *SessionState) Validate() error {
	if s.ConversationID == "" {
		return fmt.Errorf("%w: session has empty conversation id", ErrInvariantViolation)
	}
	if !s.Node.Valid() {
		return fmt.Errorf("%w: session %s has unknown node %q", ErrInvariantViolation, s.ConversationID, s.Node)
	}
	return nil
}
