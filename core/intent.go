package core

// IntentKind classifies what a turn of free text is asking for.
type IntentKind string

const (
	// IntentRecommend asks for event suggestions for a group.
	IntentRecommend IntentKind = "recommend"

	// IntentRefine adjusts a previous recommendation ("earlier only",
	// "something outdoors instead").
	IntentRefine IntentKind = "refine"

	// IntentUpdateProfile states preferences to remember ("I like jazz").
	IntentUpdateProfile IntentKind = "update_profile"

	// IntentUpdateBusy states busy hours ("I'm busy Friday 14:00-16:00").
	IntentUpdateBusy IntentKind = "update_busy"

	// IntentSmalltalk is chatter that needs no planning.
	IntentSmalltalk IntentKind = "smalltalk"

	// IntentUnknown is the classified UnrecognizedIntent outcome. It is not
	// an error: the planner routes it to Present with an explanation.
	IntentUnknown IntentKind = "unknown"
)

// Intent is the structured reading of one inbound message. The interpreter
// fills as much as it can extract; the planner decides whether that is enough
// to leave Clarify.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	QueryText string     `json:"query_text,omitempty"`

	// Members are resolved group member IDs mentioned in the message. The
	// session manager never resolves membership itself; it arrives here.
	Members []string `json:"members,omitempty"`

	// Window optionally constrains recommendations to a time span.
	Window *Interval `json:"window,omitempty"`

	// AddPreferences / RemovePreferences carry profile updates.
	AddPreferences    []string `json:"add_preferences,omitempty"`
	RemovePreferences []string `json:"remove_preferences,omitempty"`

	// BusySlots carries busy-hour updates.
	BusySlots []BusyInterval `json:"busy_slots,omitempty"`

	// Reply is pre-formed response text for smalltalk and unknown intents.
	Reply string `json:"reply,omitempty"`
}

// Resolvable reports whether the intent carries enough to start retrieval:
// non-empty query text and a resolvable group.
func (in *Intent) Resolvable() bool {
	return in.QueryText != "" && len(in.Members) > 0
}
