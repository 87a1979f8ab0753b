// Package planner implements the recommendation planner: a state machine
// over a fixed set of nodes (Clarify, Retrieve, Filter, Rank, Present,
// Refine) that turns a group's free-text intent into ranked event
// recommendations.
//
// One inbound message drives the machine from its resting node until it
// needs input again: Clarify when the intent is still unresolved, Refine
// after results have been presented. All branching decisions live here; the
// session manager owns persistence and concurrency.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/gatherkit/gather-go/availability"
	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/store"
)

// preferenceBoost is added to a candidate's relevance score for each
// distinct tag it shares with the group's combined preference set. Small
// enough that relevance stays the primary ranking key.
const preferenceBoost = 0.05

// Interpreter turns one raw inbound message into a structured intent, given
// the session it arrived in. Implementations must be deterministic for
// identical input when used in tests.
type Interpreter interface {
	Interpret(ctx context.Context, state *core.SessionState, sender, text string) (core.Intent, error)
}

// Config carries the tunables the planner must never hard-code.
type Config struct {
	// PresentLimit is the maximum number of candidates shown to the user.
	PresentLimit int

	// OverFetch multiplies PresentLimit into the retrieval k, absorbing
	// losses during availability filtering.
	OverFetch int

	// MaxClarifyAttempts bounds consecutive unresolved Clarify loops before
	// the planner forces a Present with an explanation.
	MaxClarifyAttempts int

	// MaxEmptyRetries bounds consecutive empty post-filter results before
	// the planner presents an empty-result explanation instead of asking
	// for relaxed constraints again.
	MaxEmptyRetries int

	// Retry governs backoff for retrieval failures.
	Retry index.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.PresentLimit <= 0 {
		c.PresentLimit = 5
	}
	if c.OverFetch <= 0 {
		c.OverFetch = 3
	}
	if c.MaxClarifyAttempts <= 0 {
		c.MaxClarifyAttempts = 3
	}
	if c.MaxEmptyRetries <= 0 {
		c.MaxEmptyRetries = 2
	}
	if c.Retry.Attempts == 0 {
		c.Retry = index.DefaultRetryPolicy
	}
	return c
}

// OutputKind classifies a render payload for the front-end connector.
type OutputKind string

const (
	// OutputQuestion is a clarifying question awaiting an answer.
	OutputQuestion OutputKind = "question"

	// OutputRecommendations is a ranked candidate list.
	OutputRecommendations OutputKind = "recommendations"

	// OutputMessage is plain text with no machine progress attached:
	// smalltalk replies, update acknowledgements, explanations.
	OutputMessage OutputKind = "message"
)

// Output is what the front-end renders after a step.
type Output struct {
	Kind       OutputKind       `json:"kind"`
	Text       string           `json:"text,omitempty"`
	Candidates []core.Candidate `json:"candidates,omitempty"`
}

// StepResult is a completed planner step: the updated session state and the
// payload to render. The caller commits State; the planner never persists.
type StepResult struct {
	State  *core.SessionState
	Output Output
}

// Planner orchestrates retrieval, availability filtering, and ranking.
type Planner struct {
	interp Interpreter
	index  index.Index
	busy   store.AvailabilityStore
	users  store.UserStore
	cfg    Config
}

// New wires a planner from its collaborators.
func New(interp Interpreter, idx index.Index, busy store.AvailabilityStore, users store.UserStore, cfg Config) *Planner {
	return &Planner{
		interp: interp,
		index:  idx,
		busy:   busy,
		users:  users,
		cfg:    cfg.withDefaults(),
	}
}

// Step processes one inbound message against the given session state and
// returns the updated state plus the render payload. The passed state is
// never mutated: on error the caller keeps its prior state and nothing is
// committed, so a failed transition leaves the session exactly where it was.
func (p *Planner) Step(ctx context.Context, prior *core.SessionState, sender, text string) (*StepResult, error) {
	if prior.Closed {
		return nil, fmt.Errorf("%w: conversation %s", core.ErrSessionClosed, prior.ConversationID)
	}

	st := prior.Clone()

	intent, err := p.interp.Interpret(ctx, st, sender, text)
	if err != nil {
		// Interpreter outages degrade to the unrecognized-intent path, never
		// a session failure.
		log.Printf("[PLANNER] interpret failed for %s: %v", st.ConversationID, err)
		intent = core.Intent{Kind: core.IntentUnknown}
	}

	out, err := p.dispatch(ctx, st, sender, intent)
	if err != nil {
		return nil, err
	}

	st.Turns = append(st.Turns, core.Turn{
		At:     time.Now().UTC(),
		Sender: sender,
		Input:  text,
		Intent: intent,
		Node:   st.Node,
	})
	st.UpdatedAt = time.Now().UTC()

	return &StepResult{State: st, Output: out}, nil
}

func (p *Planner) dispatch(ctx context.Context, st *core.SessionState, sender string, intent core.Intent) (Output, error) {
	switch intent.Kind {
	case core.IntentSmalltalk:
		return p.smalltalk(intent), nil
	case core.IntentUpdateProfile:
		return p.updateProfile(ctx, sender, intent)
	case core.IntentUpdateBusy:
		return p.updateBusy(ctx, intent)
	case core.IntentRecommend:
		return p.recommend(ctx, st, intent)
	case core.IntentRefine:
		return p.refine(ctx, st, intent)
	default:
		return p.unrecognized(st, intent), nil
	}
}

// smalltalk answers chatter without touching retrieval.
func (p *Planner) smalltalk(intent core.Intent) Output {
	reply := intent.Reply
	if reply == "" {
		reply = "Hi! Tell me what kind of event you're looking for and who's coming."
	}
	return Output{Kind: OutputMessage, Text: reply}
}

// unrecognized routes a classified UnrecognizedIntent to Present with an
// explanation. The node does not move: an unresolved session keeps
// clarifying, a presented one keeps refining.
func (p *Planner) unrecognized(st *core.SessionState, intent core.Intent) Output {
	reply := intent.Reply
	if reply == "" {
		reply = "I didn't catch that. You can ask for event recommendations, tell me your preferences, or share busy hours."
	}
	log.Printf("[PLANNER] unrecognized intent in %s at node %s", st.ConversationID, st.Node)
	return Output{Kind: OutputMessage, Text: reply}
}

func (p *Planner) updateProfile(ctx context.Context, sender string, intent core.Intent) (Output, error) {
	profile, err := p.users.Get(ctx, sender)
	if errors.Is(err, core.ErrNotFound) {
		profile = &core.UserProfile{ID: sender}
	} else if err != nil {
		return Output{}, err
	}

	prefs := make(map[string]struct{}, len(profile.Preferences))
	for _, t := range profile.Preferences {
		prefs[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range intent.AddPreferences {
		prefs[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	for _, t := range intent.RemovePreferences {
		delete(prefs, strings.ToLower(strings.TrimSpace(t)))
	}
	delete(prefs, "")

	profile.Preferences = profile.Preferences[:0]
	for t := range prefs {
		profile.Preferences = append(profile.Preferences, t)
	}
	sort.Strings(profile.Preferences)

	if err := p.users.Upsert(ctx, *profile); err != nil {
		return Output{}, err
	}
	log.Printf("[PLANNER] updated preferences for %s: %v", sender, profile.Preferences)
	return Output{
		Kind: OutputMessage,
		Text: fmt.Sprintf("Got it. Your preferences are now: %s.", strings.Join(profile.Preferences, ", ")),
	}, nil
}

func (p *Planner) updateBusy(ctx context.Context, intent core.Intent) (Output, error) {
	var added int
	for i := range intent.BusySlots {
		slot := intent.BusySlots[i]
		if err := slot.Validate(); err != nil {
			log.Printf("[PLANNER] dropping invalid busy slot: %v", err)
			continue
		}
		if err := p.busy.Add(ctx, slot); err != nil {
			return Output{}, err
		}
		added++
	}
	if added == 0 {
		return Output{
			Kind: OutputMessage,
			Text: "I couldn't read any busy hours from that. Try something like: busy 2026-09-04 14:00-16:00.",
		}, nil
	}
	return Output{
		Kind: OutputMessage,
		Text: fmt.Sprintf("Noted %d busy slot(s). They'll be taken into account for recommendations.", added),
	}, nil
}

// recommend merges the intent into the session and either runs retrieval or
// keeps clarifying, bounded by MaxClarifyAttempts.
func (p *Planner) recommend(ctx context.Context, st *core.SessionState, intent core.Intent) (Output, error) {
	// A fresh recommendation from the resting state starts over.
	if st.Node == core.NodeRefine {
		st.Candidates = nil
		st.ClarifyAttempts = 0
		st.EmptyRetries = 0
		st.Window = nil
		st.Node = core.NodeClarify
	}

	if intent.QueryText != "" {
		st.Query = intent.QueryText
	}
	if len(intent.Members) > 0 {
		st.Group = core.NewGroup(intent.Members...)
	}
	if intent.Window != nil {
		st.Window = intent.Window
	}

	if st.Query == "" || len(st.Group) == 0 {
		return p.clarify(st), nil
	}

	st.ClarifyAttempts = 0
	return p.pipeline(ctx, st)
}

// clarify emits the next follow-up question, or forces a Present with an
// explanation once the attempt bound is exhausted.
func (p *Planner) clarify(st *core.SessionState) Output {
	if st.ClarifyAttempts >= p.cfg.MaxClarifyAttempts {
		log.Printf("[PLANNER] clarify bound reached in %s, presenting empty", st.ConversationID)
		st.Node = core.NodeRefine
		st.ClarifyAttempts = 0
		return Output{
			Kind: OutputMessage,
			Text: "I still don't have enough to search with, so here's where we stand: no recommendations yet. Start over with what you're looking for and who's coming.",
		}
	}

	st.ClarifyAttempts++
	st.Node = core.NodeClarify

	question := "What kind of event are you in the mood for?"
	if st.Query != "" {
		question = "Who's coming? Mention everyone with @name so I can check availability."
	}
	return Output{Kind: OutputQuestion, Text: question}
}

// refine handles post-presentation adjustments. The classification is a
// deterministic local heuristic: new query text re-enters Retrieve,
// constraint-only changes re-enter Filter over the current candidate set.
func (p *Planner) refine(ctx context.Context, st *core.SessionState, intent core.Intent) (Output, error) {
	if st.Node != core.NodeRefine || len(st.Candidates) == 0 {
		// Nothing presented yet. Treat it as (more) recommendation input.
		return p.recommend(ctx, st, intent)
	}

	if len(intent.Members) > 0 {
		st.Group = core.NewGroup(intent.Members...)
	}
	if intent.Window != nil {
		st.Window = intent.Window
	}

	if intent.QueryText != "" && intent.QueryText != st.Query {
		st.Query = intent.QueryText
		return p.pipeline(ctx, st)
	}
	if intent.Window != nil || len(intent.Members) > 0 {
		events := make([]core.Event, 0, len(st.Candidates))
		scores := make(map[string]float64, len(st.Candidates))
		for _, c := range st.Candidates {
			events = append(events, c.Event)
			scores[c.Event.ID] = c.Score
		}
		return p.filterAndPresent(ctx, st, events, scores)
	}

	return Output{
		Kind: OutputQuestion,
		Text: "What should change? A different kind of event, a different time, or different people?",
	}, nil
}

// pipeline runs Retrieve through Present for a resolved session.
func (p *Planner) pipeline(ctx context.Context, st *core.SessionState) (Output, error) {
	st.Node = core.NodeRetrieve

	k := p.cfg.PresentLimit * p.cfg.OverFetch
	var matches []index.Match
	err := index.Retry(ctx, p.cfg.Retry, func(ctx context.Context) error {
		var qerr error
		matches, qerr = p.index.Query(ctx, st.Query, k, index.Filter{Window: st.Window})
		return qerr
	})
	if err != nil {
		return Output{}, err
	}
	log.Printf("[PLANNER] retrieved %d candidate(s) for %q in %s", len(matches), st.Query, st.ConversationID)

	events := make([]core.Event, 0, len(matches))
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		events = append(events, m.Event)
		scores[m.Event.ID] = m.Score
	}
	return p.filterAndPresent(ctx, st, events, scores)
}

// filterAndPresent runs Filter, Rank, and Present over retrieved events.
// An empty post-filter result bounces to Clarify with a relaxation prompt;
// on the MaxEmptyRetries-th consecutive empty result it presents an
// explanation instead.
func (p *Planner) filterAndPresent(ctx context.Context, st *core.SessionState, events []core.Event, scores map[string]float64) (Output, error) {
	st.Node = core.NodeFilter

	busyRecords, err := p.busy.ListByUsers(ctx, st.Group, nil)
	if err != nil {
		return Output{}, err
	}
	byMember, invalid := availability.BusyIntervalsByMember(busyRecords)
	for _, verr := range invalid {
		log.Printf("[PLANNER] dropping busy record: %v", verr)
	}

	var kept []core.Candidate
	for i := range events {
		ev := events[i]
		if verr := ev.Validate(); verr != nil {
			log.Printf("[PLANNER] excluding event: %v", verr)
			continue
		}
		if st.Window != nil && !ev.Window().Overlaps(*st.Window) {
			continue
		}
		assessment := availability.Assess(ev.Window(), st.Group, byMember)
		if assessment.Verdict == core.VerdictConflictsAll {
			continue
		}
		c := core.Candidate{Event: ev, Score: scores[ev.ID], Verdict: assessment.Verdict}
		if assessment.Verdict == core.VerdictFitsSubset {
			c.FreeMembers = assessment.FreeMembers
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 {
		return p.emptyResult(st), nil
	}
	st.EmptyRetries = 0

	st.Node = core.NodeRank
	p.rank(ctx, st.Group, kept)
	if len(kept) > p.cfg.PresentLimit {
		kept = kept[:p.cfg.PresentLimit]
	}

	st.Node = core.NodePresent
	st.Candidates = kept
	st.ClarifyAttempts = 0
	st.Node = core.NodeRefine

	return Output{
		Kind:       OutputRecommendations,
		Text:       presentText(kept),
		Candidates: kept,
	}, nil
}

// emptyResult implements the bounded empty-after-filter loop.
func (p *Planner) emptyResult(st *core.SessionState) Output {
	st.EmptyRetries++
	if st.EmptyRetries >= p.cfg.MaxEmptyRetries {
		log.Printf("[PLANNER] empty-result bound reached in %s, presenting empty", st.ConversationID)
		st.EmptyRetries = 0
		st.Candidates = nil
		st.Node = core.NodeRefine
		return Output{
			Kind: OutputMessage,
			Text: "Nothing in the catalog fits everyone's schedule right now. Try a different kind of event, a wider time window, or a smaller group.",
		}
	}

	st.Node = core.NodeClarify
	return Output{
		Kind: OutputQuestion,
		Text: "Everything I found conflicts with someone's schedule. Could you relax the constraints? A wider time window or fewer people would help.",
	}
}

// rank orders candidates by the composite key: boosted relevance score
// descending, fits-all before fits-subset, then start time ascending.
func (p *Planner) rank(ctx context.Context, group core.Group, candidates []core.Candidate) {
	prefs := p.groupPreferences(ctx, group)
	for i := range candidates {
		candidates[i].Score += preferenceBonus(candidates[i].Event.Tags, prefs)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Verdict != b.Verdict {
			return a.Verdict < b.Verdict
		}
		return a.Event.Start.Before(b.Event.Start)
	})
}

// groupPreferences collects the union of the group's preference tags,
// lower-cased. Profile lookups are best effort: a missing or unreadable
// profile just contributes no boost.
func (p *Planner) groupPreferences(ctx context.Context, group core.Group) map[string]struct{} {
	prefs := make(map[string]struct{})
	for _, member := range group {
		profile, err := p.users.Get(ctx, member)
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				log.Printf("[PLANNER] profile lookup failed for %s: %v", member, err)
			}
			continue
		}
		for _, t := range profile.Preferences {
			prefs[strings.ToLower(t)] = struct{}{}
		}
	}
	return prefs
}

func preferenceBonus(tags []string, prefs map[string]struct{}) float64 {
	if len(prefs) == 0 {
		return 0
	}
	var bonus float64
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(t)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := prefs[t]; ok {
			bonus += preferenceBoost
		}
	}
	return bonus
}

func presentText(candidates []core.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I found:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, c.Event.Title, c.Event.Start.Format("Mon, Jan 2 15:04"))
		switch c.Verdict {
		case core.VerdictFitsAll:
			b.WriteString(" - works for everyone")
		case core.VerdictFitsSubset:
			fmt.Fprintf(&b, " - works for %s", strings.Join(c.FreeMembers, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
