package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/store/memory"
)

// stubInterpreter replays a scripted sequence of intents.
type stubInterpreter struct {
	intents []core.Intent
	calls   int
}

func (s *stubInterpreter) Interpret(context.Context, *core.SessionState, string, string) (core.Intent, error) {
	in := s.intents[s.calls%len(s.intents)]
	s.calls++
	return in, nil
}

// fakeIndex serves scripted matches, honoring the window filter and k.
type fakeIndex struct {
	matches []index.Match
	queries int
	err     error
}

func (f *fakeIndex) Upsert(context.Context, core.Event) error { return nil }

func (f *fakeIndex) Query(_ context.Context, _ string, k int, filter index.Filter) ([]index.Match, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var out []index.Match
	for _, m := range f.matches {
		if filter.Window != nil && !m.Event.Window().Overlaps(*filter.Window) {
			continue
		}
		out = append(out, m)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(context.Context, string) error { return nil }
func (f *fakeIndex) Close() error                         { return nil }

func eventAt(id string, start time.Time, dur time.Duration, tags ...string) core.Event {
	return core.Event{
		ID:    id,
		Title: "Event " + id,
		Start: start,
		End:   start.Add(dur),
		Tags:  tags,
	}
}

var day = time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)

func newTestPlanner(t *testing.T, interp Interpreter, idx index.Index, cfg Config) (*Planner, *memory.Stores) {
	t.Helper()
	stores := memory.New()
	return New(interp, idx, stores.Availability(), stores.Users(), cfg), stores
}

func recommendIntent(query string, members ...string) core.Intent {
	return core.Intent{Kind: core.IntentRecommend, QueryText: query, Members: members}
}

func TestTwoUserScenario(t *testing.T) {
	// userA busy 14:00-15:00, userB free all day.
	idx := &fakeIndex{matches: []index.Match{
		{Event: eventAt("afternoon", day.Add(14*time.Hour+30*time.Minute), time.Hour), Score: 0.9},
		{Event: eventAt("morning", day.Add(9*time.Hour), time.Hour), Score: 0.8},
	}}
	interp := &stubInterpreter{intents: []core.Intent{recommendIntent("anything", "userA", "userB")}}
	p, stores := newTestPlanner(t, interp, idx, Config{})
	ctx := context.Background()

	busy := core.BusyInterval{UserID: "userA", Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour)}
	if err := stores.Availability().Add(ctx, busy); err != nil {
		t.Fatalf("add busy: %v", err)
	}

	res, err := p.Step(ctx, core.NewSessionState("conv"), "userA", "anything with @userB")
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Output.Kind != OutputRecommendations {
		t.Fatalf("expected recommendations, got %s: %s", res.Output.Kind, res.Output.Text)
	}
	if len(res.Output.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Output.Candidates))
	}

	byID := make(map[string]core.Candidate)
	for _, c := range res.Output.Candidates {
		byID[c.Event.ID] = c
	}
	if v := byID["afternoon"].Verdict; v != core.VerdictFitsSubset {
		t.Errorf("afternoon event: expected fits-subset, got %s", v)
	}
	if free := byID["afternoon"].FreeMembers; len(free) != 1 || free[0] != "userB" {
		t.Errorf("afternoon event: expected free members [userB], got %v", free)
	}
	if v := byID["morning"].Verdict; v != core.VerdictFitsAll {
		t.Errorf("morning event: expected fits-all, got %s", v)
	}
	if res.State.Node != core.NodeRefine {
		t.Errorf("expected resting node refine, got %s", res.State.Node)
	}
}

func TestClarifyBound(t *testing.T) {
	// Recommend intents that never resolve: no query text.
	interp := &stubInterpreter{intents: []core.Intent{{Kind: core.IntentRecommend, Members: []string{"userA"}}}}
	p, _ := newTestPlanner(t, interp, &fakeIndex{}, Config{MaxClarifyAttempts: 2})
	ctx := context.Background()

	st := core.NewSessionState("conv")
	for i := 1; i <= 2; i++ {
		res, err := p.Step(ctx, st, "userA", "@userA")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.Output.Kind != OutputQuestion {
			t.Fatalf("step %d: expected question, got %s", i, res.Output.Kind)
		}
		if res.State.Node != core.NodeClarify {
			t.Fatalf("step %d: expected clarify node, got %s", i, res.State.Node)
		}
		if res.State.ClarifyAttempts != i {
			t.Fatalf("step %d: expected %d attempts, got %d", i, i, res.State.ClarifyAttempts)
		}
		st = res.State
	}

	// Bound exhausted: the next unresolved step must present, not ask again.
	res, err := p.Step(ctx, st, "userA", "@userA")
	if err != nil {
		t.Fatalf("final step: %v", err)
	}
	if res.Output.Kind != OutputMessage {
		t.Errorf("expected forced present message, got %s: %s", res.Output.Kind, res.Output.Text)
	}
	if res.State.Node != core.NodeRefine {
		t.Errorf("expected refine node after forced present, got %s", res.State.Node)
	}
	if res.State.ClarifyAttempts != 0 {
		t.Errorf("expected attempts reset, got %d", res.State.ClarifyAttempts)
	}
}

func TestEmptyFilterBound(t *testing.T) {
	// One retrievable event that conflicts with the whole group.
	ev := eventAt("blocked", day.Add(14*time.Hour), time.Hour)
	idx := &fakeIndex{matches: []index.Match{{Event: ev, Score: 0.9}}}
	interp := &stubInterpreter{intents: []core.Intent{recommendIntent("anything", "userA")}}
	p, stores := newTestPlanner(t, interp, idx, Config{MaxEmptyRetries: 2})
	ctx := context.Background()

	busy := core.BusyInterval{UserID: "userA", Start: day, End: day.Add(24 * time.Hour)}
	if err := stores.Availability().Add(ctx, busy); err != nil {
		t.Fatalf("add busy: %v", err)
	}

	res, err := p.Step(ctx, core.NewSessionState("conv"), "userA", "anything")
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	if res.Output.Kind != OutputQuestion {
		t.Fatalf("first empty result should ask for relaxed constraints, got %s", res.Output.Kind)
	}
	if res.State.Node != core.NodeClarify {
		t.Fatalf("expected clarify after first empty result, got %s", res.State.Node)
	}
	if res.State.EmptyRetries != 1 {
		t.Fatalf("expected 1 empty retry, got %d", res.State.EmptyRetries)
	}

	res, err = p.Step(ctx, res.State, "userA", "anything")
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	if res.Output.Kind != OutputMessage {
		t.Errorf("second consecutive empty result should present an explanation, got %s", res.Output.Kind)
	}
	if res.State.Node != core.NodeRefine {
		t.Errorf("expected refine node, got %s", res.State.Node)
	}
	if res.State.EmptyRetries != 0 {
		t.Errorf("expected empty retries reset, got %d", res.State.EmptyRetries)
	}
}

func TestRankTotalOrder(t *testing.T) {
	p, _ := newTestPlanner(t, &stubInterpreter{intents: []core.Intent{{}}}, &fakeIndex{}, Config{})

	candidates := []core.Candidate{
		{Event: eventAt("c", day.Add(10*time.Hour), time.Hour), Score: 0.5, Verdict: core.VerdictFitsSubset},
		{Event: eventAt("a", day.Add(12*time.Hour), time.Hour), Score: 0.9, Verdict: core.VerdictFitsSubset},
		{Event: eventAt("b", day.Add(8*time.Hour), time.Hour), Score: 0.5, Verdict: core.VerdictFitsAll},
		{Event: eventAt("d", day.Add(9*time.Hour), time.Hour), Score: 0.5, Verdict: core.VerdictFitsAll},
	}
	p.rank(context.Background(), core.NewGroup("userA"), candidates)

	want := []string{"a", "b", "d", "c"}
	for i, id := range want {
		if candidates[i].Event.ID != id {
			t.Fatalf("rank order mismatch at %d: want %s, got %s", i, id, candidates[i].Event.ID)
		}
	}
}

func TestRankPreferenceBoost(t *testing.T) {
	p, stores := newTestPlanner(t, &stubInterpreter{intents: []core.Intent{{}}}, &fakeIndex{}, Config{})
	ctx := context.Background()

	profile := core.UserProfile{ID: "userA", Preferences: []string{"jazz"}}
	if err := stores.Users().Upsert(ctx, profile); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}

	candidates := []core.Candidate{
		{Event: eventAt("plain", day.Add(9*time.Hour), time.Hour), Score: 0.5, Verdict: core.VerdictFitsAll},
		{Event: eventAt("jazzy", day.Add(10*time.Hour), time.Hour, "jazz"), Score: 0.5, Verdict: core.VerdictFitsAll},
	}
	p.rank(ctx, core.NewGroup("userA"), candidates)

	if candidates[0].Event.ID != "jazzy" {
		t.Errorf("expected preference-matching event first, got %s", candidates[0].Event.ID)
	}
}

func TestInvalidEventExcluded(t *testing.T) {
	bad := core.Event{ID: "bad", Title: "Broken", Start: day.Add(10 * time.Hour), End: day.Add(10 * time.Hour)}
	good := eventAt("good", day.Add(11*time.Hour), time.Hour)
	idx := &fakeIndex{matches: []index.Match{
		{Event: bad, Score: 0.9},
		{Event: good, Score: 0.5},
	}}
	interp := &stubInterpreter{intents: []core.Intent{recommendIntent("anything", "userA")}}
	p, _ := newTestPlanner(t, interp, idx, Config{})

	res, err := p.Step(context.Background(), core.NewSessionState("conv"), "userA", "anything")
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(res.Output.Candidates) != 1 || res.Output.Candidates[0].Event.ID != "good" {
		t.Errorf("invariant-violating event should be excluded, got %+v", res.Output.Candidates)
	}
}

func TestUnrecognizedIntent(t *testing.T) {
	interp := &stubInterpreter{intents: []core.Intent{{Kind: core.IntentUnknown}}}
	p, _ := newTestPlanner(t, interp, &fakeIndex{}, Config{})

	st := core.NewSessionState("conv")
	res, err := p.Step(context.Background(), st, "userA", "%%%")
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Output.Kind != OutputMessage || res.Output.Text == "" {
		t.Errorf("unknown intent should yield an explanatory message, got %+v", res.Output)
	}
	if res.State.Node != core.NodeClarify {
		t.Errorf("unknown intent should not move the node, got %s", res.State.Node)
	}
}

func TestRetrievalFailureRollsBack(t *testing.T) {
	idx := &fakeIndex{err: fmt.Errorf("%w: backend down", core.ErrRetrievalUnavailable)}
	interp := &stubInterpreter{intents: []core.Intent{recommendIntent("anything", "userA")}}
	p, _ := newTestPlanner(t, interp, idx, Config{Retry: index.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})

	prior := core.NewSessionState("conv")
	_, err := p.Step(context.Background(), prior, "userA", "anything")
	if !errors.Is(err, core.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if idx.queries != 2 {
		t.Errorf("expected 2 query attempts, got %d", idx.queries)
	}
	if prior.Node != core.NodeClarify || prior.Query != "" || len(prior.Turns) != 0 {
		t.Errorf("prior state must be untouched on failure: %+v", prior)
	}
}

func TestRefineClassification(t *testing.T) {
	ev := eventAt("one", day.Add(19*time.Hour), time.Hour)
	idx := &fakeIndex{matches: []index.Match{{Event: ev, Score: 0.9}}}
	interp := &stubInterpreter{intents: []core.Intent{
		recommendIntent("live music", "userA"),
		{Kind: core.IntentRefine, QueryText: "outdoor food market"},
	}}
	p, _ := newTestPlanner(t, interp, idx, Config{})
	ctx := context.Background()

	res, err := p.Step(ctx, core.NewSessionState("conv"), "userA", "live music")
	if err != nil {
		t.Fatalf("recommend step: %v", err)
	}
	queriesAfterPresent := idx.queries

	// Query-changing refinement re-enters Retrieve.
	res, err = p.Step(ctx, res.State, "userA", "outdoor food market instead")
	if err != nil {
		t.Fatalf("refine step: %v", err)
	}
	if idx.queries != queriesAfterPresent+1 {
		t.Errorf("query-changing refinement should hit the index, queries=%d", idx.queries)
	}
	if res.State.Query != "outdoor food market" {
		t.Errorf("query not updated: %q", res.State.Query)
	}

	// Constraint-only refinement re-enters Filter over cached candidates.
	interp.intents = []core.Intent{{
		Kind:   core.IntentRefine,
		Window: &core.Interval{Start: day.Add(18 * time.Hour), End: day.Add(22 * time.Hour)},
	}}
	interp.calls = 0
	queriesBefore := idx.queries
	res, err = p.Step(ctx, res.State, "userA", "2026-09-04 18:00-22:00")
	if err != nil {
		t.Fatalf("constraint refine step: %v", err)
	}
	if idx.queries != queriesBefore {
		t.Errorf("constraint-only refinement must not hit the index, queries=%d", idx.queries)
	}
	if res.Output.Kind != OutputRecommendations {
		t.Errorf("expected re-filtered recommendations, got %s", res.Output.Kind)
	}
}

func TestClosedSessionRejected(t *testing.T) {
	p, _ := newTestPlanner(t, &stubInterpreter{intents: []core.Intent{{}}}, &fakeIndex{}, Config{})

	st := core.NewSessionState("conv")
	st.Closed = true
	if _, err := p.Step(context.Background(), st, "userA", "hi"); !errors.Is(err, core.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}
