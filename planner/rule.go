package planner

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gatherkit/gather-go/core"
)

// RuleInterpreter is a deterministic keyword parser. It is the offline and
// test interpreter, and the fallback when the Claude interpreter cannot
// reach the API. Identical input against identical session state always
// yields the identical intent.
type RuleInterpreter struct{}

var (
	mentionRe  = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)
	dateRe     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	timespanRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(?:-|to)\s*(\d{1,2}):(\d{2})\b`)

	likeRe    = regexp.MustCompile(`(?i)\b(?:i|we)\s+(?:like|love|enjoy)\s+(.+)$`)
	dislikeRe = regexp.MustCompile(`(?i)\b(?:i|we)\s+(?:don'?t\s+like|dislike|hate)\s+(.+)$`)
	busyRe    = regexp.MustCompile(`(?i)\bbusy\b`)
)

var greetings = map[string]string{
	"hi":           "Hi! Tell me what kind of event you're looking for and who's coming.",
	"hello":        "Hello! What are you in the mood for?",
	"hey":          "Hey! What kind of event should I look for?",
	"thanks":       "Anytime. Ask again whenever you're planning something.",
	"thank you":    "Anytime. Ask again whenever you're planning something.",
	"good morning": "Good morning! Planning something for the group?",
}

// refineStopwords are words a refinement adds around its actual content.
// Whatever survives their removal is treated as new query text.
var refineStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "it": {}, "bit": {}, "please": {},
	"make": {}, "something": {}, "instead": {}, "only": {}, "rather": {},
	"more": {}, "less": {}, "earlier": {}, "later": {}, "different": {},
	"else": {}, "and": {}, "or": {}, "but": {},
}

// Interpret classifies one message. Rules, in order: busy-hours statements,
// preference statements, greetings, then recommendation or refinement
// depending on whether results are already on the table.
func (RuleInterpreter) Interpret(_ context.Context, state *core.SessionState, sender, text string) (core.Intent, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return core.Intent{Kind: core.IntentUnknown}, nil
	}

	if reply, ok := greetings[strings.ToLower(strings.Trim(trimmed, " !.?,"))]; ok {
		return core.Intent{Kind: core.IntentSmalltalk, Reply: reply}, nil
	}

	if busyRe.MatchString(trimmed) {
		if slots := parseBusySlots(trimmed, sender); len(slots) > 0 {
			return core.Intent{Kind: core.IntentUpdateBusy, BusySlots: slots}, nil
		}
	}

	if m := dislikeRe.FindStringSubmatch(trimmed); m != nil {
		return core.Intent{Kind: core.IntentUpdateProfile, RemovePreferences: splitTags(m[1])}, nil
	}
	if m := likeRe.FindStringSubmatch(trimmed); m != nil {
		return core.Intent{Kind: core.IntentUpdateProfile, AddPreferences: splitTags(m[1])}, nil
	}

	members := parseMentions(trimmed)
	window := parseWindow(trimmed)
	query := stripStructuredTokens(trimmed)

	if state.Node == core.NodeRefine && len(state.Candidates) > 0 {
		return refineIntent(state, trimmed, query, members, window), nil
	}

	if query == "" && len(members) == 0 && window == nil {
		return core.Intent{Kind: core.IntentUnknown}, nil
	}

	intent := core.Intent{
		Kind:      core.IntentRecommend,
		QueryText: query,
		Window:    window,
	}
	if query != "" || len(members) > 0 {
		intent.Members = append(members, sender)
	}
	return intent, nil
}

// refineIntent reads a message arriving while results are presented. Words
// that survive stopword removal become new query text (re-enters Retrieve);
// otherwise the message is a constraint-only adjustment (re-enters Filter).
func refineIntent(state *core.SessionState, raw, query string, members []string, window *core.Interval) core.Intent {
	intent := core.Intent{Kind: core.IntentRefine, Members: members, Window: window}

	var kept []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?")
		if _, stop := refineStopwords[w]; stop || w == "" {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) > 0 {
		intent.QueryText = strings.Join(kept, " ")
		return intent
	}

	// "earlier" and "later" shift the window relative to what is currently
	// presented, which keeps the classification deterministic per state.
	lower := strings.ToLower(raw)
	if window == nil {
		if strings.Contains(lower, "earlier") {
			intent.Window = windowBefore(state.Candidates)
		} else if strings.Contains(lower, "later") {
			intent.Window = windowAfter(state.Candidates)
		}
	}
	return intent
}

func windowBefore(candidates []core.Candidate) *core.Interval {
	earliest := candidates[0].Event.Start
	for _, c := range candidates[1:] {
		if c.Event.Start.Before(earliest) {
			earliest = c.Event.Start
		}
	}
	day := earliest.Truncate(24 * time.Hour)
	return &core.Interval{Start: day, End: earliest}
}

func windowAfter(candidates []core.Candidate) *core.Interval {
	latest := candidates[0].Event.Start
	for _, c := range candidates[1:] {
		if c.Event.Start.After(latest) {
			latest = c.Event.Start
		}
	}
	return &core.Interval{Start: latest.Add(time.Minute), End: latest.Add(30 * 24 * time.Hour)}
}

func parseMentions(text string) []string {
	var members []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		members = append(members, m[1])
	}
	return members
}

// parseWindow reads an explicit date and optional time range. A date alone
// covers the whole day; a time range without a date is ignored because
// there is no base day to anchor it to.
func parseWindow(text string) *core.Interval {
	dm := dateRe.FindStringSubmatch(text)
	if dm == nil {
		return nil
	}
	day, err := time.Parse("2006-01-02", dm[1])
	if err != nil {
		return nil
	}

	if tm := timespanRe.FindStringSubmatch(text); tm != nil {
		start, serr := clockOn(day, tm[1], tm[2])
		end, eerr := clockOn(day, tm[3], tm[4])
		if serr == nil && eerr == nil && start.Before(end) {
			return &core.Interval{Start: start, End: end}
		}
	}
	return &core.Interval{Start: day, End: day.Add(24 * time.Hour)}
}

func clockOn(day time.Time, hh, mm string) (time.Time, error) {
	if len(hh) == 1 {
		hh = "0" + hh
	}
	t, err := time.Parse("15:04", hh+":"+mm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

func parseBusySlots(text, sender string) []core.BusyInterval {
	dm := dateRe.FindStringSubmatch(text)
	tm := timespanRe.FindStringSubmatch(text)
	if dm == nil || tm == nil {
		return nil
	}
	day, err := time.Parse("2006-01-02", dm[1])
	if err != nil {
		return nil
	}
	start, serr := clockOn(day, tm[1], tm[2])
	end, eerr := clockOn(day, tm[3], tm[4])
	if serr != nil || eerr != nil || !start.Before(end) {
		return nil
	}

	owner := sender
	if mentions := parseMentions(text); len(mentions) > 0 {
		owner = mentions[0]
	}
	return []core.BusyInterval{{UserID: owner, Start: start, End: end}}
}

// stripStructuredTokens removes mentions, dates, and time ranges so the
// remainder can serve as free-text query content.
func stripStructuredTokens(text string) string {
	text = mentionRe.ReplaceAllString(text, "")
	text = timespanRe.ReplaceAllString(text, "")
	text = dateRe.ReplaceAllString(text, "")
	text = strings.NewReplacer(" on ", " ", " with ", " ", " for ", " ").Replace(" " + text + " ")
	return strings.Join(strings.Fields(text), " ")
}

func splitTags(raw string) []string {
	raw = strings.NewReplacer(" and ", ",", "&", ",").Replace(strings.ToLower(raw))
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), ".!")
		if part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
