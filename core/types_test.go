package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var base = time.Date(2026, 9, 4, 18, 0, 0, 0, time.UTC)

func TestEventValidate(t *testing.T) {
	ok := Event{ID: "e1", Title: "jazz", Start: base, End: base.Add(time.Hour)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := map[string]Event{
		"empty id":         {Title: "jazz", Start: base, End: base.Add(time.Hour)},
		"start equals end": {ID: "e2", Start: base, End: base},
		"start after end":  {ID: "e3", Start: base.Add(time.Hour), End: base},
	}
	for name, ev := range cases {
		if err := ev.Validate(); !errors.Is(err, ErrInvariantViolation) {
			t.Errorf("%s: Validate() = %v, want ErrInvariantViolation", name, err)
		}
	}
}

func TestIntervalOverlapsIsHalfOpen(t *testing.T) {
	a := Interval{Start: base, End: base.Add(time.Hour)}

	touching := Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}
	if a.Overlaps(touching) || touching.Overlaps(a) {
		t.Error("back-to-back intervals must not overlap")
	}

	crossing := Interval{Start: base.Add(30 * time.Minute), End: base.Add(2 * time.Hour)}
	if !a.Overlaps(crossing) || !crossing.Overlaps(a) {
		t.Error("crossing intervals must overlap")
	}

	contained := Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}
	if !a.Overlaps(contained) {
		t.Error("contained interval must overlap")
	}
}

func TestNewGroupDeduplicatesAndSorts(t *testing.T) {
	g := NewGroup("bob", "alice", "bob", " ", "carol")
	want := []string{"alice", "bob", "carol"}
	if len(g) != len(want) {
		t.Fatalf("group = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("group = %v, want %v", g, want)
		}
	}
	if !g.Contains("alice") || g.Contains("dave") {
		t.Error("Contains gave wrong answers")
	}
}

func TestEventDocumentShape(t *testing.T) {
	ev := Event{
		ID:          "e1",
		Title:       "Late Night Jazz",
		Description: "A quartet set",
		Start:       base,
		End:         base.Add(2 * time.Hour),
		Location:    "Blue Door Club",
		Tags:        []string{"jazz", "music"},
	}
	doc := ev.Document()
	if !strings.HasPrefix(doc, "Title: Late Night Jazz.") {
		t.Errorf("document does not open with the title: %q", doc)
	}
	for _, want := range []string{"A quartet set", "Blue Door Club", "jazz, music"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q: %q", want, doc)
		}
	}
}

func TestVerdictJSONRoundTrip(t *testing.T) {
	for _, v := range []Verdict{VerdictFitsAll, VerdictFitsSubset, VerdictConflictsAll} {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var got Verdict
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != v {
			t.Errorf("round trip changed %v into %v", v, got)
		}
	}

	var bad Verdict
	if err := json.Unmarshal([]byte(`"sort-of-fits"`), &bad); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("unknown verdict string: err = %v, want ErrInvariantViolation", err)
	}
}
