package chromem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/index/embedder/mock"
)

var base = time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC)

func testEvent(id, title string, start time.Time, tags ...string) core.Event {
	return core.Event{
		ID:          id,
		Title:       title,
		Description: "an evening of " + title,
		Start:       start,
		End:         start.Add(2 * time.Hour),
		Location:    "downtown",
		Tags:        tags,
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(mock.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestQueryReturnsExactMatchFirst(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	target := testEvent("jazz", "jazz quartet", base, "music")
	others := []core.Event{
		testEvent("pottery", "pottery workshop", base.Add(time.Hour), "craft"),
		testEvent("run", "park run", base.Add(2*time.Hour), "sport"),
	}
	for _, ev := range append(others, target) {
		if err := idx.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert(%s): %v", ev.ID, err)
		}
	}

	// The mock embedder is hash-based, so only the exact document text is
	// guaranteed maximal similarity.
	matches, err := idx.Query(ctx, target.Document(), 3, index.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("Query returned no matches")
	}
	if matches[0].Event.ID != "jazz" {
		t.Errorf("top match = %s, want jazz", matches[0].Event.ID)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[0].Score {
			t.Errorf("matches not ordered by descending score: %v", matches)
		}
	}
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	ev := testEvent("e1", "open mic", base)
	if err := idx.Upsert(ctx, ev); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ev.Title = "open mic night"
	if err := idx.Upsert(ctx, ev); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	matches, err := idx.Query(ctx, ev.Document(), 10, index.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	seen := 0
	for _, m := range matches {
		if m.Event.ID == "e1" {
			seen++
			if m.Event.Title != "open mic night" {
				t.Errorf("title = %q, want updated title", m.Event.Title)
			}
		}
	}
	if seen != 1 {
		t.Errorf("event e1 appeared %d times, want exactly 1", seen)
	}
}

func TestDeletedEventNeverReturned(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	kept := testEvent("kept", "board games", base)
	gone := testEvent("gone", "wine tasting", base.Add(time.Hour))
	for _, ev := range []core.Event{kept, gone} {
		if err := idx.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert(%s): %v", ev.ID, err)
		}
	}
	if err := idx.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	matches, err := idx.Query(ctx, gone.Document(), 10, index.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, m := range matches {
		if m.Event.ID == "gone" {
			t.Fatal("deleted event returned by query")
		}
	}

	// Re-upserting the same ID clears the tombstone.
	if err := idx.Upsert(ctx, gone); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}
	matches, err = idx.Query(ctx, gone.Document(), 10, index.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	found := false
	for _, m := range matches {
		if m.Event.ID == "gone" {
			found = true
		}
	}
	if !found {
		t.Error("re-upserted event missing from query results")
	}
}

func TestQueryFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	morning := testEvent("m", "yoga", base, "fitness")
	evening := testEvent("e", "yoga", base.Add(10*time.Hour), "fitness")
	craft := testEvent("c", "ceramics", base, "craft")
	for _, ev := range []core.Event{morning, evening, craft} {
		if err := idx.Upsert(ctx, ev); err != nil {
			t.Fatalf("Upsert(%s): %v", ev.ID, err)
		}
	}

	window := core.Interval{Start: base.Add(-time.Hour), End: base.Add(3 * time.Hour)}
	matches, err := idx.Query(ctx, morning.Document(), 10, index.Filter{Window: &window, Tags: []string{"Fitness"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Event.ID != "m" {
		t.Errorf("filtered matches = %v, want only event m", matches)
	}
}

func TestUpsertRejectsInvalidEvent(t *testing.T) {
	idx := newTestIndex(t)

	ev := testEvent("bad", "zero length", base)
	ev.End = ev.Start
	err := idx.Upsert(context.Background(), ev)
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("Upsert returned %v, want ErrInvariantViolation", err)
	}
}

func TestQueryEmptyCollection(t *testing.T) {
	idx := newTestIndex(t)

	matches, err := idx.Query(context.Background(), "anything", 5, index.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v, want none", matches)
	}
}
