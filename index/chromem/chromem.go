// Package chromem backs the vector index with chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/index"
)

const collectionName = "events"

// Index implements index.Index on top of a chromem collection. Deleted
// event IDs are tombstoned locally because chromem does not expose delete
// by ID; the contract still holds — a query never returns a deleted event.
type Index struct {
	db       *chromem.DB
	col      *chromem.Collection
	embedder index.Embedder

	mu      sync.RWMutex
	deleted map[string]struct{}
}

// New creates an in-memory chromem index using the given embedder.
func New(embedder index.Embedder) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{
		db:       db,
		col:      col,
		embedder: embedder,
		deleted:  make(map[string]struct{}),
	}, nil
}

// Upsert embeds the event's document text and stores the vector keyed by
// event ID, replacing any prior entry for the same ID.
func (x *Index) Upsert(ctx context.Context, event core.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	vec, err := x.embedder.Embed(ctx, event.Document())
	if err != nil {
		return fmt.Errorf("%w: embed event %s: %v", core.ErrRetrievalUnavailable, event.ID, err)
	}

	content, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	doc := chromem.Document{
		ID:        event.ID,
		Content:   string(content),
		Embedding: vec,
		Metadata: map[string]string{
			"start": strconv.FormatInt(event.Start.Unix(), 10),
			"title": event.Title,
		},
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document %s: %v", core.ErrRetrievalUnavailable, event.ID, err)
	}

	x.mu.Lock()
	delete(x.deleted, event.ID)
	x.mu.Unlock()

	log.Printf("[INDEX] upserted event id=%s title=%q", event.ID, event.Title)
	return nil
}

// Query embeds the text and returns up to k matches ordered by descending
// score; ties break toward the most recent event start.
func (x *Index) Query(ctx context.Context, text string, k int, filter index.Filter) ([]index.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", core.ErrRetrievalUnavailable, err)
	}

	// chromem requires nResults <= collection size; over-ask to cover
	// tombstoned and filtered entries, then shrink until it accepts.
	results, err := x.queryEmbedding(ctx, vec, k+x.deletedCount())
	if err != nil {
		return nil, err
	}

	matches := make([]index.Match, 0, len(results))
	for _, res := range results {
		if x.isDeleted(res.ID) {
			continue
		}
		var event core.Event
		if err := json.Unmarshal([]byte(res.Content), &event); err != nil {
			log.Printf("[INDEX] skipping undecodable document %s: %v", res.ID, err)
			continue
		}
		if !matchesFilter(event, filter) {
			continue
		}
		matches = append(matches, index.Match{Event: event, Score: float64(res.Similarity)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Event.Start.After(matches[j].Event.Start)
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete tombstones the event so queries never return it again.
func (x *Index) Delete(ctx context.Context, eventID string) error {
	x.mu.Lock()
	x.deleted[eventID] = struct{}{}
	x.mu.Unlock()
	log.Printf("[INDEX] deleted event id=%s", eventID)
	return nil
}

// Close releases resources. chromem keeps everything in memory.
func (x *Index) Close() error {
	return nil
}

func (x *Index) queryEmbedding(ctx context.Context, vec []float32, limit int) ([]chromem.Result, error) {
	var results []chromem.Result
	for current := limit; current >= 1; current-- {
		var err error
		results, err = x.col.QueryEmbedding(ctx, vec, current, nil, nil)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			if current == 1 {
				// Collection is empty.
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("%w: chromem query: %v", core.ErrRetrievalUnavailable, err)
	}
	return results, nil
}

func (x *Index) isDeleted(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.deleted[id]
	return ok
}

func (x *Index) deletedCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.deleted)
}

func matchesFilter(event core.Event, filter index.Filter) bool {
	if filter.Window != nil && !event.Window().Overlaps(*filter.Window) {
		return false
	}
	if len(filter.Tags) > 0 {
		tagged := make(map[string]struct{}, len(event.Tags))
		for _, t := range event.Tags {
			tagged[strings.ToLower(t)] = struct{}{}
		}
		found := false
		for _, t := range filter.Tags {
			if _, ok := tagged[strings.ToLower(t)]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
