// Package index defines the vector index contract the recommendation core
// retrieves against, plus the embedding interface and the retry policy for
// backend outages.
//
// Architecture:
//   - Embedder: text-to-vector conversion (mock for tests and offline dev,
//     ONNX all-MiniLM-L6-v2 behind the `onnx` build tag)
//   - Index: similarity search backend (chromem-go embedded store)
//   - CachingEmbedder: ristretto-backed cache so repeated query text skips
//     the embedding backend
//
// Backend failures surface as core.ErrRetrievalUnavailable; the planner
// treats them as retryable-with-backoff, never fatal to a session.
package index

import (
	"context"

	"github.com/gatherkit/gather-go/core"
)

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Match is one similarity hit: the stored event and its relevance score,
// higher meaning more relevant.
type Match struct {
	Event core.Event
	Score float64
}

// Filter narrows a query beyond pure similarity.
type Filter struct {
	// Window, when set, restricts matches to events overlapping it.
	Window *core.Interval

	// Tags, when non-empty, restricts matches to events carrying at least
	// one of the tags.
	Tags []string
}

// Index is the similarity-search contract over the event catalog.
//
// Upsert is idempotent: re-upserting an event ID replaces the prior vector
// and metadata. Query returns up to k matches ordered by descending score,
// ties broken by most recent event start. Delete removes the vector; a
// query after Delete never returns the event.
type Index interface {
	Upsert(ctx context.Context, event core.Event) error
	Query(ctx context.Context, text string, k int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, eventID string) error
	Close() error
}
