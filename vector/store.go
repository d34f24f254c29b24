// Package vector provides blog vector storage and similarity search.
package vector

import (
	"context"
	"fmt"

	"github.com/hubenschmidt/blogrec/core"
)

// Record is a stored embedding. VectorID is assigned by the store at insertion;
// ArticleID is the caller's business key and is never used as a storage key.
type Record struct {
	VectorID  string    `json:"vector_id"`
	ArticleID string    `json:"article_id"`
	Embedding []float64 `json:"embedding,omitempty"`
	Payload   Payload   `json:"payload"`
}

// SearchResult represents a search result with similarity score.
type SearchResult struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"` // cosine similarity
}

// Store provides vector storage and similarity search operations over one collection.
type Store interface {
	// EnsureCollection creates backing storage sized for dimension if absent.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts a new record and returns its vector id.
	Upsert(ctx context.Context, articleID string, embedding []float64, payload Payload) (string, error)

	// Exists reports whether any record carries articleID.
	Exists(ctx context.Context, articleID string) (bool, error)

	// DeleteByArticleID removes the records carrying articleID.
	DeleteByArticleID(ctx context.Context, articleID string) error

	// SearchSimilar returns up to topK records by descending cosine similarity,
	// each scoring at least threshold. Order among equal scores is backend-defined.
	SearchSimilar(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error)

	// Scan returns up to limit records in backend order.
	Scan(ctx context.Context, limit int) ([]Record, error)

	// FetchByArticleID returns the record, with vector and payload, for articleID.
	FetchByArticleID(ctx context.Context, articleID string) (*Record, error)

	// Truncate removes every record in the collection.
	Truncate(ctx context.Context) error

	// Close releases resources.
	Close() error
}

func checkDimension(want int, embedding []float64) error {
	if len(embedding) != want {
		return fmt.Errorf("%w: got %d components, collection expects %d", core.ErrDimensionMismatch, len(embedding), want)
	}
	return nil
}

func checkCollectionDimension(have, want int) error {
	if have != want {
		return fmt.Errorf("%w: collection sized for %d, requested %d", core.ErrDimensionMismatch, have, want)
	}
	return nil
}

func notFound(op, articleID string) error {
	return core.NewOpError(op, articleID, core.ErrNotFound)
}
