// Package recommend implements blog indexing, similarity search and hybrid
// (vector plus metadata) recommendation on top of a vector.Store and an
// embedding.Provider.
//
// The Engine holds no mutable state of its own; it is safe for concurrent use
// as long as its collaborators are.
package recommend

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/embedding"
	"github.com/hubenschmidt/blogrec/vector"
)

// Engine coordinates embedding, storage and ranking.
type Engine struct {
	store    vector.Store
	embedder embedding.Provider
	cfg      Config
	logger   zerolog.Logger
}

// NewEngine wires an engine. The store and provider are owned by the caller.
func NewEngine(store vector.Store, embedder embedding.Provider, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("recommend: store and embedder are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("recommend: invalid config: %w", err)
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With().Str("component", "recommend").Logger(),
	}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// EnsureCollection sizes the backing collection for the configured dimension.
func (e *Engine) EnsureCollection(ctx context.Context) error {
	return e.store.EnsureCollection(ctx, e.cfg.Dimension)
}

// Embedded identifies one indexed document.
type Embedded struct {
	ArticleID string `json:"article_id"`
	VectorID  string `json:"vector_id"`
}

// BulkResult lists what EmbedBulk indexed and which article ids it skipped
// because they were already present.
type BulkResult struct {
	Embedded []Embedded `json:"embedded"`
	Skipped  []string   `json:"skipped"`
}

// Embed indexes one document and returns the new vector id. It does not check
// for an existing record; re-embedding an article id stores a second record.
func (e *Engine) Embed(ctx context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.ArticleID) == "" {
		return "", fmt.Errorf("%w: id is required", core.ErrInvalidArgument)
	}
	payload, err := doc.payload()
	if err != nil {
		return "", err
	}

	vec, err := e.embed(ctx, doc.text(payload))
	if err != nil {
		return "", err
	}

	vectorID, err := e.store.Upsert(ctx, doc.ArticleID, vec, payload)
	if err != nil {
		return "", err
	}
	e.logger.Debug().Str("article_id", doc.ArticleID).Str("vector_id", vectorID).Msg("embedded")
	return vectorID, nil
}

// EmbedBulk indexes documents in order, skipping any whose article id already
// exists, including ids indexed earlier in the same batch. The first hard
// failure aborts the batch; documents before it stay indexed.
func (e *Engine) EmbedBulk(ctx context.Context, docs []Document) (BulkResult, error) {
	res := BulkResult{Embedded: []Embedded{}, Skipped: []string{}}
	for i, doc := range docs {
		exists, err := e.store.Exists(ctx, doc.ArticleID)
		if err != nil {
			return res, fmt.Errorf("document %d: %w", i, err)
		}
		if exists {
			res.Skipped = append(res.Skipped, doc.ArticleID)
			continue
		}

		vectorID, err := e.Embed(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("document %d: %w", i, err)
		}
		res.Embedded = append(res.Embedded, Embedded{ArticleID: doc.ArticleID, VectorID: vectorID})
	}

	e.logger.Info().Int("embedded", len(res.Embedded)).Int("skipped", len(res.Skipped)).Msg("bulk embed complete")
	return res, nil
}

// Search embeds text and returns the payloads of the closest records in store order.
func (e *Engine) Search(ctx context.Context, text string, topK int, threshold float64) ([]vector.Payload, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", core.ErrInvalidArgument)
	}
	if err := e.checkBounds(topK, threshold); err != nil {
		return nil, err
	}

	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	results, err := e.store.SearchSimilar(ctx, vec, topK, threshold)
	if err != nil {
		return nil, err
	}

	payloads := make([]vector.Payload, 0, len(results))
	for _, r := range results {
		payloads = append(payloads, r.Record.Payload)
	}
	return payloads, nil
}

func (e *Engine) Delete(ctx context.Context, articleID string) error {
	if strings.TrimSpace(articleID) == "" {
		return fmt.Errorf("%w: article_id is required", core.ErrInvalidArgument)
	}
	if err := e.store.DeleteByArticleID(ctx, articleID); err != nil {
		return err
	}
	e.logger.Info().Str("article_id", articleID).Msg("deleted")
	return nil
}

// Truncate removes every record in the collection.
func (e *Engine) Truncate(ctx context.Context) error {
	if err := e.store.Truncate(ctx); err != nil {
		return err
	}
	e.logger.Warn().Msg("collection truncated")
	return nil
}

// Inspect returns up to limit stored payloads.
func (e *Engine) Inspect(ctx context.Context, limit int) ([]vector.Payload, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1", core.ErrInvalidArgument)
	}
	records, err := e.store.Scan(ctx, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]vector.Payload, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, rec.Payload)
	}
	return payloads, nil
}

// embed calls the provider and rejects vectors of the wrong length.
func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.cfg.Dimension {
		return nil, core.NewOpError("recommend.embed", "",
			fmt.Errorf("%w: provider returned %d components, want %d", core.ErrDimensionMismatch, len(vec), e.cfg.Dimension))
	}
	return vec, nil
}

func (e *Engine) checkBounds(topK int, threshold float64) error {
	if topK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d", core.ErrInvalidArgument, topK)
	}
	if topK > e.cfg.MaxTopK {
		return fmt.Errorf("%w: top_k must be at most %d, got %d", core.ErrInvalidArgument, e.cfg.MaxTopK, topK)
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return fmt.Errorf("%w: threshold must not be negative, got %g", core.ErrInvalidArgument, threshold)
	}
	return nil
}
