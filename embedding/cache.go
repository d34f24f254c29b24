package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hubenschmidt/blogrec/monitor"
)

// CachedProvider memoizes embeddings by exact text.
type CachedProvider struct {
	next  Provider
	cache *lru.Cache[string, []float64]
}

func NewCachedProvider(next Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &CachedProvider{next: next, cache: cache}, nil
}

func (p *CachedProvider) Name() string { return nameOf(p.next) }

// Embed returns a copy so callers may mutate the result.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := p.cache.Get(text); ok {
		monitor.EmbeddingCacheHits.Inc()
		return append([]float64(nil), vec...), nil
	}
	monitor.EmbeddingCacheMisses.Inc()

	vec, err := p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Add(text, append([]float64(nil), vec...))
	return vec, nil
}

// Len reports the number of cached entries.
func (p *CachedProvider) Len() int { return p.cache.Len() }
