package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/monitor"
	"github.com/hubenschmidt/blogrec/vector"
)

// StrategyHybrid labels responses ranked by vector similarity plus metadata boosts.
const StrategyHybrid = "hybrid"

// Request asks for recommendations based on previously viewed articles.
// A zero TopK selects Config.DefaultTopK.
type Request struct {
	ArticleIDs []string
	TopK       int
	Threshold  float64
}

type Recommendation struct {
	ArticleID string   `json:"article_id"`
	Title     string   `json:"title"`
	Category  *string  `json:"category"`
	Tags      []string `json:"tags"`
	Score     float64  `json:"score"`
}

// Response carries the ranked list and the metadata used for boosting.
type Response struct {
	Strategy        string           `json:"strategy"`
	ArticleIDs      []string         `json:"articleIds"`
	TopCategories   []string         `json:"top_categories"`
	TopTags         []string         `json:"top_tags"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommend ranks stored articles against the viewed set:
//
//  1. fetch each viewed record, skipping ids with no stored vector
//  2. average the resolved vectors into a composite query
//  3. count categories and tags across the resolved payloads
//  4. over-fetch topK+|viewed|+OverfetchMargin candidates at Threshold
//  5. drop viewed and malformed candidates
//  6. boost by category and tag overlap
//  7. stable-sort by boosted score and keep topK
//
// Threshold filters raw similarity before boosting.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Response, error) {
	viewed := dedupe(req.ArticleIDs)
	if len(viewed) == 0 {
		return nil, fmt.Errorf("%w: articleIds must not be empty", core.ErrInvalidArgument)
	}
	topK := req.TopK
	if topK == 0 {
		topK = e.cfg.DefaultTopK
	}
	if err := e.checkBounds(topK, req.Threshold); err != nil {
		return nil, err
	}

	records, err := e.fetchViewed(ctx, viewed)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.NewOpError("recommend.hybrid", "", core.ErrNoDataFound)
	}

	query, err := compositeVector(records, e.cfg.Dimension)
	if err != nil {
		return nil, err
	}
	categories, tags := metadataFrequencies(records)

	limit := topK + len(viewed) + e.cfg.OverfetchMargin
	results, err := e.store.SearchSimilar(ctx, query, limit, req.Threshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(viewed))
	for _, id := range viewed {
		seen[id] = struct{}{}
	}

	recs := make([]Recommendation, 0, len(results))
	for _, r := range results {
		p := r.Record.Payload
		if _, ok := seen[p.ArticleID]; ok {
			continue
		}
		if p.Validate() != nil {
			continue
		}
		recs = append(recs, Recommendation{
			ArticleID: p.ArticleID,
			Title:     p.Title,
			Category:  p.Category,
			Tags:      nonNil(p.Tags),
			Score:     e.boost(r.Score, p, categories, tags),
		})
	}
	monitor.RecommendCandidates.Observe(float64(len(recs)))

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > topK {
		recs = recs[:topK]
	}
	for i := range recs {
		recs[i].Score = round4(recs[i].Score)
	}
	if len(recs) < topK {
		monitor.RecommendShortfall.Inc()
	}

	e.logger.Debug().
		Int("viewed", len(viewed)).
		Int("resolved", len(records)).
		Int("candidates", len(results)).
		Int("returned", len(recs)).
		Msg("hybrid recommendation")

	return &Response{
		Strategy:        StrategyHybrid,
		ArticleIDs:      viewed,
		TopCategories:   categories.ranked(),
		TopTags:         tags.ranked(),
		Recommendations: recs,
	}, nil
}

// fetchViewed loads viewed records concurrently and returns the resolved ones
// in request order. Ids with no stored record are skipped; any other failure
// aborts the whole fetch.
func (e *Engine) fetchViewed(ctx context.Context, ids []string) ([]*vector.Record, error) {
	slots := make([]*vector.Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := e.store.FetchByArticleID(gctx, id)
			if errors.Is(err, core.ErrNotFound) {
				monitor.RecommendUnresolved.Inc()
				return nil
			}
			if err != nil {
				return err
			}
			slots[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make([]*vector.Record, 0, len(slots))
	for _, rec := range slots {
		if rec != nil {
			resolved = append(resolved, rec)
		}
	}
	return resolved, nil
}

func (e *Engine) boost(raw float64, p vector.Payload, categories, tags *frequency) float64 {
	score := raw
	if n := categories.count(p.CategoryName()); n > 0 {
		score += e.cfg.CategoryBoost * e.weight(n)
	}
	for _, tag := range dedupe(p.Tags) {
		if n := tags.count(tag); n > 0 {
			score += e.cfg.TagBoost * e.weight(n)
		}
	}
	return score
}

func (e *Engine) weight(n int) float64 {
	if e.cfg.WeightByFrequency {
		return float64(n)
	}
	return 1
}

// compositeVector is the element-wise mean of the records' embeddings.
func compositeVector(records []*vector.Record, dimension int) ([]float64, error) {
	vectors := make([][]float64, len(records))
	for i, rec := range records {
		if len(rec.Embedding) != dimension {
			return nil, core.NewOpError("recommend.composite", rec.ArticleID,
				fmt.Errorf("%w: stored vector has %d components, want %d", core.ErrDimensionMismatch, len(rec.Embedding), dimension))
		}
		vectors[i] = rec.Embedding
	}
	return vector.Mean(vectors)
}

func metadataFrequencies(records []*vector.Record) (categories, tags *frequency) {
	categories, tags = newFrequency(), newFrequency()
	for _, rec := range records {
		categories.add(rec.Payload.CategoryName())
		for _, tag := range rec.Payload.Tags {
			tags.add(tag)
		}
	}
	return categories, tags
}

// frequency is a multiset that remembers first-appearance order.
type frequency struct {
	order  []string
	counts map[string]int
}

func newFrequency() *frequency {
	return &frequency{counts: make(map[string]int)}
}

func (f *frequency) add(key string) {
	if key == "" {
		return
	}
	if f.counts[key] == 0 {
		f.order = append(f.order, key)
	}
	f.counts[key]++
}

func (f *frequency) count(key string) int {
	return f.counts[key]
}

// ranked returns the distinct keys by descending count, ties by first appearance.
func (f *frequency) ranked() []string {
	out := append([]string{}, f.order...)
	sort.SliceStable(out, func(i, j int) bool { return f.counts[out[i]] > f.counts[out[j]] })
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
