package vector

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory vector store for development and testing.
// Records keep insertion order, which also breaks ties between equal scores.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   []Record
}

// NewMemoryStore creates an in-memory store for vectors of the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension}
}

// EnsureCollection is a no-op beyond checking the requested dimension.
func (s *MemoryStore) EnsureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = dimension
		return nil
	}
	return checkCollectionDimension(s.dimension, dimension)
}

// Upsert appends a new record under a fresh vector id.
func (s *MemoryStore) Upsert(ctx context.Context, articleID string, embedding []float64, payload Payload) (string, error) {
	payload.ArticleID = articleID
	if err := payload.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkDimension(s.dimension, embedding); err != nil {
		return "", err
	}

	rec := Record{
		VectorID:  uuid.NewString(),
		ArticleID: articleID,
		Embedding: cloneVector(embedding),
		Payload:   copyPayload(payload),
	}
	s.records = append(s.records, rec)
	return rec.VectorID, nil
}

func (s *MemoryStore) Exists(ctx context.Context, articleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(articleID) >= 0, nil
}

// DeleteByArticleID resolves articleID to its vector ids and removes them.
func (s *MemoryStore) DeleteByArticleID(ctx context.Context, articleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[string]struct{})
	for _, rec := range s.records {
		if rec.ArticleID == articleID {
			doomed[rec.VectorID] = struct{}{}
		}
	}
	if len(doomed) == 0 {
		return notFound("delete", articleID)
	}

	kept := s.records[:0]
	for _, rec := range s.records {
		if _, ok := doomed[rec.VectorID]; !ok {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

// SearchSimilar scores every record with brute-force cosine similarity.
func (s *MemoryStore) SearchSimilar(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(s.records))
	for _, rec := range s.records {
		score := CosineSimilarity(query, rec.Embedding)
		if score < threshold {
			continue
		}
		results = append(results, SearchResult{Record: copyRecord(rec), Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Scan(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = copyRecord(s.records[i])
	}
	return out, nil
}

// FetchByArticleID returns the earliest record inserted for articleID.
func (s *MemoryStore) FetchByArticleID(ctx context.Context, articleID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(articleID)
	if i < 0 {
		return nil, notFound("fetch", articleID)
	}
	rec := copyRecord(s.records[i])
	return &rec, nil
}

func (s *MemoryStore) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

// Close is a no-op for in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Count returns the number of records in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) indexOf(articleID string) int {
	for i, rec := range s.records {
		if rec.ArticleID == articleID {
			return i
		}
	}
	return -1
}

func copyRecord(rec Record) Record {
	rec.Embedding = cloneVector(rec.Embedding)
	rec.Payload = copyPayload(rec.Payload)
	return rec
}

// copyPayload detaches p from caller-owned slices, maps and pointers. Extra is
// cloned one level deep.
func copyPayload(p Payload) Payload {
	p.Tags = append([]string{}, p.Tags...)
	p.Extra = maps.Clone(p.Extra)
	if p.Category != nil {
		c := *p.Category
		p.Category = &c
	}
	return p
}
