package vector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/blogrec/core"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the slice of the Qdrant REST API the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string][]fakePoint
	apiKeys     []string
	scrolls     int
	failing     bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: make(map[string][]fakePoint)}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
	if f.failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "collections" {
		http.NotFound(w, r)
		return
	}
	name := parts[1]
	points, exists := f.collections[name]
	action := strings.Join(parts[2:], "/")

	var body map[string]json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		if !exists {
			http.NotFound(w, r)
			return
		}
		reply(w, map[string]any{"status": "green"})
	case action == "" && r.Method == http.MethodPut:
		f.collections[name] = []fakePoint{}
		reply(w, true)
	case action == "" && r.Method == http.MethodDelete:
		delete(f.collections, name)
		reply(w, true)
	case action == "index":
		reply(w, map[string]any{"status": "completed"})
	case action == "points" && r.Method == http.MethodPut:
		var incoming []fakePoint
		_ = json.Unmarshal(body["points"], &incoming)
		f.collections[name] = append(points, incoming...)
		reply(w, map[string]any{"status": "completed"})
	case action == "points/scroll":
		f.scrolls++
		// Qdrant scrolls in point-id order, starting at offset inclusive.
		matched := filterPoints(points, body["filter"])
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
		var (
			limit  int
			offset string
		)
		_ = json.Unmarshal(body["limit"], &limit)
		_ = json.Unmarshal(body["offset"], &offset)
		if offset != "" {
			start := sort.Search(len(matched), func(i int) bool { return matched[i].ID >= offset })
			matched = matched[start:]
		}
		var next any
		if limit > 0 && len(matched) > limit {
			next = matched[limit].ID
			matched = matched[:limit]
		}
		reply(w, map[string]any{"points": matched, "next_page_offset": next})
	case action == "points/search":
		var query []float64
		var limit int
		var threshold float64
		_ = json.Unmarshal(body["vector"], &query)
		_ = json.Unmarshal(body["limit"], &limit)
		_ = json.Unmarshal(body["score_threshold"], &threshold)

		type scored struct {
			fakePoint
			Score float64 `json:"score"`
		}
		var hits []scored
		for _, p := range points {
			if s := CosineSimilarity(query, p.Vector); s >= threshold {
				hits = append(hits, scored{p, s})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > limit {
			hits = hits[:limit]
		}
		reply(w, hits)
	case action == "points/delete":
		var ids []string
		_ = json.Unmarshal(body["points"], &ids)
		drop := make(map[string]bool)
		for _, id := range ids {
			drop[id] = true
		}
		kept := points[:0]
		for _, p := range points {
			if !drop[p.ID] {
				kept = append(kept, p)
			}
		}
		f.collections[name] = kept
		reply(w, map[string]any{"status": "completed"})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeQdrant) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *fakeQdrant) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.apiKeys)
}

func (f *fakeQdrant) scrollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrolls
}

func (f *fakeQdrant) points(collection string) []fakePoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePoint{}, f.collections[collection]...)
}

func (f *fakeQdrant) seed(collection string, points ...fakePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] = points
}

func filterPoints(points []fakePoint, raw json.RawMessage) []fakePoint {
	if len(raw) == 0 {
		return append([]fakePoint{}, points...)
	}
	var filter qdrantFilter
	_ = json.Unmarshal(raw, &filter)

	var out []fakePoint
	for _, p := range points {
		match := true
		for _, c := range filter.Must {
			if p.Payload[c.Key] != c.Match["value"] {
				match = false
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out
}

func reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func newTestQdrant(t *testing.T) (*QdrantStore, *fakeQdrant) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s := NewQdrantStore(QdrantConfig{
		URL:        srv.URL,
		APIKey:     "secret",
		Collection: "blogs",
		Dimension:  testDim,
	}, zerolog.Nop())
	require.NoError(t, s.EnsureCollection(context.Background(), testDim))
	return s, fake
}

func TestQdrantStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestQdrant(t)
		return s
	})
}

func TestQdrantStore_SendsAPIKey(t *testing.T) {
	_, fake := newTestQdrant(t)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.apiKeys)
	for _, k := range fake.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestQdrantStore_EnsureCollectionCreatesOnce(t *testing.T) {
	s, fake := newTestQdrant(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "post-1", []float64{1, 0, 0}, blog("a", ""))
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, testDim))

	assert.Len(t, fake.points("blogs"), 1)
}

func TestQdrantStore_UpstreamFailure(t *testing.T) {
	s, fake := newTestQdrant(t)
	fake.setFailing(true)

	_, err := s.Exists(context.Background(), "post-1")
	assert.ErrorIs(t, err, core.ErrUpstream)
}

func TestQdrantStore_BreakerOpens(t *testing.T) {
	s, fake := newTestQdrant(t)
	fake.setFailing(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Scan(ctx, 1)
		require.Error(t, err)
	}
	calls := fake.calls()

	_, err := s.Scan(ctx, 1)
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.Equal(t, calls, fake.calls(), "open breaker must not reach the server")
}

func TestQdrantStore_MalformedPayloadIsZeroed(t *testing.T) {
	s, fake := newTestQdrant(t)
	fake.seed("blogs", fakePoint{
		ID:      "11111111-1111-1111-1111-111111111111",
		Vector:  []float64{1, 0, 0},
		Payload: map[string]any{"articleId": "post-1", "title": "t", "tags": 7},
	})

	results, err := s.SearchSimilar(context.Background(), []float64{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Record.Payload.Validate())
}

func TestQdrantStore_PointIDsFollowInsertionOrder(t *testing.T) {
	s, fake := newTestQdrant(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := s.Upsert(ctx, "post-1", []float64{1, 0, 0}, blog("dup", ""))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids must sort in insertion order: %v", ids)

	rec, err := s.FetchByArticleID(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, ids[0], rec.VectorID)
	assert.Len(t, fake.points("blogs"), 20)
}

func TestQdrantStore_FetchPicksSmallestID(t *testing.T) {
	s, fake := newTestQdrant(t)
	fake.seed("blogs",
		fakePoint{ID: "01900000-0000-7000-8000-000000000002", Vector: []float64{0, 1, 0}, Payload: map[string]any{"articleId": "post-1", "title": "later"}},
		fakePoint{ID: "01900000-0000-7000-8000-000000000001", Vector: []float64{1, 0, 0}, Payload: map[string]any{"articleId": "post-1", "title": "earlier"}},
	)

	rec, err := s.FetchByArticleID(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, "earlier", rec.Payload.Title)
	assert.Equal(t, []float64{1, 0, 0}, rec.Embedding)
}

func TestQdrantStore_DeleteFollowsPages(t *testing.T) {
	s, fake := newTestQdrant(t)
	total := 2*qdrantPageSize + 7
	points := make([]fakePoint, 0, total+1)
	for i := 0; i < total; i++ {
		points = append(points, fakePoint{
			ID:      fmt.Sprintf("01900000-0000-7000-8000-%012d", i),
			Vector:  []float64{1, 0, 0},
			Payload: map[string]any{"articleId": "post-1", "title": "dup"},
		})
	}
	points = append(points, fakePoint{
		ID:      "01900000-0000-7000-9000-000000000000",
		Vector:  []float64{0, 1, 0},
		Payload: map[string]any{"articleId": "post-2", "title": "other"},
	})
	fake.seed("blogs", points...)
	before := fake.scrollCalls()

	require.NoError(t, s.DeleteByArticleID(context.Background(), "post-1"))

	assert.Equal(t, 3, fake.scrollCalls()-before)
	left := fake.points("blogs")
	require.Len(t, left, 1)
	assert.Equal(t, "post-2", left[0].Payload["articleId"])
}
