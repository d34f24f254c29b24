package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hubenschmidt/blogrec/core"
)

// QdrantStore talks to a Qdrant collection over its REST API. Points are keyed
// by a time-ordered UUIDv7, so point-id order is insertion order. The article id
// lives in the payload under "articleId", which carries a keyword index for
// filtered lookups.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[qdrantReply]
	logger     zerolog.Logger
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// qdrantPageSize is the scroll page size used when every match must be visited.
const qdrantPageSize = 256

type qdrantReply struct {
	status int
	body   []byte
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Vector  []float64       `json:"vector,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Score   float64         `json:"score,omitempty"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

// NewQdrantStore creates a store for one Qdrant collection. Calls go through a
// circuit breaker that opens after consecutive transport or 5xx failures.
func NewQdrantStore(cfg QdrantConfig, logger zerolog.Logger) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	s := &QdrantStore{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "qdrant").Str("collection", cfg.Collection).Logger(),
	}

	s.breaker = gobreaker.NewCircuitBreaker[qdrantReply](gobreaker.Settings{
		Name:    "qdrant",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return s
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if err := checkCollectionDimension(s.dimension, dimension); err != nil {
		return err
	}

	reply, err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil)
	if err != nil {
		return err
	}
	if reply.status == http.StatusOK {
		return nil
	}
	if reply.status != http.StatusNotFound {
		return s.statusError("get collection", reply)
	}
	return s.createCollection(ctx, dimension)
}

func (s *QdrantStore) createCollection(ctx context.Context, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	reply, err := s.do(ctx, http.MethodPut, s.collectionPath(""), body)
	if err != nil {
		return err
	}
	if reply.status != http.StatusOK {
		return s.statusError("create collection", reply)
	}

	index := map[string]any{"field_name": KeyArticleID, "field_schema": "keyword"}
	reply, err = s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index)
	if err != nil {
		return err
	}
	if reply.status != http.StatusOK {
		return s.statusError("create payload index", reply)
	}

	s.logger.Info().Int("dimension", dimension).Msg("created collection")
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, articleID string, embedding []float64, payload Payload) (string, error) {
	payload.ArticleID = articleID
	if err := payload.Validate(); err != nil {
		return "", err
	}
	if err := checkDimension(s.dimension, embedding); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate point id: %w", err)
	}
	vectorID := id.String()
	body := map[string]any{
		"points": []map[string]any{{
			"id":      vectorID,
			"vector":  embedding,
			"payload": payload,
		}},
	}
	reply, err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body)
	if err != nil {
		return "", err
	}
	if reply.status != http.StatusOK {
		return "", s.statusError("upsert", reply)
	}
	return vectorID, nil
}

func (s *QdrantStore) Exists(ctx context.Context, articleID string) (bool, error) {
	page, err := s.scroll(ctx, byArticle(articleID), 1, nil, false)
	if err != nil {
		return false, err
	}
	return len(page.Points) > 0, nil
}

// DeleteByArticleID resolves every point id for articleID, then deletes by id.
func (s *QdrantStore) DeleteByArticleID(ctx context.Context, articleID string) error {
	points, err := s.scrollAll(ctx, byArticle(articleID), false)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return notFound("delete", articleID)
	}

	ids := make([]json.RawMessage, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	reply, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": ids})
	if err != nil {
		return err
	}
	if reply.status != http.StatusOK {
		return s.statusError("delete", reply)
	}
	return nil
}

func (s *QdrantStore) SearchSimilar(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":          query,
		"limit":           topK,
		"score_threshold": threshold,
		"with_payload":    true,
		"with_vector":     true,
	}
	reply, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), body)
	if err != nil {
		return nil, err
	}
	if reply.status != http.StatusOK {
		return nil, s.statusError("search", reply)
	}

	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := json.Unmarshal(reply.body, &resp); err != nil {
		return nil, core.Upstream("qdrant search", fmt.Errorf("decode response: %w", err))
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		results = append(results, SearchResult{Record: p.record(), Score: p.Score})
	}
	return results, nil
}

func (s *QdrantStore) Scan(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	page, err := s.scroll(ctx, nil, limit, nil, false)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(page.Points))
	for i, p := range page.Points {
		out[i] = p.record()
	}
	return out, nil
}

// FetchByArticleID returns the earliest-inserted point for articleID, i.e. the
// one with the smallest UUIDv7 id.
func (s *QdrantStore) FetchByArticleID(ctx context.Context, articleID string) (*Record, error) {
	points, err := s.scrollAll(ctx, byArticle(articleID), true)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, notFound("fetch", articleID)
	}

	earliest := points[0].record()
	for _, p := range points[1:] {
		if rec := p.record(); rec.VectorID < earliest.VectorID {
			earliest = rec
		}
	}
	return &earliest, nil
}

// Truncate drops and recreates the collection.
func (s *QdrantStore) Truncate(ctx context.Context) error {
	reply, err := s.do(ctx, http.MethodDelete, s.collectionPath(""), nil)
	if err != nil {
		return err
	}
	if reply.status != http.StatusOK && reply.status != http.StatusNotFound {
		return s.statusError("drop collection", reply)
	}
	return s.createCollection(ctx, s.dimension)
}

// Close releases idle connections.
func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type qdrantPage struct {
	Points         []qdrantPoint   `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// scrollAll follows next_page_offset until every point matching filter is read.
func (s *QdrantStore) scrollAll(ctx context.Context, filter *qdrantFilter, withVector bool) ([]qdrantPoint, error) {
	var (
		points []qdrantPoint
		offset json.RawMessage
	)
	for {
		page, err := s.scroll(ctx, filter, qdrantPageSize, offset, withVector)
		if err != nil {
			return nil, err
		}
		points = append(points, page.Points...)
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			return points, nil
		}
		offset = page.NextPageOffset
	}
}

func (s *QdrantStore) scroll(ctx context.Context, filter *qdrantFilter, limit int, offset json.RawMessage, withVector bool) (qdrantPage, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  withVector,
	}
	if filter != nil {
		body["filter"] = filter
	}
	if offset != nil {
		body["offset"] = offset
	}
	reply, err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body)
	if err != nil {
		return qdrantPage{}, err
	}
	if reply.status != http.StatusOK {
		return qdrantPage{}, s.statusError("scroll", reply)
	}

	var resp struct {
		Result qdrantPage `json:"result"`
	}
	if err := json.Unmarshal(reply.body, &resp); err != nil {
		return qdrantPage{}, core.Upstream("qdrant scroll", fmt.Errorf("decode response: %w", err))
	}
	return resp.Result, nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body any) (qdrantReply, error) {
	reply, err := s.breaker.Execute(func() (qdrantReply, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return qdrantReply{}, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
		if err != nil {
			return qdrantReply{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("api-key", s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return qdrantReply{}, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return qdrantReply{}, fmt.Errorf("read response: %w", err)
		}
		reply := qdrantReply{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return reply, fmt.Errorf("qdrant returned status %d", resp.StatusCode)
		}
		return reply, nil
	})
	if err != nil {
		return qdrantReply{}, core.Upstream("qdrant "+strings.ToLower(method)+" "+path, err)
	}
	return reply, nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *QdrantStore) statusError(op string, reply qdrantReply) error {
	return core.Upstream("qdrant "+op, fmt.Errorf("status %d: %s", reply.status, strings.TrimSpace(string(reply.body))))
}

func byArticle(articleID string) *qdrantFilter {
	return &qdrantFilter{Must: []qdrantCondition{{
		Key:   KeyArticleID,
		Match: map[string]any{"value": articleID},
	}}}
}

func (p qdrantPoint) record() Record {
	var payload Payload
	decodePayload(p.Payload, &payload)
	return Record{
		VectorID:  strings.Trim(string(p.ID), `"`),
		ArticleID: payload.ArticleID,
		Embedding: p.Vector,
		Payload:   payload,
	}
}
