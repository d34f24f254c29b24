package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/vector"
)

func TestSidecarProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)
		var req sidecarRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello world", req.Text)
		_ = json.NewEncoder(w).Encode(sidecarResponse{Vector: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	p := NewSidecarProvider(srv.URL+"/", time.Second)
	vec, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestSidecarProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
		{"empty vector", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"vector":[]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewSidecarProvider(srv.URL, time.Second).Embed(context.Background(), "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrUpstream)
		})
	}
}

func TestOllamaProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.Equal(t, "some text", req.Input)
		_, _ = w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/v1", "all-minilm", time.Second)
	vec, err := p.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vec)
}

func TestOllamaProvider_NoEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m", time.Second).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrUpstream)
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "Learning Go concurrency")
	require.NoError(t, err)
	require.Len(t, a, 64)

	again, err := p.Embed(ctx, "learning go, CONCURRENCY!")
	require.NoError(t, err)
	assert.Equal(t, a, again, "tokenization ignores case and punctuation")

	related, _ := p.Embed(ctx, "Go concurrency patterns")
	unrelated, _ := p.Embed(ctx, "baking sourdough bread")
	assert.Greater(t, vector.CosineSimilarity(a, related), vector.CosineSimilarity(a, unrelated))
	assert.InDelta(t, 1.0, vector.CosineSimilarity(a, a), 1e-9)
}

func TestHashProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashProvider(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	p, err := NewCachedProvider(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.Embed(ctx, "abc")
	require.NoError(t, err)
	first[0] = 99

	second, err := p.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, second, "cache must not alias caller slices")
	assert.EqualValues(t, 1, inner.calls.Load())

	_, _ = p.Embed(ctx, "de")
	_, _ = p.Embed(ctx, "fgh")
	assert.Equal(t, 2, p.Len())
	_, _ = p.Embed(ctx, "abc")
	assert.EqualValues(t, 4, inner.calls.Load(), "oldest entry evicted")
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	inner := &countingProvider{err: errors.New("boom")}
	p, err := NewCachedProvider(inner, 4)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "x")
	require.Error(t, err)
	_, err = p.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Zero(t, p.Len())
}

func TestBreakerProvider_Opens(t *testing.T) {
	inner := &countingProvider{err: core.Upstream("test", errors.New("down"))}
	p := NewBreakerProvider(inner, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := p.Embed(ctx, "x")
		require.Error(t, err)
	}
	_, err := p.Embed(ctx, "x")
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.EqualValues(t, breakerFailureThreshold, inner.calls.Load(), "open breaker skips the provider")
}

func TestBreakerProvider_IgnoresCancellation(t *testing.T) {
	inner := &countingProvider{err: context.Canceled}
	p := NewBreakerProvider(inner, zerolog.Nop())

	for i := 0; i < breakerFailureThreshold+2; i++ {
		_, err := p.Embed(context.Background(), "x")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.EqualValues(t, breakerFailureThreshold+2, inner.calls.Load())
}

func TestNewProvider(t *testing.T) {
	logger := zerolog.Nop()

	p, err := NewProvider(Config{Kind: KindHash, Dimension: 16}, logger)
	require.NoError(t, err)
	assert.IsType(t, &HashProvider{}, p)

	p, err = NewProvider(Config{Kind: KindHash, Dimension: 16, CacheSize: 8}, logger)
	require.NoError(t, err)
	assert.IsType(t, &CachedProvider{}, p)

	p, err = NewProvider(Config{Kind: KindSidecar, URL: "http://localhost:8001"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &BreakerProvider{}, p)
	assert.Equal(t, KindSidecar, nameOf(p))

	_, err = NewProvider(Config{Kind: KindSidecar}, logger)
	assert.Error(t, err)
	_, err = NewProvider(Config{Kind: KindOllama, URL: "http://x"}, logger)
	assert.Error(t, err)
	_, err = NewProvider(Config{Kind: KindHash}, logger)
	assert.Error(t, err)
	_, err = NewProvider(Config{Kind: "openai"}, logger)
	assert.Error(t, err)
}
