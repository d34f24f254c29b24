// Package embedding turns text into fixed-length vectors.
//
// Providers are called over HTTP (sidecar model server or Ollama) or computed
// locally (HashProvider). CachedProvider and BreakerProvider wrap any Provider.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Provider produces an embedding for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Named is implemented by providers that report a label for metrics.
type Named interface {
	Name() string
}

const (
	KindSidecar = "sidecar"
	KindOllama  = "ollama"
	KindHash    = "hash"
)

// Config selects and configures a Provider.
type Config struct {
	Kind      string
	URL       string
	Model     string
	Dimension int
	Timeout   time.Duration
	CacheSize int
}

// NewProvider builds the configured provider. Remote providers are wrapped in
// a circuit breaker, and a positive CacheSize adds an LRU cache in front.
func NewProvider(cfg Config, logger zerolog.Logger) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var p Provider
	switch cfg.Kind {
	case KindSidecar, "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("embedding: sidecar provider requires a url")
		}
		p = NewBreakerProvider(NewSidecarProvider(cfg.URL, cfg.Timeout), logger)
	case KindOllama:
		if cfg.URL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("embedding: ollama provider requires url and model")
		}
		p = NewBreakerProvider(NewOllamaProvider(cfg.URL, cfg.Model, cfg.Timeout), logger)
	case KindHash:
		if cfg.Dimension <= 0 {
			return nil, fmt.Errorf("embedding: hash provider requires a positive dimension")
		}
		p = NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Kind)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachedProvider(p, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		p = cached
	}
	return p, nil
}

func nameOf(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
