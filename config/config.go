// Package config loads service configuration in three layers: struct
// defaults, an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/hubenschmidt/blogrec/embedding"
	"github.com/hubenschmidt/blogrec/logging"
	"github.com/hubenschmidt/blogrec/recommend"
	"github.com/hubenschmidt/blogrec/vector"
)

// ConfigPathEnvVar names the variable that points at a YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when neither an explicit path nor CONFIG_PATH is given.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Vector    VectorConfig    `koanf:"vector"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Recommend RecommendConfig `koanf:"recommend"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// APIKey gates destructive routes. Empty rejects every gated request.
	APIKey      string   `koanf:"api_key"`
	CORSOrigins []string `koanf:"cors_origins"`
	// WriteRateLimit is requests per minute per client IP on write routes; 0 disables.
	WriteRateLimit  int           `koanf:"write_rate_limit"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type VectorConfig struct {
	Backend    string `koanf:"backend"`
	Collection string `koanf:"collection"`
	// DSN is the Postgres connection string or the SQLite file path.
	DSN          string        `koanf:"dsn"`
	QdrantHost   string        `koanf:"qdrant_host"`
	QdrantPort   int           `koanf:"qdrant_port"`
	QdrantAPIKey string        `koanf:"qdrant_api_key"`
	Timeout      time.Duration `koanf:"timeout"`
}

type EmbeddingConfig struct {
	Provider  string        `koanf:"provider"`
	URL       string        `koanf:"url"`
	Model     string        `koanf:"model"`
	Dimension int           `koanf:"dimension"`
	CacheSize int           `koanf:"cache_size"`
	Timeout   time.Duration `koanf:"timeout"`
}

type RecommendConfig struct {
	OverfetchMargin   int     `koanf:"overfetch_margin"`
	CategoryBoost     float64 `koanf:"category_boost"`
	TagBoost          float64 `koanf:"tag_boost"`
	WeightByFrequency bool    `koanf:"weight_by_frequency"`
	DefaultTopK       int     `koanf:"default_top_k"`
	MaxTopK           int     `koanf:"max_top_k"`
	FetchConcurrency  int     `koanf:"fetch_concurrency"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	rec := recommend.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"*"},
			WriteRateLimit:  120,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Vector: VectorConfig{
			Backend:    vector.BackendQdrant,
			Collection: "blogs",
			QdrantHost: "localhost",
			QdrantPort: 6333,
			Timeout:    10 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  embedding.KindSidecar,
			URL:       "http://localhost:8001",
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			Dimension: rec.Dimension,
			CacheSize: 1024,
			Timeout:   30 * time.Second,
		},
		Recommend: RecommendConfig{
			OverfetchMargin:   rec.OverfetchMargin,
			CategoryBoost:     rec.CategoryBoost,
			TagBoost:          rec.TagBoost,
			WeightByFrequency: rec.WeightByFrequency,
			DefaultTopK:       rec.DefaultTopK,
			MaxTopK:           rec.MaxTopK,
			FetchConcurrency:  rec.FetchConcurrency,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Load builds the configuration. path overrides CONFIG_PATH and the default
// search paths; an explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	// QDRANT_COLLECTION wins over the older COLLECTION_NAME when both are set.
	if name := os.Getenv("QDRANT_COLLECTION"); name != "" {
		if err := k.Set("vector.collection", name); err != nil {
			return nil, err
		}
	}
	if err := splitList(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"addr":                          "server.addr",
	"api_key":                       "server.api_key",
	"cors_origins":                  "server.cors_origins",
	"write_rate_limit":              "server.write_rate_limit",
	"shutdown_timeout":              "server.shutdown_timeout",
	"vector_backend":                "vector.backend",
	"collection_name":               "vector.collection",
	"database_dsn":                  "vector.dsn",
	"qdrant_host":                   "vector.qdrant_host",
	"qdrant_port":                   "vector.qdrant_port",
	"qdrant_api_key":                "vector.qdrant_api_key",
	"vector_timeout":                "vector.timeout",
	"embedding_provider":            "embedding.provider",
	"embedding_url":                 "embedding.url",
	"embedding_model":               "embedding.model",
	"embedding_dimension":           "embedding.dimension",
	"embedding_cache_size":          "embedding.cache_size",
	"embedding_timeout":             "embedding.timeout",
	"recommend_overfetch_margin":    "recommend.overfetch_margin",
	"recommend_category_boost":      "recommend.category_boost",
	"recommend_tag_boost":           "recommend.tag_boost",
	"recommend_weight_by_frequency": "recommend.weight_by_frequency",
	"recommend_default_top_k":       "recommend.default_top_k",
	"recommend_max_top_k":           "recommend.max_top_k",
	"recommend_fetch_concurrency":   "recommend.fetch_concurrency",
	"log_level":                     "logging.level",
	"log_format":                    "logging.format",
	"log_caller":                    "logging.caller",
}

// envTransformFunc maps recognised variables to config paths. Anything else
// returns "" and is ignored by the env provider.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// splitList turns a comma-separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return k.Set(path, out)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.WriteRateLimit < 0 {
		errs = append(errs, errors.New("server.write_rate_limit must not be negative"))
	}

	switch c.Vector.Backend {
	case vector.BackendMemory, vector.BackendSQLite:
	case vector.BackendPostgres:
		if c.Vector.DSN == "" {
			errs = append(errs, errors.New("vector.dsn is required for the postgres backend"))
		}
	case vector.BackendQdrant:
		if c.Vector.QdrantHost == "" || c.Vector.QdrantPort <= 0 {
			errs = append(errs, errors.New("vector.qdrant_host and vector.qdrant_port are required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector.backend %q", c.Vector.Backend))
	}
	if c.Vector.Collection == "" {
		errs = append(errs, errors.New("vector.collection is required"))
	}

	switch c.Embedding.Provider {
	case embedding.KindSidecar, embedding.KindOllama:
		if c.Embedding.URL == "" {
			errs = append(errs, fmt.Errorf("embedding.url is required for the %s provider", c.Embedding.Provider))
		}
	case embedding.KindHash:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if c.Embedding.CacheSize < 0 {
		errs = append(errs, errors.New("embedding.cache_size must not be negative"))
	}

	if err := c.RecommendConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recommend: %w", err))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}
	if c.Logging.Format != logging.FormatJSON && c.Logging.Format != logging.FormatConsole {
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// QdrantURL is the REST base URL for the configured Qdrant host.
func (c *Config) QdrantURL() string {
	host := c.Vector.QdrantHost
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(host, "/"), c.Vector.QdrantPort)
	}
	return fmt.Sprintf("http://%s:%d", host, c.Vector.QdrantPort)
}

func (c *Config) StoreConfig() vector.Config {
	return vector.Config{
		Backend:      c.Vector.Backend,
		Collection:   c.Vector.Collection,
		Dimension:    c.Embedding.Dimension,
		DSN:          c.Vector.DSN,
		QdrantURL:    c.QdrantURL(),
		QdrantAPIKey: c.Vector.QdrantAPIKey,
		Timeout:      c.Vector.Timeout,
	}
}

func (c *Config) ProviderConfig() embedding.Config {
	return embedding.Config{
		Kind:      c.Embedding.Provider,
		URL:       c.Embedding.URL,
		Model:     c.Embedding.Model,
		Dimension: c.Embedding.Dimension,
		Timeout:   c.Embedding.Timeout,
		CacheSize: c.Embedding.CacheSize,
	}
}

func (c *Config) RecommendConfig() recommend.Config {
	return recommend.Config{
		Dimension:         c.Embedding.Dimension,
		OverfetchMargin:   c.Recommend.OverfetchMargin,
		CategoryBoost:     c.Recommend.CategoryBoost,
		TagBoost:          c.Recommend.TagBoost,
		WeightByFrequency: c.Recommend.WeightByFrequency,
		DefaultTopK:       c.Recommend.DefaultTopK,
		MaxTopK:           c.Recommend.MaxTopK,
		FetchConcurrency:  c.Recommend.FetchConcurrency,
	}
}

func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	return cfg
}
