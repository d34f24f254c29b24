package vector

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by NewStore.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend    string
	Collection string
	Dimension  int

	// DSN is the SQLite file path or the PostgreSQL connection string.
	DSN string

	QdrantURL    string
	QdrantAPIKey string
	Timeout      time.Duration
}

// NewStore creates the backend named by cfg.Backend.
//   - memory: process-local, lost on restart
//   - sqlite: file at cfg.DSN (default data/blogrec.db)
//   - postgres: pgvector at cfg.DSN
//   - qdrant: REST API at cfg.QdrantURL
func NewStore(cfg Config, logger zerolog.Logger) (Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", cfg.Dimension)
	}

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(cfg.Dimension), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(cfg.DSN, cfg.Collection, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return s, nil
	case BackendPostgres:
		s, err := NewPgVectorStore(cfg.DSN, cfg.Collection, cfg.Dimension)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	case BackendQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
			Timeout:    cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
