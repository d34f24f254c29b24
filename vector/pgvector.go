package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/vector/migrations"
)

// PgVectorStore is a PostgreSQL-based vector store using pgvector.
type PgVectorStore struct {
	db         *sql.DB
	collection string
	dimension  int
}

// NewPgVectorStore creates a new pgvector-based store.
// The dimension parameter sizes the embedding column (384 for all-MiniLM-L6-v2).
func NewPgVectorStore(dsn, collection string, dimension int) (*PgVectorStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newPgVectorStore(db, collection, dimension)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func newPgVectorStore(db *sql.DB, collection string, dimension int) *PgVectorStore {
	return &PgVectorStore{db: db, collection: collection, dimension: dimension}
}

func (s *PgVectorStore) migrate() error {
	data, err := migrations.Postgres.ReadFile("postgres/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	ddl := strings.ReplaceAll(string(data), "{{DIMENSION}}", strconv.Itoa(s.dimension))
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	return nil
}

func (s *PgVectorStore) EnsureCollection(ctx context.Context, dimension int) error {
	if err := checkCollectionDimension(s.dimension, dimension); err != nil {
		return err
	}

	var have int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collections (name, dimension) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING dimension
	`, s.collection, dimension).Scan(&have)
	if err != nil {
		return core.Upstream("pgvector ensure collection", err)
	}
	return checkCollectionDimension(have, dimension)
}

func (s *PgVectorStore) Upsert(ctx context.Context, articleID string, embedding []float64, payload Payload) (string, error) {
	payload.ArticleID = articleID
	if err := payload.Validate(); err != nil {
		return "", err
	}
	if err := checkDimension(s.dimension, embedding); err != nil {
		return "", err
	}

	metadata, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	vectorID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blog_vectors (vector_id, collection, article_id, embedding, payload)
		VALUES ($1, $2, $3, $4::vector, $5)
	`, vectorID, s.collection, articleID, formatEmbedding(embedding), metadata)
	if err != nil {
		return "", core.Upstream("pgvector upsert", err)
	}
	return vectorID, nil
}

func (s *PgVectorStore) Exists(ctx context.Context, articleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blog_vectors WHERE collection = $1 AND article_id = $2)
	`, s.collection, articleID).Scan(&exists)
	if err != nil {
		return false, core.Upstream("pgvector exists", err)
	}
	return exists, nil
}

// DeleteByArticleID resolves the vector ids first since rows are keyed by vector id.
func (s *PgVectorStore) DeleteByArticleID(ctx context.Context, articleID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vector_id::text FROM blog_vectors WHERE collection = $1 AND article_id = $2
	`, s.collection, articleID)
	if err != nil {
		return core.Upstream("pgvector delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return core.Upstream("pgvector delete", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.Upstream("pgvector delete", err)
	}
	if len(ids) == 0 {
		return notFound("delete", articleID)
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM blog_vectors WHERE vector_id IN (%s)", strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return core.Upstream("pgvector delete", err)
	}
	return nil
}

// SearchSimilar ranks by cosine distance through the HNSW index.
func (s *PgVectorStore) SearchSimilar(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vector_id::text, article_id, embedding::text, payload, 1 - (embedding <=> $1::vector) AS score
		FROM blog_vectors
		WHERE collection = $2 AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`, formatEmbedding(query), s.collection, threshold, topK)
	if err != nil {
		return nil, core.Upstream("pgvector search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var rec Record
		var embeddingStr string
		var payloadBytes []byte
		var score float64

		if err := rows.Scan(&rec.VectorID, &rec.ArticleID, &embeddingStr, &payloadBytes, &score); err != nil {
			return nil, core.Upstream("pgvector search", err)
		}
		if rec.Embedding, err = parseEmbedding(embeddingStr); err != nil {
			return nil, core.Upstream("pgvector search", err)
		}
		decodePayload(payloadBytes, &rec.Payload)

		results = append(results, SearchResult{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, core.Upstream("pgvector search", err)
	}
	return results, nil
}

func (s *PgVectorStore) Scan(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT vector_id::text, article_id, embedding::text, payload FROM blog_vectors WHERE collection = $1 ORDER BY seq`
	args := []any{s.collection}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.records(ctx, "pgvector scan", q, args...)
}

func (s *PgVectorStore) FetchByArticleID(ctx context.Context, articleID string) (*Record, error) {
	records, err := s.records(ctx, "pgvector fetch", `
		SELECT vector_id::text, article_id, embedding::text, payload FROM blog_vectors
		WHERE collection = $1 AND article_id = $2 ORDER BY seq LIMIT 1
	`, s.collection, articleID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("fetch", articleID)
	}
	return &records[0], nil
}

func (s *PgVectorStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blog_vectors WHERE collection = $1`, s.collection); err != nil {
		return core.Upstream("pgvector truncate", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

func (s *PgVectorStore) records(ctx context.Context, op, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.Upstream(op, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var embeddingStr string
		var payloadBytes []byte
		if err := rows.Scan(&rec.VectorID, &rec.ArticleID, &embeddingStr, &payloadBytes); err != nil {
			return nil, core.Upstream(op, err)
		}
		if rec.Embedding, err = parseEmbedding(embeddingStr); err != nil {
			return nil, core.Upstream(op, err)
		}
		decodePayload(payloadBytes, &rec.Payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Upstream(op, err)
	}
	return out, nil
}

// decodePayload leaves p zero-valued when the stored JSON is unusable, which
// callers treat as a malformed payload.
func decodePayload(data []byte, p *Payload) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, p); err != nil {
		*p = Payload{}
	}
}

// formatEmbedding converts a float64 slice to pgvector format: "[0.1,0.2,0.3]"
func formatEmbedding(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseEmbedding converts pgvector format back to float64 slice.
func parseEmbedding(s string) ([]float64, error) {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("decode embedding component %d: %w", i, err)
		}
		result[i] = v
	}
	return result, nil
}
