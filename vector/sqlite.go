package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/vector/migrations"
)

// SQLiteStore is a file-backed vector store. Similarity search is brute force
// over every vector in the collection; ties keep insertion order.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	dimension  int
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path, collection string, dimension int) (*SQLiteStore, error) {
	if path == "" {
		path = "data/blogrec.db"
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, collection: collection, dimension: dimension}, nil
}

func runSQLiteMigrations(db *sql.DB) error {
	data, err := migrations.SQLite.ReadFile("sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, dimension int) error {
	if err := checkCollectionDimension(s.dimension, dimension); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, dimension) VALUES (?, ?)`,
		s.collection, dimension)
	if err != nil {
		return core.Upstream("sqlite ensure collection", err)
	}

	var have int
	err = s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, s.collection).Scan(&have)
	if err != nil {
		return core.Upstream("sqlite ensure collection", err)
	}
	return checkCollectionDimension(have, dimension)
}

func (s *SQLiteStore) Upsert(ctx context.Context, articleID string, embedding []float64, payload Payload) (string, error) {
	payload.ArticleID = articleID
	if err := payload.Validate(); err != nil {
		return "", err
	}
	if err := checkDimension(s.dimension, embedding); err != nil {
		return "", err
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	vectorID := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blog_vectors (vector_id, collection, article_id, embedding, payload)
		VALUES (?, ?, ?, ?, ?)`,
		vectorID, s.collection, articleID, encodeVector(embedding), string(payloadJSON))
	if err != nil {
		return "", core.Upstream("sqlite upsert", err)
	}
	return vectorID, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, articleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blog_vectors WHERE collection = ? AND article_id = ?`,
		s.collection, articleID).Scan(&n)
	if err != nil {
		return false, core.Upstream("sqlite exists", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteByArticleID(ctx context.Context, articleID string) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vector_id FROM blog_vectors WHERE collection = ? AND article_id = ?`,
		s.collection, articleID)
	if err != nil {
		return core.Upstream("sqlite delete", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return core.Upstream("sqlite delete", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.Upstream("sqlite delete", err)
	}
	if len(ids) == 0 {
		return notFound("delete", articleID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Upstream("sqlite delete", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blog_vectors WHERE vector_id = ?`, id); err != nil {
			return core.Upstream("sqlite delete", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Upstream("sqlite delete", err)
	}
	return nil
}

func (s *SQLiteStore) SearchSimilar(ctx context.Context, query []float64, topK int, threshold float64) ([]SearchResult, error) {
	if err := checkDimension(s.dimension, query); err != nil {
		return nil, err
	}

	records, err := s.query(ctx, "sqlite search",
		`SELECT vector_id, article_id, embedding, payload FROM blog_vectors WHERE collection = ? ORDER BY seq`,
		s.collection)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		score := CosineSimilarity(query, rec.Embedding)
		if score >= threshold {
			results = append(results, SearchResult{Record: rec, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, "sqlite scan",
		`SELECT vector_id, article_id, embedding, payload FROM blog_vectors WHERE collection = ? ORDER BY seq LIMIT ?`,
		s.collection, limit)
}

func (s *SQLiteStore) FetchByArticleID(ctx context.Context, articleID string) (*Record, error) {
	records, err := s.query(ctx, "sqlite fetch",
		`SELECT vector_id, article_id, embedding, payload FROM blog_vectors
		 WHERE collection = ? AND article_id = ? ORDER BY seq LIMIT 1`,
		s.collection, articleID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound("fetch", articleID)
	}
	return &records[0], nil
}

func (s *SQLiteStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blog_vectors WHERE collection = ?`, s.collection); err != nil {
		return core.Upstream("sqlite truncate", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, op, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.Upstream(op, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var blob []byte
		var payloadJSON string
		if err := rows.Scan(&rec.VectorID, &rec.ArticleID, &blob, &payloadJSON); err != nil {
			return nil, core.Upstream(op, err)
		}

		rec.Embedding, err = decodeVector(blob)
		if err != nil {
			return nil, core.Upstream(op, err)
		}
		decodePayload([]byte(payloadJSON), &rec.Payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Upstream(op, err)
	}
	return records, nil
}

// encodeVector packs components as little-endian float64.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, errors.New("corrupt vector blob")
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
