package vector

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/blogrec/core"
)

func newMockPgVector(t *testing.T) (*PgVectorStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return newPgVectorStore(db, "blogs", testDim), mock
}

func TestPgVectorStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("registers collection", func(t *testing.T) {
		s, mock := newMockPgVector(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO collections (name, dimension) VALUES ($1, $2)")).
			WithArgs("blogs", testDim).
			WillReturnRows(sqlmock.NewRows([]string{"dimension"}).AddRow(testDim))

		assert.NoError(t, s.EnsureCollection(ctx, testDim))
	})

	t.Run("existing collection with other size", func(t *testing.T) {
		s, mock := newMockPgVector(t)
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO collections")).
			WithArgs("blogs", testDim).
			WillReturnRows(sqlmock.NewRows([]string{"dimension"}).AddRow(768))

		assert.ErrorIs(t, s.EnsureCollection(ctx, testDim), core.ErrDimensionMismatch)
	})

	t.Run("wrong requested size never reaches the database", func(t *testing.T) {
		s, _ := newMockPgVector(t)
		assert.ErrorIs(t, s.EnsureCollection(ctx, testDim+1), core.ErrDimensionMismatch)
	})
}

func TestPgVectorStore_SearchSimilar(t *testing.T) {
	s, mock := newMockPgVector(t)
	ctx := context.Background()

	mock.ExpectQuery(`ORDER BY embedding <=> \$1::vector\s+LIMIT \$4`).
		WithArgs("[1,0,0]", "blogs", 0.5, 4).
		WillReturnRows(sqlmock.NewRows([]string{"vector_id", "article_id", "embedding", "payload", "score"}).
			AddRow("vec-a", "post-a", "[1,0,0]", []byte(`{"articleId":"post-a","title":"A","category":"go","tags":["x"]}`), 1.0).
			AddRow("vec-b", "post-b", "[0.9,0.1,0]", []byte(`{"articleId":"post-b","title":"B","tags":7}`), 0.99))

	results, err := s.SearchSimilar(ctx, []float64{1, 0, 0}, 4, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "vec-a", results[0].Record.VectorID)
	assert.Equal(t, "A", results[0].Record.Payload.Title)
	assert.Equal(t, []float64{1, 0, 0}, results[0].Record.Embedding)
	assert.Equal(t, 0.99, results[1].Score)
	assert.Error(t, results[1].Record.Payload.Validate(), "undecodable payload is zeroed")
}

func TestPgVectorStore_SearchSimilar_RejectsBadDimension(t *testing.T) {
	s, _ := newMockPgVector(t)
	_, err := s.SearchSimilar(context.Background(), []float64{1, 0}, 4, 0)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestPgVectorStore_MalformedEmbedding(t *testing.T) {
	s, mock := newMockPgVector(t)
	mock.ExpectQuery(`ORDER BY seq LIMIT 1`).
		WithArgs("blogs", "post-1").
		WillReturnRows(sqlmock.NewRows([]string{"vector_id", "article_id", "embedding", "payload"}).
			AddRow("vec-1", "post-1", "[1,abc,0]", []byte(`{"articleId":"post-1","title":"t"}`)))

	_, err := s.FetchByArticleID(context.Background(), "post-1")
	assert.ErrorIs(t, err, core.ErrUpstream)
}

func TestPgVectorStore_FetchByArticleID(t *testing.T) {
	s, mock := newMockPgVector(t)
	ctx := context.Background()

	mock.ExpectQuery(`WHERE collection = \$1 AND article_id = \$2 ORDER BY seq LIMIT 1`).
		WithArgs("blogs", "post-1").
		WillReturnRows(sqlmock.NewRows([]string{"vector_id", "article_id", "embedding", "payload"}).
			AddRow("vec-1", "post-1", "[0.5,0.5,0]", []byte(`{"articleId":"post-1","title":"first"}`)))
	mock.ExpectQuery(`ORDER BY seq LIMIT 1`).
		WithArgs("blogs", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"vector_id", "article_id", "embedding", "payload"}))

	rec, err := s.FetchByArticleID(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "first", rec.Payload.Title)
	assert.Equal(t, []float64{0.5, 0.5, 0}, rec.Embedding)

	_, err = s.FetchByArticleID(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPgVectorStore_DeleteByArticleID(t *testing.T) {
	ctx := context.Background()

	t.Run("removes every duplicate", func(t *testing.T) {
		s, mock := newMockPgVector(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT vector_id::text FROM blog_vectors WHERE collection = $1 AND article_id = $2")).
			WithArgs("blogs", "post-1").
			WillReturnRows(sqlmock.NewRows([]string{"vector_id"}).AddRow("vec-1").AddRow("vec-2"))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM blog_vectors WHERE vector_id IN ($1,$2)")).
			WithArgs("vec-1", "vec-2").
			WillReturnResult(sqlmock.NewResult(0, 2))

		assert.NoError(t, s.DeleteByArticleID(ctx, "post-1"))
	})

	t.Run("missing article", func(t *testing.T) {
		s, mock := newMockPgVector(t)
		mock.ExpectQuery("SELECT vector_id::text FROM blog_vectors").
			WithArgs("blogs", "nope").
			WillReturnRows(sqlmock.NewRows([]string{"vector_id"}))

		assert.ErrorIs(t, s.DeleteByArticleID(ctx, "nope"), core.ErrNotFound)
	})
}

func TestParseEmbedding(t *testing.T) {
	v, err := parseEmbedding("[0.25, -1,3e-2]")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, -1, 0.03}, v)

	v, err = parseEmbedding("[]")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseEmbedding("[1,,2]")
	assert.Error(t, err)

	assert.Equal(t, "[0.25,-1,0.03]", formatEmbedding([]float64{0.25, -1, 0.03}))
}
