package search

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var chunkColumns = []string{"document_id", "document_name", "chunk_index", "content", "embedding", "metadata"}

func TestNewPostgresStore_PingFails(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))
	_, err = NewPostgresStore(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStore_Chunks(t *testing.T) {
	ctx := context.Background()

	t.Run("owner scoped", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rows := pgxmock.NewRows(chunkColumns).
			AddRow("d1", "Report", 0, "revenue", []float64{1, 0}, []byte(`{"page": 4}`)).
			AddRow("d1", "Report", 1, "costs", []float64{0, 1}, []byte(`{}`))
		mockPool.ExpectQuery(flexibleSQLMatcher(selectChunks + orderChunks)).
			WithArgs("alice").
			WillReturnRows(rows)

		chunks, err := store.Chunks(ctx, "alice", nil)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "alice", chunks[0].OwnerID)
		assert.Equal(t, []float64{1, 0}, chunks[0].Embedding)
		assert.Equal(t, float64(4), chunks[0].Metadata["page"])
		assert.Equal(t, 1, chunks[1].ChunkIndex)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("document filter", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		rows := pgxmock.NewRows(chunkColumns).
			AddRow("d2", "Notes", 0, "misc", []float64{0.5, 0.5}, []byte(`null`))
		mockPool.ExpectQuery(flexibleSQLMatcher(selectChunks + filterDocuments + orderChunks)).
			WithArgs("alice", []string{"d2"}).
			WillReturnRows(rows)

		chunks, err := store.Chunks(ctx, "alice", []string{"d2"})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "d2", chunks[0].DocumentID)
		assert.Nil(t, chunks[0].Metadata)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(selectChunks + orderChunks)).
			WithArgs("alice").
			WillReturnError(errors.New("relation does not exist"))

		_, err = store.Chunks(ctx, "alice", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query chunks")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("empty result", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		store, err := NewPostgresStore(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(selectChunks + orderChunks)).
			WithArgs("carol").
			WillReturnRows(pgxmock.NewRows(chunkColumns))

		chunks, err := store.Chunks(ctx, "carol", nil)
		require.NoError(t, err)
		assert.NotNil(t, chunks)
		assert.Empty(t, chunks)
	})
}
