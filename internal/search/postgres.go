package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectChunks = `
	SELECT document_id, document_name, chunk_index, content, embedding, metadata
	FROM document_chunks
	WHERE owner_id = $1`

const filterDocuments = `
	AND document_id = ANY($2)`

const orderChunks = `
	ORDER BY document_id, chunk_index`

// PostgresStore reads chunks from the document_chunks table
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPool connects to url with at most maxConns connections
func OpenPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store and verifies the connection
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, log: logger.Named("chunk_store")}, nil
}

// Chunks implements Store
func (s *PostgresStore) Chunks(ctx context.Context, ownerID string, documentIDs []string) ([]Chunk, error) {
	query := selectChunks
	args := []any{ownerID}
	if len(documentIDs) > 0 {
		query += filterDocuments
		args = append(args, documentIDs)
	}
	query += orderChunks

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		c := Chunk{OwnerID: ownerID}
		var metadata []byte
		if err := rows.Scan(&c.DocumentID, &c.DocumentName, &c.ChunkIndex, &c.Content, &c.Embedding, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
				s.log.Warn("ignoring malformed chunk metadata",
					zap.String("document_id", c.DocumentID),
					zap.Int("chunk_index", c.ChunkIndex),
					zap.Error(err))
			}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return chunks, nil
}
