// Package search ranks a caller's pre-embedded document chunks against a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/metrics"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUpstream        = errors.New("upstream dependency failed")
)

// EmptyCorpusMessage is returned when the caller has no chunks to search
const EmptyCorpusMessage = "No documents found. Upload documents to enable search."

// Chunk is one pre-embedded piece of a document
type Chunk struct {
	OwnerID      string         `json:"owner_id"`
	DocumentID   string         `json:"document_id"`
	DocumentName string         `json:"document_name"`
	ChunkIndex   int            `json:"chunk_index"`
	Content      string         `json:"content"`
	Embedding    []float64      `json:"embedding"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Result is a ranked chunk
type Result struct {
	DocumentID   string         `json:"document_id"`
	DocumentName string         `json:"document_name"`
	ChunkIndex   int            `json:"chunk_index"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Similarity   float64        `json:"similarity"`
	Rank         int            `json:"rank"`
	Citation     string         `json:"citation"`
}

// Request is a search query
type Request struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Response holds the ranked results
type Response struct {
	Query               string   `json:"query"`
	Results             []Result `json:"results"`
	TotalChunksSearched int      `json:"total_chunks_searched"`
	Message             string   `json:"message,omitempty"`
}

// Store loads the chunks owned by an identity, optionally limited to documentIDs
type Store interface {
	Chunks(ctx context.Context, ownerID string, documentIDs []string) ([]Chunk, error)
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Service implements similarity search over a Store
type Service struct {
	store       Store
	embedder    Embedder
	defaultTopK int
	logger      *zap.Logger
}

// NewService creates a search service
func NewService(store Store, embedder Embedder, defaultTopK int, logger *zap.Logger) *Service {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, embedder: embedder, defaultTopK: defaultTopK, logger: logger.Named("search")}
}

// Search ranks identity's chunks by cosine similarity to req.Query
func (s *Service) Search(ctx context.Context, identity string, req Request) (*Response, error) {
	if identity == "" {
		return nil, ErrUnauthenticated
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrUpstream, err)
	}
	if n := norm(vec); n == 0 || !finite(n) {
		return nil, fmt.Errorf("%w: embedding provider returned an unusable vector", ErrUpstream)
	}

	chunks, err := s.store.Chunks(ctx, identity, req.DocumentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	metrics.SearchCandidates.Observe(float64(len(chunks)))

	if len(chunks) == 0 {
		return &Response{Query: req.Query, Results: []Result{}, Message: EmptyCorpusMessage}, nil
	}

	results := Rank(vec, chunks, topK)
	s.logger.Debug("search ranked",
		zap.String("identity", identity),
		zap.Int("candidates", len(chunks)),
		zap.Int("results", len(results)))

	return &Response{Query: req.Query, Results: results, TotalChunksSearched: len(chunks)}, nil
}

// Rank scores chunks against query and returns the top k in descending
// similarity with 1-based ranks. Chunks whose embedding Cosine rejects are
// left out.
func Rank(query []float64, chunks []Chunk, k int) []Result {
	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		sim, ok := Cosine(query, c.Embedding)
		if !ok {
			continue
		}
		results = append(results, Result{
			DocumentID:   c.DocumentID,
			DocumentName: c.DocumentName,
			ChunkIndex:   c.ChunkIndex,
			Content:      c.Content,
			Metadata:     c.Metadata,
			Similarity:   sim,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
		results[i].Citation = Citation(results[i].DocumentName, results[i].ChunkIndex)
	}
	return results
}

// Cosine returns dot(a,b) / (|a| |b|). ok is false when the vectors differ
// in length, are empty, have zero norm or hold NaN/Inf components.
func Cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 || !finite(dot) || !finite(na) || !finite(nb) {
		return 0, false
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp rounding drift so results stay within [-1, 1].
	return math.Max(-1, math.Min(1, sim)), true
}

// Citation formats the "[name, chunk N]" reference for a 0-based chunk index
func Citation(documentName string, chunkIndex int) string {
	return fmt.Sprintf("[%s, chunk %d]", documentName, chunkIndex+1)
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
