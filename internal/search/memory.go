package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// MemoryStore keeps chunks in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewMemoryStore creates a store holding chunks
func NewMemoryStore(chunks ...Chunk) *MemoryStore {
	s := &MemoryStore{}
	s.Add(chunks...)
	return s
}

// LoadMemoryStore reads a JSON array of chunks from path
func LoadMemoryStore(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return NewMemoryStore(chunks...), nil
}

// Add appends chunks
func (s *MemoryStore) Add(chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		c.Embedding = append([]float64(nil), c.Embedding...)
		s.chunks = append(s.chunks, c)
	}
}

// Len returns the number of stored chunks
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Chunks implements Store
func (s *MemoryStore) Chunks(ctx context.Context, ownerID string, documentIDs []string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(documentIDs) > 0 {
		allowed = make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Chunk{}
	for _, c := range s.chunks {
		if c.OwnerID != ownerID {
			continue
		}
		if allowed != nil && !allowed[c.DocumentID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
