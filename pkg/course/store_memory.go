package course

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryStore keeps chunks in memory and optionally mirrors them to a JSON file.
type MemoryStore struct {
	mu     sync.RWMutex
	path   string
	chunks []Chunk
	index  map[string]int
}

// NewMemoryStore returns an empty, unpersisted store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[string]int{}}
}

// OpenMemoryStore loads path if it exists; Upsert writes it back.
func OpenMemoryStore(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read course store: %w", err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode course store %s: %w", path, err)
	}
	for _, c := range chunks {
		s.put(c)
	}
	return s, nil
}

func (s *MemoryStore) put(c Chunk) {
	if i, ok := s.index[c.ID]; ok {
		s.chunks[i] = c
		return
	}
	s.index[c.ID] = len(s.chunks)
	s.chunks = append(s.chunks, c)
}

func (s *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			return errors.New("chunk id is empty")
		}
		s.put(c)
	}
	return s.flush()
}

func (s *MemoryStore) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(s.chunks)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write course store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Search ranks every chunk by cosine similarity. Ties keep insertion order.
func (s *MemoryStore) Search(_ context.Context, query []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(s.chunks))
	for _, c := range s.chunks {
		matches = append(matches, Match{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *MemoryStore) Close() error { return nil }
