package course

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Protocol-Lattice/duo-analyst/src/cache"
)

const (
	// DefaultTopK is how many chunks a lookup returns when k is unset.
	DefaultTopK = 3
	tipWords    = 120
)

// Retriever embeds queries and looks up the closest course chunks. Query
// vectors are cached for 30 minutes.
type Retriever struct {
	embedder Embedder
	store    Store
	cache    *cache.LRU[[]float32]
}

// NewRetriever wires an embedder to a store.
func NewRetriever(emb Embedder, store Store) (*Retriever, error) {
	if emb == nil {
		return nil, errors.New("retriever requires an embedder")
	}
	if store == nil {
		return nil, errors.New("retriever requires a store")
	}
	return &Retriever{
		embedder: emb,
		store:    store,
		cache:    cache.NewLRU[[]float32](256, 30*time.Minute),
	}, nil
}

// TopK returns up to k chunks ordered by similarity to query.
func (r *Retriever) TopK(ctx context.Context, query string, k int) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if k <= 0 {
		k = DefaultTopK
	}
	key := cache.HashKey(query)
	vec, ok := r.cache.Get(key)
	if !ok {
		var err error
		vec, err = r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vec) == 0 {
			return nil, ErrEmptyEmbedding
		}
		r.cache.Set(key, vec)
	}
	return r.store.Search(ctx, vec, k)
}

// FormatTips renders matches as "- [id] first words ..." bullet lines.
func FormatTips(matches []Match) string {
	if len(matches) == 0 {
		return "- No relevant tips found."
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		words := strings.Fields(m.Text)
		if len(words) > tipWords {
			words = words[:tipWords]
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s ...", m.ID, strings.Join(words, " ")))
	}
	return strings.Join(lines, "\n")
}
