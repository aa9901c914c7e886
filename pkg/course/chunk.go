package course

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultChunkWords is the passage size used when ingesting course files.
const DefaultChunkWords = 250

// ChunkText splits text into passages of at most maxWords words. Chunk ids are
// "<source>#<n>" with n starting at 1.
func ChunkText(source, text string, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultChunkWords
	}
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	var (
		chunks  []Chunk
		builder strings.Builder
		count   int
	)
	emit := func() {
		if builder.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			ID:   fmt.Sprintf("%s#%d", source, len(chunks)+1),
			Text: builder.String(),
		})
		builder.Reset()
		count = 0
	}
	for scanner.Scan() {
		if count == maxWords {
			emit()
		}
		if builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(scanner.Text())
		count++
	}
	emit()
	return chunks
}

// SourceName derives a chunk id prefix from a file path.
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ingest chunks text, embeds every chunk and upserts them into store. It
// returns the number of chunks written.
func Ingest(ctx context.Context, emb Embedder, store Store, source, text string, maxWords int) (int, error) {
	if emb == nil || store == nil {
		return 0, errors.New("ingest requires an embedder and a store")
	}
	chunks := ChunkText(source, text, maxWords)
	if len(chunks) == 0 {
		return 0, nil
	}

	if batch, ok := emb.(BatchEmbedder); ok {
		docs := make([]string, len(chunks))
		for i, c := range chunks {
			docs[i] = c.Text
		}
		vecs, err := batch.EmbedPassages(ctx, docs)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", source, err)
		}
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
	} else {
		for i := range chunks {
			vec, err := emb.Embed(ctx, chunks[i].Text)
			if err != nil {
				return 0, fmt.Errorf("embed %s: %w", chunks[i].ID, err)
			}
			chunks[i].Embedding = vec
		}
	}

	if err := store.Upsert(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
