package course

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS course_chunks (
    id         TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    embedding  vector NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore implements Store on Postgres with pgvector.
type PostgresStore struct {
	DB *pgxpool.Pool
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	ps := &PostgresStore{DB: db}
	if err := ps.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

// CreateSchema ensures the pgvector extension and chunk table are available.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, defaultPostgresSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
            INSERT INTO course_chunks (id, content, embedding)
            VALUES ($1, $2, $3::vector)
            ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding
        `, c.ID, c.Text, vectorLiteral(c.Embedding))
	}
	results := ps.DB.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert course chunk: %w", err)
		}
	}
	return nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (ps *PostgresStore) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := ps.DB.Query(ctx, `
        SELECT id, content, embedding::text, (embedding <=> $1::vector) AS distance
        FROM course_chunks
        ORDER BY embedding <=> $1::vector
        LIMIT $2
    `, vectorLiteral(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m             Match
			embeddingText string
			distance      float64
		)
		if err := rows.Scan(&m.ID, &m.Text, &embeddingText, &distance); err != nil {
			return nil, err
		}
		m.Embedding = parseVector(embeddingText)
		m.Score = 1 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := ps.DB.QueryRow(ctx, `SELECT COUNT(*) FROM course_chunks`).Scan(&count)
	return count, err
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error {
	if ps != nil && ps.DB != nil {
		ps.DB.Close()
	}
	return nil
}

// vectorLiteral renders v in pgvector's text form, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(v)
	return "[" + strings.Trim(string(data), "[]") + "]"
}

func parseVector(text string) []float32 {
	text = strings.Trim(text, "[]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}
