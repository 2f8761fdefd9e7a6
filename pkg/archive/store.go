package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/ditinagrawal/deep-research/pkg/research"
)

// Embedder turns text into vectors. Satisfied by embeddings.GoogleEmbedder.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store archives accepted research documents in pgvector so collected
// evidence stays searchable after a research run finishes.
type Store struct {
	pool         *pgxpool.Pool
	embedder     Embedder
	chunkSize    int
	chunkOverlap int
}

func NewStore(pool *pgxpool.Pool, embedder Embedder) *Store {
	return &Store{
		pool:         pool,
		embedder:     embedder,
		chunkSize:    1000,
		chunkOverlap: 200,
	}
}

// IndexDocument implements research.DocumentIndexer. The document content
// is chunked so long pages embed within model limits; each chunk keeps the
// source URL, title and the query that surfaced it.
func (s *Store) IndexDocument(ctx context.Context, doc research.SearchDocument, query string) error {
	chunks, err := s.chunk(doc.Content)
	if err != nil {
		return fmt.Errorf("failed to split document: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := s.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	insert := `
		INSERT INTO documents (url, title, query, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
	`
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(insert, doc.URL, doc.Title, query, chunk, pgvector.NewVector(vectors[i]))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document chunk: %w", err)
		}
	}
	return nil
}

func (s *Store) chunk(text string) ([]string, error) {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
	)
	return ts.SplitText(text)
}

// Hit is one archive search result.
type Hit struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Query   string  `json:"query"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs cosine-similarity search over the archived chunks.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT url, title, query, content, 1 - (embedding <=> $1) AS similarity
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.URL, &h.Title, &h.Query, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
