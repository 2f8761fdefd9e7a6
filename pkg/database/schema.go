package database

import (
	"context"
	"fmt"
)

// embeddingDimension matches the Gemini embedding output used by the
// archive. HNSW supports up to 2000 dimensions, so the index applies.
const embeddingDimension = 1536

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Jobs Table
	jobsQuery := `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			query TEXT NOT NULL,
			depth INT NOT NULL DEFAULT 2,
			breadth INT NOT NULL DEFAULT 2,
			status TEXT NOT NULL DEFAULT 'pending',
			state JSONB,
			report TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, jobsQuery); err != nil {
		return fmt.Errorf("failed to create research_jobs table: %w", err)
	}

	// 2. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	// Indexes for faster querying
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_jobs: %w", err)
	}

	// 3. Document Archive Table (accepted evidence, chunked and embedded)
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector extension: %w", err)
	}

	docsQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			query TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`, embeddingDimension)
	if _, err := db.Pool.Exec(ctx, docsQuery); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS documents_embedding_idx
		ON documents USING hnsw (embedding vector_cosine_ops)
	`); err != nil {
		return fmt.Errorf("failed to create index on documents: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url)"); err != nil {
		return fmt.Errorf("failed to create index on documents: %w", err)
	}

	return nil
}
