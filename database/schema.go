package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the legal corpus tables when missing. Chunks carry the
// embedding used to rebuild in-memory index snapshots after a restart.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS legal_documents (
			id UUID PRIMARY KEY,
			jurisdiction TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			hierarchy_rank INT NOT NULL,
			effective_date DATE NOT NULL,
			superseded_by UUID,
			title TEXT,
			source TEXT UNIQUE NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS legal_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES legal_documents(id) ON DELETE CASCADE,
			ordinal INT NOT NULL,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			token_count INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, ordinal)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_legal_chunks_document ON legal_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_legal_chunks_embedding ON legal_chunks USING ivfflat (embedding vector_l2_ops)",
		"CREATE INDEX IF NOT EXISTS idx_legal_documents_jurisdiction ON legal_documents(jurisdiction)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
