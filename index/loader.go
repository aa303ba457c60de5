package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/normativa/lexgate/legal"
)

// Loader rebuilds snapshots from the durable Postgres corpus. It runs at
// startup and after every ingestion commit.
type Loader struct {
	pool *pgxpool.Pool
}

func NewLoader(pool *pgxpool.Pool) *Loader {
	return &Loader{pool: pool}
}

// Load reads the full corpus and freezes it into a snapshot with the given
// version.
func (l *Loader) Load(ctx context.Context, version int64) (*Snapshot, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", ErrUnavailable)
	}

	builder := NewBuilder(version)

	rows, err := l.pool.Query(ctx, `
		SELECT id, jurisdiction, doc_type, hierarchy_rank, effective_date,
		       COALESCE(superseded_by::text, ''), COALESCE(title, ''), source
		FROM legal_documents
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	for rows.Next() {
		var (
			doc     legal.Document
			docType string
			date    time.Time
		)
		if err := rows.Scan(&doc.ID, &doc.Jurisdiction, &docType, &doc.HierarchyRank,
			&date, &doc.SupersededBy, &doc.Title, &doc.Source); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Type = legal.DocumentType(docType)
		doc.EffectiveDate = date
		builder.AddDocument(doc)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	rows.Close()

	chunkRows, err := l.pool.Query(ctx, `
		SELECT id, document_id, ordinal, start_offset, end_offset, token_count, content, embedding
		FROM legal_chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer chunkRows.Close()

	for chunkRows.Next() {
		var (
			chunk legal.Chunk
			vec   pgvector.Vector
		)
		if err := chunkRows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Ordinal,
			&chunk.StartOffset, &chunk.EndOffset, &chunk.TokenCount, &chunk.Text, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		builder.AddChunk(chunk, vec.Slice())
	}
	if err := chunkRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return builder.Build(), nil
}
