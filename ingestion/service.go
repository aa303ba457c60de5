// Package ingestion turns connector-supplied documents into indexed chunks.
// Re-ingesting a document replaces its whole chunk set inside one Postgres
// transaction and then publishes a fresh index snapshot, so queries either
// see the old chunk set or the new one, never a mixture.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/normativa/lexgate/database"
	"github.com/normativa/lexgate/embeddings"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/norms"
)

type Service struct {
	pool      *pgxpool.Pool
	graph     *norms.Store
	embedder  embeddings.Embedder
	chunker   *Chunker
	store     *index.Store
	loader    *index.Loader
	logger    *log.Logger
	dimension int

	// publishMu keeps concurrent ingests from publishing snapshots out of
	// version order.
	publishMu sync.Mutex
}

func NewService(pool *pgxpool.Pool, graph *norms.Store, embedder embeddings.Embedder,
	chunker *Chunker, store *index.Store, loader *index.Loader,
	logger *log.Logger, dimension int) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		pool:      pool,
		graph:     graph,
		embedder:  embedder,
		chunker:   chunker,
		store:     store,
		loader:    loader,
		logger:    logger,
		dimension: dimension,
	}
}

// IngestDocument validates, chunks, embeds, and persists one document, then
// rebuilds the index snapshot. Returns the stored document (with assigned id)
// and the number of chunks indexed. Zero chunks with a nil error means the
// document was unchanged since the last ingest.
func (s *Service) IngestDocument(ctx context.Context, doc legal.Document, payload Payload) (legal.Document, int, error) {
	if s.embedder == nil {
		return legal.Document{}, 0, fmt.Errorf("embedder not configured")
	}
	if err := doc.Validate(); err != nil {
		return legal.Document{}, 0, err
	}
	if err := database.EnsureSchema(ctx, s.pool, s.dimension); err != nil {
		return legal.Document{}, 0, fmt.Errorf("ensure schema: %w", err)
	}

	text, title, err := ExtractText(payload)
	if err != nil {
		return legal.Document{}, 0, err
	}
	if doc.Title == "" {
		doc.Title = title
	}
	if doc.Source == "" {
		doc.Source = payload.Name
	}

	hash := sha256.Sum256([]byte(text))
	hashHex := hex.EncodeToString(hash[:])

	chunks, err := s.chunker.Chunk("", text)
	if err != nil {
		return legal.Document{}, 0, err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return legal.Document{}, 0, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return legal.Document{}, 0, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
	}

	stored, changed, err := s.persist(ctx, doc, hashHex, chunks, vectors)
	if err != nil {
		return legal.Document{}, 0, err
	}

	if s.graph != nil {
		if err := s.graph.SyncDocument(ctx, stored); err != nil {
			s.logger.Printf("norm graph sync error for %s: %v", stored.ID, err)
		}
	}

	if !changed {
		s.logger.Printf("no updates required for %s", stored.Source)
		return stored, 0, nil
	}

	if err := s.Reindex(ctx); err != nil {
		return legal.Document{}, 0, err
	}

	s.logger.Printf("ingested %s (%d chunks)", stored.Source, len(chunks))
	return stored, len(chunks), nil
}

// Clear removes the whole corpus from Postgres and the norm graph, then
// publishes an empty snapshot. The certificate log is untouched: issued
// certificates outlive the corpus they were computed against.
func (s *Service) Clear(ctx context.Context) error {
	if err := database.EnsureSchema(ctx, s.pool, s.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, "TRUNCATE legal_chunks, legal_documents"); err != nil {
		return fmt.Errorf("truncate corpus tables: %w", err)
	}

	if s.graph != nil {
		if err := s.graph.Purge(ctx); err != nil {
			s.logger.Printf("norm graph purge error: %v", err)
		}
	}

	if err := s.Reindex(ctx); err != nil {
		return err
	}
	s.logger.Printf("corpus cleared")
	return nil
}

// Reindex rebuilds a snapshot from Postgres and publishes it atomically.
func (s *Service) Reindex(ctx context.Context) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	snap, err := s.loader.Load(ctx, s.store.NextVersion())
	if err != nil {
		return fmt.Errorf("rebuild index snapshot: %w", err)
	}
	s.store.Publish(snap)
	s.logger.Printf("published index snapshot v%d (%d chunks)", snap.Version, snap.Len())
	return nil
}

func (s *Service) persist(ctx context.Context, doc legal.Document, sha string,
	chunks []legal.Chunk, vectors [][]float32) (stored legal.Document, changed bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return legal.Document{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	docID, changed, err := upsertDocument(ctx, tx, doc, sha)
	if err != nil {
		return legal.Document{}, false, err
	}
	doc.ID = docID.String()

	if changed {
		if _, err = tx.Exec(ctx, "DELETE FROM legal_chunks WHERE document_id = $1", docID); err != nil {
			return legal.Document{}, false, fmt.Errorf("retire existing chunks: %w", err)
		}

		for i := range chunks {
			chunkID := uuid.New()
			if _, err = tx.Exec(ctx, `
				INSERT INTO legal_chunks (id, document_id, ordinal, start_offset, end_offset, token_count, content, embedding, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			`, chunkID, docID, chunks[i].Ordinal, chunks[i].StartOffset, chunks[i].EndOffset,
				chunks[i].TokenCount, chunks[i].Text, pgvector.NewVector(vectors[i])); err != nil {
				return legal.Document{}, false, fmt.Errorf("insert chunk %d: %w", i, err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return legal.Document{}, false, fmt.Errorf("commit transaction: %w", err)
	}

	return doc, changed, nil
}

func upsertDocument(ctx context.Context, tx pgx.Tx, doc legal.Document, sha string) (uuid.UUID, bool, error) {
	var (
		docID        uuid.UUID
		existingHash string
	)

	var supersededBy any
	if doc.SupersededBy != "" {
		parsed, err := uuid.Parse(doc.SupersededBy)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("%w: invalid supersededBy reference %q", legal.ErrMalformedDocument, doc.SupersededBy)
		}
		supersededBy = parsed
	}

	err := tx.QueryRow(ctx, "SELECT id, sha256 FROM legal_documents WHERE source = $1", doc.Source).
		Scan(&docID, &existingHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			newID := uuid.New()
			if _, execErr := tx.Exec(ctx, `
				INSERT INTO legal_documents (id, jurisdiction, doc_type, hierarchy_rank, effective_date, superseded_by, title, source, sha256, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			`, newID, strings.ToUpper(doc.Jurisdiction), string(doc.Type), doc.HierarchyRank,
				doc.EffectiveDate, supersededBy, doc.Title, doc.Source, sha); execErr != nil {
				return uuid.Nil, false, fmt.Errorf("insert document: %w", execErr)
			}
			return newID, true, nil
		}
		return uuid.Nil, false, fmt.Errorf("query document: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE legal_documents
		SET jurisdiction = $2,
		    doc_type = $3,
		    hierarchy_rank = $4,
		    effective_date = $5,
		    superseded_by = $6,
		    title = $7,
		    sha256 = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, docID, strings.ToUpper(doc.Jurisdiction), string(doc.Type), doc.HierarchyRank,
		doc.EffectiveDate, supersededBy, doc.Title, sha); err != nil {
		return uuid.Nil, false, fmt.Errorf("update document: %w", err)
	}

	return docID, existingHash != sha, nil
}

// IngestDirectory walks dir for connector drop files (JSON envelopes holding
// document metadata plus body text) and ingests each one. Individual file
// failures are logged and skipped; the walk itself failing is an error.
func (s *Service) IngestDirectory(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data directory: %w", err)
	}

	entries := make([]string, 0)
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Printf("no connector files found in %s", dir)
		return nil
	}

	for _, path := range entries {
		doc, payload, err := ReadEnvelope(path)
		if err != nil {
			s.logger.Printf("skip %s: %v", path, err)
			continue
		}
		if _, _, err := s.IngestDocument(ctx, doc, payload); err != nil {
			s.logger.Printf("ingest failed for %s: %v", path, err)
		}
	}

	return nil
}
