// Package retrieval implements the hybrid retriever: a semantic path (cosine
// over embeddings) and a keyword path (BM25 over the inverted term index)
// queried concurrently against the same pinned index snapshot, merged into a
// single deterministic ranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/embeddings"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/legal"
)

// ErrIndexUnavailable is returned when no snapshot has been published or both
// retrieval backends failed.
var ErrIndexUnavailable = errors.New("retrieval index unavailable")

// Candidate is one ranked retrieval hit. A chunk found by only one backend
// keeps a zero score for the other; it is never excluded on that basis.
type Candidate struct {
	ChunkID       string
	SemanticScore float64
	KeywordScore  float64
	CombinedScore float64
}

// Outcome is the full result of one retrieval round. Snapshot pins the index
// version the candidates were ranked against so later stages (risk scoring,
// validation, certification) observe the same corpus. An empty candidate list
// is a legitimate outcome, not an error.
type Outcome struct {
	Candidates []Candidate
	Partial    bool
	Snapshot   *index.Snapshot
}

type Retriever struct {
	store    *index.Store
	embedder embeddings.Embedder
	cfg      config.RetrievalConfig
	logger   *log.Logger
}

func NewRetriever(store *index.Store, embedder embeddings.Embedder, cfg config.RetrievalConfig, logger *log.Logger) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	return &Retriever{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

type backendResult struct {
	hits []index.Scored
	err  error
}

// Retrieve runs both backends concurrently, each under its own timeout, and
// merges the results. One failing or slow backend degrades the outcome to
// partial retrieval instead of stalling the request; both failing surfaces
// ErrIndexUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query legal.Query, k int) (Outcome, error) {
	snap, ok := r.store.Current()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no snapshot published", ErrIndexUnavailable)
	}
	if k <= 0 {
		k = r.cfg.TopK
	}

	// Overfetch so that the jurisdiction/superseded filters applied after the
	// merge still leave k candidates to rank.
	fetch := k * 4

	semanticCh := make(chan backendResult, 1)
	keywordCh := make(chan backendResult, 1)

	go func() {
		hits, err := r.withRetry(ctx, func(callCtx context.Context) ([]index.Scored, error) {
			vectors, err := r.embedder.Embed(callCtx, []string{query.Text})
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			if len(vectors) == 0 {
				return nil, fmt.Errorf("embedder returned no vectors")
			}
			return snap.SemanticSearch(callCtx, vectors[0], fetch)
		})
		semanticCh <- backendResult{hits: hits, err: err}
	}()

	go func() {
		hits, err := r.withRetry(ctx, func(callCtx context.Context) ([]index.Scored, error) {
			return snap.KeywordSearch(callCtx, index.Tokenize(query.Text), fetch)
		})
		keywordCh <- backendResult{hits: hits, err: err}
	}()

	semantic := <-semanticCh
	keyword := <-keywordCh

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if semantic.err != nil && keyword.err != nil {
		return Outcome{}, fmt.Errorf("%w: semantic: %v; keyword: %v", ErrIndexUnavailable, semantic.err, keyword.err)
	}

	partial := false
	if semantic.err != nil {
		r.logger.Printf("semantic backend degraded: %v", semantic.err)
		partial = true
	}
	if keyword.err != nil {
		r.logger.Printf("keyword backend degraded: %v", keyword.err)
		partial = true
	}

	candidates := r.merge(snap, query, semantic.hits, keyword.hits)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	return Outcome{Candidates: candidates, Partial: partial, Snapshot: snap}, nil
}

// withRetry bounds one backend call with the configured timeout and retries
// once after a short backoff before declaring the backend degraded.
func (r *Retriever) withRetry(ctx context.Context, call func(context.Context) ([]index.Scored, error)) ([]index.Scored, error) {
	attempt := func() ([]index.Scored, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.BackendTimeout)
		defer cancel()
		return call(callCtx)
	}

	hits, err := attempt()
	if err == nil {
		return hits, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.cfg.RetryBackoff):
	}

	return attempt()
}

// merge joins both score maps by chunk id, applies the query filters, and
// orders candidates by combined score desc, hierarchy rank asc, effective
// date desc, chunk id asc.
func (r *Retriever) merge(snap *index.Snapshot, query legal.Query, semantic, keyword []index.Scored) []Candidate {
	byChunk := make(map[string]*Candidate, len(semantic)+len(keyword))
	for _, hit := range semantic {
		byChunk[hit.ChunkID] = &Candidate{ChunkID: hit.ChunkID, SemanticScore: hit.Score}
	}
	for _, hit := range keyword {
		if c, ok := byChunk[hit.ChunkID]; ok {
			c.KeywordScore = hit.Score
		} else {
			byChunk[hit.ChunkID] = &Candidate{ChunkID: hit.ChunkID, KeywordScore: hit.Score}
		}
	}

	jurisdictions := query.NormalizedJurisdictions()
	candidates := make([]Candidate, 0, len(byChunk))
	for _, c := range byChunk {
		doc, ok := snap.DocumentForChunk(c.ChunkID)
		if !ok {
			continue
		}
		if doc.Superseded() && !query.Historical {
			continue
		}
		if len(jurisdictions) > 0 && !containsString(jurisdictions, doc.Jurisdiction) {
			continue
		}
		c.CombinedScore = r.cfg.SemanticWeight*c.SemanticScore + r.cfg.KeywordWeight*c.KeywordScore
		candidates = append(candidates, *c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		docI, _ := snap.DocumentForChunk(candidates[i].ChunkID)
		docJ, _ := snap.DocumentForChunk(candidates[j].ChunkID)
		if docI.HierarchyRank != docJ.HierarchyRank {
			return docI.HierarchyRank < docJ.HierarchyRank
		}
		if !docI.EffectiveDate.Equal(docJ.EffectiveDate) {
			return docI.EffectiveDate.After(docJ.EffectiveDate)
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})

	return candidates
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
