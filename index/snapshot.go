// Package index holds the in-memory retrieval indices. A Snapshot is an
// immutable view of the corpus: a chunk arena plus a vector index and an
// inverted term index built over it. Readers share snapshots without locks;
// ingestion publishes a new snapshot through Store.Publish and never mutates
// a published one.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/normativa/lexgate/legal"
)

// ErrUnavailable is returned when a lookup runs against a missing or empty
// backend, or when the search loop is cancelled mid-scan.
var ErrUnavailable = errors.New("index unavailable")

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Entry is a chunk together with its index-time derivations.
type Entry struct {
	Chunk     legal.Chunk
	Embedding []float32
	Terms     map[string]int
	length    int
	norm      float64
}

type posting struct {
	entry int
	tf    int
}

// Scored is a single search hit. Score is normalized to [0,1].
type Scored struct {
	ChunkID string
	Score   float64
}

// Snapshot is an immutable index version.
type Snapshot struct {
	Version int64
	BuiltAt time.Time

	entries   []Entry
	byChunkID map[string]int
	documents map[string]legal.Document
	postings  map[string][]posting
	docFreq   map[string]int
	avgLength float64
}

// Builder accumulates documents and chunks, then freezes them into a
// Snapshot. Builders are single-goroutine; the produced Snapshot is safe for
// concurrent readers.
type Builder struct {
	version   int64
	entries   []Entry
	documents map[string]legal.Document
}

func NewBuilder(version int64) *Builder {
	return &Builder{
		version:   version,
		documents: make(map[string]legal.Document),
	}
}

func (b *Builder) AddDocument(doc legal.Document) {
	b.documents[doc.ID] = doc
}

func (b *Builder) AddChunk(chunk legal.Chunk, embedding []float32) {
	tokens := Tokenize(chunk.Text)
	b.entries = append(b.entries, Entry{
		Chunk:     chunk,
		Embedding: embedding,
		Terms:     TermFrequencies(tokens),
		length:    len(tokens),
	})
}

// Build freezes the accumulated corpus. Chunks are sorted by id so the arena
// layout, and therefore every downstream iteration order, is deterministic
// regardless of insertion order.
func (b *Builder) Build() *Snapshot {
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Chunk.ID < entries[j].Chunk.ID
	})

	snap := &Snapshot{
		Version:   b.version,
		BuiltAt:   time.Now().UTC(),
		entries:   entries,
		byChunkID: make(map[string]int, len(entries)),
		documents: b.documents,
		postings:  make(map[string][]posting),
		docFreq:   make(map[string]int),
	}

	totalLength := 0
	for i := range entries {
		e := &entries[i]
		e.norm = vectorNorm(e.Embedding)
		snap.byChunkID[e.Chunk.ID] = i
		totalLength += e.length
		for term, tf := range e.Terms {
			snap.postings[term] = append(snap.postings[term], posting{entry: i, tf: tf})
			snap.docFreq[term]++
		}
	}
	if len(entries) > 0 {
		snap.avgLength = float64(totalLength) / float64(len(entries))
	}

	return snap
}

func (s *Snapshot) Len() int { return len(s.entries) }

func (s *Snapshot) Chunk(id string) (legal.Chunk, bool) {
	i, ok := s.byChunkID[id]
	if !ok {
		return legal.Chunk{}, false
	}
	return s.entries[i].Chunk, true
}

func (s *Snapshot) Document(id string) (legal.Document, bool) {
	doc, ok := s.documents[id]
	return doc, ok
}

// DocumentForChunk resolves the owning document of a chunk.
func (s *Snapshot) DocumentForChunk(chunkID string) (legal.Document, bool) {
	i, ok := s.byChunkID[chunkID]
	if !ok {
		return legal.Document{}, false
	}
	return s.Document(s.entries[i].Chunk.DocumentID)
}

// SemanticSearch ranks chunks by cosine similarity against the query
// embedding, mapped from [-1,1] into [0,1]. Results are sorted score
// descending, chunk id ascending, and truncated to limit.
func (s *Snapshot) SemanticSearch(ctx context.Context, embedding []float32, limit int) ([]Scored, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrUnavailable)
	}
	queryNorm := vectorNorm(embedding)
	if queryNorm == 0 {
		return nil, fmt.Errorf("%w: zero query embedding", ErrUnavailable)
	}

	hits := make([]Scored, 0, len(s.entries))
	for i := range s.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e := &s.entries[i]
		if len(e.Embedding) != len(embedding) || e.norm == 0 {
			continue
		}
		cos := dotProduct(e.Embedding, embedding) / (e.norm * queryNorm)
		score := clamp01((cos + 1) / 2)
		if score == 0 {
			continue
		}
		hits = append(hits, Scored{ChunkID: e.Chunk.ID, Score: score})
	}

	sortScored(hits)
	return truncate(hits, limit), nil
}

// KeywordSearch ranks chunks with BM25 over the inverted term index. The raw
// BM25 mass is squashed into [0,1] with raw/(raw+|queryTerms|) so keyword and
// semantic scores are combinable.
func (s *Snapshot) KeywordSearch(ctx context.Context, queryTokens []string, limit int) ([]Scored, error) {
	if len(queryTokens) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := float64(len(s.entries))
	raw := make(map[int]float64)
	for _, term := range queryTokens {
		plist, ok := s.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (n-float64(s.docFreq[term])+0.5)/(float64(s.docFreq[term])+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			docLen := float64(s.entries[p.entry].length)
			denom := tf + bm25K1*(1-bm25B+bm25B*docLen/s.avgLength)
			raw[p.entry] += idf * tf * (bm25K1 + 1) / denom
		}
	}

	saturation := float64(len(queryTokens))
	hits := make([]Scored, 0, len(raw))
	for entry, mass := range raw {
		hits = append(hits, Scored{
			ChunkID: s.entries[entry].Chunk.ID,
			Score:   clamp01(mass / (mass + saturation)),
		})
	}

	sortScored(hits)
	return truncate(hits, limit), nil
}

func sortScored(hits []Scored) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func truncate(hits []Scored, limit int) []Scored {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
