package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/normativa/lexgate/legal"
)

func buildFixture(version int64) *Snapshot {
	b := NewBuilder(version)
	b.AddDocument(legal.Document{
		ID:            "doc-ley",
		Jurisdiction:  "ES",
		Type:          legal.TypeLaw,
		HierarchyRank: 3,
		Title:         "Ley de Integridad",
		EffectiveDate: time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	b.AddDocument(legal.Document{
		ID:            "doc-reg",
		Jurisdiction:  "ES",
		Type:          legal.TypeRegulation,
		HierarchyRank: 5,
		Title:         "Reglamento de Contratación",
		EffectiveDate: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	b.AddChunk(legal.Chunk{
		ID:         "chunk-a",
		DocumentID: "doc-ley",
		Ordinal:    0,
		Text:       "La contratación pública exige un programa de integridad.",
	}, []float32{1, 0})
	b.AddChunk(legal.Chunk{
		ID:         "chunk-b",
		DocumentID: "doc-reg",
		Ordinal:    0,
		Text:       "El reglamento regula los plazos de licitación.",
	}, []float32{0, 1})
	return b.Build()
}

func TestSnapshotLookups(t *testing.T) {
	snap := buildFixture(1)

	if snap.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", snap.Len())
	}
	chunk, ok := snap.Chunk("chunk-a")
	if !ok || chunk.DocumentID != "doc-ley" {
		t.Fatalf("Chunk lookup failed: %+v ok=%v", chunk, ok)
	}
	doc, ok := snap.DocumentForChunk("chunk-b")
	if !ok || doc.ID != "doc-reg" {
		t.Fatalf("DocumentForChunk lookup failed: %+v ok=%v", doc, ok)
	}
	if _, ok := snap.Chunk("missing"); ok {
		t.Fatalf("lookup of missing chunk succeeded")
	}
}

func TestSemanticSearchRanksByCosine(t *testing.T) {
	snap := buildFixture(1)

	hits, err := snap.SemanticSearch(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "chunk-a" {
		t.Fatalf("expected chunk-a first, got %s", hits[0].ChunkID)
	}
	// Parallel vector maps to 1.0, orthogonal to 0.5.
	if hits[0].Score < 0.999 || hits[1].Score < 0.499 || hits[1].Score > 0.501 {
		t.Fatalf("unexpected scores: %v", hits)
	}
}

func TestSemanticSearchRejectsDegenerateQuery(t *testing.T) {
	snap := buildFixture(1)

	if _, err := snap.SemanticSearch(context.Background(), nil, 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for empty embedding, got %v", err)
	}
	if _, err := snap.SemanticSearch(context.Background(), []float32{0, 0}, 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for zero embedding, got %v", err)
	}
}

func TestKeywordSearchMatchesTerms(t *testing.T) {
	snap := buildFixture(1)

	hits, err := snap.KeywordSearch(context.Background(), Tokenize("plazos de licitación"), 10)
	if err != nil {
		t.Fatalf("KeywordSearch: %v", err)
	}
	if len(hits) == 0 || hits[0].ChunkID != "chunk-b" {
		t.Fatalf("expected chunk-b as top hit, got %v", hits)
	}
	if hits[0].Score <= 0 || hits[0].Score >= 1 {
		t.Fatalf("keyword score out of (0,1): %v", hits[0].Score)
	}
}

func TestKeywordSearchEmptyQuery(t *testing.T) {
	snap := buildFixture(1)
	hits, err := snap.KeywordSearch(context.Background(), nil, 10)
	if err != nil || hits != nil {
		t.Fatalf("empty query should return nil, nil; got %v, %v", hits, err)
	}
}

func TestSearchTieBreaksOnChunkID(t *testing.T) {
	b := NewBuilder(1)
	b.AddDocument(legal.Document{ID: "doc", Jurisdiction: "ES", Type: legal.TypeLaw, HierarchyRank: 3})
	// Identical embeddings force equal scores; order must fall back to id.
	b.AddChunk(legal.Chunk{ID: "chunk-z", DocumentID: "doc", Text: "uno"}, []float32{1, 0})
	b.AddChunk(legal.Chunk{ID: "chunk-a", DocumentID: "doc", Text: "dos"}, []float32{1, 0})
	snap := b.Build()

	hits, err := snap.SemanticSearch(context.Background(), []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if hits[0].ChunkID != "chunk-a" || hits[1].ChunkID != "chunk-z" {
		t.Fatalf("tie not broken by chunk id: %v", hits)
	}
}

func TestBuildIsDeterministicAcrossInsertionOrder(t *testing.T) {
	forward := buildFixture(1)

	b := NewBuilder(1)
	b.AddDocument(legal.Document{ID: "doc-reg", Jurisdiction: "ES", Type: legal.TypeRegulation, HierarchyRank: 5})
	b.AddDocument(legal.Document{ID: "doc-ley", Jurisdiction: "ES", Type: legal.TypeLaw, HierarchyRank: 3})
	b.AddChunk(legal.Chunk{ID: "chunk-b", DocumentID: "doc-reg", Text: "El reglamento regula los plazos de licitación."}, []float32{0, 1})
	b.AddChunk(legal.Chunk{ID: "chunk-a", DocumentID: "doc-ley", Text: "La contratación pública exige un programa de integridad."}, []float32{1, 0})
	reversed := b.Build()

	a1, _ := forward.SemanticSearch(context.Background(), []float32{1, 0}, 10)
	a2, _ := reversed.SemanticSearch(context.Background(), []float32{1, 0}, 10)
	if len(a1) != len(a2) {
		t.Fatalf("result lengths differ: %d vs %d", len(a1), len(a2))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("result %d differs: %v vs %v", i, a1[i], a2[i])
		}
	}
}

func TestSemanticSearchHonorsCancellation(t *testing.T) {
	snap := buildFixture(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := snap.SemanticSearch(ctx, []float32{1, 0}, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("La Ley 27.401: Responsabilidad Penal.")
	want := []string{"la", "ley", "27.401", "responsabilidad", "penal"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTokenizePreservesAccents(t *testing.T) {
	got := Tokenize("Corrupción y contratación")
	if len(got) != 3 || got[0] != "corrupción" || got[2] != "contratación" {
		t.Fatalf("accents not preserved: %v", got)
	}
}

func TestStorePublishAndVersion(t *testing.T) {
	store := NewStore()
	if _, ok := store.Current(); ok {
		t.Fatalf("empty store reported a snapshot")
	}
	if store.Version() != 0 {
		t.Fatalf("empty store version = %d, want 0", store.Version())
	}

	v1 := store.NextVersion()
	v2 := store.NextVersion()
	if v2 <= v1 {
		t.Fatalf("versions not monotonic: %d then %d", v1, v2)
	}

	store.Publish(buildFixture(v2))
	snap, ok := store.Current()
	if !ok || snap.Version != v2 {
		t.Fatalf("published snapshot not visible: ok=%v version=%d", ok, snap.Version)
	}
	if store.Version() != v2 {
		t.Fatalf("store version = %d, want %d", store.Version(), v2)
	}
}
