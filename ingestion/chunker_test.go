package ingestion

import (
	"errors"
	"strings"
	"testing"

	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/legal"
)

func TestChunkSplitsWithOverlap(t *testing.T) {
	chunker := NewChunker(config.ChunkingConfig{TargetTokens: 10, OverlapTokens: 3})

	words := make([]string, 25)
	for i := range words {
		words[i] = "palabra"
	}
	text := strings.Join(words, " ")

	chunks, err := chunker.Chunk("doc-1", text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Ordinal != i {
			t.Fatalf("chunk %d has ordinal %d", i, chunk.Ordinal)
		}
		if chunk.DocumentID != "doc-1" {
			t.Fatalf("chunk %d has document id %q", i, chunk.DocumentID)
		}
		if i > 0 && chunks[i].StartOffset >= chunks[i-1].EndOffset {
			t.Fatalf("chunks %d and %d do not overlap", i-1, i)
		}
	}
	if chunks[0].TokenCount != 10 {
		t.Fatalf("first chunk holds %d tokens, want 10", chunks[0].TokenCount)
	}
	if chunks[len(chunks)-1].EndOffset != len(text) {
		t.Fatalf("last chunk does not reach end of text")
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	chunker := NewChunker(config.ChunkingConfig{TargetTokens: 8, OverlapTokens: 2})
	text := "El contratista debe implementar un programa de integridad. " +
		"El programa incluye un código de ética. " +
		"La omisión habilita sanciones administrativas y penales."

	first, err := chunker.Chunk("doc", text)
	if err != nil {
		t.Fatalf("first Chunk: %v", err)
	}
	second, err := chunker.Chunk("doc", text)
	if err != nil {
		t.Fatalf("second Chunk: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestChunkSnapsToSentenceBoundary(t *testing.T) {
	chunker := NewChunker(config.ChunkingConfig{TargetTokens: 5, OverlapTokens: 1})
	text := "a b c. d e f g h i j."

	chunks, err := chunker.Chunk("doc", text)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if chunks[0].Text != "a b c" {
		t.Fatalf("first chunk not snapped to sentence: %q", chunks[0].Text)
	}
}

func TestChunkRejectsMalformedText(t *testing.T) {
	chunker := NewChunker(config.ChunkingConfig{TargetTokens: 10, OverlapTokens: 2})

	if _, err := chunker.Chunk("doc", string([]byte{0xff, 0xfe})); !errors.Is(err, legal.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument for invalid UTF-8, got %v", err)
	}
	if _, err := chunker.Chunk("doc", "... !!! ???"); !errors.Is(err, legal.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument for untokenizable text, got %v", err)
	}
	if _, err := chunker.Chunk("doc", ""); !errors.Is(err, legal.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument for empty text, got %v", err)
	}
}

func TestChunkShortDocumentYieldsSingleChunk(t *testing.T) {
	chunker := NewChunker(config.ChunkingConfig{TargetTokens: 512, OverlapTokens: 50})
	chunks, err := chunker.Chunk("doc", "Artículo único. La ley entra en vigencia hoy.")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].StartOffset != 0 {
		t.Fatalf("chunk does not start at offset 0: %d", chunks[0].StartOffset)
	}
}
