package certificate

import (
	"context"
	"errors"
	"testing"

	"github.com/normativa/lexgate/legal"
)

func sampleInputs() Inputs {
	return Inputs{
		QueryText:     "¿Exige la ley un programa de integridad?",
		Jurisdictions: []string{"ES", "FR"},
		CitedChunkIDs: []string{"chunk-b", "chunk-a"},
		AnswerText:    "Sí, conforme al artículo 22 [Source 1].",
		Metrics: Metrics{
			InformationBudget:    4.2,
			RetrievedInformation: 12.8,
			ISR:                  3.04,
			RoH:                  0.0042,
		},
		Decision: legal.DecisionAnswered,
	}
}

func TestComputeDigestIsReproducible(t *testing.T) {
	a := ComputeDigest(sampleInputs())
	b := ComputeDigest(sampleInputs())
	if a != b {
		t.Fatalf("identical inputs produced different digests: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("digest is not a hex sha256: %q", a)
	}
}

func TestComputeDigestIgnoresInputOrdering(t *testing.T) {
	base := ComputeDigest(sampleInputs())

	shuffled := sampleInputs()
	shuffled.Jurisdictions = []string{"FR", "ES"}
	shuffled.CitedChunkIDs = []string{"chunk-a", "chunk-b"}
	if got := ComputeDigest(shuffled); got != base {
		t.Fatalf("digest depends on input ordering: %s vs %s", got, base)
	}
}

func TestComputeDigestSensitivity(t *testing.T) {
	base := ComputeDigest(sampleInputs())

	answer := sampleInputs()
	answer.AnswerText += "."
	if ComputeDigest(answer) == base {
		t.Fatalf("answer change did not alter digest")
	}

	metric := sampleInputs()
	metric.Metrics.RoH = 0.0043
	if ComputeDigest(metric) == base {
		t.Fatalf("metric change did not alter digest")
	}

	decision := sampleInputs()
	decision.Decision = legal.DecisionAbstained
	if ComputeDigest(decision) == base {
		t.Fatalf("decision change did not alter digest")
	}
}

func TestComputeDigestFieldBoundaries(t *testing.T) {
	// Length prefixing must keep adjacent fields from bleeding into each other.
	a := Inputs{QueryText: "ab", AnswerText: "c"}
	b := Inputs{QueryText: "a", AnswerText: "bc"}
	if ComputeDigest(a) == ComputeDigest(b) {
		t.Fatalf("field boundary collision")
	}
}

func TestChainDigest(t *testing.T) {
	first := ChainDigest("", "digest-1")
	again := ChainDigest("", "digest-1")
	if first != again {
		t.Fatalf("chain digest not deterministic")
	}
	if ChainDigest(first, "digest-2") == first {
		t.Fatalf("chain did not advance")
	}
}

func TestLogAppendLinksChain(t *testing.T) {
	log, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	ctx := context.Background()

	first, err := log.Append(ctx, "answer-1", sampleInputs())
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if first.PrevDigest != "" {
		t.Fatalf("first certificate has a predecessor: %q", first.PrevDigest)
	}
	if first.ChainDigest != ChainDigest("", first.Digest) {
		t.Fatalf("first chain digest mismatch")
	}

	second, err := log.Append(ctx, "answer-2", sampleInputs())
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}
	if second.PrevDigest != first.ChainDigest {
		t.Fatalf("second certificate not linked to first: %q vs %q", second.PrevDigest, first.ChainDigest)
	}

	head, err := log.ChainHead()
	if err != nil {
		t.Fatalf("ChainHead: %v", err)
	}
	if head != second.ChainDigest {
		t.Fatalf("chain head = %q, want %q", head, second.ChainDigest)
	}
}

func TestLogGet(t *testing.T) {
	log, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	stored, err := log.Append(context.Background(), "answer-1", sampleInputs())
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok, err := log.Get("answer-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Digest != stored.Digest || got.ChainDigest != stored.ChainDigest {
		t.Fatalf("stored certificate mismatch: %+v vs %+v", got, stored)
	}

	if _, ok, err := log.Get("missing"); err != nil || ok {
		t.Fatalf("missing certificate: ok=%v err=%v", ok, err)
	}
}

func TestLogAppendRejectsEmptyID(t *testing.T) {
	log, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if _, err := log.Append(context.Background(), "", sampleInputs()); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}

func TestLogAppendHonorsCancellation(t *testing.T) {
	log, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := log.Append(ctx, "answer-1", sampleInputs()); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite on cancelled context, got %v", err)
	}

	head, err := log.ChainHead()
	if err != nil {
		t.Fatalf("ChainHead: %v", err)
	}
	if head != "" {
		t.Fatalf("cancelled append advanced the chain: %q", head)
	}
}
