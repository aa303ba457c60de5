package risk

import (
	"testing"
	"time"

	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/retrieval"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		AnswerMaxRoH:  0.05,
		ClarifyMaxRoH: 0.15,

		BudgetBaseBits:        2,
		BudgetBitsPerConcept:  1.5,
		BudgetBitsPerJuris:    1,
		BudgetBitsPerLogToken: 0.75,

		BitsPerCandidate:   16,
		RedundancyDiscount: 0.35,
		SaturationCapBits:  60,

		RoHDecay:            1.8,
		PartialPenalty:      1.6,
		TierConflictPenalty: 1.3,
	}
}

func scorerFixture() *index.Snapshot {
	b := index.NewBuilder(1)
	b.AddDocument(legal.Document{ID: "doc-1", Jurisdiction: "ES", Type: legal.TypeLaw, HierarchyRank: 3,
		EffectiveDate: time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC)})
	b.AddDocument(legal.Document{ID: "doc-2", Jurisdiction: "ES", Type: legal.TypeDecree, HierarchyRank: 4,
		EffectiveDate: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)})
	b.AddDocument(legal.Document{ID: "doc-3", Jurisdiction: "ES", Type: legal.TypeLaw, HierarchyRank: 3,
		EffectiveDate: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)})
	b.AddChunk(legal.Chunk{ID: "chunk-1a", DocumentID: "doc-1", Text: "texto uno"}, []float32{1, 0})
	b.AddChunk(legal.Chunk{ID: "chunk-1b", DocumentID: "doc-1", Text: "texto dos"}, []float32{1, 0})
	b.AddChunk(legal.Chunk{ID: "chunk-2a", DocumentID: "doc-2", Text: "texto tres"}, []float32{0, 1})
	b.AddChunk(legal.Chunk{ID: "chunk-3a", DocumentID: "doc-3", Text: "texto cuatro"}, []float32{0, 1})
	return b.Build()
}

func outcomeWith(snap *index.Snapshot, candidates ...retrieval.Candidate) retrieval.Outcome {
	return retrieval.Outcome{Candidates: candidates, Snapshot: snap}
}

func TestAssessEmptyRetrievalAbstains(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	got := scorer.Assess(legal.Query{Text: "puede firmarse el acuerdo"}, outcomeWith(scorerFixture()))

	if got.Decision != legal.DecisionAbstained {
		t.Fatalf("decision = %s, want ABSTAINED", got.Decision)
	}
	if got.ISR != 0 || got.RoH != 1 {
		t.Fatalf("empty retrieval should pin ISR=0 RoH=1, got ISR=%v RoH=%v", got.ISR, got.RoH)
	}
}

func TestAssessStrongEvidenceAnswers(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	got := scorer.Assess(
		legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}},
		outcomeWith(scorerFixture(), retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.9}),
	)

	if got.Decision != legal.DecisionAnswered {
		t.Fatalf("decision = %s (RoH %v), want ANSWERED", got.Decision, got.RoH)
	}
	if got.RoH > got.AnswerMaxRoH {
		t.Fatalf("RoH %v above answer threshold %v", got.RoH, got.AnswerMaxRoH)
	}
	if got.ISR <= 1 {
		t.Fatalf("strong evidence should exceed the budget, ISR = %v", got.ISR)
	}
}

func TestAssessModerateEvidenceRequestsClarification(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	got := scorer.Assess(
		legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}},
		outcomeWith(scorerFixture(), retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.35}),
	)

	if got.Decision != legal.DecisionClarify {
		t.Fatalf("decision = %s (RoH %v), want CLARIFY_REQUESTED", got.Decision, got.RoH)
	}
	if len(got.ClarifyHints) == 0 {
		t.Fatalf("clarify decision carries no hints")
	}
}

func TestAssessWeakEvidenceAbstains(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	got := scorer.Assess(
		legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}},
		outcomeWith(scorerFixture(), retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.05}),
	)

	if got.Decision != legal.DecisionAbstained {
		t.Fatalf("decision = %s (RoH %v), want ABSTAINED", got.Decision, got.RoH)
	}
}

func TestAssessRoHDecreasesWithMoreEvidence(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	query := legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}}
	snap := scorerFixture()

	one := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.3}))
	two := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.3},
		retrieval.Candidate{ChunkID: "chunk-2a", CombinedScore: 0.3}))

	if two.RoH >= one.RoH {
		t.Fatalf("RoH did not decrease with more evidence: %v then %v", one.RoH, two.RoH)
	}
	if two.ISR <= one.ISR {
		t.Fatalf("ISR did not increase with more evidence: %v then %v", one.ISR, two.ISR)
	}
}

func TestAssessDiscountsRedundantChunks(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	query := legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}}
	snap := scorerFixture()

	sameDoc := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.9},
		retrieval.Candidate{ChunkID: "chunk-1b", CombinedScore: 0.9}))
	twoDocs := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.9},
		retrieval.Candidate{ChunkID: "chunk-2a", CombinedScore: 0.9}))

	if sameDoc.RetrievedInformation >= twoDocs.RetrievedInformation {
		t.Fatalf("redundant chunks not discounted: %v vs %v",
			sameDoc.RetrievedInformation, twoDocs.RetrievedInformation)
	}
}

func TestAssessPartialRetrievalInflatesRisk(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	query := legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}}
	snap := scorerFixture()
	candidate := retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.35}

	full := scorer.Assess(query, retrieval.Outcome{Candidates: []retrieval.Candidate{candidate}, Snapshot: snap})
	partial := scorer.Assess(query, retrieval.Outcome{Candidates: []retrieval.Candidate{candidate}, Snapshot: snap, Partial: true})

	if !partial.PartialRetrieval {
		t.Fatalf("partial flag not echoed")
	}
	if partial.RoH <= full.RoH {
		t.Fatalf("partial retrieval did not inflate RoH: %v vs %v", partial.RoH, full.RoH)
	}
	// The moderate-evidence case is pushed past the clarify band entirely.
	if full.Decision != legal.DecisionClarify || partial.Decision != legal.DecisionAbstained {
		t.Fatalf("expected clarify -> abstain degradation, got %s -> %s", full.Decision, partial.Decision)
	}
}

func TestAssessDetectsTierConflict(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	query := legal.Query{Text: "puede firmarse el acuerdo", Jurisdictions: []string{"ES"}}
	snap := scorerFixture()

	// doc-1 and doc-3 share jurisdiction ES and rank 3.
	conflicted := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.5},
		retrieval.Candidate{ChunkID: "chunk-3a", CombinedScore: 0.5}))
	clean := scorer.Assess(query, outcomeWith(snap,
		retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.5},
		retrieval.Candidate{ChunkID: "chunk-2a", CombinedScore: 0.5}))

	if !conflicted.TierConflict {
		t.Fatalf("same-tier documents not flagged as conflict")
	}
	if clean.TierConflict {
		t.Fatalf("distinct tiers flagged as conflict")
	}
	if conflicted.RoH <= clean.RoH {
		t.Fatalf("tier conflict did not inflate RoH: %v vs %v", conflicted.RoH, clean.RoH)
	}
}

func TestAssessConceptsRaiseBudget(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	snap := scorerFixture()
	candidate := retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.5}

	plain := scorer.Assess(legal.Query{Text: "puede firmarse el acuerdo"}, outcomeWith(snap, candidate))
	loaded := scorer.Assess(legal.Query{Text: "puede existir soborno en el acuerdo"}, outcomeWith(snap, candidate))

	if len(loaded.Concepts) == 0 {
		t.Fatalf("lexicon concept not detected")
	}
	if loaded.InformationBudget <= plain.InformationBudget {
		t.Fatalf("detected concept did not raise the budget: %v vs %v",
			loaded.InformationBudget, plain.InformationBudget)
	}
}

func TestAssessMergesDeclaredConcepts(t *testing.T) {
	scorer := NewScorer(testRiskConfig())
	got := scorer.Assess(
		legal.Query{Text: "puede existir soborno", Concepts: []string{"laboral"}},
		outcomeWith(scorerFixture(), retrieval.Candidate{ChunkID: "chunk-1a", CombinedScore: 0.5}),
	)

	found := map[string]bool{}
	for _, c := range got.Concepts {
		found[c] = true
	}
	if !found["integridad"] || !found["laboral"] {
		t.Fatalf("concepts not merged: %v", got.Concepts)
	}
}
