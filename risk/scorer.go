// Package risk implements the statistical gate that decides whether a request
// may be answered at all. It compares the information the query demands (the
// budget) against the information the retrieved context supplies, and derives
// a risk-of-hallucination figure that is monotonically non-increasing in the
// sufficiency ratio. The gate runs before generation so unanswerable requests
// never pay for a generation call.
package risk

import (
	"math"
	"sort"

	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/retrieval"
)

// Assessment is the full output of one gate evaluation. Thresholds are echoed
// so callers can see the policy a decision was made under.
type Assessment struct {
	InformationBudget    float64
	RetrievedInformation float64
	ISR                  float64
	RoH                  float64
	Decision             legal.Decision
	PartialRetrieval     bool
	TierConflict         bool
	Concepts             []string
	ClarifyHints         []string
	AnswerMaxRoH         float64
	ClarifyMaxRoH        float64
}

type Scorer struct {
	cfg config.RiskConfig
}

func NewScorer(cfg config.RiskConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Assess gates one retrieval outcome. Empty retrieval always yields ISR 0,
// RoH 1, and an abstain decision.
func (s *Scorer) Assess(query legal.Query, outcome retrieval.Outcome) Assessment {
	tokens := index.Tokenize(query.Text)
	concepts := mergeConcepts(detectConcepts(tokens), query.Concepts)

	jurisdictions := len(query.NormalizedJurisdictions())
	if jurisdictions == 0 {
		jurisdictions = 1
	}

	budget := s.cfg.BudgetBaseBits +
		s.cfg.BudgetBitsPerConcept*float64(len(concepts)) +
		s.cfg.BudgetBitsPerJuris*float64(jurisdictions) +
		s.cfg.BudgetBitsPerLogToken*math.Log(1+float64(len(tokens)))

	retrieved := s.retrievedBits(outcome)

	assessment := Assessment{
		InformationBudget:    budget,
		RetrievedInformation: retrieved,
		PartialRetrieval:     outcome.Partial,
		TierConflict:         hasTierConflict(outcome),
		Concepts:             concepts,
		AnswerMaxRoH:         s.cfg.AnswerMaxRoH,
		ClarifyMaxRoH:        s.cfg.ClarifyMaxRoH,
	}

	if budget > 0 {
		assessment.ISR = retrieved / budget
	}

	if len(outcome.Candidates) == 0 {
		assessment.ISR = 0
		assessment.RoH = 1
		assessment.Decision = legal.DecisionAbstained
		return assessment
	}

	roh := math.Exp(-s.cfg.RoHDecay * assessment.ISR)
	if assessment.PartialRetrieval {
		roh *= s.cfg.PartialPenalty
	}
	if assessment.TierConflict {
		roh *= s.cfg.TierConflictPenalty
	}
	assessment.RoH = clamp01(roh)

	switch {
	case assessment.RoH <= s.cfg.AnswerMaxRoH:
		assessment.Decision = legal.DecisionAnswered
	case assessment.RoH <= s.cfg.ClarifyMaxRoH:
		assessment.Decision = legal.DecisionClarify
		assessment.ClarifyHints = clarifyHints(query)
	default:
		assessment.Decision = legal.DecisionAbstained
	}

	return assessment
}

// retrievedBits credits each candidate with score-weighted bits, discounting
// repeat chunks from an already-counted document, then saturates the total so
// stacking near-duplicates cannot inflate the supply past the cap.
func (s *Scorer) retrievedBits(outcome retrieval.Outcome) float64 {
	if outcome.Snapshot == nil || len(outcome.Candidates) == 0 {
		return 0
	}

	seenDocs := make(map[string]struct{}, len(outcome.Candidates))
	var raw float64
	for _, c := range outcome.Candidates {
		bits := s.cfg.BitsPerCandidate * c.CombinedScore
		doc, ok := outcome.Snapshot.DocumentForChunk(c.ChunkID)
		if ok {
			if _, seen := seenDocs[doc.ID]; seen {
				bits *= s.cfg.RedundancyDiscount
			} else {
				seenDocs[doc.ID] = struct{}{}
			}
		}
		raw += bits
	}

	capBits := s.cfg.SaturationCapBits
	if capBits <= 0 {
		return raw
	}
	return capBits * (1 - math.Exp(-raw/capBits))
}

// hasTierConflict reports the validator precursor signal: two distinct
// documents from the same jurisdiction occupying the same hierarchy rank
// among the candidates.
func hasTierConflict(outcome retrieval.Outcome) bool {
	if outcome.Snapshot == nil {
		return false
	}
	type tier struct {
		jurisdiction string
		rank         int
	}
	docsByTier := make(map[tier]string)
	for _, c := range outcome.Candidates {
		doc, ok := outcome.Snapshot.DocumentForChunk(c.ChunkID)
		if !ok {
			continue
		}
		key := tier{jurisdiction: doc.Jurisdiction, rank: doc.HierarchyRank}
		if prev, ok := docsByTier[key]; ok && prev != doc.ID {
			return true
		}
		docsByTier[key] = doc.ID
	}
	return false
}

func clarifyHints(query legal.Query) []string {
	hints := make([]string, 0, 2)
	if len(query.Jurisdictions) == 0 {
		hints = append(hints, "specify the jurisdiction the question applies to")
	}
	if !query.Historical {
		hints = append(hints, "indicate whether historical (superseded) norms are relevant")
	}
	if len(hints) == 0 {
		hints = append(hints, "narrow the question to a single legal concept")
	}
	return hints
}

func mergeConcepts(detected, declared []string) []string {
	set := make(map[string]struct{}, len(detected)+len(declared))
	for _, c := range detected {
		set[c] = struct{}{}
	}
	for _, c := range declared {
		if c != "" {
			set[c] = struct{}{}
		}
	}
	merged := make([]string, 0, len(set))
	for c := range set {
		merged = append(merged, c)
	}
	sort.Strings(merged)
	return merged
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
