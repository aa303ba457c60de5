// Package hierarchy validates that the citations of a draft answer respect
// jurisdictional normative precedence: no superseded norms without the
// historical flag, ascending hierarchy rank ordering, and no unacknowledged
// same-tier contradictions.
package hierarchy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/legal"
)

// ErrConflict is the sentinel the orchestrator matches on. It never reaches
// API callers directly; a conflicting request is retried once and then
// downgraded to abstention.
var ErrConflict = errors.New("hierarchy conflict")

type ViolationKind string

const (
	ViolationSuperseded    ViolationKind = "superseded_citation"
	ViolationCitationOrder ViolationKind = "citation_order"
	ViolationContradiction ViolationKind = "tier_contradiction"
)

type Violation struct {
	Kind    ViolationKind
	ChunkID string
	Detail  string
}

// ConflictError carries the violation list plus a suggested citation order
// the orchestrator can retry with.
type ConflictError struct {
	Violations []Violation
	Reordered  []string
}

func (e *ConflictError) Error() string {
	kinds := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		kinds[i] = string(v.Kind)
	}
	return fmt.Sprintf("hierarchy conflict: %s", strings.Join(kinds, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Corpus resolves citations to chunks and owning documents. index.Snapshot
// satisfies it.
type Corpus interface {
	Chunk(id string) (legal.Chunk, bool)
	DocumentForChunk(id string) (legal.Document, bool)
}

var _ Corpus = (*index.Snapshot)(nil)

type Validator struct {
	rules RuleSet
}

func NewValidator(rules RuleSet) *Validator {
	if len(rules.ContradictionPairs) == 0 && len(rules.Acknowledgments) == 0 {
		rules = DefaultRuleSet()
	}
	return &Validator{rules: rules}
}

// Validate checks a draft answer's citation list against the rule set. A nil
// return means the citations may be certified as-is.
func (v *Validator) Validate(corpus Corpus, answerText string, citations []string, query legal.Query) error {
	if len(citations) == 0 {
		return nil
	}

	violations := make([]Violation, 0)

	for _, chunkID := range citations {
		doc, ok := corpus.DocumentForChunk(chunkID)
		if !ok {
			violations = append(violations, Violation{
				Kind:    ViolationSuperseded,
				ChunkID: chunkID,
				Detail:  "citation does not resolve to an indexed document",
			})
			continue
		}
		if doc.Superseded() && !query.Historical {
			violations = append(violations, Violation{
				Kind:    ViolationSuperseded,
				ChunkID: chunkID,
				Detail:  fmt.Sprintf("document %s superseded by %s", doc.ID, doc.SupersededBy),
			})
		}
	}

	if !ascendingRanks(corpus, citations) {
		violations = append(violations, Violation{
			Kind:   ViolationCitationOrder,
			Detail: "citations not ordered by ascending hierarchy rank",
		})
	}

	violations = append(violations, v.contradictions(corpus, answerText, citations)...)

	if len(violations) == 0 {
		return nil
	}
	return &ConflictError{
		Violations: violations,
		Reordered:  Reorder(corpus, citations),
	}
}

// Reorder returns the citations sorted into certifiable order: hierarchy rank
// ascending, effective date descending, chunk id ascending.
func Reorder(corpus Corpus, citations []string) []string {
	ordered := append([]string(nil), citations...)
	sort.SliceStable(ordered, func(i, j int) bool {
		docI, okI := corpus.DocumentForChunk(ordered[i])
		docJ, okJ := corpus.DocumentForChunk(ordered[j])
		if !okI || !okJ {
			return okI
		}
		if docI.HierarchyRank != docJ.HierarchyRank {
			return docI.HierarchyRank < docJ.HierarchyRank
		}
		if !docI.EffectiveDate.Equal(docJ.EffectiveDate) {
			return docI.EffectiveDate.After(docJ.EffectiveDate)
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

func ascendingRanks(corpus Corpus, citations []string) bool {
	prev := 0
	for _, chunkID := range citations {
		doc, ok := corpus.DocumentForChunk(chunkID)
		if !ok {
			continue
		}
		if doc.HierarchyRank < prev {
			return false
		}
		prev = doc.HierarchyRank
	}
	return true
}

func (v *Validator) contradictions(corpus Corpus, answerText string, citations []string) []Violation {
	if v.acknowledged(answerText) {
		return nil
	}

	type tier struct {
		jurisdiction string
		rank         int
	}
	grouped := make(map[tier][]string)
	for _, chunkID := range citations {
		doc, ok := corpus.DocumentForChunk(chunkID)
		if !ok {
			continue
		}
		key := tier{jurisdiction: doc.Jurisdiction, rank: doc.HierarchyRank}
		grouped[key] = append(grouped[key], chunkID)
	}

	violations := make([]Violation, 0)
	for _, group := range grouped {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				docI, _ := corpus.DocumentForChunk(group[i])
				docJ, _ := corpus.DocumentForChunk(group[j])
				if docI.ID == docJ.ID {
					continue
				}
				if pair, ok := v.contradictingPair(corpus, group[i], group[j]); ok {
					violations = append(violations, Violation{
						Kind:    ViolationContradiction,
						ChunkID: group[i],
						Detail: fmt.Sprintf("chunks %s and %s contradict on %q/%q without acknowledgment",
							group[i], group[j], pair[0], pair[1]),
					})
				}
			}
		}
	}
	return violations
}

func (v *Validator) contradictingPair(corpus Corpus, chunkA, chunkB string) ([2]string, bool) {
	a, okA := corpus.Chunk(chunkA)
	b, okB := corpus.Chunk(chunkB)
	if !okA || !okB {
		return [2]string{}, false
	}
	termsA := index.TermFrequencies(index.Tokenize(a.Text))
	termsB := index.TermFrequencies(index.Tokenize(b.Text))

	for _, pair := range v.rules.ContradictionPairs {
		_, aLeft := termsA[pair[0]]
		_, bRight := termsB[pair[1]]
		if aLeft && bRight {
			return pair, true
		}
		_, bLeft := termsB[pair[0]]
		_, aRight := termsA[pair[1]]
		if bLeft && aRight {
			return pair, true
		}
	}
	return [2]string{}, false
}

func (v *Validator) acknowledged(answerText string) bool {
	terms := index.TermFrequencies(index.Tokenize(answerText))
	for _, ack := range v.rules.Acknowledgments {
		if _, ok := terms[ack]; ok {
			return true
		}
	}
	return false
}
