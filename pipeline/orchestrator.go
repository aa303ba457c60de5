// Package pipeline sequences a request through retrieval, risk scoring,
// generation, hierarchy validation, and certification. Stage order within a
// request is fixed; concurrency across requests is handled by the worker
// pool. Every terminal outcome is certified before it is released,
// whether answered, abstained, or clarify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/normativa/lexgate/certificate"
	"github.com/normativa/lexgate/generation"
	"github.com/normativa/lexgate/hierarchy"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/norms"
	"github.com/normativa/lexgate/retrieval"
	"github.com/normativa/lexgate/risk"
)

// State names the orchestrator's position in the request lifecycle.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateRetrieving State = "RETRIEVING"
	StateScoring    State = "SCORING"
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateDeciding   State = "DECIDING"
	StateCertified  State = "CERTIFIED"
)

// Retriever, Scorer, Validator, and CertificateLog are the stage seams; the
// concrete implementations live in their own packages and stubs replace them
// in tests.
type Retriever interface {
	Retrieve(ctx context.Context, query legal.Query, k int) (retrieval.Outcome, error)
}

type Scorer interface {
	Assess(query legal.Query, outcome retrieval.Outcome) risk.Assessment
}

type Validator interface {
	Validate(corpus hierarchy.Corpus, answerText string, citations []string, query legal.Query) error
}

type CertificateLog interface {
	Append(ctx context.Context, answerID string, in certificate.Inputs) (certificate.Certificate, error)
}

// RelatedLookup enriches results with graph neighbors; nil disables it.
type RelatedLookup interface {
	RelatedNorms(ctx context.Context, docIDs []string) (map[string][]norms.Related, error)
}

// Citation is one grounding reference in a released answer, ordered by
// ascending hierarchy rank.
type Citation struct {
	ChunkID       string
	DocumentID    string
	Title         string
	Jurisdiction  string
	Type          legal.DocumentType
	HierarchyRank int
	Snippet       string
}

// Result is the terminal outcome of one request. Certificate is always
// populated: nothing leaves the pipeline uncertified.
type Result struct {
	AnswerID     string
	Decision     legal.Decision
	Answer       string
	Citations    []Citation
	Risk         risk.Assessment
	Certificate  certificate.Certificate
	RelatedNorms map[string][]norms.Related
}

type Options struct {
	TopK              int
	ContextLimit      int
	GenerationTimeout time.Duration
}

type Orchestrator struct {
	retriever Retriever
	scorer    Scorer
	validator Validator
	generator generation.Client
	certs     CertificateLog
	related   RelatedLookup
	opts      Options
	logger    *log.Logger
}

func NewOrchestrator(retriever Retriever, scorer Scorer, validator Validator,
	generator generation.Client, certs CertificateLog, related RelatedLookup,
	opts Options, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 8
	}
	if opts.ContextLimit <= 0 || opts.ContextLimit > opts.TopK {
		opts.ContextLimit = opts.TopK
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 60 * time.Second
	}
	return &Orchestrator{
		retriever: retriever,
		scorer:    scorer,
		validator: validator,
		generator: generator,
		certs:     certs,
		related:   related,
		opts:      opts,
		logger:    logger,
	}
}

// Process runs one request end to end. Errors are reserved for malformed
// queries and infrastructure failures (index unavailable, certificate write);
// every pipeline-internal fault is absorbed into an abstain or clarify
// result.
func (o *Orchestrator) Process(ctx context.Context, query legal.Query) (Result, error) {
	requestID := uuid.New().String()
	o.transition(requestID, StateReceived)

	if err := query.Validate(); err != nil {
		return Result{}, err
	}

	o.transition(requestID, StateRetrieving)
	outcome, err := o.retriever.Retrieve(ctx, query, o.opts.TopK)
	if err != nil {
		return Result{}, err
	}

	o.transition(requestID, StateScoring)
	assessment := o.scorer.Assess(query, outcome)

	if assessment.Decision != legal.DecisionAnswered {
		o.transition(requestID, StateDeciding)
		return o.certify(ctx, requestID, query, assessment, "", nil, outcome)
	}

	o.transition(requestID, StateGenerating)
	citations := o.assembleCitations(outcome)
	answer, genErr := o.generate(ctx, query, citations)
	if genErr != nil {
		o.logger.Printf("request %s: generation failed, abstaining: %v", requestID, genErr)
		assessment.Decision = legal.DecisionAbstained
		o.transition(requestID, StateDeciding)
		return o.certify(ctx, requestID, query, assessment, "", nil, outcome)
	}

	o.transition(requestID, StateValidating)
	answer, citations, ok := o.validateWithRetry(ctx, requestID, query, answer, citations, outcome)
	if !ok {
		assessment.Decision = legal.DecisionAbstained
		o.transition(requestID, StateDeciding)
		return o.certify(ctx, requestID, query, assessment, "", nil, outcome)
	}

	o.transition(requestID, StateDeciding)
	return o.certify(ctx, requestID, query, assessment, answer, citations, outcome)
}

func (o *Orchestrator) transition(requestID string, state State) {
	o.logger.Printf("request %s: %s", requestID, state)
}

// assembleCitations picks the context chunks for generation, already sorted
// into certifiable order (hierarchy rank ascending).
func (o *Orchestrator) assembleCitations(outcome retrieval.Outcome) []Citation {
	limit := o.opts.ContextLimit
	if limit > len(outcome.Candidates) {
		limit = len(outcome.Candidates)
	}

	ids := make([]string, 0, limit)
	for _, c := range outcome.Candidates[:limit] {
		ids = append(ids, c.ChunkID)
	}
	ids = hierarchy.Reorder(outcome.Snapshot, ids)

	citations := make([]Citation, 0, len(ids))
	for _, id := range ids {
		chunk, ok := outcome.Snapshot.Chunk(id)
		if !ok {
			continue
		}
		doc, ok := outcome.Snapshot.Document(chunk.DocumentID)
		if !ok {
			continue
		}
		citations = append(citations, Citation{
			ChunkID:       chunk.ID,
			DocumentID:    doc.ID,
			Title:         doc.Title,
			Jurisdiction:  doc.Jurisdiction,
			Type:          doc.Type,
			HierarchyRank: doc.HierarchyRank,
			Snippet:       truncateSnippet(chunk.Text, 400),
		})
	}
	return citations
}

// truncateSnippet cuts text to at most limit bytes without splitting a rune.
func truncateSnippet(text string, limit int) string {
	snippet := strings.TrimSpace(text)
	if len(snippet) <= limit {
		return snippet
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(snippet[cut]) {
		cut--
	}
	return snippet[:cut] + "..."
}

func (o *Orchestrator) generate(ctx context.Context, query legal.Query, citations []Citation) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()

	answer, err := o.generator.Generate(genCtx, buildMessages(query, citations))
	if err != nil {
		if !errors.Is(err, generation.ErrGenerationFailure) {
			err = fmt.Errorf("%w: %v", generation.ErrGenerationFailure, err)
		}
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: empty generation result", generation.ErrGenerationFailure)
	}
	return answer, nil
}

// validateWithRetry applies the hierarchy validator and, on conflict, retries
// generation once with an adjusted context: superseded citations dropped and
// the remainder reordered. A second conflict downgrades to abstention.
func (o *Orchestrator) validateWithRetry(ctx context.Context, requestID string, query legal.Query,
	answer string, citations []Citation, outcome retrieval.Outcome) (string, []Citation, bool) {
	err := o.validator.Validate(outcome.Snapshot, answer, citationIDs(citations), query)
	if err == nil {
		return answer, citations, true
	}

	var conflict *hierarchy.ConflictError
	if !errors.As(err, &conflict) {
		o.logger.Printf("request %s: validation error: %v", requestID, err)
		return "", nil, false
	}

	o.logger.Printf("request %s: hierarchy conflict, retrying with adjusted context: %v", requestID, conflict)
	adjusted := o.adjustCitations(citations, conflict, outcome)
	if len(adjusted) == 0 {
		return "", nil, false
	}

	o.transition(requestID, StateGenerating)
	retryAnswer, genErr := o.generate(ctx, query, adjusted)
	if genErr != nil {
		o.logger.Printf("request %s: retry generation failed: %v", requestID, genErr)
		return "", nil, false
	}

	o.transition(requestID, StateValidating)
	if err := o.validator.Validate(outcome.Snapshot, retryAnswer, citationIDs(adjusted), query); err != nil {
		o.logger.Printf("request %s: conflict persists after retry, abstaining: %v", requestID, err)
		return "", nil, false
	}
	return retryAnswer, adjusted, true
}

// adjustCitations drops the chunks named in superseded-citation violations
// and reorders what remains into the validator's suggested sequence.
func (o *Orchestrator) adjustCitations(citations []Citation, conflict *hierarchy.ConflictError, outcome retrieval.Outcome) []Citation {
	dropped := make(map[string]struct{})
	for _, v := range conflict.Violations {
		if v.Kind == hierarchy.ViolationSuperseded && v.ChunkID != "" {
			dropped[v.ChunkID] = struct{}{}
		}
	}

	byID := make(map[string]Citation, len(citations))
	for _, c := range citations {
		byID[c.ChunkID] = c
	}

	order := conflict.Reordered
	if len(order) == 0 {
		order = citationIDs(citations)
	}

	adjusted := make([]Citation, 0, len(order))
	for _, id := range order {
		if _, gone := dropped[id]; gone {
			continue
		}
		if c, ok := byID[id]; ok {
			adjusted = append(adjusted, c)
		}
	}
	return adjusted
}

// certify seals the outcome into the audit log and releases the result. A
// failed append aborts the release: the caller gets the error, never an
// uncertified answer.
func (o *Orchestrator) certify(ctx context.Context, requestID string, query legal.Query,
	assessment risk.Assessment, answer string, citations []Citation, outcome retrieval.Outcome) (Result, error) {
	answerID := uuid.New().String()

	cert, err := o.certs.Append(ctx, answerID, certificate.Inputs{
		QueryText:     query.Text,
		Jurisdictions: query.NormalizedJurisdictions(),
		CitedChunkIDs: citationIDs(citations),
		AnswerText:    answer,
		Metrics: certificate.Metrics{
			InformationBudget:    assessment.InformationBudget,
			RetrievedInformation: assessment.RetrievedInformation,
			ISR:                  assessment.ISR,
			RoH:                  assessment.RoH,
			PartialRetrieval:     assessment.PartialRetrieval,
		},
		Decision: assessment.Decision,
	})
	if err != nil {
		o.logger.Printf("request %s: certificate append failed: %v", requestID, err)
		return Result{}, err
	}
	o.transition(requestID, StateCertified)

	result := Result{
		AnswerID:    answerID,
		Decision:    assessment.Decision,
		Answer:      answer,
		Citations:   citations,
		Risk:        assessment,
		Certificate: cert,
	}

	if o.related != nil && len(citations) > 0 {
		docIDs := make([]string, 0, len(citations))
		seen := make(map[string]struct{}, len(citations))
		for _, c := range citations {
			if _, ok := seen[c.DocumentID]; ok {
				continue
			}
			seen[c.DocumentID] = struct{}{}
			docIDs = append(docIDs, c.DocumentID)
		}
		if relatedMap, relErr := o.related.RelatedNorms(ctx, docIDs); relErr != nil {
			o.logger.Printf("request %s: related norms lookup error: %v", requestID, relErr)
		} else {
			result.RelatedNorms = relatedMap
		}
	}

	return result, nil
}

func citationIDs(citations []Citation) []string {
	ids := make([]string, len(citations))
	for i, c := range citations {
		ids[i] = c.ChunkID
	}
	return ids
}

func buildMessages(query legal.Query, citations []Citation) []generation.Message {
	var sb strings.Builder
	for i, c := range citations {
		sb.WriteString(fmt.Sprintf("Source %d: %s (%s, %s, rank %d)\n", i+1, c.Title, c.Jurisdiction, c.Type, c.HierarchyRank))
		sb.WriteString(c.Snippet)
		sb.WriteString("\n\n")
	}

	system := "You are a legal research assistant. Answer strictly from the " +
		"numbered sources provided, citing them in bracket form (e.g., [Source 1]). " +
		"Cite higher-authority norms before lower ones. If the sources do not " +
		"support an answer, say so explicitly instead of speculating."

	var user strings.Builder
	user.WriteString("Question:\n")
	user.WriteString(query.Text)
	if len(citations) > 0 {
		user.WriteString("\nSources:\n")
		user.WriteString(sb.String())
	}
	user.WriteString("\nAnswer the question using only the sources above.")

	return []generation.Message{
		{Role: generation.RoleSystem, Content: system},
		{Role: generation.RoleUser, Content: user.String()},
	}
}
