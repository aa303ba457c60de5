// Package api exposes the HTTP surface: /analyze, /compare, /health, and the
// ingestion boundary endpoints. Abstention and clarification are successful
// outcomes and return 200; HTTP error codes are reserved for malformed input
// (422) and infrastructure failures (503, 500).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/normativa/lexgate/certificate"
	"github.com/normativa/lexgate/index"
	"github.com/normativa/lexgate/ingestion"
	"github.com/normativa/lexgate/legal"
	"github.com/normativa/lexgate/pipeline"
	"github.com/normativa/lexgate/retrieval"
)

// Processor runs one query through the pipeline. *pipeline.Pool satisfies it.
type Processor interface {
	Process(ctx context.Context, query legal.Query) (pipeline.Result, error)
}

// Ingestor is the ingestion boundary consumed by the ingest and clear
// endpoints. *ingestion.Service satisfies it.
type Ingestor interface {
	IngestDocument(ctx context.Context, doc legal.Document, payload ingestion.Payload) (legal.Document, int, error)
	Clear(ctx context.Context) error
}

// Pinger reports backend liveness; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity reports graph liveness; the neo4j driver satisfies it.
type Connectivity interface {
	VerifyConnectivity(ctx context.Context) error
}

type Server struct {
	processor Processor
	ingestor  Ingestor
	store     *index.Store
	postgres  Pinger
	graph     Connectivity
	logger    *log.Logger
	handler   http.Handler
}

func New(processor Processor, ingestor Ingestor, store *index.Store,
	postgres Pinger, graph Connectivity, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		processor: processor,
		ingestor:  ingestor,
		store:     store,
		postgres:  postgres,
		graph:     graph,
		logger:    logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/compare", s.handleCompare)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

type analyzeRequest struct {
	Text          string   `json:"text"`
	Jurisdictions []string `json:"jurisdictions"`
	Concepts      []string `json:"concepts"`
	Historical    bool     `json:"historical"`
}

type riskMetricsDTO struct {
	InformationBudget    float64 `json:"informationBudget"`
	RetrievedInformation float64 `json:"retrievedInformation"`
	ISR                  float64 `json:"isr"`
	RoH                  float64 `json:"roh"`
	PartialRetrieval     bool    `json:"partialRetrieval"`
	AnswerMaxRoH         float64 `json:"answerMaxRoH"`
	ClarifyMaxRoH        float64 `json:"clarifyMaxRoH"`
}

type citationDTO struct {
	ChunkID       string `json:"chunkId"`
	DocumentID    string `json:"documentId"`
	Title         string `json:"title"`
	Jurisdiction  string `json:"jurisdiction"`
	Type          string `json:"type"`
	HierarchyRank int    `json:"hierarchyRank"`
	Snippet       string `json:"snippet"`
}

type relatedNormDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Relation string `json:"relation"`
}

type analyzeResponse struct {
	AnswerID          string                      `json:"answerId"`
	Decision          legal.Decision              `json:"decision"`
	Answer            string                      `json:"answer,omitempty"`
	RiskMetrics       riskMetricsDTO              `json:"riskMetrics"`
	Citations         []citationDTO               `json:"citations"`
	ClarifyHints      []string                    `json:"clarifyHints,omitempty"`
	CertificateDigest string                      `json:"certificateDigest"`
	RelatedNorms      map[string][]relatedNormDTO `json:"relatedNorms,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("decode request: %w", err))
		return
	}

	query := legal.Query{
		Text:          strings.TrimSpace(req.Text),
		Jurisdictions: req.Jurisdictions,
		Concepts:      req.Concepts,
		Historical:    req.Historical,
	}

	result, err := s.processor.Process(r.Context(), query)
	if err != nil {
		s.writeProcessError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toAnalyzeResponse(result))
}

type compareRequest struct {
	Text          string   `json:"text"`
	Jurisdictions []string `json:"jurisdictions"`
	Historical    bool     `json:"historical"`
}

type compareEntry struct {
	Jurisdiction string           `json:"jurisdiction"`
	Result       *analyzeResponse `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type compareResponse struct {
	Results []compareEntry `json:"results"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Jurisdictions) == 0 {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("jurisdictions are required for comparison"))
		return
	}

	entries := make([]compareEntry, len(req.Jurisdictions))
	var wg sync.WaitGroup
	for i, jurisdiction := range req.Jurisdictions {
		wg.Add(1)
		go func(i int, jurisdiction string) {
			defer wg.Done()
			query := legal.Query{
				Text:          strings.TrimSpace(req.Text),
				Jurisdictions: []string{jurisdiction},
				Historical:    req.Historical,
			}
			result, err := s.processor.Process(r.Context(), query)
			entries[i] = compareEntry{Jurisdiction: strings.ToUpper(strings.TrimSpace(jurisdiction))}
			if err != nil {
				entries[i].Error = err.Error()
				return
			}
			resp := toAnalyzeResponse(result)
			entries[i].Result = &resp
		}(i, jurisdiction)
	}
	wg.Wait()

	succeeded := 0
	for _, entry := range entries {
		if entry.Error == "" {
			succeeded++
		}
	}
	if succeeded == 0 {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("comparison failed for all jurisdictions"))
		return
	}

	s.writeJSON(w, http.StatusOK, compareResponse{Results: entries})
}

type healthResponse struct {
	Status       string          `json:"status"`
	IndexVersion int64           `json:"indexVersion"`
	BackendsUp   map[string]bool `json:"backendsUp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	backends := map[string]bool{
		"index":    false,
		"postgres": false,
		"graph":    false,
	}

	_, hasSnapshot := s.store.Current()
	backends["index"] = hasSnapshot
	if s.postgres != nil {
		backends["postgres"] = s.postgres.Ping(ctx) == nil
	}
	if s.graph != nil {
		backends["graph"] = s.graph.VerifyConnectivity(ctx) == nil
	}

	status := "ok"
	if !backends["index"] || !backends["postgres"] {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		IndexVersion: s.store.Version(),
		BackendsUp:   backends,
	})
}

type ingestRequest struct {
	Jurisdiction  string `json:"jurisdiction"`
	Type          string `json:"type"`
	HierarchyRank int    `json:"hierarchyRank"`
	EffectiveDate string `json:"effectiveDate"`
	SupersededBy  string `json:"supersededBy"`
	Title         string `json:"title"`
	Source        string `json:"source"`
	Text          string `json:"text"`
}

type ingestResponse struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.ingestor == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion is not configured"))
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("decode request: %w", err))
		return
	}

	docType, err := legal.ParseDocumentType(req.Type)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	effective, err := time.Parse("2006-01-02", req.EffectiveDate)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity,
			fmt.Errorf("%w: invalid effectiveDate %q", legal.ErrMalformedDocument, req.EffectiveDate))
		return
	}

	doc := legal.Document{
		Jurisdiction:  req.Jurisdiction,
		Type:          docType,
		HierarchyRank: req.HierarchyRank,
		EffectiveDate: effective,
		SupersededBy:  req.SupersededBy,
		Title:         req.Title,
		Source:        req.Source,
	}
	payload := ingestion.Payload{
		Name:   req.Source,
		Format: ingestion.FormatPlain,
		Data:   []byte(req.Text),
	}

	stored, chunks, err := s.ingestor.IngestDocument(r.Context(), doc, payload)
	if err != nil {
		if errors.Is(err, legal.ErrMalformedDocument) {
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, ingestResponse{DocumentID: stored.ID, Chunks: chunks})
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type clearResponse struct {
	Cleared bool `json:"cleared"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.ingestor == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("ingestion is not configured"))
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusUnprocessableEntity,
			fmt.Errorf("clearing the corpus is destructive; set confirm to true"))
		return
	}

	if err := s.ingestor.Clear(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear corpus: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, clearResponse{Cleared: true})
}

// writeProcessError maps pipeline errors onto the documented status codes.
func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, legal.ErrMalformedQuery):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, certificate.ErrWrite):
		s.writeError(w, http.StatusInternalServerError, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func toAnalyzeResponse(result pipeline.Result) analyzeResponse {
	citations := make([]citationDTO, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = citationDTO{
			ChunkID:       c.ChunkID,
			DocumentID:    c.DocumentID,
			Title:         c.Title,
			Jurisdiction:  c.Jurisdiction,
			Type:          string(c.Type),
			HierarchyRank: c.HierarchyRank,
			Snippet:       c.Snippet,
		}
	}

	var related map[string][]relatedNormDTO
	if len(result.RelatedNorms) > 0 {
		related = make(map[string][]relatedNormDTO, len(result.RelatedNorms))
		for docID, entries := range result.RelatedNorms {
			converted := make([]relatedNormDTO, len(entries))
			for i, entry := range entries {
				converted[i] = relatedNormDTO{ID: entry.ID, Title: entry.Title, Relation: entry.Relation}
			}
			related[docID] = converted
		}
	}

	return analyzeResponse{
		AnswerID: result.AnswerID,
		Decision: result.Decision,
		Answer:   result.Answer,
		RiskMetrics: riskMetricsDTO{
			InformationBudget:    result.Risk.InformationBudget,
			RetrievedInformation: result.Risk.RetrievedInformation,
			ISR:                  result.Risk.ISR,
			RoH:                  result.Risk.RoH,
			PartialRetrieval:     result.Risk.PartialRetrieval,
			AnswerMaxRoH:         result.Risk.AnswerMaxRoH,
			ClarifyMaxRoH:        result.Risk.ClarifyMaxRoH,
		},
		Citations:         citations,
		ClarifyHints:      result.Risk.ClarifyHints,
		CertificateDigest: result.Certificate.Digest,
		RelatedNorms:      related,
	}
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
