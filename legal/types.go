// Package legal defines the domain model shared across the pipeline:
// documents, chunks, queries, and the answer decision enumeration.
package legal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedDocument is returned when an ingested document is missing
	// required metadata or its text cannot be tokenized.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrMalformedQuery is returned when a query cannot be processed as given.
	ErrMalformedQuery = errors.New("malformed query")
)

// DocumentType identifies a norm's position in the normative hierarchy.
type DocumentType string

const (
	TypeConstitution  DocumentType = "constitution"
	TypeCode          DocumentType = "code"
	TypeLaw           DocumentType = "law"
	TypeDecree        DocumentType = "decree"
	TypeRegulation    DocumentType = "regulation"
	TypeJurisprudence DocumentType = "jurisprudence"
)

// defaultRanks orders document types by normative authority. Lower rank means
// higher authority. A Document may carry an explicit HierarchyRank that
// overrides this table (e.g. organic laws above ordinary laws).
var defaultRanks = map[DocumentType]int{
	TypeConstitution:  1,
	TypeCode:          2,
	TypeLaw:           3,
	TypeDecree:        4,
	TypeRegulation:    5,
	TypeJurisprudence: 6,
}

// ParseDocumentType validates a raw type string.
func ParseDocumentType(raw string) (DocumentType, error) {
	t := DocumentType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := defaultRanks[t]; !ok {
		return "", fmt.Errorf("%w: unknown document type %q", ErrMalformedDocument, raw)
	}
	return t, nil
}

// DefaultRank returns the hierarchy rank implied by the document type.
func (t DocumentType) DefaultRank() int {
	if rank, ok := defaultRanks[t]; ok {
		return rank
	}
	return len(defaultRanks) + 1
}

// Document is a legal norm as delivered by an ingestion connector. Documents
// are immutable once indexed; re-ingestion retires the old chunk set and
// creates a new one.
type Document struct {
	ID            string
	Jurisdiction  string
	Type          DocumentType
	HierarchyRank int
	EffectiveDate time.Time
	SupersededBy  string
	Title         string
	Source        string
}

// Validate enforces the ingestion boundary contract: jurisdiction, type, and
// hierarchy rank are mandatory.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Jurisdiction) == "" {
		return fmt.Errorf("%w: missing jurisdiction", ErrMalformedDocument)
	}
	if _, err := ParseDocumentType(string(d.Type)); err != nil {
		return err
	}
	if d.HierarchyRank <= 0 {
		return fmt.Errorf("%w: missing hierarchy rank", ErrMalformedDocument)
	}
	return nil
}

// Superseded reports whether a newer norm replaces this document.
func (d Document) Superseded() bool {
	return d.SupersededBy != ""
}

// Chunk is an immutable passage of a document. Offsets are byte positions in
// the normalized source text.
type Chunk struct {
	ID          string
	DocumentID  string
	Ordinal     int
	StartOffset int
	EndOffset   int
	TokenCount  int
	Text        string
}

// Query is a caller request. Jurisdictions and Concepts narrow retrieval;
// Historical permits citing superseded norms.
type Query struct {
	Text          string
	Jurisdictions []string
	Concepts      []string
	Historical    bool
}

// Validate rejects queries the pipeline cannot process.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty query text", ErrMalformedQuery)
	}
	for _, j := range q.Jurisdictions {
		code := strings.TrimSpace(j)
		if len(code) < 2 || len(code) > 3 {
			return fmt.Errorf("%w: invalid jurisdiction code %q", ErrMalformedQuery, j)
		}
	}
	return nil
}

// NormalizedJurisdictions returns the upper-cased jurisdiction filter set.
func (q Query) NormalizedJurisdictions() []string {
	out := make([]string, 0, len(q.Jurisdictions))
	for _, j := range q.Jurisdictions {
		code := strings.ToUpper(strings.TrimSpace(j))
		if code != "" {
			out = append(out, code)
		}
	}
	return out
}

// Decision is the closed outcome enumeration for a request. Abstention and
// clarification are successful outcomes, not errors.
type Decision string

const (
	DecisionAnswered  Decision = "ANSWERED"
	DecisionAbstained Decision = "ABSTAINED"
	DecisionClarify   Decision = "CLARIFY_REQUESTED"
)
