package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/normativa/lexgate/legal"
)

// Envelope is the drop-file format ingestion connectors write: document
// metadata plus the body text in one JSON object. Binary payloads (PDF) point
// at a sibling file instead of inlining the bytes.
type Envelope struct {
	Jurisdiction  string `json:"jurisdiction"`
	Type          string `json:"type"`
	HierarchyRank int    `json:"hierarchyRank"`
	EffectiveDate string `json:"effectiveDate"`
	SupersededBy  string `json:"supersededBy,omitempty"`
	Title         string `json:"title,omitempty"`
	Source        string `json:"source,omitempty"`
	Text          string `json:"text,omitempty"`
	PayloadPath   string `json:"payloadPath,omitempty"`
}

// ReadEnvelope loads a connector drop file into a Document plus Payload.
func ReadEnvelope(path string) (legal.Document, Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return legal.Document{}, Payload{}, fmt.Errorf("read envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return legal.Document{}, Payload{}, fmt.Errorf("%w: decode envelope: %v", legal.ErrMalformedDocument, err)
	}

	docType, err := legal.ParseDocumentType(env.Type)
	if err != nil {
		return legal.Document{}, Payload{}, err
	}

	effective, err := time.Parse("2006-01-02", env.EffectiveDate)
	if err != nil {
		return legal.Document{}, Payload{}, fmt.Errorf("%w: invalid effectiveDate %q", legal.ErrMalformedDocument, env.EffectiveDate)
	}

	doc := legal.Document{
		Jurisdiction:  env.Jurisdiction,
		Type:          docType,
		HierarchyRank: env.HierarchyRank,
		EffectiveDate: effective,
		SupersededBy:  env.SupersededBy,
		Title:         env.Title,
		Source:        env.Source,
	}
	if doc.Source == "" {
		doc.Source = path
	}

	payload := Payload{Name: doc.Source}
	switch {
	case env.PayloadPath != "":
		body, err := os.ReadFile(env.PayloadPath)
		if err != nil {
			return legal.Document{}, Payload{}, fmt.Errorf("read payload %s: %w", env.PayloadPath, err)
		}
		payload.Name = env.PayloadPath
		payload.Data = body
		payload.Format = DetectFormat(env.PayloadPath)
	case env.Text != "":
		payload.Data = []byte(env.Text)
		payload.Format = FormatPlain
	default:
		return legal.Document{}, Payload{}, fmt.Errorf("%w: envelope has neither text nor payloadPath", legal.ErrMalformedDocument)
	}

	return doc, payload, nil
}
