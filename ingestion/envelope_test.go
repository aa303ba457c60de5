package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/normativa/lexgate/legal"
)

func writeEnvelope(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	return path
}

func TestReadEnvelopeInlineText(t *testing.T) {
	path := writeEnvelope(t, "ley.json", `{
		"jurisdiction": "ES",
		"type": "law",
		"hierarchyRank": 3,
		"effectiveDate": "2018-03-01",
		"title": "Ley de Integridad",
		"source": "boe/2018/ley-integridad",
		"text": "Artículo 1. Las personas jurídicas son responsables."
	}`)

	doc, payload, err := ReadEnvelope(path)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if doc.Jurisdiction != "ES" || doc.Type != legal.TypeLaw || doc.HierarchyRank != 3 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.Source != "boe/2018/ley-integridad" {
		t.Fatalf("unexpected source: %q", doc.Source)
	}
	if payload.Format != FormatPlain || len(payload.Data) == 0 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestReadEnvelopeDefaultsSourceToPath(t *testing.T) {
	path := writeEnvelope(t, "decreto.json", `{
		"jurisdiction": "AR",
		"type": "decree",
		"hierarchyRank": 4,
		"effectiveDate": "2020-06-01",
		"text": "El decreto reglamenta la ley."
	}`)

	doc, _, err := ReadEnvelope(path)
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if doc.Source != path {
		t.Fatalf("source not defaulted to path: %q", doc.Source)
	}
}

func TestReadEnvelopeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"bad-json.json": `{not json`,
		"bad-type.json": `{"jurisdiction":"ES","type":"treaty","hierarchyRank":3,"effectiveDate":"2020-01-01","text":"x"}`,
		"bad-date.json": `{"jurisdiction":"ES","type":"law","hierarchyRank":3,"effectiveDate":"junio 2020","text":"x"}`,
		"no-body.json":  `{"jurisdiction":"ES","type":"law","hierarchyRank":3,"effectiveDate":"2020-01-01"}`,
	}

	for name, content := range cases {
		path := writeEnvelope(t, name, content)
		if _, _, err := ReadEnvelope(path); !errors.Is(err, legal.ErrMalformedDocument) {
			t.Fatalf("%s: expected ErrMalformedDocument, got %v", name, err)
		}
	}
}
