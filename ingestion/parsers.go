package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/normativa/lexgate/legal"
)

// Format enumerates supported ingestion payload formats.
type Format string

const (
	FormatUnknown  Format = ""
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
	FormatPDF      Format = "pdf"
)

// DetectFormat infers a payload format from a file name.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatPlain
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}

// Payload is the raw document body handed over by an ingestion connector.
type Payload struct {
	Name   string
	Format Format
	Data   []byte
}

// ExtractText converts a payload into normalized plain text plus a title
// guess. Markdown keeps its body text; PDF is flattened through the pdf
// reader. Failures are malformed-document errors: the caller must not index
// the payload.
func ExtractText(payload Payload) (text, title string, err error) {
	switch payload.Format {
	case FormatMarkdown, FormatPlain:
		text = normalizePlainText(string(payload.Data))
	case FormatPDF:
		text, err = extractPDFText(payload.Data)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", legal.ErrMalformedDocument, err)
		}
	default:
		return "", "", fmt.Errorf("%w: unsupported format %q", legal.ErrMalformedDocument, payload.Format)
	}

	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("%w: empty document body", legal.ErrMalformedDocument)
	}

	title = extractTitle(text, payload.Name)
	return text, title, nil
}

func extractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return normalizePlainText(buf.String()), nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// extractTitle prefers a markdown heading, then the first non-empty line,
// then the payload name.
func extractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		if len(trimmed) <= 120 {
			return trimmed
		}
		break
	}
	return strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
}
