package ingestion

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/normativa/lexgate/config"
	"github.com/normativa/lexgate/legal"
)

// Chunker splits normalized document text into overlapping passages of
// roughly target tokens. Boundaries snap to sentence ends when one lies
// within the slack window, so a chunk's terms are not cut mid-sentence unless
// a single sentence exceeds the window. The same document and configuration
// always produce byte-identical chunk boundaries.
type Chunker struct {
	target  int
	overlap int
}

func NewChunker(cfg config.ChunkingConfig) *Chunker {
	target := cfg.TargetTokens
	if target <= 0 {
		target = 512
	}
	overlap := cfg.OverlapTokens
	if overlap < 0 || overlap >= target {
		overlap = target / 10
	}
	return &Chunker{target: target, overlap: overlap}
}

type tokenSpan struct {
	start       int
	end         int
	sentenceEnd bool
}

// Chunk produces the ordered chunk sequence for a document. Chunk IDs are
// left empty; the ingestion service assigns them when persisting.
func (c *Chunker) Chunk(documentID, text string) ([]legal.Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", legal.ErrMalformedDocument)
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	tokens := scanTokens(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokenizable content", legal.ErrMalformedDocument)
	}

	slack := c.overlap
	if slack == 0 {
		slack = c.target / 10
	}

	chunks := make([]legal.Chunk, 0, len(tokens)/c.target+1)
	start := 0
	for start < len(tokens) {
		end := start + c.target
		if end >= len(tokens) {
			end = len(tokens)
		} else {
			end = snapToSentence(tokens, start, end, slack)
		}

		chunks = append(chunks, legal.Chunk{
			DocumentID:  documentID,
			Ordinal:     len(chunks),
			StartOffset: tokens[start].start,
			EndOffset:   tokens[end-1].end,
			TokenCount:  end - start,
			Text:        text[tokens[start].start:tokens[end-1].end],
		})

		if end >= len(tokens) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks, nil
}

// snapToSentence moves a cut point to the nearest sentence end: forward first
// within slack tokens, then backward down to half a window. When no sentence
// end is reachable the hard cut stands.
func snapToSentence(tokens []tokenSpan, start, end, slack int) int {
	forwardLimit := end + slack
	if forwardLimit > len(tokens) {
		forwardLimit = len(tokens)
	}
	for i := end - 1; i < forwardLimit; i++ {
		if tokens[i].sentenceEnd {
			return i + 1
		}
	}

	backwardLimit := start + (end-start)/2
	for i := end - 2; i >= backwardLimit; i-- {
		if tokens[i].sentenceEnd {
			return i + 1
		}
	}

	return end
}

// scanTokens walks the text once, recording byte offsets for each token and
// whether the text following it closes a sentence.
func scanTokens(text string) []tokenSpan {
	tokens := make([]tokenSpan, 0, len(text)/6)
	inToken := false
	tokenStart := 0

	flush := func(end int) {
		if inToken {
			tokens = append(tokens, tokenSpan{start: tokenStart, end: end})
			inToken = false
		}
	}

	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inToken {
				inToken = true
				tokenStart = i
			}
		case r == '.' && inToken && i+1 < len(text) && isWordByte(text[i+1]):
			// Interior dot, e.g. "27.401"; keep scanning the same token.
		default:
			flush(i)
			if (r == '.' || r == '!' || r == '?' || r == '\n') && len(tokens) > 0 {
				tokens[len(tokens)-1].sentenceEnd = true
			}
		}
	}
	flush(len(text))

	if len(tokens) > 0 {
		tokens[len(tokens)-1].sentenceEnd = true
	}
	return tokens
}

func isWordByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
