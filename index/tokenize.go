package index

import (
	"strings"
	"unicode"
)

// Tokenize lowercases and splits text into term tokens. The token space is
// shared by the chunker, the keyword index, and the risk scorer so that token
// counts mean the same thing everywhere. Accents are preserved: Spanish legal
// text distinguishes e.g. "artículo" from "articulo" in the source gazettes.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TermFrequencies folds a token stream into a frequency map.
func TermFrequencies(tokens []string) map[string]int {
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}
	return freqs
}
