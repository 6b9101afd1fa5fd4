package store

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase terms on non-alphanumeric boundaries.
// No stemming or stop word removal is applied; queries and corpus text must
// go through the same function so BM25 term matching stays consistent.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/6)
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// TermFrequencies counts occurrences of each token.
func TermFrequencies(tokens []string) map[string]int {
	freqs := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freqs[t]++
	}
	return freqs
}
