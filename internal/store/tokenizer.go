package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// Tokenize splits requirement text into lowercase terms, dropping stop
// words and tokens shorter than minLen. The same tokenizer runs at index
// and query time so term sets always line up.
func Tokenize(text string, stopWords map[string]struct{}, minLen int) []string {
	if minLen <= 0 {
		minLen = 2
	}

	words := tokenRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) < minLen {
			continue
		}
		if _, isStop := stopWords[lower]; isStop {
			continue
		}
		tokens = append(tokens, lower)
	}

	return tokens
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
