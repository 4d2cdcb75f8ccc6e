package storage

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

var (
	separatorPattern = regexp.MustCompile(`[_\.\-\s(),:=\[\]*]+`)
	camelPattern     = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	letterDigit      = regexp.MustCompile(`([a-zA-Z])(\d)`)
	digitLetter      = regexp.MustCompile(`(\d)([a-zA-Z])`)
)

// maxDocstringIndex bounds how much of a docstring is indexed.
const maxDocstringIndex = 500

// tokenize splits text into lowercase search tokens.
// Handles CamelCase, snake_case, dotted paths and digit boundaries. Words
// without punctuation are also kept whole ("user_service").
func tokenize(text string) []string {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		if !strings.ContainsAny(word, "(),:=[]*") {
			tokens[strings.ToLower(word)] = true
		}

		for _, part := range separatorPattern.Split(word, -1) {
			if part == "" {
				continue
			}
			tokens[strings.ToLower(part)] = true

			split := camelPattern.ReplaceAllString(part, "$1 $2")
			split = letterDigit.ReplaceAllString(split, "$1 $2")
			split = digitLetter.ReplaceAllString(split, "$1 $2")
			for _, sub := range strings.Fields(split) {
				tokens[strings.ToLower(sub)] = true
			}
		}
	}

	result := make([]string, 0, len(tokens))
	for token := range tokens {
		if token != "" {
			result = append(result, token)
		}
	}
	sort.Strings(result)
	return result
}

// entityTokens returns the token frequencies of the searchable fields of e.
func entityTokens(e *graph.Entity) map[string]int {
	doc := e.Docstring
	if len(doc) > maxDocstringIndex {
		doc = doc[:maxDocstringIndex]
	}

	freq := make(map[string]int)
	// The name counts twice so that name hits outrank docstring mentions.
	for _, field := range []string{e.Name, e.Name, e.QualifiedName(), e.Signature, doc} {
		for _, token := range tokenize(field) {
			freq[token]++
		}
	}
	return freq
}

// rankResults sorts by score descending, then by entity id, and applies limit.
func rankResults(results []SearchResult, limit int) []SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].EntityID < results[j].EntityID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
