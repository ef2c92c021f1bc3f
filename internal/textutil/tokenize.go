// Package textutil holds the tokenizer shared by the lexical retrieval
// stage and the anchor subsystem's Jaccard similarity check.
package textutil

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "this": true, "that": true,
	"it": true, "as": true, "by": true, "from": true,
}

// Tokenize lowercases s, splits on non-alphanumeric runs, and drops
// stopwords and terms shorter than two characters.
func Tokenize(s string) []string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TokenSet returns the distinct token set of s, used for Jaccard similarity.
func TokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(s) {
		set[t] = true
	}
	return set
}

// Jaccard computes |a∩b| / |a∪b|. Two empty sets are defined as identical
// (similarity 1.0) so an anchor with an empty preview never spuriously
// drifts.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
