package catalog

import (
	"strings"

	"github.com/hbollon/go-edlib"
)

// minSuggestSimilarity is the Jaro-Winkler score below which no suggestion is made.
const minSuggestSimilarity = 0.8

// Closest returns the candidate most similar to id by Jaro-Winkler, or ""
// when none scores at least minSuggestSimilarity or id is itself a candidate.
func Closest(id string, candidates []string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	var (
		best      string
		bestScore float32
	)
	for _, c := range candidates {
		score, err := edlib.StringsSimilarity(strings.ToLower(id), strings.ToLower(c), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < minSuggestSimilarity || best == id {
		return ""
	}
	return best
}
