package mapping

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Similarity tiers. Exact beats prefix beats substring beats word overlap;
// any non-empty comparison scores at least scoreFloor so weak candidates stay
// rankable instead of disappearing at zero.
const (
	scorePrefix    = 0.9
	scoreSubstring = 0.7
	scoreFloor     = 0.3
	overlapWeight  = 0.6
)

// DriftThreshold is the allowed gap between a stored confidence and a freshly
// recomputed one before the validator flags a mapping for review.
const DriftThreshold = 0.3

// foldTransformer strips combining diacritical marks, so "Vāta" and "Vata"
// compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalize(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Score computes a [0,1] relatedness score between two display strings.
// The tiers are directional: prefix and substring checks test containment in
// either direction, but the word-overlap tier counts matches relative to a's
// tokens only, so Score(a, b) and Score(b, a) may differ.
func Score(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}
	if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		return scorePrefix
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return scoreSubstring
	}

	tokensA := strings.Fields(na)
	tokensB := strings.Fields(nb)
	matched := 0
	for _, ta := range tokensA {
		for _, tb := range tokensB {
			if strings.Contains(tb, ta) {
				matched++
				break
			}
		}
	}
	wordScore := float64(matched) / float64(len(tokensA))
	result := wordScore * overlapWeight
	if result < scoreFloor {
		return scoreFloor
	}
	return result
}

// ComputeConfidence derives the default confidence for a mapping from the two
// display names. An explicit caller-supplied confidence always wins over this.
func ComputeConfidence(sourceDisplay, targetDisplay string) float64 {
	return Score(sourceDisplay, targetDisplay)
}

// ClassifyMappingType guesses the relation kind from the two display strings:
// equal or contained strings are equivalent, the more specific (longer) side
// determines broader versus narrower, anything else is related.
func ClassifyMappingType(sourceDisplay, targetDisplay string) MappingType {
	ns, nt := normalize(sourceDisplay), normalize(targetDisplay)
	if ns == nt || strings.Contains(ns, nt) || strings.Contains(nt, ns) {
		return TypeEquivalent
	}
	sourceWords := len(strings.Fields(ns))
	targetWords := len(strings.Fields(nt))
	switch {
	case sourceWords > targetWords:
		return TypeNarrower
	case targetWords > sourceWords:
		return TypeBroader
	}
	return TypeRelated
}

// suggestTerms extracts the search terms used to pre-filter candidates:
// every normalized token longer than two characters.
func suggestTerms(display string) []string {
	var terms []string
	for _, tok := range strings.Fields(normalize(display)) {
		if len(tok) > 2 {
			terms = append(terms, tok)
		}
	}
	return terms
}
