package match

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// EditDistance returns the Levenshtein distance between two strings with unit
// insert/delete/substitute costs. No normalization is applied here; callers
// normalize first.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// StringSimilarity scores two strings 0-100: 100 when equal after
// trim/lower-case, 0 when either is empty, otherwise the edit distance scaled
// by the longer string's length.
func StringSimilarity(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	dist := EditDistance(a, b)
	return int(math.Round((1 - float64(dist)/float64(longest)) * 100))
}

// NamesMatch scores two business names 0-100 after normalization. Exact
// normalized equality scores 100. Substring containment is a strong but not
// perfect signal: it scores 80-90, scaled within that band by the length
// ratio of the two names, so "lucky dog" inside "lucky dog cafe" stays above
// the fuzzy-match floor while never reaching exact-match confidence.
// Everything else falls back to edit-distance similarity.
func NamesMatch(name1, name2 string) int {
	n1 := NormalizeBusinessName(name1)
	n2 := NormalizeBusinessName(name2)
	if n1 == "" || n2 == "" {
		return 0
	}
	if n1 == n2 {
		return 100
	}

	shorter, longer := n1, n2
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		ratio := float64(len(shorter)) / float64(len(longer))
		return int(math.Round(80 + ratio*10))
	}

	return StringSimilarity(n1, n2)
}
