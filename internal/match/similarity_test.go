package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"lucky dog", "lucky dog", 0},
		{"lucky dog", "lucky dig", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EditDistance(tt.a, tt.b), "EditDistance(%q, %q)", tt.a, tt.b)
	}
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 100, StringSimilarity("Lucky Dog", "lucky dog"))
	assert.Equal(t, 100, StringSimilarity("  lucky dog  ", "lucky dog"))
	assert.Equal(t, 0, StringSimilarity("", "lucky dog"))
	assert.Equal(t, 0, StringSimilarity("lucky dog", ""))

	// One substitution over nine characters: round((1 - 1/9) * 100) = 89.
	assert.Equal(t, 89, StringSimilarity("lucky dog", "lucky dig"))

	// Completely different strings score low.
	assert.Less(t, StringSimilarity("lucky dog", "totally different"), 40)
}

func TestNamesMatch(t *testing.T) {
	t.Run("exact after normalization", func(t *testing.T) {
		assert.Equal(t, 100, NamesMatch("Lucky Dog Cafe", "Lucky Dog Cafe"))
		assert.Equal(t, 100, NamesMatch("The Lucky Dog, LLC", "Lucky Dog"))
	})

	t.Run("substring containment scores in the strong band", func(t *testing.T) {
		score := NamesMatch("Lucky Dog", "Lucky Dog Cafe")
		assert.GreaterOrEqual(t, score, 80)
		assert.LessOrEqual(t, score, 90)
	})

	t.Run("containment stays below exact match", func(t *testing.T) {
		assert.Less(t, NamesMatch("Lucky Dog", "Lucky Dog Cafe"), 100)
	})

	t.Run("unrelated names score below fuzzy threshold", func(t *testing.T) {
		assert.Less(t, NamesMatch("Lucky Dog", "Totally Different Place"), 70)
	})

	t.Run("empty names score zero", func(t *testing.T) {
		assert.Equal(t, 0, NamesMatch("", "Lucky Dog"))
		assert.Equal(t, 0, NamesMatch("LLC", "Lucky Dog"))
	})
}

// The scorer must be a pure function: identical inputs always produce
// identical scores.
func TestNamesMatchDeterministic(t *testing.T) {
	first := NamesMatch("Lucky Dog Saloon", "Lucky Dog Bar & Grill")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, NamesMatch("Lucky Dog Saloon", "Lucky Dog Bar & Grill"))
	}
}
