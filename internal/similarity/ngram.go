package similarity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// GramSize is the number of tokens in one comparison window.
type GramSize int

const (
	Bigram  GramSize = 2
	Trigram GramSize = 3
)

// ErrUnsupportedGramSize is returned for any gram size other than 2 or 3
var ErrUnsupportedGramSize = errors.New("gram size must be 2 or 3")

// ParseGramSize validates a raw gram size
func ParseGramSize(n int) (GramSize, error) {
	g := GramSize(n)
	if !g.Valid() {
		return 0, fmt.Errorf("%w: got %d", ErrUnsupportedGramSize, n)
	}
	return g, nil
}

// Valid reports whether g is a supported gram size
func (g GramSize) Valid() bool {
	return g == Bigram || g == Trigram
}

// GramSet is a deduplicated set of n-gram keys
type GramSet map[string]struct{}

// Has reports whether key is in the set
func (s GramSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Normalize lower-cases s, replaces every rune that is not a letter, number or
// whitespace with a space, collapses whitespace runs and trims the ends.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized tokens of s
func Tokens(s string) []string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Fields(mapped)
}

// NGrams builds the set of contiguous n-token windows of text
func NGrams(text string, n GramSize) GramSet {
	return gramsOf(Tokens(text), n)
}

func gramsOf(tokens []string, n GramSize) GramSet {
	size := int(n)
	if size <= 0 || len(tokens) < size {
		return GramSet{}
	}

	set := make(GramSet, len(tokens)-size+1)
	for i := 0; i+size <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+size], " ")] = struct{}{}
	}
	return set
}

// JaccardSets returns |a ∩ b| / |a ∪ b|. Two empty sets score 0.
func JaccardSets(a, b GramSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	inter := 0
	for g := range small {
		if large.Has(g) {
			inter++
		}
	}

	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Jaccard scores two texts at gram size n
func Jaccard(a, b string, n GramSize) float64 {
	return JaccardSets(NGrams(a, n), NGrams(b, n))
}
