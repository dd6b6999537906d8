package similarity

// Profile holds the pre-built gram sets of one text for every supported
// gram size. A Profile is immutable after construction and safe to share
// between goroutines.
type Profile struct {
	bigrams  GramSet
	trigrams GramSet
}

// NewProfile tokenizes text once and builds both gram sets
func NewProfile(text string) *Profile {
	tokens := Tokens(text)
	return &Profile{
		bigrams:  gramsOf(tokens, Bigram),
		trigrams: gramsOf(tokens, Trigram),
	}
}

// Grams returns the gram set for n, or an empty set for unsupported sizes
func (p *Profile) Grams(n GramSize) GramSet {
	switch n {
	case Bigram:
		return p.bigrams
	case Trigram:
		return p.trigrams
	default:
		return GramSet{}
	}
}

// Similarity returns the Jaccard similarity between two profiles at n
func (p *Profile) Similarity(other *Profile, n GramSize) float64 {
	return JaccardSets(p.Grams(n), other.Grams(n))
}
