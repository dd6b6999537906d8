// Package attribution scores a draft against the eligible corpus and turns
// the strongest matches into normalized per-contributor weights.
package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/database"
	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/similarity"
)

const (
	DefaultTopK      = 50
	DefaultThreshold = 0.0
	// TopMatchLimit caps the matches echoed back for display
	TopMatchLimit = 10
)

// Store is the persistence the aggregator needs
type Store interface {
	GetDraft(ctx context.Context, id string) (*database.Draft, error)
	ReplaceAttributions(ctx context.Context, draftID string, rows []database.Attribution) error
}

// Corpus supplies the eligible fragments with their profiles
type Corpus interface {
	Eligible(ctx context.Context) ([]cache.Entry, error)
}

// Options tune one aggregation run
type Options struct {
	TopK        int                 `json:"topK"`
	Threshold   float64             `json:"threshold"`
	N           similarity.GramSize `json:"n"`
	FallbackTo2 bool                `json:"fallbackTo2"`
}

// DefaultOptions returns topK 50, threshold 0, trigrams with bigram fallback
func DefaultOptions() Options {
	return Options{
		TopK:        DefaultTopK,
		Threshold:   DefaultThreshold,
		N:           similarity.Trigram,
		FallbackTo2: true,
	}
}

// Normalize fills zero values with defaults and validates the result
func (o Options) Normalize() (Options, error) {
	if o.TopK == 0 {
		o.TopK = DefaultTopK
	}
	if o.N == 0 {
		o.N = similarity.Trigram
	}

	problems := map[string]string{}
	if o.TopK < 0 {
		problems["topK"] = "must be positive"
	}
	if math.IsNaN(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		problems["threshold"] = "must be within [0, 1]"
	}
	if !o.N.Valid() {
		problems["n"] = "must be 2 or 3"
	}
	if len(problems) > 0 {
		return o, apperrors.NewValidationErrorWithMap(problems)
	}
	return o, nil
}

// Match is one kept fragment
type Match struct {
	FragmentID    string  `json:"fragmentId"`
	ContributorID string  `json:"contributorId"`
	Similarity    float64 `json:"similarity"`
}

// ContributorWeight is one contributor's accumulated and normalized weight
type ContributorWeight struct {
	ContributorID string  `json:"contributorId"`
	Weight        float64 `json:"weight"`
	NormWeight    float64 `json:"normWeight"`
}

// Result carries the persisted weights and run diagnostics
type Result struct {
	DraftID          string              `json:"draftId"`
	GramUsed         similarity.GramSize `json:"gramUsed"`
	FellBack         bool                `json:"fellBack"`
	KeptCount        int                 `json:"keptCount"`
	MeanSimilarity   float64             `json:"meanSimilarity"`
	ContributorCount int                 `json:"contributorCount"`
	Contributors     []ContributorWeight `json:"contributors"`
	TopMatches       []Match             `json:"topMatches"`
	Duration         time.Duration       `json:"-"`
}

// Aggregator computes and persists draft attributions
type Aggregator struct {
	store  Store
	corpus Corpus
	ids    ids.Generator
	now    func() time.Time
}

// NewAggregator wires an aggregator
func NewAggregator(store Store, corpus Corpus, gen ids.Generator) *Aggregator {
	return &Aggregator{
		store:  store,
		corpus: corpus,
		ids:    gen,
		now:    time.Now,
	}
}

// Compute scores the draft, replaces its stored attributions with the new
// contributor weights and returns the diagnostics.
func (a *Aggregator) Compute(ctx context.Context, draftID string, opts Options) (*Result, error) {
	start := a.now()

	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	draft, err := a.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(draft.Text) == "" {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf("draft %s has no text to attribute", draftID))
	}

	entries, err := a.corpus.Eligible(ctx)
	if err != nil {
		return nil, err
	}

	profile := similarity.NewProfile(draft.Text)

	gramUsed := opts.N
	kept := Score(profile, entries, gramUsed, opts.TopK, opts.Threshold)
	fellBack := false
	if len(kept) == 0 && opts.FallbackTo2 && opts.N == similarity.Trigram {
		gramUsed = similarity.Bigram
		fellBack = true
		kept = Score(profile, entries, gramUsed, opts.TopK, opts.Threshold)
	}

	contributors := Aggregate(kept, opts.Threshold)

	now := a.now().UTC()
	rows := make([]database.Attribution, 0, len(contributors))
	for _, c := range contributors {
		rows = append(rows, database.Attribution{
			ID:            a.ids.NewID("attr"),
			DraftID:       draftID,
			ContributorID: c.ContributorID,
			Weight:        c.Weight,
			NormWeight:    c.NormWeight,
			CreatedAt:     now,
		})
	}

	if err := a.store.ReplaceAttributions(ctx, draftID, rows); err != nil {
		return nil, err
	}

	top := kept
	if len(top) > TopMatchLimit {
		top = top[:TopMatchLimit]
	}

	return &Result{
		DraftID:          draftID,
		GramUsed:         gramUsed,
		FellBack:         fellBack,
		KeptCount:        len(kept),
		MeanSimilarity:   mean(kept),
		ContributorCount: len(contributors),
		Contributors:     contributors,
		TopMatches:       top,
		Duration:         a.now().Sub(start),
	}, nil
}

// Score compares the draft profile to every entry at gram size n. Matches
// with similarity 0 are discarded, the rest sorted by similarity descending
// with ties kept in corpus order, truncated to topK and finally filtered to
// similarity >= threshold.
func Score(draft *similarity.Profile, entries []cache.Entry, n similarity.GramSize, topK int, threshold float64) []Match {
	scored := make([]Match, 0, len(entries))
	for _, e := range entries {
		sim := draft.Similarity(e.Profile, n)
		if sim > 0 {
			scored = append(scored, Match{
				FragmentID:    e.Fragment.ID,
				ContributorID: e.Fragment.OwnerID,
				Similarity:    sim,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	kept := scored[:0]
	for _, m := range scored {
		if m.Similarity >= threshold {
			kept = append(kept, m)
		}
	}
	return kept
}

// Aggregate sums sim-threshold per contributor in first-seen order and
// normalizes by the total. A non-positive total yields no contributors.
// Matches without an owner are skipped.
func Aggregate(kept []Match, threshold float64) []ContributorWeight {
	var (
		ordered []ContributorWeight
		index   = map[string]int{}
		total   float64
	)

	for _, m := range kept {
		if m.ContributorID == "" {
			continue
		}
		w := m.Similarity - threshold
		i, ok := index[m.ContributorID]
		if !ok {
			i = len(ordered)
			index[m.ContributorID] = i
			ordered = append(ordered, ContributorWeight{ContributorID: m.ContributorID})
		}
		ordered[i].Weight += w
		total += w
	}

	if total <= 0 {
		return nil
	}

	for i := range ordered {
		ordered[i].NormWeight = ordered[i].Weight / total
	}
	return ordered
}

func mean(kept []Match) float64 {
	if len(kept) == 0 {
		return 0
	}
	var sum float64
	for _, m := range kept {
		sum += m.Similarity
	}
	return sum / float64(len(kept))
}

// RoundSimilarity rounds a similarity to three decimals for display
func RoundSimilarity(v float64) float64 {
	return math.Round(v*1000) / 1000
}
