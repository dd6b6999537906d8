// Package ledger runs the draft lifecycle: creation, attribution, finalize
// into reward ledger rows, and settlement.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SonGiHyeon/CV-API/internal/attribution"
	"github.com/SonGiHyeon/CV-API/internal/compose"
	"github.com/SonGiHyeon/CV-API/internal/database"
	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
	"github.com/SonGiHyeon/CV-API/internal/resilience"
	"github.com/SonGiHyeon/CV-API/internal/rewards"
)

// SampleSize is how many ledger rows a finalize report echoes back
const SampleSize = 5

// Store is the persistence the lifecycle needs
type Store interface {
	attribution.Store
	CreateDraft(ctx context.Context, d *database.Draft) error
	ListAttributions(ctx context.Context, draftID string) ([]database.Attribution, error)
	FinalizeDraft(ctx context.Context, draftID string, now time.Time, build database.LedgerBuilder) (*database.FinalizeOutcome, error)
	SettleDraft(ctx context.Context, draftID string, now time.Time) (int, error)
	LedgerForDraft(ctx context.Context, draftID string) ([]database.LedgerEntry, error)
	LedgerForContributor(ctx context.Context, contributorID string) ([]database.LedgerEntry, error)

	UpsertFragments(ctx context.Context, fragments []database.Fragment) (int, error)
	SetFragmentEligibility(ctx context.Context, id string, eligible bool) error
	GetFragmentStats(ctx context.Context) (*database.FragmentStats, error)
}

// Corpus is the eligible-fragment source, invalidated on fragment writes
type Corpus interface {
	attribution.Corpus
	Invalidate()
}

// Config carries the reward policies and storage retry behaviour
type Config struct {
	PreviewPolicy  rewards.Policy
	FinalizePolicy rewards.Policy
	Retry          resilience.RetryConfig
}

// DefaultConfig uses the standard preview and finalize policies
func DefaultConfig() Config {
	return Config{
		PreviewPolicy:  rewards.PreviewPolicy(),
		FinalizePolicy: rewards.FinalizePolicy(),
		Retry:          resilience.StorageRetryConfig(),
	}
}

// Service implements the draft lifecycle. Operations on the same draft are
// serialized; different drafts proceed in parallel.
type Service struct {
	store      Store
	corpus     Corpus
	aggregator *attribution.Aggregator
	ids        ids.Generator
	cfg        Config
	locks      *keyedMutex
	logger     *monitoring.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time
}

// NewService wires the lifecycle service
func NewService(store Store, corpus Corpus, gen ids.Generator, cfg Config, logger *monitoring.Logger, metrics *monitoring.Metrics) *Service {
	if logger == nil {
		logger = monitoring.NewLogger()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	s := &Service{
		store:      store,
		corpus:     corpus,
		aggregator: attribution.NewAggregator(store, corpus, gen),
		ids:        gen,
		cfg:        cfg,
		locks:      newKeyedMutex(),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
	s.cfg.Retry.OnRetry = func(attempt int, err error) {
		metrics.IncrementStorageRetry()
		logger.Warn("Retrying storage operation", "attempt", attempt+1, "error", err)
	}
	return s
}

// CreateDraftInput is the caller-provided part of a new draft
type CreateDraftInput struct {
	AuthorID       string `json:"authorId"`
	Company        string `json:"company"`
	Position       string `json:"position"`
	JobDescription string `json:"jd"`
	Tone           string `json:"tone"`
}

// CreateDraft validates the input, composes the text and stores a preview draft
func (s *Service) CreateDraft(ctx context.Context, in CreateDraftInput) (*database.Draft, error) {
	missing := map[string]string{}
	if strings.TrimSpace(in.Company) == "" {
		missing["company"] = "required"
	}
	if strings.TrimSpace(in.Position) == "" {
		missing["position"] = "required"
	}
	if strings.TrimSpace(in.JobDescription) == "" {
		missing["jd"] = "required"
	}
	if len(missing) > 0 {
		return nil, apperrors.NewValidationErrorWithMap(missing)
	}

	tone := compose.ParseTone(in.Tone)
	now := s.now().UTC()

	d := &database.Draft{
		ID:             s.ids.NewID("d"),
		Company:        in.Company,
		Position:       in.Position,
		JobDescription: in.JobDescription,
		Tone:           string(tone),
		Status:         database.DraftPreview,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if author := strings.TrimSpace(in.AuthorID); author != "" {
		d.AuthorID = &author
	}
	d.Text = compose.Compose(compose.Input{
		Company:        d.Company,
		Position:       d.Position,
		JobDescription: d.JobDescription,
		Tone:           tone,
	})

	if err := s.store.CreateDraft(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Draft created", "draft_id", d.ID, "tone", d.Tone)
	return d, nil
}

// GetDraft returns one draft
func (s *Service) GetDraft(ctx context.Context, draftID string) (*database.Draft, error) {
	return resilience.RetryValue(ctx, s.cfg.Retry, func() (*database.Draft, error) {
		return s.store.GetDraft(ctx, draftID)
	})
}

// AttributionReport is an aggregation result plus the non-binding reward preview
type AttributionReport struct {
	*attribution.Result
	PreviewPool decimal.Decimal      `json:"previewPool"`
	Preview     []rewards.Allocation `json:"preview"`
}

// ComputeAttribution recomputes the draft's attributions and previews rewards
func (s *Service) ComputeAttribution(ctx context.Context, draftID string, opts attribution.Options) (*AttributionReport, error) {
	unlock := s.locks.Lock(draftID)
	defer unlock()

	res, err := resilience.RetryValue(ctx, s.cfg.Retry, func() (*attribution.Result, error) {
		return s.aggregator.Compute(ctx, draftID, opts)
	})
	if err != nil {
		return nil, err
	}

	weights := make([]rewards.Weight, 0, len(res.Contributors))
	for _, c := range res.Contributors {
		weights = append(weights, rewards.Weight{ContributorID: c.ContributorID, NormWeight: c.NormWeight})
	}

	s.metrics.RecordAttribution(res.FellBack, res.ContributorCount)
	s.logger.AttributionLogger(draftID, int(res.GramUsed), res.KeptCount, res.ContributorCount, res.FellBack, res.Duration)

	return &AttributionReport{
		Result:      res,
		PreviewPool: s.cfg.PreviewPolicy.Pool,
		Preview:     rewards.Preview(weights, s.cfg.PreviewPolicy, rewards.PreviewLimit),
	}, nil
}

// ListAttributions returns the stored attribution rows of an existing draft
func (s *Service) ListAttributions(ctx context.Context, draftID string) ([]database.Attribution, error) {
	if _, err := s.GetDraft(ctx, draftID); err != nil {
		return nil, err
	}
	return resilience.RetryValue(ctx, s.cfg.Retry, func() ([]database.Attribution, error) {
		return s.store.ListAttributions(ctx, draftID)
	})
}

// FinalizeReport summarizes a finalize call
type FinalizeReport struct {
	DraftID        string                 `json:"draftId"`
	Status         database.DraftStatus   `json:"status"`
	StatusChanged  bool                   `json:"statusChanged"`
	Count          int                    `json:"count"`
	PreviewTotal   decimal.Decimal        `json:"previewTotal"`
	Sample         []database.LedgerEntry `json:"sample"`
	SkippedSettled int                    `json:"skippedSettled"`
}

// Finalize marks the draft finalized and writes its preview ledger rows from
// the stored attributions under the finalize policy. Calling it again
// rewrites the same rows with the same amounts. Rows already settled are never
// re-opened, and rows that stopped qualifying are left in place.
func (s *Service) Finalize(ctx context.Context, draftID string) (*FinalizeReport, error) {
	unlock := s.locks.Lock(draftID)
	defer unlock()

	build := func(attrs []database.Attribution) []database.LedgerEntry {
		weights := make([]rewards.Weight, 0, len(attrs))
		for _, a := range attrs {
			weights = append(weights, rewards.Weight{ContributorID: a.ContributorID, NormWeight: a.NormWeight})
		}

		allocs := rewards.Allocate(weights, s.cfg.FinalizePolicy)
		entries := make([]database.LedgerEntry, 0, len(allocs))
		for _, al := range allocs {
			entries = append(entries, database.LedgerEntry{
				ID:            ids.LedgerEntryID(draftID, al.ContributorID),
				DraftID:       draftID,
				ContributorID: al.ContributorID,
				AmountPreview: al.Points,
			})
		}
		return entries
	}

	outcome, err := resilience.RetryValue(ctx, s.cfg.Retry, func() (*database.FinalizeOutcome, error) {
		return s.store.FinalizeDraft(ctx, draftID, s.now().UTC(), build)
	})
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, e := range outcome.Entries {
		total = total.Add(e.AmountPreview)
	}

	sample := outcome.Entries
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}

	s.metrics.RecordFinalize(outcome.SkippedSettled)
	s.logger.LedgerLogger("finalize", draftID, outcome.Upserted, total.StringFixed(1))
	if outcome.SkippedSettled > 0 {
		s.logger.Warn("Finalize left settled rows untouched",
			"draft_id", draftID, "skipped", outcome.SkippedSettled)
	}

	return &FinalizeReport{
		DraftID:        draftID,
		Status:         database.DraftFinalized,
		StatusChanged:  outcome.StatusChanged,
		Count:          outcome.Upserted,
		PreviewTotal:   total,
		Sample:         sample,
		SkippedSettled: outcome.SkippedSettled,
	}, nil
}

// SettleReport summarizes a settle call
type SettleReport struct {
	DraftID string `json:"draftId"`
	Settled int    `json:"settled"`
}

// Settle moves every preview ledger row of the draft to settled. A second call
// settles nothing.
func (s *Service) Settle(ctx context.Context, draftID string) (*SettleReport, error) {
	unlock := s.locks.Lock(draftID)
	defer unlock()

	moved, err := resilience.RetryValue(ctx, s.cfg.Retry, func() (int, error) {
		return s.store.SettleDraft(ctx, draftID, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSettle(moved)
	s.logger.LedgerLogger("settle", draftID, moved, "")

	return &SettleReport{DraftID: draftID, Settled: moved}, nil
}

// LedgerForDraft returns the ledger rows of an existing draft
func (s *Service) LedgerForDraft(ctx context.Context, draftID string) ([]database.LedgerEntry, error) {
	if _, err := s.GetDraft(ctx, draftID); err != nil {
		return nil, err
	}
	return resilience.RetryValue(ctx, s.cfg.Retry, func() ([]database.LedgerEntry, error) {
		return s.store.LedgerForDraft(ctx, draftID)
	})
}

// RewardsSummary lists a contributor's ledger rows with running totals
type RewardsSummary struct {
	ContributorID string                 `json:"userId"`
	PreviewTotal  decimal.Decimal        `json:"previewTotal"`
	SettledTotal  decimal.Decimal        `json:"settledTotal"`
	Entries       []database.LedgerEntry `json:"list"`
}

// RewardsForContributor returns every ledger row of the contributor, newest
// draft id first. PreviewTotal sums the preview amount of every row;
// SettledTotal sums settled amounts only.
func (s *Service) RewardsForContributor(ctx context.Context, contributorID string) (*RewardsSummary, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return nil, apperrors.NewValidationError("userId is required")
	}

	entries, err := resilience.RetryValue(ctx, s.cfg.Retry, func() ([]database.LedgerEntry, error) {
		return s.store.LedgerForContributor(ctx, contributorID)
	})
	if err != nil {
		return nil, err
	}

	summary := &RewardsSummary{
		ContributorID: contributorID,
		PreviewTotal:  decimal.Zero,
		SettledTotal:  decimal.Zero,
		Entries:       entries,
	}
	for _, e := range entries {
		summary.PreviewTotal = summary.PreviewTotal.Add(e.AmountPreview)
		if e.AmountSettled.Valid {
			summary.SettledTotal = summary.SettledTotal.Add(e.AmountSettled.Decimal)
		}
	}
	return summary, nil
}
