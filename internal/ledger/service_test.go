package ledger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonGiHyeon/CV-API/internal/attribution"
	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/database"
	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
)

type harness struct {
	svc     *Service
	repo    *database.Repository
	metrics *monitoring.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := database.NewRepository(db)
	metrics := monitoring.NewMetrics()
	corpus := cache.NewCorpusCache(repo, time.Minute, metrics)
	logger := monitoring.NewLoggerWithOptions(io.Discard, slog.LevelError)

	return &harness{
		svc:     NewService(repo, corpus, ids.NewSequence(), DefaultConfig(), logger, metrics),
		repo:    repo,
		metrics: metrics,
	}
}

func (h *harness) draft(t *testing.T) *database.Draft {
	t.Helper()
	d, err := h.svc.CreateDraft(context.Background(), CreateDraftInput{
		Company: "Acme", Position: "Backend Engineer", JobDescription: "Go services and SQL", Tone: "formal",
	})
	require.NoError(t, err)
	return d
}

func (h *harness) seedAttributions(t *testing.T, draftID string, weights map[string]float64, order ...string) {
	t.Helper()
	rows := make([]database.Attribution, 0, len(order))
	for i, c := range order {
		rows = append(rows, database.Attribution{
			ID: draftID + "_attr_" + string(rune('a'+i)), DraftID: draftID, ContributorID: c,
			Weight: weights[c], NormWeight: weights[c], CreatedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, h.repo.ReplaceAttributions(context.Background(), draftID, rows))
}

var ledgerCmp = []cmp.Option{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmpopts.IgnoreFields(database.LedgerEntry{}, "UpdatedAt"),
}

func TestCreateDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateDraft(ctx, CreateDraftInput{Position: "SRE"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
	assert.Contains(t, err.Error(), "company, jd")

	d := h.draft(t)
	assert.Equal(t, "d_1", d.ID)
	assert.Equal(t, database.DraftPreview, d.Status)
	assert.Equal(t, "formal", d.Tone)
	assert.Nil(t, d.AuthorID)
	assert.Contains(t, d.Text, "Acme")
	assert.Len(t, strings.Split(d.Text, "\n\n"), 5)

	got, err := h.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Text, got.Text)
}

func TestComputeAttributionEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)
	paragraphs := strings.Split(d.Text, "\n\n")

	_, err := h.svc.IngestFragments(ctx, []FragmentInput{
		{ID: "f_1", OwnerID: "u_a", Text: paragraphs[0] + " " + paragraphs[1], IsEligible: true},
		{ID: "f_2", OwnerID: "u_b", Text: paragraphs[2], IsEligible: true},
		{ID: "f_3", OwnerID: "u_c", Text: d.Text, IsEligible: false},
	})
	require.NoError(t, err)

	report, err := h.svc.ComputeAttribution(ctx, d.ID, attribution.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, report.ContributorCount)
	assert.Equal(t, 2, report.KeptCount)
	assert.False(t, report.FellBack)

	sum := 0.0
	for _, c := range report.Contributors {
		assert.NotEqual(t, "u_c", c.ContributorID, "ineligible fragments must not contribute")
		sum += c.NormWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	require.NotEmpty(t, report.Preview)
	assert.LessOrEqual(t, len(report.Preview), 5)
	for i := 1; i < len(report.Preview); i++ {
		assert.False(t, report.Preview[i].Points.GreaterThan(report.Preview[i-1].Points))
	}
	assert.Equal(t, "100", report.PreviewPool.String())

	stored, err := h.svc.ListAttributions(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, int64(1), h.metrics.AttributionRuns)
}

func TestComputeWithEmptyCorpusYieldsNoRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)

	report, err := h.svc.ComputeAttribution(ctx, d.ID, attribution.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, report.ContributorCount)
	assert.Empty(t, report.Preview)

	// new fragments become visible immediately
	_, err = h.svc.IngestFragments(ctx, []FragmentInput{{OwnerID: "u_a", Text: d.Text, IsEligible: true}})
	require.NoError(t, err)

	report, err = h.svc.ComputeAttribution(ctx, d.ID, attribution.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ContributorCount)
	assert.InDelta(t, 1.0, report.MeanSimilarity, 1e-9)

	finalized, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, finalized.Sample, 1)
	// a sole contributor is capped at 60
	assert.Equal(t, "60.0", finalized.Sample[0].AmountPreview.StringFixed(1))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)
	h.seedAttributions(t, d.ID, map[string]float64{"u_a": 0.7, "u_b": 0.3}, "u_a", "u_b")

	first, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, first.StatusChanged)
	assert.Equal(t, database.DraftFinalized, first.Status)
	assert.Equal(t, 2, first.Count)
	assert.Equal(t, "90.0", first.PreviewTotal.StringFixed(1))
	assert.Equal(t, "60.0", first.Sample[0].AmountPreview.StringFixed(1))
	assert.Equal(t, "30.0", first.Sample[1].AmountPreview.StringFixed(1))

	before, err := h.svc.LedgerForDraft(ctx, d.ID)
	require.NoError(t, err)

	second, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, second.StatusChanged)
	assert.Equal(t, first.Count, second.Count)
	assert.True(t, first.PreviewTotal.Equal(second.PreviewTotal))

	after, err := h.svc.LedgerForDraft(ctx, d.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after, ledgerCmp...); diff != "" {
		t.Errorf("ledger changed on repeated finalize (-before +after):\n%s", diff)
	}

	got, err := h.svc.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, database.DraftFinalized, got.Status)
}

func TestSettleAndRewards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)
	h.seedAttributions(t, d.ID, map[string]float64{"u_a": 0.7, "u_b": 0.3}, "u_a", "u_b")

	_, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)

	pending, err := h.svc.RewardsForContributor(ctx, "u_a")
	require.NoError(t, err)
	assert.Equal(t, "60.0", pending.PreviewTotal.StringFixed(1))
	assert.True(t, pending.SettledTotal.IsZero())

	settled, err := h.svc.Settle(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, settled.Settled)

	again, err := h.svc.Settle(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Settled)

	summary, err := h.svc.RewardsForContributor(ctx, "u_b")
	require.NoError(t, err)
	require.Len(t, summary.Entries, 1)
	assert.Equal(t, database.LedgerSettled, summary.Entries[0].Status)
	assert.Equal(t, "30.0", summary.SettledTotal.StringFixed(1))
	assert.Equal(t, "30.0", summary.PreviewTotal.StringFixed(1))

	assert.Equal(t, int64(2), h.metrics.SettledRows)
}

func TestFinalizeAfterSettleKeepsSettledRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)
	h.seedAttributions(t, d.ID, map[string]float64{"u_a": 0.7, "u_b": 0.3}, "u_a", "u_b")

	_, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	_, err = h.svc.Settle(ctx, d.ID)
	require.NoError(t, err)

	h.seedAttributions(t, d.ID, map[string]float64{"u_a": 0.2, "u_b": 0.8}, "u_a", "u_b")
	report, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SkippedSettled)
	assert.Equal(t, 0, report.Count)

	rows, err := h.svc.LedgerForDraft(ctx, d.ID)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, database.LedgerSettled, r.Status)
	}
	assert.Equal(t, "60.0", rows[0].AmountPreview.StringFixed(1))
}

func TestRefinalizeKeepsStaleRows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)

	h.seedAttributions(t, d.ID, map[string]float64{"u_a": 0.5, "u_b": 0.5}, "u_a", "u_b")
	_, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)

	h.seedAttributions(t, d.ID, map[string]float64{"u_c": 1}, "u_c")
	report, err := h.svc.Finalize(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)

	rows, err := h.svc.LedgerForDraft(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestUnknownDraftAndBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Finalize(ctx, "d_404")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = h.svc.Settle(ctx, "d_404")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = h.svc.ComputeAttribution(ctx, "d_404", attribution.DefaultOptions())
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = h.svc.ListAttributions(ctx, "d_404")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = h.svc.LedgerForDraft(ctx, "d_404")
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))

	_, err = h.svc.RewardsForContributor(ctx, "  ")
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = h.svc.IngestFragments(ctx, []FragmentInput{{OwnerID: "", Text: "x"}})
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	_, err = h.svc.IngestFragments(ctx, nil)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))

	err = h.svc.SetFragmentEligibility(ctx, "f_404", true)
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
}

func TestConcurrentComputeLeavesOneConsistentSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.draft(t)
	paragraphs := strings.Split(d.Text, "\n\n")

	_, err := h.svc.IngestFragments(ctx, []FragmentInput{
		{OwnerID: "u_a", Text: paragraphs[0], IsEligible: true},
		{OwnerID: "u_b", Text: paragraphs[2], IsEligible: true},
		{OwnerID: "u_c", Text: paragraphs[3] + " " + paragraphs[4], IsEligible: true},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ComputeAttribution(ctx, d.ID, attribution.DefaultOptions())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := h.svc.ListAttributions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	sum := 0.0
	seen := map[string]bool{}
	for _, r := range rows {
		assert.False(t, seen[r.ContributorID], "duplicate contributor %s", r.ContributorID)
		seen[r.ContributorID] = true
		sum += r.NormWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Zero(t, h.svc.locks.size())
}

func TestFragmentStatsAndEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.svc.IngestFragments(ctx, []FragmentInput{
		{ID: "f_1", OwnerID: "u_a", Text: "one two three", IsEligible: true},
		{ID: "f_2", OwnerID: "u_b", Text: "four five six"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, h.svc.SetFragmentEligibility(ctx, "f_2", true))

	stats, err := h.svc.FragmentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Eligible)
	assert.Equal(t, 0, stats.Ineligible)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("d_1")
	acquired := make(chan struct{})
	go func() {
		u := k.Lock("d_1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(20 * time.Millisecond):
	}

	// other keys are independent
	other := k.Lock("d_2")
	other()

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
