package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonGiHyeon/CV-API/internal/attribution"
	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/rewards"
	"github.com/SonGiHyeon/CV-API/internal/similarity"
)

func decodeOptions(t *testing.T, body string) attribution.Options {
	t.Helper()
	var req ComputeAttributionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return req.Options()
}

func TestComputeRequestDefaults(t *testing.T) {
	assert.Equal(t, attribution.DefaultOptions(), decodeOptions(t, `{}`))
}

func TestComputeRequestCoercesN(t *testing.T) {
	assert.Equal(t, similarity.Bigram, decodeOptions(t, `{"n": 2}`).N)
	assert.Equal(t, similarity.Trigram, decodeOptions(t, `{"n": 3}`).N)
	assert.Equal(t, similarity.Trigram, decodeOptions(t, `{"n": 7}`).N)
}

func TestComputeRequestKeepsExplicitValues(t *testing.T) {
	opts := decodeOptions(t, `{"topK": 5, "threshold": 0.2, "fallbackTo2": false}`)
	assert.Equal(t, 5, opts.TopK)
	assert.Equal(t, 0.2, opts.Threshold)
	assert.False(t, opts.FallbackTo2)
}

func TestAttributionResponseRoundsForDisplay(t *testing.T) {
	report := &ledger.AttributionReport{
		Result: &attribution.Result{
			DraftID:          "d_1",
			GramUsed:         similarity.Bigram,
			FellBack:         true,
			KeptCount:        2,
			MeanSimilarity:   1.0 / 3,
			ContributorCount: 1,
			Contributors:     []attribution.ContributorWeight{{ContributorID: "u_a", Weight: 0.5, NormWeight: 1}},
			TopMatches:       []attribution.Match{{FragmentID: "f_1", ContributorID: "u_a", Similarity: 2.0 / 3}},
		},
		PreviewPool: decimal.NewFromInt(100),
		Preview:     []rewards.Allocation{{ContributorID: "u_a", Points: decimal.RequireFromString("100.0")}},
	}

	resp := NewAttributionResponse(report)
	assert.Equal(t, 2, resp.HeaderBadges.GramUsed)
	assert.True(t, resp.HeaderBadges.FellBack)
	assert.Equal(t, 0.333, resp.HeaderBadges.AvgSimilarity)
	assert.Equal(t, 0.667, resp.TopK[0].Similarity)
	assert.Equal(t, 100.0, resp.RewardPreview.Total)
	assert.Equal(t, []PreviewItem{{ContributorID: "u_a", Points: 100}}, resp.RewardPreview.Top5)
	assert.Equal(t, 1.0, resp.Contributors[0].NormWeight)
}

func TestLedgerRowSettledAmount(t *testing.T) {
	open := NewLedgerRow(database.LedgerEntry{
		ID: "d_1_u_a", AmountPreview: decimal.RequireFromString("45.5"), Status: database.LedgerPreview,
	})
	assert.Nil(t, open.AmountSettled)
	assert.Equal(t, 45.5, open.AmountPreview)

	settled := NewLedgerRow(database.LedgerEntry{
		ID:            "d_1_u_a",
		AmountPreview: decimal.RequireFromString("45.5"),
		AmountSettled: decimal.NewNullDecimal(decimal.RequireFromString("45.5")),
		Status:        database.LedgerSettled,
	})
	require.NotNil(t, settled.AmountSettled)
	assert.Equal(t, 45.5, *settled.AmountSettled)

	raw, err := json.Marshal(open)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amountSettled":null`)
}

func TestDraftResponse(t *testing.T) {
	author := "u_me"
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resp := NewDraftResponse(&database.Draft{
		ID: "d_1", AuthorID: &author, Company: "Acme", Position: "SRE", Tone: "formal",
		Text: "hello", Status: database.DraftPreview, CreatedAt: at,
	})
	assert.Equal(t, "d_1", resp.DraftID)
	assert.Equal(t, "preview", resp.Meta.Status)
	assert.Equal(t, &author, resp.Meta.AuthorID)
	assert.Equal(t, at, resp.Meta.CreatedAt)
}
