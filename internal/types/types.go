// Package types holds the HTTP request and response bodies. Amounts leave
// the service as JSON numbers.
package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/SonGiHyeon/CV-API/internal/attribution"
	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/rewards"
	"github.com/SonGiHyeon/CV-API/internal/similarity"
)

// CreateDraftRequest is the body of POST /drafts
type CreateDraftRequest struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	JD       string `json:"jd"`
	Tone     string `json:"tone"`
	AuthorID string `json:"authorId"`
}

// Input converts the request to the lifecycle input
func (r CreateDraftRequest) Input() ledger.CreateDraftInput {
	return ledger.CreateDraftInput{
		AuthorID:       r.AuthorID,
		Company:        r.Company,
		Position:       r.Position,
		JobDescription: r.JD,
		Tone:           r.Tone,
	}
}

type DraftMeta struct {
	Company   string    `json:"company"`
	Position  string    `json:"position"`
	Tone      string    `json:"tone"`
	Status    string    `json:"status"`
	AuthorID  *string   `json:"authorId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DraftResponse is returned by draft create and read
type DraftResponse struct {
	DraftID string    `json:"draftId"`
	Text    string    `json:"text"`
	Meta    DraftMeta `json:"meta"`
}

func NewDraftResponse(d *database.Draft) DraftResponse {
	return DraftResponse{
		DraftID: d.ID,
		Text:    d.Text,
		Meta: DraftMeta{
			Company:   d.Company,
			Position:  d.Position,
			Tone:      d.Tone,
			Status:    string(d.Status),
			AuthorID:  d.AuthorID,
			CreatedAt: d.CreatedAt,
		},
	}
}

// ComputeAttributionRequest is the body of POST /drafts/:id/attribution.
// Absent fields take their defaults.
type ComputeAttributionRequest struct {
	TopK        *int     `json:"topK"`
	Threshold   *float64 `json:"threshold"`
	N           *int     `json:"n"`
	FallbackTo2 *bool    `json:"fallbackTo2"`
}

// Options applies defaults. Any n other than 2 means trigrams.
func (r ComputeAttributionRequest) Options() attribution.Options {
	opts := attribution.DefaultOptions()
	if r.TopK != nil {
		opts.TopK = *r.TopK
	}
	if r.Threshold != nil {
		opts.Threshold = *r.Threshold
	}
	if r.N != nil && *r.N == int(similarity.Bigram) {
		opts.N = similarity.Bigram
	}
	if r.FallbackTo2 != nil {
		opts.FallbackTo2 = *r.FallbackTo2
	}
	return opts
}

type HeaderBadges struct {
	GramUsed         int     `json:"gramUsed"`
	FellBack         bool    `json:"fellBack"`
	RefCount         int     `json:"refCount"`
	AvgSimilarity    float64 `json:"avgSimilarity"`
	ContributorCount int     `json:"contributorCount"`
}

type PreviewItem struct {
	ContributorID string  `json:"contributorId"`
	Points        float64 `json:"points"`
}

type RewardPreview struct {
	Total float64       `json:"total"`
	Top5  []PreviewItem `json:"top5"`
}

type MatchItem struct {
	FragmentID    string  `json:"fragmentId"`
	ContributorID string  `json:"contributorId"`
	Similarity    float64 `json:"similarity"`
}

type ContributorItem struct {
	ContributorID string  `json:"contributorId"`
	Weight        float64 `json:"weight"`
	NormWeight    float64 `json:"normWeight"`
}

// AttributionResponse is returned by POST /drafts/:id/attribution
type AttributionResponse struct {
	DraftID       string            `json:"draftId"`
	HeaderBadges  HeaderBadges      `json:"headerBadges"`
	Contributors  []ContributorItem `json:"contributors"`
	RewardPreview RewardPreview     `json:"rewardPreview"`
	TopK          []MatchItem       `json:"topK"`
}

func NewAttributionResponse(r *ledger.AttributionReport) AttributionResponse {
	resp := AttributionResponse{
		DraftID: r.DraftID,
		HeaderBadges: HeaderBadges{
			GramUsed:         int(r.GramUsed),
			FellBack:         r.FellBack,
			RefCount:         r.KeptCount,
			AvgSimilarity:    attribution.RoundSimilarity(r.MeanSimilarity),
			ContributorCount: r.ContributorCount,
		},
		Contributors: make([]ContributorItem, 0, len(r.Contributors)),
		RewardPreview: RewardPreview{
			Total: Points(r.PreviewPool),
			Top5:  previewItems(r.Preview),
		},
		TopK: make([]MatchItem, 0, len(r.TopMatches)),
	}
	for _, c := range r.Contributors {
		resp.Contributors = append(resp.Contributors, ContributorItem(c))
	}
	for _, m := range r.TopMatches {
		resp.TopK = append(resp.TopK, MatchItem{
			FragmentID:    m.FragmentID,
			ContributorID: m.ContributorID,
			Similarity:    attribution.RoundSimilarity(m.Similarity),
		})
	}
	return resp
}

func previewItems(allocs []rewards.Allocation) []PreviewItem {
	out := make([]PreviewItem, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, PreviewItem{ContributorID: a.ContributorID, Points: Points(a.Points)})
	}
	return out
}

// AttributionRow is one stored attribution
type AttributionRow struct {
	ContributorID string    `json:"contributorId"`
	Weight        float64   `json:"weight"`
	NormWeight    float64   `json:"normWeight"`
	CreatedAt     time.Time `json:"createdAt"`
}

type AttributionListResponse struct {
	DraftID string           `json:"draftId"`
	Rows    []AttributionRow `json:"rows"`
}

func NewAttributionListResponse(draftID string, rows []database.Attribution) AttributionListResponse {
	resp := AttributionListResponse{DraftID: draftID, Rows: make([]AttributionRow, 0, len(rows))}
	for _, a := range rows {
		resp.Rows = append(resp.Rows, AttributionRow{
			ContributorID: a.ContributorID,
			Weight:        a.Weight,
			NormWeight:    a.NormWeight,
			CreatedAt:     a.CreatedAt,
		})
	}
	return resp
}

// LedgerRow is one reward ledger entry on the wire
type LedgerRow struct {
	ID            string   `json:"id"`
	DraftID       string   `json:"draftId"`
	ContributorID string   `json:"contributorId"`
	AmountPreview float64  `json:"amountPreview"`
	AmountSettled *float64 `json:"amountSettled"`
	Status        string   `json:"status"`
}

func NewLedgerRow(e database.LedgerEntry) LedgerRow {
	row := LedgerRow{
		ID:            e.ID,
		DraftID:       e.DraftID,
		ContributorID: e.ContributorID,
		AmountPreview: Points(e.AmountPreview),
		Status:        string(e.Status),
	}
	if e.AmountSettled.Valid {
		v := Points(e.AmountSettled.Decimal)
		row.AmountSettled = &v
	}
	return row
}

func NewLedgerRows(entries []database.LedgerEntry) []LedgerRow {
	out := make([]LedgerRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewLedgerRow(e))
	}
	return out
}

// FinalizeResponse is returned by POST /drafts/:id/finalize
type FinalizeResponse struct {
	OK             bool        `json:"ok"`
	DraftID        string      `json:"draftId"`
	Status         string      `json:"status"`
	StatusChanged  bool        `json:"statusChanged"`
	Count          int         `json:"count"`
	PreviewTotal   float64     `json:"previewTotal"`
	Sample         []LedgerRow `json:"sample"`
	SkippedSettled int         `json:"skippedSettled"`
}

func NewFinalizeResponse(r *ledger.FinalizeReport) FinalizeResponse {
	return FinalizeResponse{
		OK:             true,
		DraftID:        r.DraftID,
		Status:         string(r.Status),
		StatusChanged:  r.StatusChanged,
		Count:          r.Count,
		PreviewTotal:   Points(r.PreviewTotal),
		Sample:         NewLedgerRows(r.Sample),
		SkippedSettled: r.SkippedSettled,
	}
}

// SettleResponse is returned by POST /drafts/:id/settle
type SettleResponse struct {
	OK      bool   `json:"ok"`
	DraftID string `json:"draftId"`
	Settled int    `json:"settled"`
}

type LedgerResponse struct {
	DraftID string      `json:"draftId"`
	Rows    []LedgerRow `json:"rows"`
}

type Totals struct {
	Preview float64 `json:"preview"`
	Settled float64 `json:"settled"`
}

// RewardsResponse is returned by GET /drafts/rewards/me
type RewardsResponse struct {
	UserID string      `json:"userId"`
	Totals Totals      `json:"totals"`
	List   []LedgerRow `json:"list"`
}

func NewRewardsResponse(s *ledger.RewardsSummary) RewardsResponse {
	return RewardsResponse{
		UserID: s.ContributorID,
		Totals: Totals{Preview: Points(s.PreviewTotal), Settled: Points(s.SettledTotal)},
		List:   NewLedgerRows(s.Entries),
	}
}

type IngestFragmentsResponse struct {
	Ingested int `json:"ingested"`
}

// EligibilityRequest is the body of PUT /fragments/:id/eligibility
type EligibilityRequest struct {
	IsEligible *bool `json:"isEligible" binding:"required"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Points renders a decimal amount as a JSON number
func Points(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
