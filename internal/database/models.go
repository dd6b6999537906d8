package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fragment is one unit of source text owned by a contributor. IsEligible is
// set by the upstream quality gate; only eligible fragments are attributed.
type Fragment struct {
	ID         string    `json:"id" db:"id"`
	OwnerID    string    `json:"ownerId" db:"owner_id"`
	Text       string    `json:"text" db:"text"`
	IsEligible bool      `json:"isEligible" db:"is_eligible"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// FragmentStats summarizes the corpus
type FragmentStats struct {
	Total      int `json:"total"`
	Eligible   int `json:"eligible"`
	Ineligible int `json:"ineligible"`
}

// DraftStatus is the lifecycle state of a draft
type DraftStatus string

const (
	DraftPreview   DraftStatus = "preview"
	DraftFinalized DraftStatus = "finalized"
)

// Draft is a generated composite document whose influences are attributed
type Draft struct {
	ID             string      `json:"id" db:"id"`
	AuthorID       *string     `json:"authorId,omitempty" db:"author_id"`
	Company        string      `json:"company" db:"company"`
	Position       string      `json:"position" db:"position"`
	JobDescription string      `json:"jd" db:"jd"`
	Tone           string      `json:"tone" db:"tone"`
	Text           string      `json:"text" db:"text"`
	Status         DraftStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" db:"updated_at"`
}

// Attribution is one contributor's share of a draft
type Attribution struct {
	ID            string    `json:"id" db:"id"`
	DraftID       string    `json:"draftId" db:"draft_id"`
	ContributorID string    `json:"contributorId" db:"contributor_id"`
	Weight        float64   `json:"weight" db:"weight"`
	NormWeight    float64   `json:"normWeight" db:"norm_weight"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// LedgerStatus is the settlement state of a reward ledger row
type LedgerStatus string

const (
	LedgerPreview LedgerStatus = "preview"
	LedgerSettled LedgerStatus = "settled"
)

// LedgerEntry is the reward owed to one contributor for one draft. ID is
// derived from (DraftID, ContributorID) so the pair is never duplicated.
type LedgerEntry struct {
	ID            string              `json:"id" db:"id"`
	DraftID       string              `json:"draftId" db:"draft_id"`
	ContributorID string              `json:"contributorId" db:"contributor_id"`
	AmountPreview decimal.Decimal     `json:"amountPreview" db:"amount_preview"`
	AmountSettled decimal.NullDecimal `json:"amountSettled" db:"amount_settled"`
	Status        LedgerStatus        `json:"status" db:"status"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// FinalizeOutcome reports what a finalize transaction changed
type FinalizeOutcome struct {
	StatusChanged  bool          `json:"statusChanged"`
	Entries        []LedgerEntry `json:"entries"`
	Upserted       int           `json:"upserted"`
	SkippedSettled int           `json:"skippedSettled"`
}
