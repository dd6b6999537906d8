package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/SonGiHyeon/CV-API/internal/database"
	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/resilience"
)

// FragmentInput is one fragment handed over by the upstream quality gate
type FragmentInput struct {
	ID         string `json:"id" yaml:"id"`
	OwnerID    string `json:"ownerId" yaml:"ownerId"`
	Text       string `json:"text" yaml:"text"`
	IsEligible bool   `json:"isEligible" yaml:"isEligible"`
}

// IngestFragments stores fragments (replacing same-id ones) and invalidates
// the corpus cache. The whole batch is rejected if any item is invalid.
func (s *Service) IngestFragments(ctx context.Context, in []FragmentInput) (int, error) {
	if len(in) == 0 {
		return 0, apperrors.NewValidationError("at least one fragment is required")
	}

	problems := map[string]string{}
	now := s.now().UTC()
	fragments := make([]database.Fragment, 0, len(in))
	for i, f := range in {
		if strings.TrimSpace(f.OwnerID) == "" {
			problems[fmt.Sprintf("[%d].ownerId", i)] = "required"
		}
		if strings.TrimSpace(f.Text) == "" {
			problems[fmt.Sprintf("[%d].text", i)] = "required"
		}

		id := strings.TrimSpace(f.ID)
		if id == "" {
			id = s.ids.NewID("f")
		}
		fragments = append(fragments, database.Fragment{
			ID:         id,
			OwnerID:    strings.TrimSpace(f.OwnerID),
			Text:       f.Text,
			IsEligible: f.IsEligible,
			CreatedAt:  now,
		})
	}
	if len(problems) > 0 {
		return 0, apperrors.NewValidationErrorWithMap(problems)
	}

	n, err := resilience.RetryValue(ctx, s.cfg.Retry, func() (int, error) {
		return s.store.UpsertFragments(ctx, fragments)
	})
	if err != nil {
		return 0, err
	}

	s.corpus.Invalidate()
	s.logger.Info("Fragments ingested", "count", n)
	return n, nil
}

// SetFragmentEligibility records the quality-gate verdict for one fragment
func (s *Service) SetFragmentEligibility(ctx context.Context, fragmentID string, eligible bool) error {
	err := resilience.RetryWithConfig(ctx, s.cfg.Retry, func() error {
		return s.store.SetFragmentEligibility(ctx, fragmentID, eligible)
	})
	if err != nil {
		return err
	}

	s.corpus.Invalidate()
	return nil
}

// FragmentStats counts the corpus by eligibility
func (s *Service) FragmentStats(ctx context.Context) (*database.FragmentStats, error) {
	return resilience.RetryValue(ctx, s.cfg.Retry, func() (*database.FragmentStats, error) {
		return s.store.GetFragmentStats(ctx)
	})
}
