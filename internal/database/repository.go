package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
)

const ledgerColumns = `id, draft_id, contributor_id, amount_preview, amount_settled, status, created_at, updated_at`

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UpsertFragments inserts fragments or replaces existing ones with the same id
func (r *Repository) UpsertFragments(ctx context.Context, fragments []Fragment) (int, error) {
	written := 0
	err := r.db.WithTx(ctx, "upsert_fragments", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fragments (id, owner_id, text, is_eligible, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id,
				text = excluded.text,
				is_eligible = excluded.is_eligible
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range fragments {
			if _, err := stmt.ExecContext(ctx, f.ID, f.OwnerID, f.Text, f.IsEligible, f.CreatedAt); err != nil {
				return fmt.Errorf("fragment %s: %w", f.ID, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// SetFragmentEligibility flips the quality-gate flag of one fragment
func (r *Repository) SetFragmentEligibility(ctx context.Context, id string, eligible bool) error {
	stmt, err := r.db.GetPreparedStatement(stmtSetFragmentEligibility)
	if err != nil {
		return apperrors.NewStorageError("set_fragment_eligibility", err)
	}

	res, err := stmt.ExecContext(ctx, eligible, id)
	if err != nil {
		return apperrors.NewStorageError("set_fragment_eligibility", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("fragment", id)
	}
	return nil
}

// ListEligibleFragments returns every eligible fragment in insertion order
func (r *Repository) ListEligibleFragments(ctx context.Context) ([]Fragment, error) {
	stmt, err := r.db.GetPreparedStatement(stmtListEligible)
	if err != nil {
		return nil, apperrors.NewStorageError("list_eligible_fragments", err)
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("list_eligible_fragments", err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Text, &f.IsEligible, &f.CreatedAt); err != nil {
			return nil, apperrors.NewStorageError("list_eligible_fragments", err)
		}
		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list_eligible_fragments", err)
	}

	return fragments, nil
}

// GetFragmentStats counts the corpus by eligibility
func (r *Repository) GetFragmentStats(ctx context.Context) (*FragmentStats, error) {
	stmt, err := r.db.GetPreparedStatement(stmtFragmentStats)
	if err != nil {
		return nil, apperrors.NewStorageError("fragment_stats", err)
	}

	var stats FragmentStats
	if err := stmt.QueryRowContext(ctx).Scan(&stats.Total, &stats.Eligible); err != nil {
		return nil, apperrors.NewStorageError("fragment_stats", err)
	}
	stats.Ineligible = stats.Total - stats.Eligible

	return &stats, nil
}

// CreateDraft inserts a new draft
func (r *Repository) CreateDraft(ctx context.Context, d *Draft) error {
	var author sql.NullString
	if d.AuthorID != nil {
		author = sql.NullString{String: *d.AuthorID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO drafts (id, author_id, company, position, jd, tone, text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, author, d.Company, d.Position, d.JobDescription, d.Tone, d.Text, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return apperrors.NewStorageError("create_draft", err)
	}
	return nil
}

// GetDraft loads one draft; unknown ids yield a NotFound error
func (r *Repository) GetDraft(ctx context.Context, id string) (*Draft, error) {
	stmt, err := r.db.GetPreparedStatement(stmtGetDraft)
	if err != nil {
		return nil, apperrors.NewStorageError("get_draft", err)
	}

	d, err := scanDraft(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("draft", id)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("get_draft", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*Draft, error) {
	var (
		d      Draft
		author sql.NullString
	)
	err := row.Scan(&d.ID, &author, &d.Company, &d.Position, &d.JobDescription,
		&d.Tone, &d.Text, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if author.Valid {
		d.AuthorID = &author.String
	}
	return &d, nil
}

// ReplaceAttributions deletes the draft's attribution rows and inserts rows in
// their place. Both happen in one transaction; readers see the old set or the
// new set, never a mix.
func (r *Repository) ReplaceAttributions(ctx context.Context, draftID string, rows []Attribution) error {
	return r.db.WithTx(ctx, "replace_attributions", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM attributions WHERE draft_id = ?`, draftID); err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO attributions (id, draft_id, contributor_id, weight, norm_weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range rows {
			if a.DraftID != draftID {
				return apperrors.NewInternalError(
					fmt.Sprintf("attribution %s belongs to draft %s, not %s", a.ID, a.DraftID, draftID), nil)
			}
			if _, err := stmt.ExecContext(ctx, a.ID, a.DraftID, a.ContributorID, a.Weight, a.NormWeight, a.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAttributions returns the stored attribution rows of a draft
func (r *Repository) ListAttributions(ctx context.Context, draftID string) ([]Attribution, error) {
	stmt, err := r.db.GetPreparedStatement(stmtListAttributions)
	if err != nil {
		return nil, apperrors.NewStorageError("list_attributions", err)
	}

	rows, err := stmt.QueryContext(ctx, draftID)
	if err != nil {
		return nil, apperrors.NewStorageError("list_attributions", err)
	}
	defer rows.Close()

	out, err := scanAttributions(rows)
	if err != nil {
		return nil, apperrors.NewStorageError("list_attributions", err)
	}
	return out, nil
}

func scanAttributions(rows *sql.Rows) ([]Attribution, error) {
	var out []Attribution
	for rows.Next() {
		var a Attribution
		if err := rows.Scan(&a.ID, &a.DraftID, &a.ContributorID, &a.Weight, &a.NormWeight, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LedgerBuilder turns a draft's stored attributions into ledger rows
type LedgerBuilder func(attributions []Attribution) []LedgerEntry

// FinalizeDraft marks the draft finalized (once) and upserts the ledger rows
// produced by build from its current attributions, all in one transaction.
// Rows that are already settled are left untouched and counted as skipped.
func (r *Repository) FinalizeDraft(ctx context.Context, draftID string, now time.Time, build LedgerBuilder) (*FinalizeOutcome, error) {
	outcome := &FinalizeOutcome{}

	err := r.db.WithTx(ctx, "finalize_draft", func(tx *sql.Tx) error {
		var status DraftStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM drafts WHERE id = ?`, draftID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("draft", draftID)
		}
		if err != nil {
			return err
		}

		if status != DraftFinalized {
			if _, err := tx.ExecContext(ctx,
				`UPDATE drafts SET status = ?, updated_at = ? WHERE id = ?`,
				DraftFinalized, now, draftID); err != nil {
				return err
			}
			outcome.StatusChanged = true
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, draft_id, contributor_id, weight, norm_weight, created_at
			FROM attributions WHERE draft_id = ? ORDER BY rowid ASC
		`, draftID)
		if err != nil {
			return err
		}
		attributions, err := scanAttributions(rows)
		rows.Close()
		if err != nil {
			return err
		}

		entries := build(attributions)
		if len(entries) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO reward_ledger (id, draft_id, contributor_id, amount_preview, amount_settled, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, NULL, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				amount_preview = excluded.amount_preview,
				updated_at = excluded.updated_at
			WHERE reward_ledger.status = 'preview'
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			res, err := stmt.ExecContext(ctx, e.ID, e.DraftID, e.ContributorID,
				e.AmountPreview.StringFixed(1), LedgerPreview, now, now)
			if err != nil {
				return fmt.Errorf("ledger row %s: %w", e.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				outcome.SkippedSettled++
				continue
			}
			e.Status = LedgerPreview
			e.CreatedAt, e.UpdatedAt = now, now
			outcome.Entries = append(outcome.Entries, e)
			outcome.Upserted++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// SettleDraft moves every preview ledger row of the draft to settled, copying
// the preview amount. It returns how many rows moved; repeating is a no-op.
func (r *Repository) SettleDraft(ctx context.Context, draftID string, now time.Time) (int, error) {
	var moved int64

	err := r.db.WithTx(ctx, "settle_draft", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM drafts WHERE id = ?`, draftID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("draft", draftID)
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE reward_ledger
			SET amount_settled = amount_preview, status = ?, updated_at = ?
			WHERE draft_id = ? AND status = ?
		`, LedgerSettled, now, draftID, LedgerPreview)
		if err != nil {
			return err
		}
		moved, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(moved), nil
}

// LedgerForDraft returns the ledger rows of one draft
func (r *Repository) LedgerForDraft(ctx context.Context, draftID string) ([]LedgerEntry, error) {
	return r.queryLedger(ctx, stmtLedgerByDraft, "ledger_for_draft", draftID)
}

// LedgerForContributor returns every ledger row of a contributor, newest draft id first
func (r *Repository) LedgerForContributor(ctx context.Context, contributorID string) ([]LedgerEntry, error) {
	return r.queryLedger(ctx, stmtLedgerByContributor, "ledger_for_contributor", contributorID)
}

func (r *Repository) queryLedger(ctx context.Context, stmtName, op, arg string) ([]LedgerEntry, error) {
	stmt, err := r.db.GetPreparedStatement(stmtName)
	if err != nil {
		return nil, apperrors.NewStorageError(op, err)
	}

	rows, err := stmt.QueryContext(ctx, arg)
	if err != nil {
		return nil, apperrors.NewStorageError(op, err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.DraftID, &e.ContributorID, &e.AmountPreview,
			&e.AmountSettled, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, apperrors.NewStorageError(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError(op, err)
	}
	return entries, nil
}
