package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
)

// PacingID is stable for a (user, key type, tracked key).
func PacingID(userID string, kt pacing.KeyType, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("pacing:"+userID+":"+string(kt)+":"+key)).String()
}

// PacingRepo handles pacing records. Rows are never deleted.
type PacingRepo struct {
	db *sql.DB
}

func NewPacingRepo(db *sql.DB) *PacingRepo { return &PacingRepo{db: db} }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertPacing(ctx context.Context, ex execer, p PacingRecord) error {
	if p.ID == "" {
		p.ID = PacingID(p.UserID, p.KeyType, p.TrackedKey)
	}
	_, err := ex.ExecContext(ctx, `
	INSERT INTO pacing_records(
	 id, user_id, key_type, tracked_key, selection, baseline_cents, current_cents,
	 period_start, period_end, is_active, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id, key_type, tracked_key) DO UPDATE SET
	 selection=excluded.selection,
	 baseline_cents=excluded.baseline_cents,
	 current_cents=excluded.current_cents,
	 period_start=excluded.period_start,
	 period_end=excluded.period_end,
	 is_active=excluded.is_active,
	 updated_at=CURRENT_TIMESTAMP;
	`, p.ID, p.UserID, string(p.KeyType), p.TrackedKey, string(p.Selection), p.BaselineCents, p.CurrentCents,
		dates.Format(p.PeriodStart), dates.Format(p.PeriodEnd), boolInt(p.IsActive))
	return err
}

func (r *PacingRepo) Upsert(ctx context.Context, p PacingRecord) error {
	return upsertPacing(ctx, r.db, p)
}

func (r *PacingRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pacing_records SET is_active = 0, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// ReplaceSelection deactivates every record of the user and upserts recs, in
// one transaction.
func (r *PacingRepo) ReplaceSelection(ctx context.Context, userID string, recs []PacingRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pacing_records SET is_active = 0, updated_at=CURRENT_TIMESTAMP WHERE user_id = ?`, userID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, p := range recs {
		p.UserID = userID
		if err := upsertPacing(ctx, tx, p); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListByUser returns a user's records ordered by key type then key.
func (r *PacingRepo) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]PacingRecord, error) {
	q := `SELECT id, user_id, key_type, tracked_key, selection, baseline_cents, current_cents,
	 period_start, period_end, is_active, updated_at
	FROM pacing_records WHERE user_id = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY key_type, tracked_key`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PacingRecord
	for rows.Next() {
		var p PacingRecord
		var kt, sel, start, end string
		if err := rows.Scan(&p.ID, &p.UserID, &kt, &p.TrackedKey, &sel, &p.BaselineCents, &p.CurrentCents,
			&start, &end, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.KeyType = pacing.KeyType(kt)
		p.Selection = Selection(sel)
		if err := parseDate(start, &p.PeriodStart); err != nil {
			return nil, err
		}
		if err := parseDate(end, &p.PeriodEnd); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasManual reports whether the user has an active manual selection.
func (r *PacingRepo) HasManual(ctx context.Context, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pacing_records WHERE user_id = ? AND selection = 'manual' AND is_active = 1`, userID).Scan(&n)
	return n > 0, err
}
