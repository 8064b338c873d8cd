package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jask/moneynudge/internal/dates"
)

// TransactionRepo reads persisted transactions. Ingestion lives elsewhere;
// Insert exists for seeding and tests.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, user_id, date, amount_cents, raw_description, enriched_merchant_name, enriched_category, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO NOTHING;
	`,
		t.ID, t.UserID, dates.Format(t.Date), t.AmountCents, t.RawDescription,
		t.EnrichedMerchantName, t.EnrichedCategory)
	return err
}

// ListRange returns a user's transactions dated within [from, to], oldest
// first.
func (r *TransactionRepo) ListRange(ctx context.Context, userID string, from, to time.Time) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, user_id, date, amount_cents, raw_description, enriched_merchant_name, enriched_category, created_at
	FROM transactions
	WHERE user_id = ? AND date >= ? AND date <= ?
	ORDER BY date ASC, id ASC
	`, userID, dates.Format(from), dates.Format(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var t Transaction
		var date string
		if err := rows.Scan(&t.ID, &t.UserID, &date, &t.AmountCents, &t.RawDescription,
			&t.EnrichedMerchantName, &t.EnrichedCategory, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := parseDate(date, &t.Date); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FirstDate returns the date of the user's earliest transaction; ok is false
// when the user has none.
func (r *TransactionRepo) FirstDate(ctx context.Context, userID string) (first time.Time, ok bool, err error) {
	var s sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(date) FROM transactions WHERE user_id = ?`, userID).Scan(&s); err != nil {
		return time.Time{}, false, err
	}
	if !s.Valid {
		return time.Time{}, false, nil
	}
	if err := parseDate(s.String, &first); err != nil {
		return time.Time{}, false, err
	}
	return first, true, nil
}

func (r *TransactionRepo) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
