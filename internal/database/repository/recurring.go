package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/recurring"
)

// RecurringID is stable for a (user, kind, merchant key) so repeated scans
// address the same row.
func RecurringID(userID string, kind recurring.Kind, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("recurring:"+userID+":"+string(kind)+":"+key)).String()
}

// RecurringRepo handles recurring merchants.
type RecurringRepo struct {
	db *sql.DB
}

func NewRecurringRepo(db *sql.DB) *RecurringRepo { return &RecurringRepo{db: db} }

func (r *RecurringRepo) Upsert(ctx context.Context, m RecurringMerchant) error {
	if m.ID == "" {
		m.ID = RecurringID(m.UserID, m.Kind, m.MerchantKey)
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_merchants(
	 id, user_id, merchant_key, display_name, kind, is_active, frequency_class, average_cents,
	 occurrences, last_occurrence_date, next_predicted_date, issue, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id, kind, merchant_key) DO UPDATE SET
	 display_name=excluded.display_name,
	 is_active=excluded.is_active,
	 frequency_class=excluded.frequency_class,
	 average_cents=excluded.average_cents,
	 occurrences=excluded.occurrences,
	 last_occurrence_date=excluded.last_occurrence_date,
	 next_predicted_date=excluded.next_predicted_date,
	 issue=excluded.issue,
	 updated_at=CURRENT_TIMESTAMP;
	`, m.ID, m.UserID, m.MerchantKey, m.DisplayName, string(m.Kind), boolInt(m.IsActive), string(m.Frequency),
		m.AverageCents, m.Occurrences, dates.Format(m.LastOccurrence), formatNullDate(m.NextPredictedDate), m.Issue)
	return err
}

const recurringColumns = `id, user_id, merchant_key, display_name, kind, is_active, frequency_class, average_cents,
 occurrences, last_occurrence_date, next_predicted_date, issue, created_at, updated_at`

func scanRecurring(rows *sql.Rows) (RecurringMerchant, error) {
	var m RecurringMerchant
	var kind, freq, last string
	var next *string
	if err := rows.Scan(&m.ID, &m.UserID, &m.MerchantKey, &m.DisplayName, &kind, &m.IsActive, &freq,
		&m.AverageCents, &m.Occurrences, &last, &next, &m.Issue, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.Kind = recurring.Kind(kind)
	m.Frequency = recurring.Frequency(freq)
	if err := parseDate(last, &m.LastOccurrence); err != nil {
		return m, err
	}
	nd, err := parseNullDate(next)
	if err != nil {
		return m, err
	}
	m.NextPredictedDate = nd
	return m, nil
}

func (r *RecurringRepo) query(ctx context.Context, q string, args ...interface{}) ([]RecurringMerchant, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringMerchant
	for rows.Next() {
		m, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListByUser returns every recurring merchant of a user, active or not.
func (r *RecurringRepo) ListByUser(ctx context.Context, userID string) ([]RecurringMerchant, error) {
	return r.query(ctx, `SELECT `+recurringColumns+` FROM recurring_merchants WHERE user_id = ? ORDER BY kind, merchant_key`, userID)
}

// ListActive returns a user's active recurring merchants.
func (r *RecurringRepo) ListActive(ctx context.Context, userID string) ([]RecurringMerchant, error) {
	return r.query(ctx, `SELECT `+recurringColumns+` FROM recurring_merchants WHERE user_id = ? AND is_active = 1 ORDER BY kind, merchant_key`, userID)
}

// ListStale returns a user's active records whose next predicted date is
// before today.
func (r *RecurringRepo) ListStale(ctx context.Context, userID string, today time.Time) ([]RecurringMerchant, error) {
	return r.query(ctx, `SELECT `+recurringColumns+` FROM recurring_merchants
	WHERE user_id = ? AND is_active = 1 AND next_predicted_date IS NOT NULL AND next_predicted_date < ?
	ORDER BY kind, merchant_key`, userID, dates.Format(today))
}

func (r *RecurringRepo) SetNext(ctx context.Context, id string, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_merchants SET next_predicted_date = ?, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, dates.Format(next), id)
	return err
}

// Deactivate turns a record off, recording the frequency it ended with and
// why.
func (r *RecurringRepo) Deactivate(ctx context.Context, id string, freq recurring.Frequency, issue string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE recurring_merchants SET is_active = 0, frequency_class = ?, issue = ?, updated_at=CURRENT_TIMESTAMP
	WHERE id = ?`, string(freq), issue, id)
	return err
}
