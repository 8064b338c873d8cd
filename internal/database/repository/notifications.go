package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneynudge/internal/dates"
)

// NotificationRepo handles the dedup ledger. The unique key
// (user_id, template_type, send_date) is what serializes sends; rows are
// never deleted.
type NotificationRepo struct{ db *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Claim inserts a claimed row for the key. It returns false, without error,
// when any row for the key already exists.
func (r *NotificationRepo) Claim(ctx context.Context, n NotificationLog) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
	INSERT INTO notification_log(id, user_id, template_type, send_date, status, source_endpoint, attempts, created_at)
	VALUES(?, ?, ?, ?, 'claimed', ?, 1, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id, template_type, send_date) DO NOTHING
	`, n.ID, n.UserID, n.TemplateType, dates.Format(n.SendDate), n.SourceEndpoint)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Finalize moves a claimed row to status. It returns false when the row is
// missing or no longer claimed. A new error is appended to any earlier one.
func (r *NotificationRepo) Finalize(ctx context.Context, id string, status NotificationStatus, providerMessageID, errText *string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE notification_log
	SET status = ?, provider_message_id = ?, finalized_at = CURRENT_TIMESTAMP,
		error = CASE
			WHEN ? IS NULL THEN error
			WHEN error IS NULL THEN ?
			ELSE error || '; attempt ' || attempts || ': ' || ?
		END
	WHERE id = ? AND status = 'claimed'
	`, string(status), providerMessageID, errText, errText, errText, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClaimRetry flips a failed first attempt back to claimed. It returns the
// row id and true only for the single caller that wins the flip. The first
// attempt's error stays on the row, labelled with its attempt number.
func (r *NotificationRepo) ClaimRetry(ctx context.Context, userID, templateType string, day time.Time, source string) (string, bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE notification_log
	SET status = 'claimed', attempts = attempts + 1, source_endpoint = ?, finalized_at = NULL,
		error = CASE WHEN error IS NULL THEN NULL ELSE 'attempt 1: ' || error END
	WHERE user_id = ? AND template_type = ? AND send_date = ? AND status = 'failed' AND attempts = 1
	`, source, userID, templateType, dates.Format(day))
	if err != nil {
		return "", false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected != 1 {
		return "", false, nil
	}
	n, err := r.GetByKey(ctx, userID, templateType, day)
	if err != nil {
		return "", false, err
	}
	if n == nil {
		return "", false, sql.ErrNoRows
	}
	return n.ID, true, nil
}

const notificationColumns = `id, user_id, template_type, send_date, status, source_endpoint, attempts,
 provider_message_id, error, created_at, finalized_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(s rowScanner) (NotificationLog, error) {
	var n NotificationLog
	var day, status string
	if err := s.Scan(&n.ID, &n.UserID, &n.TemplateType, &day, &status, &n.SourceEndpoint, &n.Attempts,
		&n.ProviderMessageID, &n.Error, &n.CreatedAt, &n.FinalizedAt); err != nil {
		return n, err
	}
	n.Status = NotificationStatus(status)
	return n, parseDate(day, &n.SendDate)
}

func (r *NotificationRepo) Get(ctx context.Context, id string) (*NotificationLog, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notification_log WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepo) GetByKey(ctx context.Context, userID, templateType string, day time.Time) (*NotificationLog, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+`
	FROM notification_log WHERE user_id = ? AND template_type = ? AND send_date = ?`, userID, templateType, dates.Format(day)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// LogFilters narrows List. Zero values mean no filter.
type LogFilters struct {
	UserID string
	Day    time.Time
	Status NotificationStatus
	Limit  int
}

// List returns ledger rows newest first.
func (r *NotificationRepo) List(ctx context.Context, f LogFilters) ([]NotificationLog, error) {
	var where []string
	var args []interface{}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.Day.IsZero() {
		where = append(where, "send_date = ?")
		args = append(args, dates.Format(f.Day))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + notificationColumns + ` FROM notification_log`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY send_date DESC, created_at DESC, user_id, template_type"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationLog
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
