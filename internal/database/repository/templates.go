package repository

import (
	"context"
	"database/sql"
)

// TemplateRepo handles per-user template opt-ins.
type TemplateRepo struct {
	db *sql.DB
}

func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// SeedDefaults enables types for the user unless a row for that type already
// exists. It is idempotent and never re-enables a type the user turned off.
func (r *TemplateRepo) SeedDefaults(ctx context.Context, userID string, types []string) error {
	for _, t := range types {
		if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_templates(user_id, template_type, enabled) VALUES(?, ?, 1)`, userID, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *TemplateRepo) SetEnabled(ctx context.Context, userID, templateType string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO user_templates(user_id, template_type, enabled) VALUES(?, ?, ?)
	ON CONFLICT(user_id, template_type) DO UPDATE SET enabled=excluded.enabled
	`, userID, templateType, boolInt(enabled))
	return err
}

// Enabled lists the user's enabled template types in name order.
func (r *TemplateRepo) Enabled(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT template_type FROM user_templates WHERE user_id = ? AND enabled = 1 ORDER BY template_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
