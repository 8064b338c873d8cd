package repository

import (
	"context"
	"database/sql"
)

// UserRepo handles users.
type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Upsert(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO users(id, name, phone, timezone, active, created_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 phone=excluded.phone,
	 timezone=excluded.timezone,
	 active=excluded.active;
	`, u.ID, u.Name, u.Phone, u.Timezone, boolInt(u.Active))
	return err
}

// ListActive returns users that may receive notifications, ordered by id.
func (r *UserRepo) ListActive(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT id, name, phone, timezone, active, created_at FROM users WHERE active = 1 ORDER BY id`)
}

func (r *UserRepo) List(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT id, name, phone, timezone, active, created_at FROM users ORDER BY id`)
}

func (r *UserRepo) list(ctx context.Context, query string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Phone, &u.Timezone, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get returns nil when the user does not exist.
func (r *UserRepo) Get(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, phone, timezone, active, created_at FROM users WHERE id = ?`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Timezone, &u.Active, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
