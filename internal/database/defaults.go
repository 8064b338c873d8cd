package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/moneynudge/internal/database/repository"
)

// SeedDefaults enables the default template set for every user that has no
// row for a type yet. It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB, templateTypes []string) error {
	users, err := repository.NewUserRepo(db).List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	tmplRepo := repository.NewTemplateRepo(db)
	for _, u := range users {
		if err := tmplRepo.SeedDefaults(ctx, u.ID, templateTypes); err != nil {
			return fmt.Errorf("seed templates for %s: %w", u.ID, err)
		}
	}
	return nil
}
