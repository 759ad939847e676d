package chat

import (
	"context"
	"database/sql"
	"fmt"

	"clearchat/internal/models"
)

// Directory resolves user ids to profiles.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Users lists every registered profile ordered by name then email.
func (d *Directory) Users(ctx context.Context) ([]*models.User, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY name ASC, email ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := make([]*models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// User fetches a single profile. A missing user yields an error wrapping sql.ErrNoRows.
func (d *Directory) User(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// DisplayName resolves a user id to a name, falling back to the id itself.
func (d *Directory) DisplayName(ctx context.Context, id string) string {
	u, err := d.User(ctx, id)
	if err != nil {
		return id
	}
	return u.DisplayName()
}
