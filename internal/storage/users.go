package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a notification recipient.
type User struct {
	ID         uuid.UUID
	TelegramID string
	Created    time.Time
}

// UserRepo manages notification recipients for the admin surface.
type UserRepo struct {
	q querier
}

// EngineAdmin returns the engine repository bound to the autocommit pool,
// for the admin inventory views.
func (s *Store) EngineAdmin() *EngineRepo {
	return &EngineRepo{q: s.pools.Plain}
}

// Users returns the user repository bound to the autocommit pool.
func (s *Store) Users() *UserRepo {
	return &UserRepo{q: s.pools.Plain}
}

// SubscriptionAdmin returns the subscription repository bound to the
// autocommit pool, for the admin surface.
func (s *Store) SubscriptionAdmin() *SubscriptionRepo {
	return &SubscriptionRepo{q: s.pools.Plain}
}

func (r *UserRepo) List(ctx context.Context) ([]User, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, telegram_id, created FROM users ORDER BY created DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Created); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create registers a recipient. telegram_id is unique; re-registering the
// same chat returns the existing row id.
func (r *UserRepo) Create(ctx context.Context, telegramID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.q.QueryRow(ctx, `
		INSERT INTO users (id, telegram_id)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		RETURNING id
	`, uuid.New(), telegramID).Scan(&id)
	return id, err
}

func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
