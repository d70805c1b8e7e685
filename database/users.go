package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a user and returns it with its assigned id.
func (s *DataService) CreateUser(ctx context.Context, name, email string, now time.Time) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (name, email, created_at) VALUES (?, ?, ?)",
		name, email, dbTime(now))
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *DataService) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, "SELECT id, name, email, created_at FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	return &u, nil
}

func (s *DataService) ListUsers(ctx context.Context) ([]User, error) {
	users := []User{}
	if err := s.db.SelectContext(ctx, &users,
		"SELECT id, name, email, created_at FROM users ORDER BY id ASC"); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// LeastLoadedUser returns the user with the fewest assigned tasks that are
// not Done. Ties go to the lowest user id.
func (s *DataService) LeastLoadedUser(ctx context.Context) (*UserLoad, error) {
	var u UserLoad
	err := s.db.GetContext(ctx, &u, `
		SELECT u.id, u.name, u.email, u.created_at, COUNT(t.id) AS active_tasks
		FROM users u
		LEFT JOIN tasks t ON t.assigned_user_id = u.id AND t.status != 'Done'
		GROUP BY u.id
		ORDER BY active_tasks ASC, u.id ASC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find least loaded user: %w", err)
	}
	return &u, nil
}
