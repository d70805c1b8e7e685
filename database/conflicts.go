package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// CreateConflict stores an unresolved conflict for a rejected write.
func (s *DataService) CreateConflict(ctx context.Context, taskID, userID int64, serverVersion, clientVersion []byte, now time.Time) (*Conflict, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_conflicts (task_id, user_id, server_version, client_version, resolved, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		taskID, userID, types.JSONText(serverVersion), types.JSONText(clientVersion), dbTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert conflict for task %d: %w", taskID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict id: %w", err)
	}
	return s.GetConflict(ctx, id)
}

func (s *DataService) GetConflict(ctx context.Context, id int64) (*Conflict, error) {
	var c Conflict
	err := s.db.GetContext(ctx, &c, `
		SELECT id, task_id, user_id, server_version, client_version, resolved, created_at
		FROM task_conflicts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict %d: %w", id, err)
	}
	return &c, nil
}

// ListUnresolvedConflicts returns a user's open conflicts, newest first.
func (s *DataService) ListUnresolvedConflicts(ctx context.Context, userID int64) ([]ConflictSummary, error) {
	conflicts := []ConflictSummary{}
	err := s.db.SelectContext(ctx, &conflicts, `
		SELECT c.id, c.task_id, c.user_id, c.server_version, c.client_version,
		       c.resolved, c.created_at, t.title AS task_title, t.board_id
		FROM task_conflicts c
		JOIN tasks t ON t.id = c.task_id
		WHERE c.user_id = ? AND c.resolved = 0
		ORDER BY c.created_at DESC, c.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts for user %d: %w", userID, err)
	}
	return conflicts, nil
}
