package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const boardSelect = `
	SELECT b.id, b.name, b.description, b.owner_user_id, b.created_at,
	       u.name AS owner_name,
	       (SELECT COUNT(*) FROM tasks t WHERE t.board_id = b.id) AS task_count
	FROM boards b
	LEFT JOIN users u ON u.id = b.owner_user_id`

func (s *DataService) CreateBoard(ctx context.Context, name, description string, ownerID *int64, now time.Time) (*Board, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO boards (name, description, owner_user_id, created_at) VALUES (?, ?, ?, ?)",
		name, description, ownerID, dbTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert board: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read board id: %w", err)
	}
	return s.GetBoard(ctx, id)
}

func (s *DataService) GetBoard(ctx context.Context, id int64) (*Board, error) {
	var b Board
	err := s.db.GetContext(ctx, &b, boardSelect+" WHERE b.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query board %d: %w", id, err)
	}
	return &b, nil
}

// ListBoards returns every board, newest first.
func (s *DataService) ListBoards(ctx context.Context) ([]Board, error) {
	boards := []Board{}
	if err := s.db.SelectContext(ctx, &boards, boardSelect+" ORDER BY b.created_at DESC, b.id DESC"); err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// GetBoardDetail returns a board with its tasks grouped by status column.
func (s *DataService) GetBoardDetail(ctx context.Context, id int64) (*BoardDetail, error) {
	board, err := s.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasksByBoard(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &BoardDetail{Board: *board, Tasks: make(map[Status][]Task, len(Statuses))}
	for _, st := range Statuses {
		detail.Tasks[st] = []Task{}
	}
	for _, t := range tasks {
		detail.Tasks[t.Status] = append(detail.Tasks[t.Status], t)
	}
	return detail, nil
}

// UpdateBoard changes the name and/or description; nil leaves a field as is.
func (s *DataService) UpdateBoard(ctx context.Context, id int64, name, description *string) (*Board, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards
		SET name = COALESCE(?, name), description = COALESCE(?, description)
		WHERE id = ?`, name, description, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update board %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetBoard(ctx, id)
}

// DeleteBoard removes a board and everything hanging off its tasks, in
// referential order: logs, locks, conflicts, tasks, then the board. It
// reports the tasks and locks that went with it.
func (s *DataService) DeleteBoard(ctx context.Context, id int64) (*BoardDeletion, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM boards WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to query board %d: %w", id, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var taskIDs []int64
	if err := tx.SelectContext(ctx, &taskIDs, "SELECT id FROM tasks WHERE board_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to list board tasks: %w", err)
	}
	var lockedIDs []int64
	if err := tx.SelectContext(ctx, &lockedIDs,
		"SELECT l.task_id FROM task_locks l JOIN tasks t ON t.id = l.task_id WHERE t.board_id = ? ORDER BY l.task_id", id); err != nil {
		return nil, fmt.Errorf("failed to list board locks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM action_logs WHERE board_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete board logs: %w", err)
	}
	if len(taskIDs) > 0 {
		in, args := inClause(taskIDs)
		steps := []struct{ table, query string }{
			{"action_logs", "DELETE FROM action_logs WHERE task_id IN " + in},
			{"task_locks", "DELETE FROM task_locks WHERE task_id IN " + in},
			{"task_conflicts", "DELETE FROM task_conflicts WHERE task_id IN " + in},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.query, args...); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", step.table, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE board_id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete board tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete board %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &BoardDeletion{TaskIDs: taskIDs, LockedTaskIDs: lockedIDs}, nil
}
