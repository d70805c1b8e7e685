package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const taskSelect = `
	SELECT t.id, t.title, t.description, t.status, t.priority, t.assigned_user_id,
	       t.board_id, t.created_by_id, t.version, t.created_at, t.updated_at,
	       u.name AS assigned_user_name
	FROM tasks t
	LEFT JOIN users u ON u.id = t.assigned_user_id`

// NewTask holds the fields of a task to be created.
type NewTask struct {
	Title          string
	Description    string
	Status         Status
	Priority       Priority
	AssignedUserID *int64
	BoardID        int64
	CreatedByID    int64
}

// CreateTask inserts a task at version 1.
func (s *DataService) CreateTask(ctx context.Context, t NewTask, now time.Time) (*Task, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (title, description, status, priority, assigned_user_id,
		                   board_id, created_by_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.Title, t.Description, t.Status, t.Priority, t.AssignedUserID,
		t.BoardID, t.CreatedByID, dbTime(now), dbTime(now))
	if isUniqueViolation(err) {
		return nil, ErrDuplicateTitle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read task id: %w", err)
	}
	return s.GetTask(ctx, id)
}

func (s *DataService) GetTask(ctx context.Context, id int64) (*Task, error) {
	return getTask(ctx, s.db, id)
}

func getTask(ctx context.Context, q sqlx.QueryerContext, id int64) (*Task, error) {
	var t Task
	err := sqlx.GetContext(ctx, q, &t, taskSelect+" WHERE t.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task %d: %w", id, err)
	}
	return &t, nil
}

// ListTasksByBoard returns a board's tasks, newest first.
func (s *DataService) ListTasksByBoard(ctx context.Context, boardID int64) ([]Task, error) {
	tasks := []Task{}
	if err := s.db.SelectContext(ctx, &tasks,
		taskSelect+" WHERE t.board_id = ? ORDER BY t.created_at DESC, t.id DESC", boardID); err != nil {
		return nil, fmt.Errorf("failed to list tasks for board %d: %w", boardID, err)
	}
	return tasks, nil
}

// TitleTaken reports whether another task on the board already uses title.
// excludeID is ignored when zero.
func (s *DataService) TitleTaken(ctx context.Context, boardID int64, title string, excludeID int64) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM tasks WHERE board_id = ? AND title = ? AND id != ?",
		boardID, title, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check task title: %w", err)
	}
	return n > 0, nil
}

// UpdateTask applies patch to the task and bumps its version by one.
//
// When expectedVersion is non-nil the write only happens if the stored
// version still equals it; the comparison and the write are one statement.
// The boolean reports whether a row changed.
func (s *DataService) UpdateTask(ctx context.Context, id int64, patch TaskPatch, expectedVersion *int, now time.Time) (bool, error) {
	return updateTask(ctx, s.db, id, patch, expectedVersion, now)
}

func updateTask(ctx context.Context, e sqlx.ExecerContext, id int64, patch TaskPatch, expectedVersion *int, now time.Time) (bool, error) {
	var sets []string
	var args []any

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if patch.AssignedUserID.Set {
		sets = append(sets, "assigned_user_id = ?")
		args = append(args, patch.AssignedUserID.Value)
	}
	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, dbTime(now))

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if expectedVersion != nil {
		query += " AND version = ?"
		args = append(args, *expectedVersion)
	}

	res, err := e.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return false, ErrDuplicateTitle
	}
	if err != nil {
		return false, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ApplyResolution writes the resolved task state, conditional on
// expectedVersion, and marks the conflict resolved in the same transaction.
// It returns ok=false, leaving both rows untouched, when the task moved on.
func (s *DataService) ApplyResolution(ctx context.Context, conflictID, taskID int64, patch TaskPatch, expectedVersion int, now time.Time) (*Task, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := updateTask(ctx, tx, taskID, patch, &expectedVersion, now)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return nil, false, nil
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE task_conflicts SET resolved = 1 WHERE id = ? AND resolved = 0", conflictID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark conflict %d resolved: %w", conflictID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, nil
	}

	task, err := getTask(ctx, tx, taskID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return task, true, nil
}

// DeleteTask removes a task after its logs, locks and conflicts.
func (s *DataService) DeleteTask(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"action_logs", "task_locks", "task_conflicts"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE task_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete %s for task %d: %w", table, id, err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
