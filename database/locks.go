package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertLockIfAbsent creates the lock row unless the task already has one.
// The primary key on task_id makes this the single-owner arbiter: of any
// number of concurrent inserts exactly one reports true.
func (s *DataService) InsertLockIfAbsent(ctx context.Context, l Lock) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_locks (task_id, user_id, user_name, locked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_id) DO NOTHING`,
		l.TaskID, l.UserID, l.UserName, dbTime(l.LockedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert lock for task %d: %w", l.TaskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// RenewLock refreshes locked_at if userID holds the task's lock.
func (s *DataService) RenewLock(ctx context.Context, taskID, userID int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE task_locks SET locked_at = ? WHERE task_id = ? AND user_id = ?",
		dbTime(now), taskID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to renew lock for task %d: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *DataService) GetLock(ctx context.Context, taskID int64) (*Lock, error) {
	var l Lock
	err := s.db.GetContext(ctx, &l,
		"SELECT task_id, user_id, user_name, locked_at FROM task_locks WHERE task_id = ?", taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lock for task %d: %w", taskID, err)
	}
	return &l, nil
}

// DeleteLock removes the task's lock only if userID holds it.
func (s *DataService) DeleteLock(ctx context.Context, taskID, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM task_locks WHERE task_id = ? AND user_id = ?", taskID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete lock for task %d: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// DeleteLocksOlderThan removes every lock taken or renewed before cutoff
// and returns what it removed.
func (s *DataService) DeleteLocksOlderThan(ctx context.Context, cutoff time.Time) ([]ReclaimedLock, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var expired []ReclaimedLock
	err = tx.SelectContext(ctx, &expired, `
		SELECT l.task_id, l.user_id, l.user_name, l.locked_at, t.board_id
		FROM task_locks l
		JOIN tasks t ON t.id = l.task_id
		WHERE l.locked_at < ?
		ORDER BY l.locked_at ASC`, dbTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query expired locks: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM task_locks WHERE locked_at < ?", dbTime(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to delete expired locks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}
