package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RecentLogLimit is the page size of RecentLogs.
const RecentLogLimit = 20

// The task title falls back to the snapshot for entries whose task is gone.
const logSelect = `
	SELECT l.id, l.task_id, l.board_id, l.user_id, l.action_type,
	       l.previous_value, l.new_value, l.created_at,
	       COALESCE(u.name, '') AS user_name,
	       COALESCE(t.title, json_extract(l.previous_value, '$.title'), '') AS task_title
	FROM action_logs l
	LEFT JOIN users u ON u.id = l.user_id
	LEFT JOIN tasks t ON t.id = l.task_id`

// NewActionLog holds an audit entry to append. Snapshots are JSON documents;
// nil is stored as JSON null.
type NewActionLog struct {
	TaskID        int64
	BoardID       int64
	UserID        int64
	ActionType    ActionType
	PreviousValue []byte
	NewValue      []byte
}

// AppendLog inserts an audit entry. Entries are never updated.
func (s *DataService) AppendLog(ctx context.Context, l NewActionLog, now time.Time) (*ActionLogEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (task_id, board_id, user_id, action_type, previous_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.TaskID, l.BoardID, l.UserID, l.ActionType,
		jsonOrNull(l.PreviousValue), jsonOrNull(l.NewValue), dbTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert action log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read action log id: %w", err)
	}
	return s.GetLog(ctx, id)
}

func (s *DataService) GetLog(ctx context.Context, id int64) (*ActionLogEntry, error) {
	var e ActionLogEntry
	err := s.db.GetContext(ctx, &e, logSelect+" WHERE l.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query action log %d: %w", id, err)
	}
	return &e, nil
}

// RecentLogs returns the RecentLogLimit newest entries, optionally for one board.
func (s *DataService) RecentLogs(ctx context.Context, boardID *int64) ([]ActionLogEntry, error) {
	query := logSelect
	var args []any
	if boardID != nil {
		query += " WHERE l.board_id = ?"
		args = append(args, *boardID)
	}
	query += fmt.Sprintf(" ORDER BY l.created_at DESC, l.id DESC LIMIT %d", RecentLogLimit)

	entries := []ActionLogEntry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query recent logs: %w", err)
	}
	return entries, nil
}

func jsonOrNull(b []byte) types.JSONText {
	if len(b) == 0 {
		return types.JSONText("null")
	}
	return types.JSONText(b)
}
