package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// Recorder appends audit entries for task mutations and serves the recent
// activity feed.
type Recorder struct {
	data        *database.DataService
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewRecorder(data *database.DataService, broadcaster Broadcaster, logger *slog.Logger) *Recorder {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		data:        data,
		broadcaster: broadcaster,
		logger:      logger.With("component", "actionlog"),
		now:         time.Now,
	}
}

// Record writes one audit entry and publishes it to the board. It never
// fails: problems are logged and the caller carries on. before and after
// are serialized as JSON; nil becomes JSON null.
func (r *Recorder) Record(ctx context.Context, boardID, taskID, userID int64, action database.ActionType, before, after any) {
	// The mutation has already committed; a cancelled request must not
	// lose its audit entry.
	ctx = context.WithoutCancel(ctx)

	prev, err := snapshot(before)
	if err != nil {
		r.logger.Error("failed to encode previous value", "task", taskID, "action", action, "error", err)
		return
	}
	next, err := snapshot(after)
	if err != nil {
		r.logger.Error("failed to encode new value", "task", taskID, "action", action, "error", err)
		return
	}

	entry, err := r.data.AppendLog(ctx, database.NewActionLog{
		TaskID:        taskID,
		BoardID:       boardID,
		UserID:        userID,
		ActionType:    action,
		PreviousValue: prev,
		NewValue:      next,
	}, r.now())
	if err != nil {
		r.logger.Error("failed to record action", "task", taskID, "user", userID, "action", action, "error", err)
		return
	}

	r.broadcaster.Publish(boardID, EventActionLogged, entry)
}

// Recent returns the newest audit entries, optionally for a single board.
func (r *Recorder) Recent(ctx context.Context, boardID *int64) ([]database.ActionLogEntry, error) {
	return r.data.RecentLogs(ctx, boardID)
}

func snapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
