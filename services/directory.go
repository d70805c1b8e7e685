package services

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// Directory covers the users and boards the concurrency core hangs off.
type Directory struct {
	data        *database.DataService
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewDirectory(data *database.DataService, broadcaster Broadcaster, logger *slog.Logger) *Directory {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		data:        data,
		broadcaster: broadcaster,
		logger:      logger.With("component", "directory"),
		now:         time.Now,
	}
}

func (d *Directory) CreateUser(ctx context.Context, name, email string) (*database.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("email", "invalid email address")
	}
	user, err := d.data.CreateUser(ctx, name, email, d.now())
	if errors.Is(err, database.ErrDuplicateEmail) {
		return nil, invalid("email", "email is already registered")
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("user created", "user", user.ID)
	return user, nil
}

func (d *Directory) GetUser(ctx context.Context, id int64) (*database.User, error) {
	user, err := d.data.GetUser(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (d *Directory) ListUsers(ctx context.Context) ([]database.User, error) {
	return d.data.ListUsers(ctx)
}

func (d *Directory) CreateBoard(ctx context.Context, name, description string, ownerID *int64) (*database.Board, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid("name", "board name is required")
	}
	if ownerID != nil {
		if _, err := d.data.GetUser(ctx, *ownerID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, invalid("owner_user_id", "unknown user %d", *ownerID)
			}
			return nil, err
		}
	}
	return d.data.CreateBoard(ctx, name, description, ownerID, d.now())
}

func (d *Directory) ListBoards(ctx context.Context) ([]database.Board, error) {
	return d.data.ListBoards(ctx)
}

// GetBoard returns the board with its tasks grouped by column.
func (d *Directory) GetBoard(ctx context.Context, id int64) (*database.BoardDetail, error) {
	detail, err := d.data.GetBoardDetail(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return detail, nil
}

func (d *Directory) UpdateBoard(ctx context.Context, id int64, name, description *string) (*database.Board, error) {
	if name != nil && strings.TrimSpace(*name) == "" {
		return nil, invalid("name", "board name is required")
	}
	board, err := d.data.UpdateBoard(ctx, id, name, description)
	if err != nil {
		return nil, translate(err)
	}
	return board, nil
}

// DeleteBoard removes the board and everything under it, then tells the
// board's subscribers which locks and tasks went away.
func (d *Directory) DeleteBoard(ctx context.Context, id int64) error {
	deleted, err := d.data.DeleteBoard(ctx, id)
	if err != nil {
		return translate(err)
	}
	d.logger.Info("board deleted", "board", id, "tasks", len(deleted.TaskIDs), "locks", len(deleted.LockedTaskIDs))

	for _, taskID := range deleted.LockedTaskIDs {
		d.broadcaster.Publish(id, EventTaskUnlocked, UnlockedPayload{TaskID: taskID})
	}
	for _, taskID := range deleted.TaskIDs {
		d.broadcaster.Publish(id, EventTaskDeleted, TaskDeletedPayload{TaskID: taskID})
	}
	return nil
}
