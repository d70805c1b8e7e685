package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// VersionGuard applies task mutations under optimistic concurrency control.
//
// A mutation carrying a base version only lands if the stored version still
// equals it. The comparison and the write are a single conditional UPDATE,
// so of two writers racing from the same base exactly one wins; the other
// gets a persisted Conflict and a *VersionConflictError.
type VersionGuard struct {
	data        *database.DataService
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewVersionGuard(data *database.DataService, broadcaster Broadcaster, logger *slog.Logger) *VersionGuard {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionGuard{
		data:        data,
		broadcaster: broadcaster,
		logger:      logger.With("component", "version_guard"),
		now:         time.Now,
	}
}

// Mutation is a proposed change to one task.
type Mutation struct {
	TaskID int64
	UserID int64

	// BaseVersion is the version the client last saw. Nil applies the
	// patch unconditionally.
	BaseVersion *int

	Patch database.TaskPatch
}

// clientSnapshot is what a Conflict stores as the rejected payload.
type clientSnapshot struct {
	database.TaskPatch
	UserID        int64 `json:"user_id"`
	ClientVersion *int  `json:"client_version,omitempty"`
}

// Apply validates and writes m, returning the task before and after.
func (g *VersionGuard) Apply(ctx context.Context, m Mutation) (before, after *database.Task, err error) {
	if err := validatePatch(m.Patch); err != nil {
		return nil, nil, err
	}
	// Conflicts and log entries reference the acting user.
	if err := requireUser(ctx, g.data, "user_id", m.UserID); err != nil {
		return nil, nil, err
	}

	current, err := g.data.GetTask(ctx, m.TaskID)
	if err != nil {
		return nil, nil, translate(err)
	}

	if m.BaseVersion != nil && *m.BaseVersion != current.Version {
		return nil, nil, g.reject(ctx, current, m)
	}

	if m.Patch.Title != nil && *m.Patch.Title != current.Title {
		taken, err := g.data.TitleTaken(ctx, current.BoardID, *m.Patch.Title, current.ID)
		if err != nil {
			return nil, nil, err
		}
		if taken {
			return nil, nil, invalid("title", "task title must be unique within a board")
		}
	}

	changed, err := g.data.UpdateTask(ctx, m.TaskID, m.Patch, m.BaseVersion, g.now())
	if err != nil {
		return nil, nil, translate(err)
	}
	if !changed {
		// Someone got there between our read and the conditional write.
		latest, err := g.data.GetTask(ctx, m.TaskID)
		if err != nil {
			return nil, nil, translate(err)
		}
		if m.BaseVersion == nil {
			return nil, nil, fmt.Errorf("task %d was not updated", m.TaskID)
		}
		return nil, nil, g.reject(ctx, latest, m)
	}

	after, err = g.data.GetTask(ctx, m.TaskID)
	if err != nil {
		return nil, nil, translate(err)
	}
	return current, after, nil
}

// reject persists a Conflict for a stale mutation and announces it.
func (g *VersionGuard) reject(ctx context.Context, server *database.Task, m Mutation) error {
	serverJSON, err := json.Marshal(server)
	if err != nil {
		return fmt.Errorf("failed to encode server version: %w", err)
	}
	clientJSON, err := json.Marshal(clientSnapshot{
		TaskPatch:     m.Patch,
		UserID:        m.UserID,
		ClientVersion: m.BaseVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to encode client version: %w", err)
	}

	conflict, err := g.data.CreateConflict(ctx, server.ID, m.UserID, serverJSON, clientJSON, g.now())
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}

	g.logger.Info("version conflict",
		"task", server.ID, "user", m.UserID, "conflict", conflict.ID,
		"base_version", *m.BaseVersion, "current_version", server.Version)
	g.broadcaster.Publish(server.BoardID, EventConflictDetected, ConflictDetectedPayload{
		TaskID:   server.ID,
		Conflict: conflict,
	})

	return &VersionConflictError{
		Conflict:      conflict,
		ServerVersion: serverJSON,
		ClientVersion: clientJSON,
	}
}

func validatePatch(p database.TaskPatch) error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("status", "unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("priority", "unknown priority %q", *p.Priority)
	}
	return nil
}

// validateTitle rejects blank titles and titles that match a column name.
func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return invalid("title", "title is required")
	}
	if database.Status(title).Valid() {
		return invalid("title", "task title cannot match column names")
	}
	return nil
}

// IsVersionConflict reports whether err is a stale-write rejection.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}
