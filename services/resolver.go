package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// Resolution modes.
const (
	ResolveOverwrite = "overwrite"
	ResolveMerge     = "merge"
)

// resolveAttempts bounds retries when the task keeps moving under a resolution.
const resolveAttempts = 5

// ErrResolutionContention is returned when the task changed on every attempt.
var ErrResolutionContention = errors.New("task changed repeatedly during conflict resolution")

// Resolver settles conflicts recorded by the VersionGuard.
type Resolver struct {
	data        *database.DataService
	recorder    *Recorder
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewResolver(data *database.DataService, recorder *Recorder, broadcaster Broadcaster, logger *slog.Logger) *Resolver {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		data:        data,
		recorder:    recorder,
		broadcaster: broadcaster,
		logger:      logger.With("component", "resolver"),
		now:         time.Now,
	}
}

// ResolveResult is the task as written and the conflict, now resolved.
type ResolveResult struct {
	Task     *database.Task     `json:"task"`
	Conflict *database.Conflict `json:"conflict"`
}

// Resolve applies mode to the conflict on behalf of userID.
//
// overwrite: fields present in the client snapshot replace the current
// values, everything else stays. merge: each field takes the client value
// if present, else the server snapshot value, else the current value.
// Either way the task version goes up by one and the conflict is marked
// resolved in the same transaction.
func (r *Resolver) Resolve(ctx context.Context, conflictID, userID int64, mode string) (*ResolveResult, error) {
	var action database.ActionType
	switch mode {
	case ResolveOverwrite:
		action = database.ActionResolveOverwrite
	case ResolveMerge:
		action = database.ActionResolveMerge
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, mode)
	}
	if err := requireUser(ctx, r.data, "user_id", userID); err != nil {
		return nil, err
	}

	conflict, err := r.data.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, translate(err)
	}
	if conflict.Resolved {
		return nil, ErrConflictResolved
	}

	var client, server database.TaskPatch
	if err := json.Unmarshal(conflict.ClientVersion, &client); err != nil {
		return nil, fmt.Errorf("failed to decode client version of conflict %d: %w", conflictID, err)
	}
	if err := json.Unmarshal(conflict.ServerVersion, &server); err != nil {
		return nil, fmt.Errorf("failed to decode server version of conflict %d: %w", conflictID, err)
	}

	patch := client
	if mode == ResolveMerge {
		patch = mergePatches(client, server)
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	for i := 0; i < resolveAttempts; i++ {
		current, err := r.data.GetTask(ctx, conflict.TaskID)
		if err != nil {
			return nil, translate(err)
		}

		task, ok, err := r.data.ApplyResolution(ctx, conflict.ID, conflict.TaskID, patch, current.Version, r.now())
		if err != nil {
			return nil, translate(err)
		}
		if !ok {
			latest, err := r.data.GetConflict(ctx, conflictID)
			if err != nil {
				return nil, translate(err)
			}
			if latest.Resolved {
				return nil, ErrConflictResolved
			}
			continue
		}

		conflict.Resolved = true
		r.logger.Info("conflict resolved",
			"conflict", conflict.ID, "task", task.ID, "user", userID, "mode", mode, "version", task.Version)
		r.recorder.Record(ctx, task.BoardID, task.ID, userID, action, current, task)
		r.broadcaster.Publish(task.BoardID, EventTaskUpdated, task)
		return &ResolveResult{Task: task, Conflict: conflict}, nil
	}
	return nil, ErrResolutionContention
}

// ListForUser returns the user's unresolved conflicts, newest first.
func (r *Resolver) ListForUser(ctx context.Context, userID int64) ([]database.ConflictSummary, error) {
	return r.data.ListUnresolvedConflicts(ctx, userID)
}

// mergePatches prefers client values and falls back to server values.
// Fields absent from both stay absent and so keep the current value.
func mergePatches(client, server database.TaskPatch) database.TaskPatch {
	merged := server
	if client.Title != nil {
		merged.Title = client.Title
	}
	if client.Description != nil {
		merged.Description = client.Description
	}
	if client.Status != nil {
		merged.Status = client.Status
	}
	if client.Priority != nil {
		merged.Priority = client.Priority
	}
	if client.AssignedUserID.Set {
		merged.AssignedUserID = client.AssignedUserID
	}
	return merged
}
