package services

import (
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

// Board channel event names.
const (
	EventTaskCreated       = "task-created"
	EventTaskUpdated       = "task-updated"
	EventTaskDeleted       = "task-deleted"
	EventTaskStatusChanged = "task-status-changed"
	EventTaskAssigned      = "task-assigned"
	EventTaskLocked        = "task-locked"
	EventTaskUnlocked      = "task-unlocked"
	EventConflictDetected  = "conflict-detected"
	EventActionLogged      = "action-logged"
)

// Broadcaster publishes an event to every client subscribed to a board.
// Publish must not block on slow or absent subscribers; delivery is
// best-effort.
type Broadcaster interface {
	Publish(boardID int64, event string, payload any)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(int64, string, any) {}

type TaskDeletedPayload struct {
	TaskID int64 `json:"taskId"`
}

type StatusChangedPayload struct {
	TaskID    int64           `json:"taskId"`
	OldStatus database.Status `json:"oldStatus"`
	NewStatus database.Status `json:"newStatus"`
}

type AssignedPayload struct {
	TaskID   int64  `json:"taskId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

type LockedPayload struct {
	TaskID   int64     `json:"taskId"`
	UserID   int64     `json:"userId"`
	UserName string    `json:"userName"`
	LockedAt time.Time `json:"lockedAt"`
}

type UnlockedPayload struct {
	TaskID int64 `json:"taskId"`
}

type ConflictDetectedPayload struct {
	TaskID   int64              `json:"taskId"`
	Conflict *database.Conflict `json:"conflict"`
}
