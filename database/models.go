package database

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Status is the board column a task sits in.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ActionType tags an audit entry with the mutation that produced it.
type ActionType string

const (
	ActionCreate           ActionType = "create"
	ActionUpdate           ActionType = "update"
	ActionDelete           ActionType = "delete"
	ActionStatusChange     ActionType = "status_change"
	ActionAssign           ActionType = "assign"
	ActionSmartAssign      ActionType = "smart_assign"
	ActionResolveOverwrite ActionType = "conflict_resolve_overwrite"
	ActionResolveMerge     ActionType = "conflict_resolve_merge"
)

type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserLoad is a user together with the number of non-Done tasks assigned to them.
type UserLoad struct {
	User
	ActiveTasks int `db:"active_tasks" json:"active_tasks"`
}

type Board struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	OwnerUserID *int64    `db:"owner_user_id" json:"owner_user_id"`
	OwnerName   *string   `db:"owner_name" json:"owner_name,omitempty"`
	TaskCount   int       `db:"task_count" json:"task_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Task is a card on a board.
//
// Version is the optimistic concurrency token. It starts at 1 and every
// successful write bumps it by exactly one; nothing else reads meaning into it.
type Task struct {
	ID               int64     `db:"id" json:"id"`
	Title            string    `db:"title" json:"title"`
	Description      string    `db:"description" json:"description"`
	Status           Status    `db:"status" json:"status"`
	Priority         Priority  `db:"priority" json:"priority"`
	AssignedUserID   *int64    `db:"assigned_user_id" json:"assigned_user_id"`
	AssignedUserName *string   `db:"assigned_user_name" json:"assigned_user_name,omitempty"`
	BoardID          int64     `db:"board_id" json:"board_id"`
	CreatedByID      int64     `db:"created_by_id" json:"created_by_id"`
	Version          int       `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// OptionalID distinguishes an absent reference from an explicit null.
type OptionalID struct {
	Set   bool
	Value *int64
}

// SomeID returns a set OptionalID pointing at id.
func SomeID(id int64) OptionalID {
	return OptionalID{Set: true, Value: &id}
}

func (o OptionalID) IsZero() bool {
	return !o.Set
}

func (o OptionalID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// TaskPatch is a partial task mutation. Absent fields are left untouched.
type TaskPatch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	Priority       *Priority  `json:"priority,omitempty"`
	AssignedUserID OptionalID `json:"assigned_user_id,omitzero"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && !p.AssignedUserID.Set
}

// BoardDeletion lists what a board delete took with it.
type BoardDeletion struct {
	TaskIDs       []int64
	LockedTaskIDs []int64
}

// BoardDetail is a board with its tasks grouped by column.
type BoardDetail struct {
	Board
	Tasks map[Status][]Task `json:"tasks"`
}

// Lock is the single edit reservation a task may carry.
type Lock struct {
	TaskID   int64     `db:"task_id" json:"task_id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	UserName string    `db:"user_name" json:"user_name"`
	LockedAt time.Time `db:"locked_at" json:"locked_at"`
}

// ReclaimedLock is an expired lock removed by the sweeper.
type ReclaimedLock struct {
	Lock
	BoardID int64 `db:"board_id" json:"board_id"`
}

// Conflict records a rejected stale write. ServerVersion is the full task as
// stored at detection time, ClientVersion the rejected payload.
type Conflict struct {
	ID            int64          `db:"id" json:"id"`
	TaskID        int64          `db:"task_id" json:"task_id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	ServerVersion types.JSONText `db:"server_version" json:"server_version"`
	ClientVersion types.JSONText `db:"client_version" json:"client_version"`
	Resolved      bool           `db:"resolved" json:"resolved"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

type ConflictSummary struct {
	Conflict
	TaskTitle string `db:"task_title" json:"task_title"`
	BoardID   int64  `db:"board_id" json:"board_id"`
}

// ActionLog is an append-only audit entry.
type ActionLog struct {
	ID            int64          `db:"id" json:"id"`
	TaskID        int64          `db:"task_id" json:"task_id"`
	BoardID       int64          `db:"board_id" json:"board_id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	ActionType    ActionType     `db:"action_type" json:"action_type"`
	PreviousValue types.JSONText `db:"previous_value" json:"previous_value"`
	NewValue      types.JSONText `db:"new_value" json:"new_value"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// ActionLogEntry is an ActionLog enriched at read time.
type ActionLogEntry struct {
	ActionLog
	UserName  string `db:"user_name" json:"user_name"`
	TaskTitle string `db:"task_title" json:"task_title"`
}
