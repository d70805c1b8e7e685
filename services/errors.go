package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CrowderSoup/taskboard/database"
)

var (
	// ErrNotFound is returned when a task, board, conflict or user is absent.
	ErrNotFound = errors.New("not found")

	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotLockHolder is returned when someone other than the holder
	// tries to release a lock.
	ErrNotLockHolder = errors.New("lock is held by another user")

	// ErrUnknownResolution is returned for a resolution mode other than
	// overwrite or merge.
	ErrUnknownResolution = errors.New("unknown resolution mode")

	// ErrConflictResolved is returned when resolving a conflict twice.
	ErrConflictResolved = errors.New("conflict already resolved")
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// VersionConflictError reports a stale write. The write was not applied;
// Conflict is the record persisted for later resolution.
type VersionConflictError struct {
	Conflict      *database.Conflict
	ServerVersion json.RawMessage
	ClientVersion json.RawMessage
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on task %d (conflict %d)", e.Conflict.TaskID, e.Conflict.ID)
}

// LockConflictError reports that another user holds the task's edit lock.
type LockConflictError struct {
	TaskID     int64
	HolderID   int64
	HolderName string
	LockedAt   time.Time
	Age        time.Duration
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("task %d is locked by %s", e.TaskID, e.HolderName)
}

// translate maps gateway sentinels onto service errors.
func translate(err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrDuplicateTitle):
		return &ValidationError{Field: "title", Message: database.ErrDuplicateTitle.Error()}
	}
	return err
}
