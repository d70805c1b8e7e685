package handlers

import (
	"net/http"
	"time"

	"github.com/CrowderSoup/taskboard/services"
)

// LockHandler serves lock, unlock and lock checks.
type LockHandler struct {
	locks *services.LockManager
}

func NewLockHandler(locks *services.LockManager) *LockHandler {
	return &LockHandler{locks: locks}
}

type lockResponse struct {
	Locked         bool       `json:"locked"`
	Owner          bool       `json:"owner"`
	LockedBy       string     `json:"lockedBy,omitempty"`
	LockedByID     int64      `json:"lockedById,omitempty"`
	LockedAt       *time.Time `json:"lockedAt,omitempty"`
	LockAgeSeconds int64      `json:"lockAgeSeconds,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Message        string     `json:"message"`
}

func (h *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	res, err := h.locks.Acquire(r.Context(), taskID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "Task locked successfully"
	if res.Extended {
		msg = "Lock extended"
	}
	lockedAt := res.Lock.LockedAt
	expiresAt := lockedAt.Add(h.locks.TTL())
	writeJSON(w, http.StatusOK, lockResponse{
		Locked:     true,
		Owner:      true,
		LockedBy:   res.Lock.UserName,
		LockedByID: res.Lock.UserID,
		LockedAt:   &lockedAt,
		ExpiresAt:  &expiresAt,
		Message:    msg,
	})
}

func (h *LockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	userID, ok := actor(r, req.UserID)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID and user ID are required")
		return
	}

	released, err := h.locks.Release(r.Context(), taskID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "Task unlocked successfully"
	if !released {
		msg = "Task is not locked"
	}
	writeJSON(w, http.StatusOK, lockResponse{Locked: false, Message: msg})
}

func (h *LockHandler) Check(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r, "taskID")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	userID, _ := actor(r, 0)

	status, err := h.locks.Check(r.Context(), taskID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !status.Locked {
		writeJSON(w, http.StatusOK, lockResponse{Message: "Task is not locked"})
		return
	}

	msg := "Task is locked by " + status.Lock.UserName
	if status.Owner {
		msg = "You have locked this task"
	}
	lockedAt := status.Lock.LockedAt
	writeJSON(w, http.StatusOK, lockResponse{
		Locked:         true,
		Owner:          status.Owner,
		LockedBy:       status.Lock.UserName,
		LockedByID:     status.Lock.UserID,
		LockedAt:       &lockedAt,
		LockAgeSeconds: int64(status.Age.Seconds()),
		Message:        msg,
	})
}
