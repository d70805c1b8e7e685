package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/taskboard/services"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

type versionConflictBody struct {
	Error         string          `json:"error"`
	ConflictID    int64           `json:"conflict_id"`
	ServerVersion json.RawMessage `json:"serverVersion"`
	ClientVersion json.RawMessage `json:"clientVersion"`
}

type lockConflictBody struct {
	Error          string    `json:"error"`
	Locked         bool      `json:"locked"`
	Owner          bool      `json:"owner"`
	LockedBy       string    `json:"lockedBy"`
	LockedByID     int64     `json:"lockedById"`
	LockedAt       time.Time `json:"lockedAt"`
	LockAgeSeconds int64     `json:"lockAgeSeconds"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps a service error onto its HTTP response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vc  *services.VersionConflictError
		lc  *services.LockConflictError
		val *services.ValidationError
	)
	switch {
	case errors.As(err, &vc):
		writeJSON(w, http.StatusConflict, versionConflictBody{
			Error:         "Conflict detected",
			ConflictID:    vc.Conflict.ID,
			ServerVersion: vc.ServerVersion,
			ClientVersion: vc.ClientVersion,
		})
	case errors.As(err, &lc):
		writeJSON(w, http.StatusLocked, lockConflictBody{
			Error:          "Task is currently being edited by " + lc.HolderName,
			Locked:         true,
			Owner:          false,
			LockedBy:       lc.HolderName,
			LockedByID:     lc.HolderID,
			LockedAt:       lc.LockedAt,
			LockAgeSeconds: int64(lc.Age.Seconds()),
		})
	case errors.As(err, &val):
		writeMessage(w, http.StatusBadRequest, val.Error())
	case errors.Is(err, services.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrUnknownResolution):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotLockHolder):
		writeMessage(w, http.StatusForbidden, "You cannot unlock a task locked by another user")
	case errors.Is(err, services.ErrConflictResolved), errors.Is(err, services.ErrResolutionContention):
		writeMessage(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Server error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
